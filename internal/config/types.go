package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "30s", "2m").
// Pointer sections distinguish "omitted" (defaults) from explicit values.
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	TaskEngine  *TaskEngineConfig `json:"task_engine,omitempty"`
	Capture     CaptureConfig     `json:"capture"`
	Renderer    RendererConfig    `json:"renderer"`
	Watermark   WatermarkConfig   `json:"watermark"`
	Archive     ArchiveConfig     `json:"archive"`
	Catalog     CatalogConfig     `json:"catalog"`
	Credentials CredentialsConfig `json:"credentials"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Notifier    *NotifierConfig   `json:"notifier,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Forward LoggingForward `json:"forward"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingForward ships warnings and errors through the notifier.
type LoggingForward struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the job evaluation loop.
//
// Defaults:
//   - check_interval: "30s"
//   - timezone: "Local"
//   - prune_schedule: "@daily"
//   - exhausted_retention_days: 30
type SchedulerConfig struct {
	Enabled       bool   `json:"enabled"`
	Timezone      string `json:"timezone,omitempty"`
	CheckInterval string `json:"check_interval,omitempty"`
	// PruneSchedule is a cron spec for archive retention and exhausted job cleanup.
	PruneSchedule          string `json:"prune_schedule,omitempty"`
	ExhaustedRetentionDays int    `json:"exhausted_retention_days,omitempty"`
	// FireTimeout bounds one whole job fire. "0s" disables it.
	FireTimeout string `json:"fire_timeout,omitempty"`
}

// TaskEngineConfig sizes the pool that executes job fires.
//
// Defaults: workers 2, queue_size 256, history_size 200.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// CaptureConfig controls the capture orchestrator.
//
// Defaults:
//   - concurrency: 3 (per batch)
//   - max_renders: 3 (process-wide renderer ceiling)
//   - timeout: "30s" (per target attempt)
//   - attempts: 1
//   - retry_base: "1s", retry_max_delay: "15s"
//   - rate_per_sec: 0 (no pacing)
//   - batch_history: 50
type CaptureConfig struct {
	Concurrency   int     `json:"concurrency,omitempty"`
	MaxRenders    int     `json:"max_renders,omitempty"`
	Timeout       string  `json:"timeout,omitempty"`
	Attempts      int     `json:"attempts,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	BatchHistory  int     `json:"batch_history,omitempty"`
}

// RendererConfig configures the headless browser.
type RendererConfig struct {
	ExecPath       string `json:"exec_path,omitempty"`
	Headless       *bool  `json:"headless,omitempty"`
	NoSandbox      bool   `json:"no_sandbox,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
	ViewportWidth  int    `json:"viewport_width,omitempty"`
	ViewportHeight int    `json:"viewport_height,omitempty"`
	// SettleDelay waits after navigation so client-side panels finish drawing.
	SettleDelay string `json:"settle_delay,omitempty"`
	// ReadySelector, when set, must become visible before the screenshot.
	ReadySelector string `json:"ready_selector,omitempty"`
	// TimeParamPrefix prefixes the earliest/latest query keys, e.g. "form.time_field".
	TimeParamPrefix string       `json:"time_param_prefix,omitempty"`
	Login           LoginConfig  `json:"login"`
	Cookies         CookieConfig `json:"cookies"`
}

type LoginConfig struct {
	UsernameSelector string `json:"username_selector,omitempty"`
	PasswordSelector string `json:"password_selector,omitempty"`
	SubmitSelector   string `json:"submit_selector,omitempty"`
	// URLMarker identifies a login page by substring of the current URL.
	URLMarker string `json:"url_marker,omitempty"`
}

type CookieConfig struct {
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

type WatermarkConfig struct {
	Position    string  `json:"position,omitempty"` // bottom-right (default), top-right, bottom-left, top-left
	Timezone    string  `json:"timezone,omitempty"` // default America/New_York
	TimeFormat  string  `json:"time_format,omitempty"`
	MinFontSize float64 `json:"min_font_size,omitempty"`
	FontScale   float64 `json:"font_scale,omitempty"`
	Opacity     int     `json:"opacity,omitempty"` // banner alpha 0-255
}

// ArchiveConfig controls where artifacts land and how long they live.
//
// Defaults: dir "./screenshots", archive_after_days 1, retention_days 7.
type ArchiveConfig struct {
	Dir              string `json:"dir,omitempty"`
	ArchiveAfterDays int    `json:"archive_after_days,omitempty"`
	RetentionDays    int    `json:"retention_days,omitempty"`
}

type CatalogConfig struct {
	DashboardsFile string `json:"dashboards_file"`
	ListsFile      string `json:"lists_file,omitempty"`
}

// CredentialsConfig names the environment variables holding the active session.
// Values are read at capture time so .env changes apply without restart.
type CredentialsConfig struct {
	UsernameEnv string `json:"username_env,omitempty"`
	PasswordEnv string `json:"password_env,omitempty"`
	CookiesEnv  string `json:"cookies_env,omitempty"`
	EnvFile     string `json:"env_file,omitempty"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./dashcap.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// NotifierConfig controls the async report delivery pipeline.
type NotifierConfig struct {
	Enabled       bool           `json:"enabled"`
	Workers       int            `json:"workers,omitempty"`
	QueueSize     int            `json:"queue_size,omitempty"`
	RatePerSec    int            `json:"rate_per_sec,omitempty"`
	RetryMax      int            `json:"retry_max,omitempty"`
	RetryBase     string         `json:"retry_base,omitempty"`
	RetryMaxDelay string         `json:"retry_max_delay,omitempty"`
	OnlyFailures  bool           `json:"only_failures,omitempty"`
	SendPhotos    bool           `json:"send_photos,omitempty"`
	Telegram      TelegramTarget `json:"telegram"`
}

type TelegramTarget struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}
