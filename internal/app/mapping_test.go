package app

import (
	"strings"
	"testing"
	"time"

	"dashcap/internal/config"
	"dashcap/internal/watermark"
)

func baseConfig() *config.Config {
	return &config.Config{
		Catalog: config.CatalogConfig{DashboardsFile: "dashboards.json"},
	}
}

func TestValidateDefaults(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	if err := validate(cfg); err != nil {
		t.Fatalf("validate() error = %v", err)
	}

	eng, err := mapTaskEngineConfig(cfg)
	if err != nil {
		t.Fatalf("mapTaskEngineConfig() error = %v", err)
	}
	if !eng.Enabled || eng.Workers != 2 || eng.QueueSize != 256 || eng.HistorySize != 200 {
		t.Fatalf("engine config = %+v", eng)
	}

	sched, err := mapSchedulerOptions(cfg)
	if err != nil {
		t.Fatalf("mapSchedulerOptions() error = %v", err)
	}
	if sched.CheckInterval != 30*time.Second || sched.Location != time.Local {
		t.Fatalf("scheduler options = %+v", sched)
	}

	chrome, err := mapChromeOptions(cfg)
	if err != nil {
		t.Fatalf("mapChromeOptions() error = %v", err)
	}
	if !chrome.Headless {
		t.Fatalf("Headless = false, want true by default")
	}

	wm, err := mapWatermarkOptions(cfg)
	if err != nil {
		t.Fatalf("mapWatermarkOptions() error = %v", err)
	}
	if wm.Location.String() != defaultWatermarkZone || wm.Position != watermark.BottomRight {
		t.Fatalf("watermark options = %+v", wm)
	}

	st, err := mapStorageConfig(cfg)
	if err != nil || st.Driver != "memory" {
		t.Fatalf("mapStorageConfig() = %+v, %v", st, err)
	}

	ncfg, _, err := mapNotifierConfig(cfg)
	if err != nil || ncfg.Enabled {
		t.Fatalf("mapNotifierConfig() = %+v, %v", ncfg, err)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      *config.StorageConfig
		driver  string
		busy    time.Duration
		wantErr bool
	}{
		{name: "omitted", in: nil, driver: "memory"},
		{name: "memory", in: &config.StorageConfig{Driver: " Memory "}, driver: "memory"},
		{name: "file", in: &config.StorageConfig{Driver: "file", Path: "./state"}, driver: "file"},
		{name: "sqlite default busy", in: &config.StorageConfig{Driver: "sqlite3", Path: "./x.db"}, driver: "sqlite", busy: time.Second},
		{name: "sqlite busy", in: &config.StorageConfig{Driver: "sqlite", Path: "./x.db", BusyTimeout: "5s"}, driver: "sqlite", busy: 5 * time.Second},
		{name: "file without path", in: &config.StorageConfig{Driver: "file"}, wantErr: true},
		{name: "sqlite without path", in: &config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "bad busy", in: &config.StorageConfig{Driver: "sqlite", Path: "x", BusyTimeout: "soon"}, wantErr: true},
		{name: "unknown", in: &config.StorageConfig{Driver: "redis", Path: "x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			cfg.Storage = tt.in
			got, err := mapStorageConfig(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("mapStorageConfig() = %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("mapStorageConfig() error = %v", err)
			}
			if got.Driver != tt.driver || got.BusyTimeout != tt.busy {
				t.Fatalf("mapStorageConfig() = %+v, want driver %s busy %v", got, tt.driver, tt.busy)
			}
		})
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"no catalog", func(c *config.Config) { c.Catalog.DashboardsFile = " " }, "catalog.dashboards_file"},
		{"check interval", func(c *config.Config) { c.Scheduler.CheckInterval = "500ms" }, "check_interval"},
		{"timezone", func(c *config.Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"fire timeout", func(c *config.Config) { c.Scheduler.FireTimeout = "later" }, "scheduler.fire_timeout"},
		{"retention", func(c *config.Config) { c.Scheduler.ExhaustedRetentionDays = -1 }, "exhausted_retention_days"},
		{"engine workers", func(c *config.Config) { c.TaskEngine = &config.TaskEngineConfig{Workers: -1} }, "task_engine"},
		{"capture timeout", func(c *config.Config) { c.Capture.Timeout = "x" }, "capture.timeout"},
		{"capture negative", func(c *config.Config) { c.Capture.Concurrency = -2 }, "capture"},
		{"settle delay", func(c *config.Config) { c.Renderer.SettleDelay = "1 sec" }, "renderer.settle_delay"},
		{"position", func(c *config.Config) { c.Watermark.Position = "center" }, "watermark.position"},
		{"opacity", func(c *config.Config) { c.Watermark.Opacity = 300 }, "watermark.opacity"},
		{"archive", func(c *config.Config) { c.Archive.RetentionDays = -1 }, "archive"},
		{"notifier target", func(c *config.Config) {
			c.Notifier = &config.NotifierConfig{Enabled: true, Telegram: config.TelegramTarget{Token: "t"}}
		}, "chat_id"},
		{"notifier retry", func(c *config.Config) {
			c.Notifier = &config.NotifierConfig{RetryBase: "fast"}
		}, "notifier.retry_base"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			tt.mutate(cfg)
			err := validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Notifier = &config.NotifierConfig{
		Enabled:       true,
		RetryBase:     "250ms",
		RetryMaxDelay: "4s",
		OnlyFailures:  true,
		Telegram:      config.TelegramTarget{Token: "123:abc", ChatID: -10042, ThreadID: 7},
	}
	ncfg, tg, err := mapNotifierConfig(cfg)
	if err != nil {
		t.Fatalf("mapNotifierConfig() error = %v", err)
	}
	if !ncfg.Enabled || !ncfg.OnlyFailures || ncfg.RetryBase != 250*time.Millisecond || ncfg.RetryMaxDelay != 4*time.Second {
		t.Fatalf("notifier config = %+v", ncfg)
	}
	if tg.ChatID != -10042 || tg.ThreadID != 7 {
		t.Fatalf("telegram config = %+v", tg)
	}
}

func TestMapArchiveUsesLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("X", 3600)
	cfg := baseConfig()
	cfg.Archive = config.ArchiveConfig{Dir: "/srv/shots", ArchiveAfterDays: 2, RetentionDays: 14}
	got, err := mapArchiveOptions(cfg, loc)
	if err != nil {
		t.Fatalf("mapArchiveOptions() error = %v", err)
	}
	if got.Root != "/srv/shots" || got.ArchiveAfter != 2 || got.Retention != 14 || got.Location != loc {
		t.Fatalf("archive options = %+v", got)
	}
}
