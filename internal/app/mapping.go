package app

import (
	"fmt"
	"strings"
	"time"
	// the default watermark zone must load without system zoneinfo
	_ "time/tzdata"

	"dashcap/internal/archive"
	"dashcap/internal/capture"
	"dashcap/internal/config"
	"dashcap/internal/credentials"
	"dashcap/internal/jobs"
	"dashcap/internal/notifier"
	"dashcap/internal/render"
	"dashcap/internal/storage"
	"dashcap/internal/task/engine"
	"dashcap/internal/watermark"
	"dashcap/pkg/logx"
)

const defaultWatermarkZone = "America/New_York"

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Forward: logx.ForwardConfig{
			Enabled:    cfg.Logging.Forward.Enabled,
			MinLevel:   cfg.Logging.Forward.MinLevel,
			RatePerSec: cfg.Logging.Forward.RatePerSec,
		},
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Enabled: true, Workers: 2, QueueSize: 256, HistorySize: 200}
	tc := cfg.TaskEngine
	if tc == nil {
		return out, nil
	}
	if tc.Workers < 0 || tc.QueueSize < 0 || tc.HistorySize < 0 {
		return engine.Config{}, fmt.Errorf("task_engine: workers, queue_size and history_size must be >= 0")
	}
	if tc.Workers > 0 {
		out.Workers = tc.Workers
	}
	if tc.QueueSize > 0 {
		out.QueueSize = tc.QueueSize
	}
	if tc.HistorySize > 0 {
		out.HistorySize = tc.HistorySize
	}
	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", tc.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", tc.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

func mapSchedulerOptions(cfg *config.Config) (jobs.Options, error) {
	sc := cfg.Scheduler
	loc, err := config.LoadLocation("scheduler.timezone", sc.Timezone, time.Local)
	if err != nil {
		return jobs.Options{}, err
	}
	interval, err := config.ParseDurationOrDefault("scheduler.check_interval", sc.CheckInterval, 30*time.Second)
	if err != nil {
		return jobs.Options{}, err
	}
	if interval < time.Second {
		return jobs.Options{}, fmt.Errorf("scheduler.check_interval must be >= 1s")
	}
	fireTimeout, err := config.ParseDurationField("scheduler.fire_timeout", sc.FireTimeout)
	if err != nil {
		return jobs.Options{}, err
	}
	if sc.ExhaustedRetentionDays < 0 {
		return jobs.Options{}, fmt.Errorf("scheduler.exhausted_retention_days must be >= 0")
	}
	return jobs.Options{
		Location:           loc,
		CheckInterval:      interval,
		PruneSchedule:      strings.TrimSpace(sc.PruneSchedule),
		ExhaustedRetention: time.Duration(sc.ExhaustedRetentionDays) * 24 * time.Hour,
		FireTimeout:        fireTimeout,
	}, nil
}

func mapCaptureOptions(cfg *config.Config) (capture.Options, error) {
	cc := cfg.Capture
	if cc.Concurrency < 0 || cc.MaxRenders < 0 || cc.Attempts < 0 || cc.BatchHistory < 0 || cc.RatePerSec < 0 {
		return capture.Options{}, fmt.Errorf("capture: numeric settings must be >= 0")
	}
	out := capture.Options{
		Concurrency: cc.Concurrency,
		MaxRenders:  cc.MaxRenders,
		Attempts:    cc.Attempts,
		RatePerSec:  cc.RatePerSec,
	}
	var err error
	if out.Timeout, err = config.ParseDurationField("capture.timeout", cc.Timeout); err != nil {
		return capture.Options{}, err
	}
	if out.RetryBase, err = config.ParseDurationField("capture.retry_base", cc.RetryBase); err != nil {
		return capture.Options{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("capture.retry_max_delay", cc.RetryMaxDelay); err != nil {
		return capture.Options{}, err
	}
	return out, nil
}

func mapChromeOptions(cfg *config.Config) (render.ChromeOptions, error) {
	rc := cfg.Renderer
	settle, err := config.ParseDurationField("renderer.settle_delay", rc.SettleDelay)
	if err != nil {
		return render.ChromeOptions{}, err
	}
	headless := rc.Headless == nil || *rc.Headless
	return render.ChromeOptions{
		ExecPath:         rc.ExecPath,
		Headless:         headless,
		NoSandbox:        rc.NoSandbox,
		UserAgent:        rc.UserAgent,
		Width:            rc.ViewportWidth,
		Height:           rc.ViewportHeight,
		SettleDelay:      settle,
		ReadySelector:    rc.ReadySelector,
		TimeParamPrefix:  rc.TimeParamPrefix,
		UsernameSelector: rc.Login.UsernameSelector,
		PasswordSelector: rc.Login.PasswordSelector,
		SubmitSelector:   rc.Login.SubmitSelector,
		LoginURLMarker:   rc.Login.URLMarker,
		CookieDomain:     rc.Cookies.Domain,
		CookiePath:       rc.Cookies.Path,
	}, nil
}

func mapWatermarkOptions(cfg *config.Config) (watermark.Options, error) {
	wc := cfg.Watermark
	pos, err := watermark.ParsePosition(wc.Position)
	if err != nil {
		return watermark.Options{}, fmt.Errorf("watermark.position: %w", err)
	}
	zone := wc.Timezone
	if strings.TrimSpace(zone) == "" {
		zone = defaultWatermarkZone
	}
	loc, err := config.LoadLocation("watermark.timezone", zone, time.UTC)
	if err != nil {
		return watermark.Options{}, err
	}
	if wc.Opacity < 0 || wc.Opacity > 255 {
		return watermark.Options{}, fmt.Errorf("watermark.opacity must be within 0-255")
	}
	return watermark.Options{
		Position:    pos,
		Location:    loc,
		TimeFormat:  wc.TimeFormat,
		MinFontSize: wc.MinFontSize,
		FontScale:   wc.FontScale,
		Opacity:     uint8(wc.Opacity),
	}, nil
}

func mapArchiveOptions(cfg *config.Config, loc *time.Location) (archive.Options, error) {
	ac := cfg.Archive
	if ac.ArchiveAfterDays < 0 || ac.RetentionDays < 0 {
		return archive.Options{}, fmt.Errorf("archive: day counts must be >= 0")
	}
	return archive.Options{
		Root:         ac.Dir,
		ArchiveAfter: ac.ArchiveAfterDays,
		Retention:    ac.RetentionDays,
		Location:     loc,
	}, nil
}

func mapCredentials(cfg *config.Config) credentials.Options {
	cc := cfg.Credentials
	return credentials.Options{
		UsernameEnv:  cc.UsernameEnv,
		PasswordEnv:  cc.PasswordEnv,
		CookiesEnv:   cc.CookiesEnv,
		EnvFile:      cc.EnvFile,
		CookieDomain: cfg.Renderer.Cookies.Domain,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: driver, Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, notifier.TelegramConfig, error) {
	nc := cfg.Notifier
	if nc == nil {
		return notifier.Config{}, notifier.TelegramConfig{}, nil
	}
	if nc.Workers < 0 || nc.QueueSize < 0 || nc.RatePerSec < 0 || nc.RetryMax < 0 {
		return notifier.Config{}, notifier.TelegramConfig{}, fmt.Errorf("notifier: numeric settings must be >= 0")
	}
	base, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, notifier.TelegramConfig{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, notifier.TelegramConfig{}, err
	}
	tg := notifier.TelegramConfig{Token: nc.Telegram.Token, ChatID: nc.Telegram.ChatID, ThreadID: nc.Telegram.ThreadID}
	if nc.Enabled && (strings.TrimSpace(tg.Token) == "" || tg.ChatID == 0) {
		return notifier.Config{}, notifier.TelegramConfig{}, fmt.Errorf("notifier.telegram.token and chat_id are required when the notifier is enabled")
	}
	return notifier.Config{
		Enabled:       nc.Enabled,
		Workers:       nc.Workers,
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		OnlyFailures:  nc.OnlyFailures,
		SendPhotos:    nc.SendPhotos,
	}, tg, nil
}

// validate runs every mapper so a bad hot reload is rejected before commit.
func validate(cfg *config.Config) error {
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerOptions(cfg); err != nil {
		return err
	}
	if _, err := mapCaptureOptions(cfg); err != nil {
		return err
	}
	if _, err := mapChromeOptions(cfg); err != nil {
		return err
	}
	if _, err := mapWatermarkOptions(cfg); err != nil {
		return err
	}
	if _, err := mapArchiveOptions(cfg, time.Local); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Catalog.DashboardsFile) == "" {
		return fmt.Errorf("catalog.dashboards_file is required")
	}
	return nil
}
