package config

import (
	"reflect"

	"dashcap/pkg/logx"
)

// SummarizeChange lists the top-level sections that differ between two configs,
// plus log fields describing them. Secrets (bot token, credentials) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		fields  []logx.Field
	)
	mark := func(section string, differs bool, extra ...logx.Field) {
		if !differs {
			return
		}
		changed = append(changed, section)
		fields = append(fields, extra...)
	}

	mark("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.forward", newCfg.Logging.Forward.Enabled),
	)
	mark("scheduler", oldCfg.Scheduler != newCfg.Scheduler,
		logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
		logx.String("scheduler.check_interval", newCfg.Scheduler.CheckInterval),
		logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
	)
	mark("task_engine", !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine))
	mark("capture", oldCfg.Capture != newCfg.Capture,
		logx.Int("capture.concurrency", newCfg.Capture.Concurrency),
		logx.Int("capture.max_renders", newCfg.Capture.MaxRenders),
		logx.String("capture.timeout", newCfg.Capture.Timeout),
	)
	mark("renderer", !reflect.DeepEqual(oldCfg.Renderer, newCfg.Renderer))
	mark("watermark", oldCfg.Watermark != newCfg.Watermark)
	mark("archive", oldCfg.Archive != newCfg.Archive,
		logx.String("archive.dir", newCfg.Archive.Dir),
		logx.Int("archive.retention_days", newCfg.Archive.RetentionDays),
	)
	mark("catalog", oldCfg.Catalog != newCfg.Catalog)
	mark("credentials", oldCfg.Credentials != newCfg.Credentials)
	mark("storage", !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage))

	var oldTg, newTg TelegramTarget
	if oldCfg.Notifier != nil {
		oldTg = oldCfg.Notifier.Telegram
	}
	if newCfg.Notifier != nil {
		newTg = newCfg.Notifier.Telegram
	}
	notifierChanged := !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier)
	mark("notifier", notifierChanged,
		logx.Bool("notifier.token_changed", oldTg.Token != newTg.Token),
		logx.Int64("notifier.chat_id", newTg.ChatID),
	)

	return changed, fields
}
