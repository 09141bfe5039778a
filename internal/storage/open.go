package storage

import (
	"errors"
	"strings"

	"dashcap/internal/jobs"
	"dashcap/pkg/logx"
)

// Open initializes the configured job store.
func Open(cfg Config, log logx.Logger) (jobs.Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		log.Warn("job store is in memory; jobs are lost on restart")
		return jobs.NewMemoryStore(), nil
	case "file":
		st, err := openFile(cfg, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "sqlite", "sqlite3":
		st, err := openSQLite(cfg, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
