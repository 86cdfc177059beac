package storage

import (
	"fmt"
	"strings"

	logx "reshuffle/pkg/logx"
)

// DefaultPath is the file driver directory when none is configured.
const DefaultPath = "./data"

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))
	if cfg.HistoryMax <= 0 {
		cfg.HistoryMax = defaultHistoryMax
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = DefaultPath
		}
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "none":
		log.Warn("state is not persisted", logx.String("driver", driver))
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
