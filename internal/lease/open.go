package lease

import (
	"errors"
	"strings"
	"time"

	logx "taskfleet/pkg/logx"
)

// Config configures the lease store backend.
type Config struct {
	Driver string
	Path   string // sqlite file path
	DSN    string // postgres connection string

	BusyTimeout time.Duration // sqlite only; 0 means default

	// ReclaimAfter > 0 allows claiming over a lock older than the cutoff
	// (crash recovery). 0 keeps locks until explicitly released.
	ReclaimAfter time.Duration
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(cfg.ReclaimAfter), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "pq":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown lease store driver: " + driver)
	}
}
