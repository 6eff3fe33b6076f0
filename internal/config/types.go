package config

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTaskTimeout is applied when neither the task nor the config sets one.
const DefaultTaskTimeout = 60 * time.Second

type Config struct {
	// Worker controls whether this process executes background tasks.
	// A pure web-serving process sets this to false and never touches a
	// task lease. Pointer so "omitted" defaults to true.
	Worker *bool `json:"worker,omitempty"`

	// DefaultTimeout bounds task execution when a task declares no timeout.
	// Accepts a plain number (milliseconds) or a duration string ("30s").
	// Default: 60000ms.
	DefaultTimeout Duration `json:"default_timeout,omitempty"`

	// Timezone is the IANA zone cron schedules evaluate in (e.g. "Asia/Jakarta").
	// Empty means the process-local zone.
	Timezone string `json:"timezone,omitempty"`

	Logging LoggingConfig `json:"logging"`
	Store   StoreConfig   `json:"store"`
	HTTP    HTTPConfig    `json:"http,omitempty"`

	Tasks []TaskConfig `json:"tasks"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StoreConfig selects the shared lease store all fleet processes arbitrate
// through.
//
// Driver values:
//   - "sqlite": SQLite database file (single-host fleets, dev)
//   - "postgres": PostgreSQL via DSN (multi-host fleets)
//   - "memory": in-process only (tests; provides no cross-process exclusion)
type StoreConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"` // sqlite file path
	DSN    string `json:"dsn,omitempty"`  // postgres; falls back to $TASKFLEET_STORE_DSN

	BusyTimeout Duration `json:"busy_timeout,omitempty"` // sqlite only; 0 means default

	// ReclaimAfter, when > 0, lets a claim succeed against a lock older than
	// this cutoff. Recovers from a claimer that died mid-execution without a
	// release. 0 disables reclaim (a stale lock then needs manual repair).
	ReclaimAfter Duration `json:"reclaim_after,omitempty"`
}

// HTTPConfig controls the read-mostly reporting server.
type HTTPConfig struct {
	Enabled            bool     `json:"enabled"`
	Addr               string   `json:"addr,omitempty"` // default "127.0.0.1:8425"
	CORSAllowedOrigins []string `json:"cors_allowed_origins,omitempty"`
}

// TaskConfig binds a registered task body to a schedule.
type TaskConfig struct {
	ID       string `json:"id"`
	Schedule string `json:"schedule"`

	// Timeout overrides default_timeout for this task.
	// Accepts milliseconds (number) or a duration string.
	Timeout Duration `json:"timeout,omitempty"`

	// Enabled is the initial operator flag; pointer so "omitted" means true.
	// After first run the durable lease row owns this flag.
	Enabled *bool `json:"enabled,omitempty"`
}

func (c *Config) WorkerEnabled() bool {
	return c.Worker == nil || *c.Worker
}

func (c *Config) EffectiveDefaultTimeout() time.Duration {
	return c.DefaultTimeout.OrDefault(DefaultTaskTimeout)
}

func (t TaskConfig) EnabledOrDefault() bool {
	return t.Enabled == nil || *t.Enabled
}

// Validate rejects configs that would misbehave at runtime.
func (c *Config) Validate() error {
	driver := strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch driver {
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store.path is required for sqlite driver")
		}
	case "postgres", "pq", "memory", "":
		// DSN may come from the environment; checked at open time.
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}

	seen := make(map[string]struct{}, len(c.Tasks))
	for i, t := range c.Tasks {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return fmt.Errorf("tasks[%d]: id is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("tasks[%d]: duplicate task id %q", i, id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(t.Schedule) == "" {
			return fmt.Errorf("task %q: schedule is required", id)
		}
	}
	return nil
}
