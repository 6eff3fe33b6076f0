package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDurationUnmarshal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want time.Duration
		err  bool
	}{
		{name: "milliseconds number", raw: `30000`, want: 30 * time.Second},
		{name: "duration string", raw: `"30s"`, want: 30 * time.Second},
		{name: "compound string", raw: `"2h30m"`, want: 2*time.Hour + 30*time.Minute},
		{name: "zero", raw: `0`, want: 0},
		{name: "empty string", raw: `""`, want: 0},
		{name: "null", raw: `null`, want: 0},
		{name: "negative number", raw: `-5`, err: true},
		{name: "negative string", raw: `"-5s"`, err: true},
		{name: "garbage", raw: `"soon"`, err: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.raw), &d)
			if tt.err {
				if err == nil {
					t.Fatalf("expected error for %s", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal %s: %v", tt.raw, err)
			}
			if d.Std() != tt.want {
				t.Fatalf("got %v, want %v", d.Std(), tt.want)
			}
		})
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "taskfleet.json", `{
		"worker": true,
		"default_timeout": 60000,
		"logging": {"level": "info", "console": true},
		"store": {"driver": "sqlite", "path": "./leases.db", "reclaim_after": "5m"},
		"tasks": [
			{"id": "send-digest", "schedule": "@hourly", "timeout": "100ms"},
			{"id": "cleanup", "schedule": "*/5 * * * *", "enabled": false}
		]
	}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.WorkerEnabled() {
		t.Fatal("worker flag lost")
	}
	if cfg.EffectiveDefaultTimeout() != time.Minute {
		t.Fatalf("default timeout = %v", cfg.EffectiveDefaultTimeout())
	}
	if cfg.Store.ReclaimAfter.Std() != 5*time.Minute {
		t.Fatalf("reclaim_after = %v", cfg.Store.ReclaimAfter.Std())
	}
	if len(cfg.Tasks) != 2 {
		t.Fatalf("tasks = %d", len(cfg.Tasks))
	}
	if cfg.Tasks[0].Timeout.Std() != 100*time.Millisecond {
		t.Fatalf("task timeout = %v", cfg.Tasks[0].Timeout.Std())
	}
	if !cfg.Tasks[0].EnabledOrDefault() {
		t.Fatal("omitted enabled should default to true")
	}
	if cfg.Tasks[1].EnabledOrDefault() {
		t.Fatal("explicit enabled=false lost")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "taskfleet.yaml", `
worker: false
default_timeout: 45s
logging:
  level: debug
  console: true
store:
  driver: memory
tasks:
  - id: heartbeat
    schedule: 30s
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkerEnabled() {
		t.Fatal("worker=false lost in yaml")
	}
	if cfg.EffectiveDefaultTimeout() != 45*time.Second {
		t.Fatalf("default timeout = %v", cfg.EffectiveDefaultTimeout())
	}
	if len(cfg.Tasks) != 1 || cfg.Tasks[0].ID != "heartbeat" {
		t.Fatalf("tasks = %+v", cfg.Tasks)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "unknown field", file: "c.json", content: `{"store": {"driver": "memory"}, "logging": {"console": true}, "tasks": [], "no_such_field": 1}`},
		{name: "trailing data", file: "c.json", content: `{"store": {"driver": "memory"}, "logging": {"console": true}, "tasks": []} {}`},
		{name: "duplicate task id", file: "c.json", content: `{"store": {"driver": "memory"}, "logging": {"console": true}, "tasks": [{"id": "a", "schedule": "1m"}, {"id": "a", "schedule": "2m"}]}`},
		{name: "sqlite without path", file: "c.json", content: `{"store": {"driver": "sqlite"}, "logging": {"console": true}, "tasks": []}`},
		{name: "unknown driver", file: "c.json", content: `{"store": {"driver": "etcd"}, "logging": {"console": true}, "tasks": []}`},
		{name: "missing schedule", file: "c.json", content: `{"store": {"driver": "memory"}, "logging": {"console": true}, "tasks": [{"id": "a"}]}`},
		{name: "bad timezone", file: "c.json", content: `{"timezone": "Mars/Olympus", "store": {"driver": "memory"}, "logging": {"console": true}, "tasks": []}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.content)
			if _, err := NewManager(path).Load(); err == nil {
				t.Fatal("expected load failure")
			}
		})
	}
}

func TestChangedSections(t *testing.T) {
	t.Parallel()
	a := &Config{DefaultTimeout: Duration(time.Minute)}
	b := &Config{DefaultTimeout: Duration(2 * time.Minute)}
	b.Tasks = []TaskConfig{{ID: "x", Schedule: "1m"}}

	changed := ChangedSections(a, b)
	want := map[string]bool{"scheduling": true, "tasks": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v", changed)
	}
	for _, c := range changed {
		if !want[c] {
			t.Fatalf("unexpected section %q in %v", c, changed)
		}
	}
}
