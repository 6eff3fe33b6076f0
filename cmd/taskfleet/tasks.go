package main

import (
	"context"
	"fmt"
	"time"

	"taskfleet/internal/registry"
)

// taskBodies maps config task ids to the bodies compiled into this binary.
// Deployments add their own entries here; config then decides which of them
// run, and on what schedule.
func taskBodies() map[string]registry.Body {
	started := time.Now()

	return map[string]registry.Body{
		// heartbeat proves the fleet's claim/release loop is healthy and
		// leaves a visible last_result for dashboards.
		"heartbeat": func(ctx context.Context) (string, error) {
			return fmt.Sprintf("alive; process up %s", time.Since(started).Round(time.Second)), nil
		},
	}
}
