package engine

import (
	"time"
)

// Config controls attempt execution.
type Config struct {
	// DefaultTimeout bounds tasks that declare no timeout of their own.
	// Zero falls back to 60s.
	DefaultTimeout time.Duration
}

const fallbackTimeout = 60 * time.Second

// Roles answers the one question the engine asks about its host process:
// does this process execute background work at all. A pure web-serving
// process answers false and never touches a lease.
type Roles interface {
	Worker() bool
}

// RolesFunc adapts a plain func to Roles.
type RolesFunc func() bool

func (f RolesFunc) Worker() bool { return f() }

// timedOutMessage is the recorded failure message when the timer wins the race.
const timedOutMessage = "Task timed out"
