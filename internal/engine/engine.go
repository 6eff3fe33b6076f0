// Package engine coordinates one execution attempt of one task: claim the
// lease, race the body against its timeout, release the lease, persist the
// outcome. Mutual exclusion across the fleet comes entirely from the lease
// store's conditional update; the engine holds no locks of its own.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskfleet/internal/lease"
	"taskfleet/internal/registry"
	logx "taskfleet/pkg/logx"
)

type Engine struct {
	mu  sync.Mutex
	cfg Config

	store lease.Store
	roles Roles
	log   logx.Logger

	// storeErrs throttles "store unreachable" error logs so a down store
	// does not flood the log at every trigger firing.
	storeErrs *rate.Limiter
}

func New(cfg Config, store lease.Store, roles Roles, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:       cfg,
		store:     store,
		roles:     roles,
		log:       log,
		storeErrs: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}
}

// Apply updates runtime-tunable settings (config hot reload).
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) defaultTimeout() time.Duration {
	e.mu.Lock()
	d := e.cfg.DefaultTimeout
	e.mu.Unlock()
	if d <= 0 {
		d = fallbackTimeout
	}
	return d
}

type bodyResult struct {
	value string
	err   error
}

// RunAttempt performs one end-to-end attempt for one trigger firing.
//
// Every condition is contained here: a lost claim is the expected common case
// in a fleet and aborts silently, a store failure aborts with a throttled
// error log, and the release runs on every path so a lock is never left
// behind. Nothing propagates to the trigger.
func (e *Engine) RunAttempt(ctx context.Context, def registry.TaskDefinition, firedAt time.Time) {
	if e.roles != nil && !e.roles.Worker() {
		return
	}

	log := e.log.With(logx.String("task", def.ID))

	if err := e.store.EnsureRow(ctx, def.ID, def.Enabled); err != nil {
		e.logStoreError(log, "lease row init failed", err)
		return
	}

	claimed, err := e.store.TryClaim(ctx, def.ID, firedAt)
	if err != nil {
		e.logStoreError(log, "lease claim failed", err)
		return
	}
	if !claimed {
		// Another process won, or the task is disabled. Expected; the next
		// firing tries again.
		log.Debug("claim lost; skipping run")
		return
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout()
	}

	start := time.Now()
	result := lease.FailureResult("attempt aborted")

	// The claim is held from here on. Release unconditionally, even if the
	// race below panics; an unreleased row would block the task fleet-wide.
	defer func() {
		if r := recover(); r != nil {
			result = lease.FailureResult(fmt.Sprint(r))
			log.Error("panic during task attempt",
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.store.Release(rctx, def.ID, result, time.Now()); err != nil {
			e.logStoreError(log, "lease release failed", err)
		}
	}()

	// Race the body against the timeout. The body goroutine writes its
	// settlement into a buffered channel, so a loser that finishes after
	// abandonment parks there instead of blocking; it can never reach the
	// lease row because this function is the only release site.
	resCh := make(chan bodyResult, 1)
	runCtx, cancelRun := context.WithTimeout(ctx, timeout)
	defer cancelRun()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- bodyResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := def.Body(runCtx)
		resCh <- bodyResult{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resCh:
		dur := time.Since(start)
		if res.err != nil {
			result = lease.FailureResult(res.err.Error())
			log.Error("task failed", logx.Err(res.err), logx.Duration("dur", dur))
			return
		}
		result = res.value
		log.Info("task completed", logx.Duration("dur", dur))

	case <-timer.C:
		result = lease.FailureResult(timedOutMessage)
		log.Warn("task timed out", logx.Duration("timeout", timeout))
		e.drainAbandoned(log, resCh)

	case <-ctx.Done():
		// Process shutting down mid-run. Record the abort so the row is not
		// left claimed; the body is abandoned like a timeout.
		result = lease.FailureResult(ctx.Err().Error())
		log.Warn("attempt aborted by shutdown")
		e.drainAbandoned(log, resCh)
	}
}

// drainAbandoned consumes the eventual settlement of a body we stopped
// waiting on, so its result is visibly discarded rather than leaked.
func (e *Engine) drainAbandoned(log logx.Logger, resCh <-chan bodyResult) {
	go func() {
		res := <-resCh
		log.Debug("abandoned body settled; result discarded", logx.Err(res.err))
	}()
}

func (e *Engine) logStoreError(log logx.Logger, msg string, err error) {
	if e.storeErrs.Allow() {
		log.Error(msg, logx.Err(err))
	}
}
