// Package trigger fires registered tasks when their schedules come due.
//
// Each process runs its own independent timers; there is no central
// dispatcher. Two processes both deciding "this task is due" at the same
// instant is expected, and resolving that race belongs to the lease store,
// not here.
package trigger

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskfleet/internal/registry"
	logx "taskfleet/pkg/logx"
)

// FireFunc is the engine callback invoked per scheduled occurrence.
type FireFunc func(ctx context.Context, def registry.TaskDefinition, firedAt time.Time)

type Config struct {
	// Timezone is the IANA zone cron expressions evaluate in.
	// Empty means time.Local.
	Timezone string
}

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	fire FireFunc

	parser cron.Parser
	c      *cron.Cron
	loc    *time.Location

	defs []entryDef

	runCtx    context.Context
	runCancel context.CancelFunc
}

type entryDef struct {
	def     registry.TaskDefinition
	spec    string // cron spec or @every form
	entryID cron.EntryID
}

func New(cfg Config, fire FireFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg,
		fire: fire,
		log:  log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Add registers a task's schedule. Interval forms are normalized to cron's
// "@every" descriptor so a single runner drives everything.
func (s *Service) Add(def registry.TaskDefinition) error {
	ps, err := ParseSchedule(def.Schedule)
	if err != nil {
		return fmt.Errorf("task %q: %w", def.ID, err)
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = fmt.Sprintf("@every %s", ps.Every.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = append(s.defs, entryDef{def: def, spec: spec})
	if s.c != nil {
		return s.addEntryLocked(&s.defs[len(s.defs)-1])
	}
	// Not started yet: keep the definition and register it on Start().
	return nil
}

func (s *Service) addEntryLocked(d *entryDef) error {
	def := d.def
	eid, err := s.c.AddFunc(d.spec, func() {
		s.mu.Lock()
		ctx := s.runCtx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in trigger callback",
					logx.String("task", def.ID), logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		s.fire(ctx, def, time.Now())
	})
	if err != nil {
		return fmt.Errorf("task %q: invalid schedule %q: %w", def.ID, d.spec, err)
	}
	d.entryID = eid
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
		loc = l
	}
	s.loc = loc
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	for i := range s.defs {
		if err := s.addEntryLocked(&s.defs[i]); err != nil {
			s.c = nil
			s.runCancel()
			return err
		}
	}
	s.c.Start()
	s.log.Info("trigger started",
		logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
	return nil
}

// Stop halts scheduling and waits (bounded by ctx) for in-flight callbacks
// started by cron to return.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.runCtx = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("trigger stopped")
}

// Next reports the upcoming fire times per task id, for diagnostics.
func (s *Service) Next() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil
	}
	out := make(map[string]time.Time, len(s.defs))
	for _, d := range s.defs {
		if d.entryID == 0 {
			continue
		}
		e := s.c.Entry(d.entryID)
		if !e.Next.IsZero() {
			out[d.def.ID] = e.Next
		}
	}
	return out
}
