package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"taskfleet/internal/config"
	"taskfleet/internal/engine"
	"taskfleet/internal/lease"
	"taskfleet/internal/registry"
	"taskfleet/internal/report"
	"taskfleet/internal/trigger"
	logx "taskfleet/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./taskfleet.json", "path to config file (json or yaml)")
	flag.Parse()

	// Optional .env next to the binary; keeps the store DSN out of the
	// config file. Missing file is fine.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	defer logSvc.Close()
	mgr.SetLogger(log)

	dsn := strings.TrimSpace(cfg.Store.DSN)
	if dsn == "" {
		dsn = os.Getenv("TASKFLEET_STORE_DSN")
	}
	store, err := lease.Open(lease.Config{
		Driver:       cfg.Store.Driver,
		Path:         cfg.Store.Path,
		DSN:          dsn,
		BusyTimeout:  cfg.Store.BusyTimeout.Std(),
		ReclaimAfter: cfg.Store.ReclaimAfter.Std(),
	}, log)
	if err != nil {
		return fmt.Errorf("open lease store: %w", err)
	}
	defer store.Close()

	reg := registry.New()
	bodies := taskBodies()
	for _, tc := range cfg.Tasks {
		body, ok := bodies[tc.ID]
		if !ok {
			return fmt.Errorf("task %q: no body compiled into this binary", tc.ID)
		}
		err := reg.Register(registry.TaskDefinition{
			ID:       tc.ID,
			Schedule: tc.Schedule,
			Timeout:  tc.Timeout.Std(),
			Enabled:  tc.EnabledOrDefault(),
			Body:     body,
		})
		if err != nil {
			return err
		}
	}

	var isWorker atomic.Bool
	isWorker.Store(cfg.WorkerEnabled())

	eng := engine.New(
		engine.Config{DefaultTimeout: cfg.EffectiveDefaultTimeout()},
		store,
		engine.RolesFunc(isWorker.Load),
		log,
	)

	trg := trigger.New(trigger.Config{Timezone: cfg.Timezone}, eng.RunAttempt, log)
	for _, def := range reg.All() {
		if err := trg.Add(def); err != nil {
			return err
		}
	}
	if err := trg.Start(ctx); err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		trg.Stop(sctx)
	}()

	if cfg.HTTP.Enabled {
		router := report.NewRouter(report.NewService(store), report.HTTPConfig{
			Addr:               cfg.HTTP.Addr,
			CORSAllowedOrigins: cfg.HTTP.CORSAllowedOrigins,
		})
		go func() {
			if err := report.Serve(ctx, router, cfg.HTTP.Addr, log); err != nil {
				log.Error("reporting server exited", logx.Err(err))
			}
		}()
	}

	// Config hot reload: logging, worker role and default timeout re-apply
	// live. Task and store changes need a restart.
	sub := mgr.Subscribe(1)
	defer mgr.Unsubscribe(sub)
	go func() {
		if err := mgr.Watch(ctx); err != nil {
			log.Warn("config watch exited", logx.Err(err))
		}
	}()
	go func() {
		prev := cfg
		for newCfg := range sub {
			if newCfg == nil {
				continue
			}
			changed := config.ChangedSections(prev, newCfg)
			logSvc.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File:    logx.FileConfig{Enabled: newCfg.Logging.File.Enabled, Path: newCfg.Logging.File.Path},
			})
			isWorker.Store(newCfg.WorkerEnabled())
			eng.Apply(engine.Config{DefaultTimeout: newCfg.EffectiveDefaultTimeout()})
			log.Info("config applied", logx.Any("changed", changed))
			prev = newCfg
		}
	}()

	_, _ = sd.SdNotify(false, sd.SdNotifyReady)
	log.Info("taskfleet started",
		logx.Bool("worker", isWorker.Load()),
		logx.Int("tasks", reg.Len()),
		logx.Duration("default_timeout", cfg.EffectiveDefaultTimeout()))

	<-ctx.Done()
	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
	log.Info("shutting down")
	return nil
}
