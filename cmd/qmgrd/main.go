// Command qmgrd runs the per-site delivery scheduler as a standalone
// daemon: it wires the reactor (internal/loop), the scheduler (qmgr),
// and their collaborators (the dispatch fake and bouncelog) together, and
// recovers scheduler fail-stop panics only to log them before exiting.
// qmgr/ingest is not wired in; no messages are admitted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ondeck/qmgr/internal/loop"
	"github.com/ondeck/qmgr/qlog"
	"github.com/ondeck/qmgr/qmgr"
	"github.com/ondeck/qmgr/qmgr/bouncelog"
	"github.com/ondeck/qmgr/qmgr/config"
	"github.com/ondeck/qmgr/qmgr/dispatch/dispatchtest"
)

func main() {
	configPath := flag.String("config", "", "path to a qmgr TOML configuration file")
	flag.Parse()

	logger := qlog.NewConsole(qlog.LevelInformational)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Crit().Str("path", *configPath).Str("error", err.Error()).Log("qmgrd: failed to load configuration")
			os.Exit(2)
		}
		cfg = loaded
	}

	lp, err := loop.New()
	if err != nil {
		logger.Crit().Str("error", err.Error()).Log("qmgrd: failed to initialize reactor")
		os.Exit(2)
	}

	bounces := bouncelog.New(bouncelog.DiscardWriter{}, logger, 64, 200*time.Millisecond)
	defer bounces.Close()

	// The delivery-agent IPC transport is out of scope (§1); qmgrd ships
	// with the in-process fake until a real transport is wired in.
	dispatcher := &dispatchtest.Fake{}

	sched := qmgr.New(cfg, lp, dispatcher, bounces, logger)

	lp.OnTick = func() { sched.Cycle(context.Background()) }
	lp.OnPanic = func(recovered any) {
		if inv, ok := recovered.(*qmgr.InvariantViolation); ok {
			logger.Emerg().Str("op", inv.Op).Str("reason", inv.Reason).Log("qmgrd: scheduler invariant violated, exiting")
			os.Exit(2)
		}
		logger.Err().Str("panic", toString(recovered)).Log("qmgrd: task panicked")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Notice().Log("qmgrd: starting")
	if err := lp.Run(ctx); err != nil && err != context.Canceled {
		logger.Err().Str("error", err.Error()).Log("qmgrd: reactor exited with error")
		os.Exit(1)
	}
	logger.Notice().Log("qmgrd: stopped")
}

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unknown panic"
}
