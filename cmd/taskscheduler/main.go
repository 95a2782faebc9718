package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mvasquez/taskgraph/internal/admission"
	"github.com/mvasquez/taskgraph/internal/config"
	"github.com/mvasquez/taskgraph/internal/executor"
	"github.com/mvasquez/taskgraph/internal/logging"
	"github.com/mvasquez/taskgraph/internal/scheduler"
	"github.com/mvasquez/taskgraph/internal/server"
	"github.com/mvasquez/taskgraph/internal/store"
)

func main() {
	cfg := config.Default()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Database path")
	flag.IntVar(&cfg.MaxConcurrent, "max-concurrent", cfg.MaxConcurrent, "Maximum tasks running concurrently")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	st, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", cfg.DBPath)

	if _, err := scheduler.Recover(context.Background(), st, logger); err != nil {
		fmt.Fprintf(os.Stderr, "recovery: %v\n", err)
		os.Exit(1)
	}

	reg := executor.NewRegistry(executor.SleepExecutor{})
	sched := scheduler.New(st, reg, cfg.MaxConcurrent, logger)
	adm := admission.New(st, sched, logger)

	srv := server.New(cfg, st, logger, server.WithAdmitter(adm))

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := sched.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("dispatcher stopped", "error", err)
		}
	}()

	// Initial sweep: work queued before this process started (including
	// anything Recovery just reset) must not wait for the next admission.
	// Wake coalesces, so racing the loop startup is harmless.
	sched.Wake()

	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "max_concurrent", cfg.MaxConcurrent)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "http shutdown error: %v\n", err)
	}

	// Shutdown order: stop submissions, stop the dispatcher, drain the
	// pool, close the store. httpServer.Shutdown above has already stopped
	// accepting submissions; Stop drains the pool before returning.
	if err := sched.Stop(); err != nil {
		logger.Error("dispatcher stop error", "error", err)
	}

	logger.Info("server stopped")
}
