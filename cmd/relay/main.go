package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"hundred_prisoners/internal/arena"
	"hundred_prisoners/internal/config"
	"hundred_prisoners/internal/logging"
	"hundred_prisoners/internal/messaging/inproc"
	"hundred_prisoners/internal/relay"
	sqlitestore "hundred_prisoners/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.prisoners/config.toml)")
	addrFlag := flag.String("addr", "", "http listen address override")
	dbPathFlag := flag.String("db", "", "sqlite database path override")
	agentsFlag := flag.Int("p", 0, "prisoners per session trial override")
	delayFlag := flag.Duration("delay", -1, "delay after each relayed step override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	logger := logging.New(os.Stderr, level)

	addr := firstNonEmpty(*addrFlag, cfg.Relay.Addr)
	dbPath := filepath.Clean(firstNonEmpty(*dbPathFlag, cfg.DBPath))
	agents := cfg.Relay.SessionAgents
	if *agentsFlag != 0 {
		agents = *agentsFlag
	}
	stepDelay := time.Duration(cfg.Relay.StepDelayMS) * time.Millisecond
	if *delayFlag >= 0 {
		stepDelay = *delayFlag
	}
	if err := arena.Validate(agents); err != nil {
		logger.Error("invalid session size", "prisoners", agents, "err", err)
		os.Exit(2)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		logger.Error("create db directory", "err", err)
		os.Exit(1)
	}
	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		logger.Error("open sqlite store", "err", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		logger.Error("migrate sqlite", "err", err)
		os.Exit(1)
	}

	bus := inproc.New(cfg.Relay.EventBuffer)
	svc := relay.New(store, bus, relay.Config{
		Agents:    agents,
		StepDelay: stepDelay,
		Seed:      cfg.Seed,
	}, logger)

	server := &http.Server{
		Addr:              addr,
		Handler:           relay.NewHandler(ctx, svc, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("relay started", "addr", addr, "db", dbPath, "prisoners", agents, "step_delay", stepDelay)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "err", err)
		os.Exit(1)
	}
	svc.Wait()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
