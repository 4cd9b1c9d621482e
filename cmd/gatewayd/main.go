// Command gatewayd runs the metering and access-control gateway as a
// standalone HTTP server.
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

	"github.com/rs/zerolog"

	"github.com/toolmeter/gateway/pkg/gateway"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional, env overrides still apply)")
	addr := flag.String("addr", "", "listen address, overrides config/env (e.g. :8080)")
	redisURL := flag.String("redis-url", "", "Redis URL, overrides config/env")
	adminKey := flag.String("admin-key", "", "admin bootstrap key, overrides config/env")
	statePath := flag.String("state-path", "", "key store state file path, overrides config/env")
	shutdownTimeout := flag.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	flag.Parse()

	if err := run(*configPath, *addr, *redisURL, *adminKey, *statePath, *shutdownTimeout); err != nil {
		fmt.Fprintf(os.Stderr, "gatewayd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr, redisURL, adminKey, statePath string, shutdownTimeout time.Duration) error {
	cfg, err := gateway.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if addr != "" {
		cfg.Server.Address = addr
	}
	if redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	if adminKey != "" {
		cfg.Server.AdminBootstrapKey = adminKey
	}
	if statePath != "" {
		cfg.Storage.FilePath = statePath
	}

	app, err := gateway.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("assemble app: %w", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "gatewayd").Logger()

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Address).Msg("gatewayd: listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("gatewayd: shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			_ = app.Close()
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("gatewayd: graceful shutdown failed")
	}

	if err := app.Close(); err != nil {
		logger.Error().Err(err).Msg("gatewayd: resource cleanup failed")
		return err
	}

	logger.Info().Msg("gatewayd: shutdown complete")
	return nil
}
