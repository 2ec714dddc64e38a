package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"registersync/internal/app"
	"registersync/internal/config"
	"registersync/internal/logger"
)

// ConfigFileEnv names an optional JSON, YAML or TOML config file
const ConfigFileEnv = "REGISTERSYNC_CONFIG_FILE"

const shutdownTimeout = 30 * time.Second

// Main entry point with signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	if err := run(); err != nil {
		slog.Error("registersync exited", "error", err)
		os.Exit(1)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run() error {
	// STEP 1: Load configuration with precedence (env > file > defaults)
	cfg := config.LoadConfigWithPrecedence(os.Getenv(ConfigFileEnv))
	logger.Setup(cfg.LogLevel)

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// STEP 4: Start listening
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("failed to start application: %w", err)
	}

	// STEP 5: Wait for shutdown signal or server failure
	var runErr error
	select {
	case err, ok := <-application.Errors():
		if ok && err != nil {
			runErr = fmt.Errorf("application error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("received shutdown signal, shutting down gracefully")
	}

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		if runErr != nil {
			return runErr
		}
		return fmt.Errorf("shutdown error: %w", err)
	}
	return runErr
}
