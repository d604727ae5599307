package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"classhub/internal/app"
	"classhub/internal/config"
)

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		err = migrate(os.Args[2:], os.Stdout)
	} else {
		err = run()
	}
	if err != nil {
		slog.Error("classhub exited", "error", err)
		os.Exit(1)
	}
}

// run loads configuration, starts the application and blocks until
// SIGINT or SIGTERM triggers a graceful shutdown
func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg.Log, os.Stderr))

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the hub outlives the signal so in-flight jobs drain during Shutdown
	if err := application.Start(context.Background()); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	slog.Info("received shutdown signal, shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// migrate runs "classhub migrate [-config file] up|down|version"
func migrate(args []string, out io.Writer) error {
	cmd := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := cmd.String("config", "", "JSON config file, overrides CLASSHUB_CONFIG_FILE")
	if err := cmd.Parse(args); err != nil {
		return err
	}
	action := app.MigrateUp
	if cmd.NArg() > 0 {
		action = cmd.Arg(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg.Log, os.Stderr))

	version, dirty, err := app.RunMigrations(cfg.Database, action)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", action, err)
	}
	fmt.Fprintf(out, "schema version %d (dirty=%v)\n", version, dirty)
	return nil
}

// newLogger builds the process logger from the log section
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
