// Command quotad serves the tenant quota API and runs the billing sweep.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dmitrymomot/tenantquota/internal/app"
	"github.com/dmitrymomot/tenantquota/pkg/config"
	"github.com/dmitrymomot/tenantquota/pkg/logger"
	"github.com/dmitrymomot/tenantquota/pkg/requestid"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := config.LoadEnv(envFiles()...); err != nil {
		slog.Error("env files", logger.Error(err))
		os.Exit(1)
	}
	var cfg app.Config
	if err := config.Load(&cfg); err != nil {
		slog.Error("configuration", logger.Error(err))
		os.Exit(1)
	}

	log := logger.New(
		logger.WithEnvironment(cfg.Env, cfg.Name),
		logger.WithLevelName(cfg.LogLevel),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("quotad stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg app.Config, log *slog.Logger) error {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		a.Close(closeCtx)
	}()

	log.InfoContext(ctx, "quotad starting", slog.String("env", cfg.Env))
	return a.Run(ctx)
}

// envFiles lists extra env files from QUOTAD_ENV_FILES, comma separated.
func envFiles() []string {
	raw := os.Getenv("QUOTAD_ENV_FILES")
	if raw == "" {
		return nil
	}
	var files []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	return files
}
