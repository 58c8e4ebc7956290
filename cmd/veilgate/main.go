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

	"go.uber.org/zap"

	"github.com/veilgate/veilgate/internal/config"
	"github.com/veilgate/veilgate/internal/events"
	"github.com/veilgate/veilgate/internal/gateway"
	"github.com/veilgate/veilgate/internal/logger"
	"github.com/veilgate/veilgate/internal/rules"
	"github.com/veilgate/veilgate/internal/sanitize"
	"github.com/veilgate/veilgate/internal/tokenstore"
)

var version = "0.1.0"

func main() {
	var (
		configPath  = flag.String("config", "", "path to configuration file")
		showVersion = flag.Bool("version", false, "show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("veilgate %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File: &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting veilgate", zap.String("version", version))

	store, err := openStore(cfg)
	if err != nil {
		log.Fatal("failed to open token store", zap.String("backend", cfg.Tokens.Backend), zap.Error(err))
	}
	defer store.Close()

	provider, err := rules.NewProvider(cfg.Rules.RulesetFile, cfg.Rules.Dir, log.WithComponent("rules"))
	if err != nil {
		log.Fatal("failed to compile ruleset", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Rules.Watch {
		if err := provider.Watch(ctx.Done()); err != nil {
			log.Warn("ruleset watcher unavailable, reload via /rules/reload only", zap.Error(err))
		}
	}

	// Rulesets hot-reload; everything else needs a restart.
	if err := config.Watch(cfg, func(*config.Config) {
		log.Warn("configuration file changed, restart to apply")
	}); err != nil {
		log.Warn("config watcher unavailable", zap.Error(err))
	}

	sweepLog := log.WithComponent("sweeper")
	go tokenstore.RunSweeper(ctx, store, cfg.Tokens.SweepInterval, func(removed int64, err error) {
		if err != nil {
			sweepLog.Warn("token sweep failed", zap.Error(err))
			return
		}
		if removed > 0 {
			sweepLog.Info("expired token mappings removed", zap.Int64("removed", removed))
		}
	})

	engine := sanitize.New(
		provider,
		store,
		cfg.Tokens.Secret,
		cfg.Sanitize.RuleTimeout,
		cfg.Reconcile.NeverCategories,
		log.WithComponent("sanitize"),
	)

	hub := events.NewHub(cfg.Events.AllowedOrigins, log.WithComponent("events").Logger)

	server := gateway.New(cfg, log, engine, provider, store, hub)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatal("server failed", zap.Error(err))
	case sig := <-sigCh:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	log.Info("veilgate stopped")
}

// openStore constructs the configured token store backend.
func openStore(cfg *config.Config) (tokenstore.Store, error) {
	storeCfg := tokenstore.Config{
		Secret: cfg.Tokens.Secret,
		TTL:    cfg.Tokens.TTL,
	}

	switch cfg.Tokens.Backend {
	case "sqlite":
		return tokenstore.OpenSQLite(cfg.Tokens.Path, storeCfg)
	case "postgres":
		return tokenstore.OpenPostgres(cfg.Tokens.DSN, storeCfg)
	case "redis":
		return tokenstore.OpenRedis(cfg.Tokens.RedisURL, storeCfg)
	case "memory":
		return tokenstore.NewMemory(storeCfg)
	default:
		return nil, fmt.Errorf("unknown token backend %q", cfg.Tokens.Backend)
	}
}
