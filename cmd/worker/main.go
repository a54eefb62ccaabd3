package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"klips/internal/engine/links"
	"klips/internal/engine/webhooks"
	"klips/internal/pkg/logger"
	"klips/internal/platform/config"
	"klips/internal/platform/database"
	"klips/internal/platform/supervisor"
	"klips/internal/workers"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	once := flag.Bool("once", false, "Run every job a single time and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging)

	if err := run(cfg, *once); err != nil {
		log.Fatal().Err(err).Msg("worker stopped with error")
	}
}

func run(cfg *config.Config, once bool) error {
	db, err := database.NewDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	// Pruning never opens secrets, but the repository requires a box.
	box, err := webhooks.NewSecretBox(cfg.Webhooks.SecretKey)
	if err != nil {
		return err
	}

	jobLogger := logger.Component("worker")
	services := []*workers.Service{
		workers.NewService(workers.DeliveryRetention(webhooks.NewRepository(db, box), cfg.Webhooks.RetentionDays), jobLogger),
		workers.NewService(workers.LinkExpiry(links.NewRepository(db)), jobLogger),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if once {
		for _, svc := range services {
			svc.RunOnce(ctx)
		}
		return nil
	}

	tree := supervisor.NewTree("klips-worker", logger.Component("supervisor"), supervisor.DefaultTreeConfig())
	for _, svc := range services {
		tree.AddBackgroundService(svc)
	}

	log.Info().Int("jobs", len(services)).Msg("worker starting")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("worker stopped")
	return nil
}
