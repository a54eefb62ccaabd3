package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"klips/internal/api"
	"klips/internal/api/handlers"
	"klips/internal/api/middleware"
	"klips/internal/engine/domains"
	"klips/internal/engine/events"
	"klips/internal/engine/links"
	"klips/internal/engine/redirect"
	"klips/internal/engine/webhooks"
	"klips/internal/pkg/logger"
	"klips/internal/platform/audit"
	"klips/internal/platform/auth"
	"klips/internal/platform/config"
	"klips/internal/platform/database"
	"klips/internal/platform/repositories"
	"klips/internal/platform/supervisor"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	runMigrations := flag.Bool("migrate", false, "Apply pending migrations before serving")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging)

	if err := run(cfg, *runMigrations); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
}

func run(cfg *config.Config, runMigrations bool) error {
	if cfg.JWT.Secret == "" || cfg.Webhooks.SecretKey == "" {
		return errors.New("jwt.secret and webhooks.secret_key must be set")
	}

	db, err := database.NewDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if runMigrations {
		if err := database.Migrate(db); err != nil {
			return err
		}
		log.Info().Msg("migrations applied")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Event bus and webhook delivery
	bus := events.NewBus(int64(cfg.Webhooks.EventBuffer), events.NewZerologAdapter(logger.Component("events")))
	defer bus.Close()

	box, err := webhooks.NewSecretBox(cfg.Webhooks.SecretKey)
	if err != nil {
		return err
	}
	webhookRepo := webhooks.NewRepository(db, box)
	executor := webhooks.NewExecutor(webhookRepo, webhooks.ExecutorOptions{
		Policy:           webhooks.PolicyFromConfig(cfg.Webhooks),
		FailureThreshold: cfg.Webhooks.FailureThreshold,
		SnippetBytes:     cfg.Webhooks.SnippetBytes,
		Breaker:          cfg.Webhooks.Breaker,
		Logger:           logger.Component("webhook-executor"),
	})
	runner := webhooks.NewTaskRunner(cfg.Webhooks.WorkerCount, cfg.Webhooks.TaskBudget, logger.Component("webhook-runner"))
	dispatcher, err := webhooks.NewDispatcher(bus, webhookRepo, executor, runner, logger.Component("webhook-dispatcher"))
	if err != nil {
		return err
	}
	registry := webhooks.NewRegistry(webhookRepo, executor)

	// Link cache
	var cache redirect.LinkCache
	var cacheHealth handlers.Pinger
	if cfg.Cache.RedisURL != "" {
		rc, err := redirect.NewRedisCache(ctx, cfg.Cache.RedisURL, cfg.Cache.LinkTTL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rc.Close()
		cache, cacheHealth = rc, rc
		log.Info().Msg("using redis link cache")
	} else {
		cache = redirect.NewMemoryCache(cfg.Cache.LinkTTL, cfg.Cache.MaxEntries)
	}

	// Repositories and services
	orgRepo := repositories.NewOrganizationRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)
	linkRepo := links.NewRepository(db)
	linkService := links.NewService(linkRepo, bus, cache)
	domainService := domains.NewService(domains.NewRepository(db), net.DefaultResolver, bus, cfg.Domains.VerifyPrefix)
	resolver := redirect.NewResolver(linkRepo, cache, logger.Component("redirect"))
	clicks := redirect.NewClickRecorder(linkRepo, bus, logger.Component("clicks"))
	auditLogger := audit.NewLogger(db)
	tokenSvc := auth.NewTokenService(cfg.JWT)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit)
	defer rateLimiter.Close()

	deps := &api.Dependencies{
		OrgHandler:       handlers.NewOrgHandler(orgRepo, apiKeyRepo, tokenSvc, auditLogger),
		APIKeyHandler:    handlers.NewAPIKeyHandler(apiKeyRepo, auditLogger),
		WebhookHandler:   handlers.NewWebhookHandler(registry, auditLogger),
		LinkHandler:      handlers.NewLinkHandler(linkService, cfg.Domains.ShortDomain),
		DomainHandler:    handlers.NewDomainHandler(domainService, auditLogger),
		AuditHandler:     handlers.NewAuditHandler(auditLogger),
		RedirectHandler:  handlers.NewRedirectHandler(resolver, clicks),
		HealthHandler:    handlers.NewHealthHandler(db, cacheHealth),
		MetricsHandler:   handlers.NewMetricsHandler(),
		AuthMiddleware:   middleware.NewAuthMiddleware(tokenSvc, apiKeyRepo),
		TenantMiddleware: middleware.NewTenantMiddleware(orgRepo),
		RateLimiter:      rateLimiter,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree("klips-server", logger.Component("supervisor"), treeCfg)
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	tree.AddBackgroundService(dispatcher)
	// Clicks from the last redirects publish events; the dispatcher must still
	// be consuming when they land.
	tree.BeforeBackgroundStop(clicks.Wait)

	log.Info().Str("addr", addr).Msg("server starting")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("supervisor exited")
	}

	// HTTP is down, clicks are recorded and the dispatcher stopped; let started
	// deliveries finish.
	log.Info().Msg("draining webhook deliveries")
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Webhooks.TaskBudget)
	defer cancel()
	if err := runner.Shutdown(drainCtx); err != nil {
		log.Warn().Err(err).Msg("webhook deliveries cut short")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		log.Warn().Int("services", len(report)).Msg("services did not stop in time")
	}
	log.Info().Msg("server stopped")
	return nil
}
