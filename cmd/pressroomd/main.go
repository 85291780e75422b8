package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/fablepress/pressroom/internal/api/handlers"
	"github.com/fablepress/pressroom/internal/api/middleware"
	"github.com/fablepress/pressroom/internal/cache"
	"github.com/fablepress/pressroom/internal/config"
	"github.com/fablepress/pressroom/internal/db"
	"github.com/fablepress/pressroom/internal/fleet"
	"github.com/fablepress/pressroom/internal/jobs"
	"github.com/fablepress/pressroom/internal/logger"
	"github.com/fablepress/pressroom/internal/render"
	"github.com/fablepress/pressroom/internal/webhook"
)

func main() {
	configPath := flag.String("config", "pressroom.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pressroomd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	ctx := context.Background()

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	var redisClient *redis.Client
	if cfg.Cache.RedisURL != "" {
		redisClient, err = cache.NewClient(ctx, cfg.Cache.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, registry cache disabled", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	sender := webhook.NewSender(webhook.Config{
		Endpoints:   webhookEndpoints(cfg.Webhooks.Endpoints),
		RetryCount:  cfg.Webhooks.RetryCount,
		RetryDelay:  cfg.Webhooks.RetryDelay,
		Timeout:     cfg.Webhooks.Timeout,
		QueueSize:   cfg.Webhooks.QueueSize,
		WorkerCount: cfg.Webhooks.WorkerCount,
	}, log)
	sender.Start(cfg.Webhooks.WorkerCount)
	defer sender.Stop()

	registry := fleet.NewRegistry(database, redisClient, cfg.Cache.RegistryTTL, log)
	registry.SetStatusListener(sender.PrinterStatusChanged)

	strategy, err := fleet.ParseStrategy(cfg.Fleet.Strategy)
	if err != nil {
		return err
	}
	manager := fleet.NewManager(registry, fleet.NewBalancer(strategy), cfg.Fleet.BackupRegions, log)

	objects, err := render.NewFileStore(cfg.Rendering.ArtifactDir)
	if err != nil {
		return err
	}
	renderer := render.NewHTTPRenderer(cfg.Rendering.ServiceURL, cfg.Rendering.Timeout)

	store := jobs.NewStore(database, cfg.Database.StatementTimeout)
	orchestrator := jobs.NewOrchestrator(store, manager, renderer, objects, sender, jobs.OrchestratorConfig{
		Workers:       cfg.Queue.WorkerCount,
		AssignRetries: cfg.Queue.AssignRetries,
		AssignBackoff: cfg.Queue.AssignBackoff,
	}, log)

	monitor := fleet.NewMonitor(registry, fleet.NewHTTPProber(),
		cfg.Fleet.HealthCheckInterval, cfg.Fleet.ProbeTimeout, cfg.Fleet.EscalationThreshold, log)
	monitor.OnMajorFailure(orchestrator.HandlePrinterFailure)

	if err := orchestrator.Start(ctx); err != nil {
		return err
	}
	defer orchestrator.Stop()

	monitor.Start()
	defer monitor.Stop()

	router := buildRouter(cfg, database, redisClient, orchestrator, registry, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("pressroomd listening", "port", cfg.Server.Port, "strategy", cfg.Fleet.Strategy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func buildRouter(cfg *config.Config, database dbPinger, redisClient *redis.Client, orchestrator *jobs.Orchestrator, registry *fleet.Registry, log *logger.Logger) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		status := gin.H{"status": "ok"}
		if redisClient != nil {
			if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
				status["cache"] = "unavailable"
			}
		}
		c.JSON(http.StatusOK, status)
	})

	var operatorOnly gin.HandlerFunc
	api := router.Group("/api")

	secret := os.Getenv("PRESSROOM_JWT_SECRET")
	passwordHash := os.Getenv("PRESSROOM_OPERATOR_PASSWORD_HASH")
	if secret != "" && passwordHash != "" {
		auth := middleware.NewAuth([]byte(secret), passwordHash)
		router.POST("/api/login", auth.Login)
		operatorOnly = auth.RequireOperator()
	} else {
		log.Warn("operator auth disabled: PRESSROOM_JWT_SECRET or PRESSROOM_OPERATOR_PASSWORD_HASH not set")
	}

	api.Use(middleware.RateLimit(50, 100))

	handlers.NewJobHandler(orchestrator, registry).RegisterRoutes(api, operatorOnly)
	handlers.NewPrinterHandler(registry).RegisterRoutes(api, operatorOnly)

	return router
}

type dbPinger interface {
	PingContext(ctx context.Context) error
}

func webhookEndpoints(configured []config.WebhookEndpoint) []webhook.Endpoint {
	endpoints := make([]webhook.Endpoint, 0, len(configured))
	for _, ep := range configured {
		endpoints = append(endpoints, webhook.Endpoint{
			Name:   ep.Name,
			URL:    ep.URL,
			Secret: ep.Secret,
			Events: ep.Events,
		})
	}
	return endpoints
}
