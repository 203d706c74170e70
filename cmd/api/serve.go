package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk-service/internal/api/http"
	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/persistence"
	"github.com/spec-kit/helpdesk-service/internal/realtime"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the websocket gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	return withLogger(ctx, serve)
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.App, cfg.Tracing, logger)
	if err != nil {
		return err
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	var store repository.Store
	if pool := pg.PoolHandle(); pool != nil {
		if cfg.Postgres.RunMigrations {
			if _, err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
				return err
			}
		}
		store = repository.NewPostgresStore(pool)
	} else {
		logger.Warn("POSTGRES_DSN is empty; using the in-memory store, which serializes all transactions and loses data on exit (development only)")
		store = repository.NewMemoryStore()
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	registry := realtime.NewRegistry(cfg.Realtime.PruneBuffer, logger)
	hubOpts := realtime.HubOptions{Logger: logger, Metrics: metrics}
	var bridge *realtime.RedisBridge
	if cfg.Realtime.RedisBridge {
		bridge = realtime.NewRedisBridge(redis.Client, cfg.Realtime.RedisChannel, logger)
		hubOpts.Relay = bridge
	}
	hub := realtime.NewHub(registry, hubOpts)

	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()
	if bridge != nil {
		go func() {
			if err := bridge.Listen(ctx, hub.Deliver); err != nil {
				logger.Error("realtime bridge stopped; delivering locally", zap.Error(err))
			}
		}()
	}
	worker.StartPruner(ctx, registry, logger)

	deps := service.Dependencies{
		Store:     store,
		Publisher: hub,
		Locks:     service.NewTicketLocks(),
		Logger:    logger,
	}
	ticketService := service.NewTicketService(deps)
	assignmentService := service.NewAssignmentService(deps)
	chatService := service.NewChatService(deps)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	probes := map[string]handlers.Pinger{"redis": redis}
	if pg.PoolHandle() != nil {
		probes["postgres"] = pg
	}
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, probes, metrics, registry).WithPostgres(pg),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Assignments:    handlers.NewAssignmentsHandler(assignmentService, ticketService),
		Chat:           handlers.NewChatHandler(chatService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        metrics,
	})

	gateway := realtime.NewGateway(registry, tokens, ticketAccess(ticketService), realtime.GatewayConfig{
		SendBuffer:    cfg.Realtime.SendBuffer,
		AllowedOrigin: cfg.Realtime.AllowedOrigin,
	}, logger)
	gatewayServer := &http.Server{
		Addr:              cfg.Realtime.Addr,
		Handler:           gateway.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			errCh <- fmt.Errorf("fiber listen: %w", err)
		}
	}()
	go func() {
		logger.Info("realtime gateway listening", zap.String("addr", cfg.Realtime.Addr))
		if err := gatewayServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway listen: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}
	cancel()

	shutdownCtx, release := context.WithTimeout(context.Background(), shutdownTimeout)
	defer release()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("fiber shutdown", zap.Error(err))
	}
	if err := gatewayServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown", zap.Error(err))
	}
	<-hubDone
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", zap.Error(err))
	}
	return runErr
}

// ticketAccess lets a connection follow a ticket when the principal may read it.
func ticketAccess(tickets *service.TicketService) realtime.AccessFunc {
	return func(ctx context.Context, p auth.Principal, ticketID int64) error {
		_, err := tickets.Get(ctx, service.Actor{UserID: p.UserID, Role: p.Role}, ticketID)
		return err
	}
}
