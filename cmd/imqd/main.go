package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/imq-dev/imq/internal/adapter/checkexec"
	"github.com/imq-dev/imq/internal/adapter/forgegateway"
	"github.com/imq-dev/imq/internal/adapter/githubforge"
	imqhttp "github.com/imq-dev/imq/internal/adapter/http"
	"github.com/imq-dev/imq/internal/adapter/otel"
	"github.com/imq-dev/imq/internal/adapter/polling"
	"github.com/imq-dev/imq/internal/adapter/ristretto"
	"github.com/imq-dev/imq/internal/adapter/sqlite"
	"github.com/imq-dev/imq/internal/adapter/webhook"
	"github.com/imq-dev/imq/internal/adapter/ws"
	"github.com/imq-dev/imq/internal/config"
	"github.com/imq-dev/imq/internal/domain/check"
	"github.com/imq-dev/imq/internal/logger"
	"github.com/imq-dev/imq/internal/metrics"
	"github.com/imq-dev/imq/internal/middleware"
	"github.com/imq-dev/imq/internal/port/database"
	portcheckexec "github.com/imq-dev/imq/internal/port/checkexec"
	"github.com/imq-dev/imq/internal/port/ingress"
	"github.com/imq-dev/imq/internal/resilience"
	"github.com/imq-dev/imq/internal/secrets"
	"github.com/imq-dev/imq/internal/service"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	vault, err := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{
			"forge_token":    cfg.Forge.Token,
			"webhook_secret": cfg.Forge.WebhookSecret,
		}, nil
	})
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	log, closer := logger.New(cfg.Logging, vault)
	slog.SetDefault(log)
	defer closer.Close()

	slog.Info("config loaded", "port", cfg.Server.Port, "forge_mode", cfg.Forge.Mode, "db_path", cfg.Database.Path)

	ctx := context.Background()

	shutdownOTEL, err := otel.InitTracer(otel.OTELConfig{
		Enabled:     cfg.OTEL.Enabled,
		Endpoint:    cfg.OTEL.Endpoint,
		ServiceName: cfg.OTEL.ServiceName,
		Insecure:    cfg.OTEL.Insecure,
		SampleRate:  cfg.OTEL.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}

	db, err := sqlite.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if err := sqlite.Migrate(db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("sqlite ready", "path", cfg.Database.Path)

	rawClient := githubforge.New(githubforge.Config{
		BaseURL:    cfg.Forge.APIURL,
		Token:      vault.Get("forge_token"),
		APIVersion: cfg.Forge.APIVersion,
		UserAgent:  cfg.Forge.UserAgent,
	}, nil)
	breakerClient := resilience.NewBreakerClient(rawClient, cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	gateway := forgegateway.New(breakerClient)

	store := sqlite.NewStore(db)

	cache, err := ristretto.New(64 << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	executors := map[check.Kind]portcheckexec.Executor{
		check.KindLocalScript:   checkexec.LocalScriptExecutor{},
		check.KindForgeWorkflow: &checkexec.ForgeWorkflowExecutor{Gateway: gateway},
	}
	checkEngine := service.NewCheckEngine(executors, cache, 4, time.Hour)

	hub := ws.NewHub("")
	sink := metrics.New(500)

	engine := service.NewQueueEngine(store, gateway, checkEngine, hub, sink, cfg.Queue.BranchSettleWait)
	if err := engine.Recover(ctx); err != nil {
		return fmt.Errorf("queue engine recover: %w", err)
	}

	ingressCtx, cancelIngress := context.WithCancel(ctx)
	ingressDone := make(chan struct{})
	go runIngress(ingressCtx, ingressDone, cfg, breakerClient, store, engine)

	handlers := &imqhttp.Handlers{Queue: engine, Store: store, Metrics: sink}
	webhookHandler := &webhook.Handler{Sink: func(ev ingress.NormalizedEvent) {
		if err := engine.OnEvent(context.Background(), ev); err != nil {
			slog.Error("webhook event rejected", "error", err)
		}
	}}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(otel.HTTPMiddleware(cfg.OTEL.ServiceName))

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()
	r.Use(limiter.Handler)

	imqhttp.MountRoutes(r, handlers, hub, webhookHandler, vault.Get("webhook_secret"))

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done

	// --- Ordered graceful shutdown ---

	slog.Info("shutdown phase 1: stopping HTTP server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("shutdown phase 2: stopping event ingress")
	cancelIngress()
	<-ingressDone

	slog.Info("shutdown phase 3: draining queue drivers")
	report := engine.Shutdown(shutdownCtx, cfg.Queue.ShutdownGrace)
	slog.Info("queue drivers drained", "drained", report.Drained, "aborted", report.Aborted)

	slog.Info("shutdown phase 4: closing database")
	if err := db.Close(); err != nil {
		slog.Error("sqlite close error", "error", err)
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		slog.Error("otel shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// runIngress starts the configured half of Event Ingress — webhook intake
// is mounted as an HTTP route and needs no goroutine, so only polling mode
// has anything to run here. done is closed once the goroutine has returned.
func runIngress(ctx context.Context, done chan struct{}, cfg *config.Config, client *resilience.BreakerClient, store database.Store, engine *service.QueueEngine) {
	defer close(done)
	if !strings.EqualFold(cfg.Forge.Mode, "polling") {
		<-ctx.Done()
		return
	}

	parts := strings.SplitN(cfg.Forge.Repo, "/", 2)
	if len(parts) != 2 {
		slog.Error("invalid forge.repo, expected owner/name", "repo", cfg.Forge.Repo)
		<-ctx.Done()
		return
	}

	poller := polling.New(client, store, parts[0], parts[1], cfg.Forge.PollingInterval)
	if err := poller.Run(ctx, func(ev ingress.NormalizedEvent) {
		if err := engine.OnEvent(ctx, ev); err != nil {
			slog.Error("poll event rejected", "error", err)
		}
	}); err != nil && ctx.Err() == nil {
		slog.Error("poller stopped", "error", err)
	}
}
