package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"analytical/internal/analytics"
	"analytical/internal/api"
	"analytical/internal/audit"
	"analytical/internal/auth"
	"analytical/internal/cache"
	"analytical/internal/config"
	"analytical/internal/db"
	"analytical/internal/errorreporting"
	"analytical/internal/metrics"
	"analytical/internal/mixpanel"
	"analytical/internal/telemetry"
)

const appName = "analytical-relay"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.ServiceName,
		Environment:    cfg.Env,
		Version:        cfg.Version,
		TracesExporter: cfg.OtelTracesExporter,
		OTLPEndpoint:   cfg.OtelOTLPEndpoint,
		OTLPHeaders:    telemetry.ParseOTLPHeaders(cfg.OtelOTLPHeadersRaw),
	})
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	reporter, err := errorreporting.New(ctx, errorreporting.Config{
		Provider:    cfg.ErrorReportingProvider,
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		Release:     cfg.Version,
		Component:   appName,
	})
	if err != nil {
		slog.Error("failed to initialize error reporting", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = reporter.Shutdown(context.Background())
	}()

	recorder := metrics.New()
	serverOpts := []api.ServerOption{
		api.WithMetrics(recorder),
		api.WithReporter(reporter),
	}

	var stateStore mixpanel.StateStore = mixpanel.NewMemoryStore()
	if cfg.RedisURL != "" {
		redisClient, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = redisClient.Close()
		}()

		stateStore = mixpanel.NewRedisStore(redisClient, mixpanel.RedisStoreConfig{TTL: cfg.RedisStateTTL})
		serverOpts = append(serverOpts, api.WithReadinessCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		auditRecorder := audit.NewDBRecorder(pool)
		if err := auditRecorder.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare audit schema", "error", err)
			os.Exit(1)
		}
		serverOpts = append(serverOpts,
			api.WithAudit(auditRecorder),
			api.WithReadinessCheck("postgres", pool.Ping),
		)
	}

	if cfg.AdminToken != "" {
		serverOpts = append(serverOpts, api.WithAdminAuth(auth.NewStaticToken(cfg.AdminToken)))
	} else {
		slog.Warn("ADMIN_TOKEN is not set; setup, flush and audit routes are disabled")
	}

	newSession := func(sessionID string) analytics.Provider {
		providers := make([]analytics.Provider, 0, len(cfg.AnalyticsProviders))
		for _, name := range cfg.AnalyticsProviders {
			switch name {
			case "mixpanel":
				clientOpts := []mixpanel.Option{
					mixpanel.WithStore(stateStore),
					mixpanel.WithReporter(reporter),
					mixpanel.WithSession(sessionID),
				}
				if cfg.MixpanelAPIURL != "" {
					clientOpts = append(clientOpts, mixpanel.WithAPIURL(cfg.MixpanelAPIURL))
				}
				providers = append(providers, analytics.NewMixpanel(cfg.MixpanelToken,
					analytics.WithMixpanelClientOptions(clientOpts...),
					analytics.WithMixpanelDropRecorder(recorder),
				))
			case "posthog":
				providers = append(providers, analytics.NewPostHog(cfg.PostHogProjectKey, cfg.PostHogHost,
					analytics.WithPostHogAnonymousID(sessionID),
				))
			case "console":
				providers = append(providers, analytics.NewConsole(slog.Default().With("session", sessionID)))
			case "none":
				providers = append(providers, analytics.NewNoop())
			}
		}
		return analytics.NewTraced(analytics.NewMulti(providers...))
	}

	sessions, err := analytics.NewSessions(strings.Join(cfg.AnalyticsProviders, ","), cfg.SessionCapacity, newSession)
	if err != nil {
		slog.Error("failed to create analytics sessions", "error", err)
		os.Exit(1)
	}
	sessions.Setup(ctx, analytics.Properties{
		analytics.MixpanelAPIToken: cfg.MixpanelToken,
		analytics.PostHogAPIKey:    cfg.PostHogProjectKey,
	})

	apiServer := api.NewServer(appName, cfg.Env, cfg.Version, sessions, serverOpts...)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           otelhttp.NewHandler(apiServer.Handler(), "http"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("relay started", "addr", httpServer.Addr, "env", cfg.Env, "providers", sessions.Name())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server terminated unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	waitForShutdown(httpServer, sessions, cfg.ShutdownTimeout)
}

// waitForShutdown stops accepting requests, then flushes every session so
// archived state survives the restart.
func waitForShutdown(server *http.Server, sessions *analytics.Sessions, timeout time.Duration) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}

	sessions.Flush(ctx)
	slog.Info("server stopped")
}
