package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/dnscache"

	gateway "github.com/farebox-io/farebox/internal"
	"github.com/farebox-io/farebox/internal/accesslog"
	"github.com/farebox-io/farebox/internal/auth"
	"github.com/farebox-io/farebox/internal/cloudauth"
	"github.com/farebox-io/farebox/internal/config"
	"github.com/farebox-io/farebox/internal/pricing"
	"github.com/farebox-io/farebox/internal/provider"
	"github.com/farebox-io/farebox/internal/provider/claude"
	"github.com/farebox-io/farebox/internal/provider/google"
	"github.com/farebox-io/farebox/internal/provider/litellm"
	"github.com/farebox-io/farebox/internal/provider/openai"
	"github.com/farebox-io/farebox/internal/provider/openrouter"
	"github.com/farebox-io/farebox/internal/proxy"
	"github.com/farebox-io/farebox/internal/ratelimit"
	"github.com/farebox-io/farebox/internal/server"
	"github.com/farebox-io/farebox/internal/storage/sqlite"
	"github.com/farebox-io/farebox/internal/telemetry"
	"github.com/farebox-io/farebox/internal/tokencount"
	"github.com/farebox-io/farebox/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("starting farebox", "version", version, "addr", cfg.Server.Addr)

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	pricingReg, err := pricing.NewRegistry(pricing.Options{
		Multiplier: cfg.Pricing.Multiplier,
		Version:    cfg.Pricing.Version,
		Overrides:  []byte(cfg.Pricing.Overrides),
	})
	if err != nil {
		return err
	}

	ctx := context.Background()

	resolver := &dnscache.Resolver{}
	transport := provider.NewTransport(resolver)
	// Streams ride on the request context, not a client timeout.
	client := provider.NewClient(transport, 0)

	registry := provider.NewRegistry(cfg.DefaultProvider)
	for _, pe := range cfg.Providers {
		if !pe.IsEnabled() {
			continue
		}
		var (
			d      provider.Driver
			pc     = gateway.ProviderConfig{Name: pe.Name, BaseURL: pe.BaseURL, RequiresAPIKey: true, APIKey: pe.APIKey}
			regErr error
		)
		switch pe.Name {
		case "openai":
			d = openai.New(pe.APIKey, pe.BaseURL, client, pricingReg)
		case "openrouter":
			d = openrouter.New(pe.APIKey, pe.BaseURL, client, pricingReg)
			pc.SupportsNativeUSDCost = true
		case "litellm":
			d = litellm.New(pe.APIKey, pe.BaseURL, client, pricingReg)
			pc.SupportsNativeUSDCost = true
		case "claude":
			d = claude.New(pe.APIKey, pe.BaseURL, client, pricingReg)
		case "google":
			googleClient := client
			if pe.Hosting == "vertex" {
				// Vertex-hosted Gemini authenticates with ADC OAuth
				// instead of an API key.
				oauthRT, oerr := cloudauth.NewGCPOAuthTransport(ctx, transport)
				if oerr != nil {
					return oerr
				}
				googleClient = provider.NewClient(oauthRT, 0)
				pc.RequiresAPIKey = false
				pe.APIKey = ""
			}
			d = google.New(pe.APIKey, pe.BaseURL, googleClient, pricingReg)
		default:
			slog.Warn("unknown provider, skipping", "name", pe.Name)
			continue
		}
		pc.APIKey = pe.APIKey
		if regErr = registry.Register(pc, d); regErr != nil {
			return regErr
		}
		slog.Info("provider registered", "name", pe.Name)
	}
	if err := registry.CheckDefault(); err != nil {
		return err
	}

	didAuth, err := auth.New(auth.NewEnvelopeVerifier())
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	var metrics *telemetry.Metrics
	var gatherer prometheus.Gatherer
	if cfg.Telemetry.Metrics.Enabled {
		metrics = telemetry.NewMetrics(promReg)
		gatherer = promReg
	}

	if cfg.Telemetry.Tracing.Enabled {
		shutdown, terr := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if terr != nil {
			return terr
		}
		defer shutdown(context.Background()) //nolint:errcheck
	}

	recorder := worker.NewLedgerRecorder(store, metrics)
	limiters := ratelimit.NewRegistry()
	runner := worker.NewRunner(recorder, worker.NewLimiterJanitor(limiters))

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	workerDone := make(chan error, 1)
	go func() { workerDone <- runner.Run(workerCtx) }()

	pipeline := proxy.New(proxy.Config{
		Registry: registry,
		Pricing:  pricingReg,
		Metrics:  metrics,
		Ledger:   recorder,
		Logger:   logger,
	})

	handler := server.New(server.Deps{
		Auth:              didAuth,
		Pipeline:          pipeline,
		Providers:         registry,
		Pricing:           pricingReg,
		AccessLog:         accesslog.NewEmitter(logger),
		Metrics:           metrics,
		PromGath:          gatherer,
		RateLimiter:       limiters,
		TokenCounter:      tokencount.NewCounter(),
		Limits:            ratelimit.Limits{RPM: cfg.RateLimits.DefaultRPM, TPM: cfg.RateLimits.DefaultTPM},
		Ledger:            store,
		ReadyCheck:        store.Ping,
		AdminKey:          cfg.Auth.AdminKey,
		PaymentKitEnabled: true,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("farebox ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Stop workers after the server drains so in-flight requests still
	// enqueue their ledger records; the recorder flushes on cancel.
	stopWorkers()
	<-workerDone

	slog.Info("farebox stopped")
	return nil
}
