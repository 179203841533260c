package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-relay/internal/orchestrator"
	"hls-relay/internal/platform/config"
	"hls-relay/internal/platform/logger"
	"hls-relay/internal/platform/metrics"
	"hls-relay/internal/relay"
	"hls-relay/internal/upstream"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), loadConfig(cmd))
		},
	}
}

func relayConfig(cfg config.Config) relay.Config {
	return relay.Config{
		Addr:                 cfg.RelayAddr,
		QueueSize:            cfg.RelayQueueSize,
		ProducerReadyTimeout: cfg.RelayProducerWait,
		ConsumerReadyTimeout: cfg.RelayConsumerWait,
		FirstSegmentTimeout:  cfg.RelayFirstSegmentWait,
		WriteTimeout:         cfg.RelayWriteTimeout,
		RequestTimeout:       cfg.RelayRequestTimeout,
		DefaultPollInterval:  cfg.RelayDefaultPoll,
		IdlePollInterval:     cfg.RelayIdlePoll,
	}
}

func newUpstreamClient(cfg config.Config, log *slog.Logger) *upstream.Client {
	return upstream.NewClient(upstream.Options{
		Timeout:   cfg.UpstreamTimeout,
		Headers:   upstream.Headers(cfg.UpstreamClient, cfg.UpstreamDeviceName, cfg.UpstreamToken),
		RateLimit: cfg.UpstreamRateLimit,
	}, log)
}

func serve(ctx context.Context, cfg config.Config) error {
	log, closer := logger.NewWithFile(cfg.LogLevel, cfg.LogFormat, logger.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	defer closer.Close()

	met := metrics.New()
	client := newUpstreamClient(cfg, log)
	defer client.CloseIdleConnections()

	tuner := upstream.NewTuner(client, upstream.TunerConfig{}, log)
	rcfg := relayConfig(cfg)
	newRelay := func(manifestURL string) (orchestrator.Relay, error) {
		return relay.New(rcfg, manifestURL, client, log, met)
	}

	repo := orchestrator.NewInMemoryRepository()
	svc := orchestrator.NewService(repo, tuner, newRelay, orchestrator.Config{
		Host:    cfg.UpstreamHost,
		Port:    cfg.UpstreamPort,
		Client:  cfg.UpstreamClient,
		Kbps:    cfg.Kbps,
		MinKbps: cfg.KbpsMin,
		MaxKbps: cfg.KbpsMax,
	}, log.With(slog.String("component", "orchestrator")), met)
	h := orchestrator.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met, "/metrics"))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveRelays(repo.ActiveSessionCount()) }).ServeHTTP(w, r)
	})
	var tuneLimits []func(http.Handler) http.Handler
	if cfg.TuneRateLimit > 0 {
		tuneLimits = append(tuneLimits, httprate.LimitByIP(cfg.TuneRateLimit, time.Minute))
	}
	h.Routes(r, tuneLimits...)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	log.Info("server starting",
		slog.String("port", cfg.Port),
		slog.String("relay_addr", cfg.RelayAddr),
		slog.String("upstream", cfg.UpstreamHost),
		slog.Int("upstream_port", cfg.UpstreamPort),
		slog.String("log_level", cfg.LogLevel),
	)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.String("error", err.Error()))
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", slog.String("error", err.Error()))
			return err
		}
		if err := svc.Shutdown(shutdownCtx); err != nil {
			log.Error("relay shutdown error", slog.String("error", err.Error()))
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
