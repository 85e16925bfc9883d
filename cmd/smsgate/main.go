package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"smsgate/internal/config"
	"smsgate/internal/http-server/handlers/heartbeat"
	"smsgate/internal/http-server/handlers/msg/send"
	"smsgate/internal/http-server/handlers/msg/stat"
	mvLog "smsgate/internal/http-server/middleware/logger"
	"smsgate/internal/lib/logger/sl"
	"smsgate/internal/lib/metrics"
	"smsgate/internal/lib/periodic"
	"smsgate/internal/services/admission"
	"smsgate/internal/services/dispatcher"
	"smsgate/internal/services/kafka"
	"smsgate/internal/services/msgstat"
	"smsgate/internal/services/sweeper"
	"smsgate/internal/services/webhook"
	"smsgate/internal/storage/memory"
	"smsgate/internal/storage/postgres"
)

const (
	envLocal = "local"
	envDev   = "dev"
)

func main() {
	cfg := config.MustLoad()
	log := setupLogger(cfg.Env, os.Stdout)
	log.Info("starting smsgate",
		slog.String("env", cfg.Env),
		slog.String("sink", cfg.Sink.Kind),
		slog.Int("phone_limit", cfg.Limits.Phone),
		slog.Int("account_limit", cfg.Limits.Account),
	)

	metrics.Register(prometheus.DefaultRegisterer)

	sink, closeSink, err := newSink(cfg, log)
	if err != nil {
		log.Error("failed to create delivery sink", sl.Err(err))
		os.Exit(1)
	}
	defer func() {
		if err := closeSink(); err != nil {
			log.Error("failed to close delivery sink", sl.Err(err))
		}
	}()

	clock := clockwork.NewRealClock()
	store := memory.New()

	admissionSvc := admission.New(log, store, memory.Limits{
		Phone:   cfg.Limits.Phone,
		Account: cfg.Limits.Account,
	})
	msgStatService := msgstat.New(log, store)
	disp := dispatcher.New(log, store, sink, clock, cfg.Dispatcher.SinkTimeout)
	sweep := sweeper.New(log, store, clock, cfg.Sweeper.Interval)
	runner := periodic.New(log, clock)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      newRouter(log, admissionSvc, msgStatService),
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runner.Run(gctx, periodic.Task{
			Name:     "dispatch",
			Interval: cfg.Dispatcher.Interval,
			Run:      disp.Tick,
		})
	})

	g.Go(func() error {
		return runner.Run(gctx, periodic.Task{
			Name:     "sweep",
			Interval: sweep.Interval(),
			Run:      sweep.Sweep,
		})
	})

	if cfg.Kafka.IngressEnabled {
		receiver, err := kafka.NewKafkaReceiver(log, cfg.Kafka.Brokers, cfg.Kafka.IngressTopic, cfg.Kafka.GroupID)
		if err != nil {
			log.Error("failed to create Kafka receiver", sl.Err(err))
			os.Exit(1)
		}

		g.Go(func() error {
			defer receiver.Close()
			return receiver.ProcessMessages(gctx, admissionSvc)
		})
	}

	g.Go(func() error {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("stopping server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownWait)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("smsgate stopped with error", sl.Err(err))
		return
	}

	log.Info("smsgate stopped")
}

func newRouter(log *slog.Logger, submitter send.MessageSubmitter, stats *msgstat.StatisticsService) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(mvLog.New(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/msg", send.New(log, submitter))
		r.Get("/heartbeat", heartbeat.New(stats))
		r.Get("/stats", stat.New(log, stats))
	})

	router.Handle("/metrics", promhttp.Handler())

	return router
}

// newSink picks the delivery transport. The returned func releases it.
func newSink(cfg *config.Config, log *slog.Logger) (dispatcher.Sink, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Sink.Kind {
	case config.SinkKafka:
		sender, err := kafka.NewKafkaSender(cfg.Kafka.Brokers, cfg.Kafka.DeliveryTopic, log)
		if err != nil {
			return nil, nil, err
		}
		return sender, sender.Close, nil
	case config.SinkWebhook:
		client := &http.Client{Timeout: cfg.Dispatcher.SinkTimeout}
		return webhook.New(log, client, cfg.Webhook.URL, cfg.Webhook.RPS, cfg.Webhook.Burst), noop, nil
	case config.SinkPostgres:
		storage, err := postgres.NewStorage(
			cfg.Postgres.User,
			cfg.Postgres.Password,
			cfg.Postgres.Database,
			cfg.Postgres.Host,
			cfg.Postgres.Port,
		)
		if err != nil {
			return nil, nil, err
		}
		return storage, storage.Close, nil
	default:
		log.Warn("no delivery transport configured, every message is reported as delivered")
		return dispatcher.NopSink{}, noop, nil
	}
}

// setupLogger picks the handler for env. Local runs get human-readable text,
// dev adds source locations, and anything else is treated as prod.
func setupLogger(env string, w io.Writer) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug, AddSource: true}))
	default:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}
