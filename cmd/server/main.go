package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"dogfight/internal/person/events"
	"dogfight/internal/person/handler"
	personmetrics "dogfight/internal/person/metrics"
	"dogfight/internal/person/service"
	"dogfight/internal/person/store"
	"dogfight/internal/platform/config"
	"dogfight/internal/platform/httpserver"
	"dogfight/internal/platform/logger"
	platformmetrics "dogfight/internal/platform/metrics"
	"dogfight/internal/platform/middleware"
	"dogfight/internal/platform/postgres"
	"dogfight/internal/platform/redis"
	"dogfight/pkg/platform/circuit"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type infra struct {
	store  service.Store
	checks []httpserver.Check
	db     *sql.DB
	redis  *redis.Client
}

func (i *infra) close() {
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := personmetrics.New(prometheus.DefaultRegisterer)

	deps, err := buildStore(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer deps.close()

	svcOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithSearchLimit(cfg.SearchLimit),
	}

	g, gctx := errgroup.WithContext(ctx)
	// The worker outlives the server so events from in-flight requests are drained.
	workerCtx, stopWorker := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorker()

	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafkaClient(cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		defer kafka.Close()
		if err := events.EnsureTopic(ctx, kafka, cfg.Kafka.Topic, 3, 1); err != nil {
			log.Warn("could not ensure event topic", "topic", cfg.Kafka.Topic, "error", err)
		}
		publisher := events.NewKafkaPublisher(kafka, cfg.Kafka.Topic)
		emitter := events.NewEmitter(cfg.Kafka.BufferSize,
			events.WithEmitterLogger(log),
			events.WithEmitterMetrics(m),
		)
		worker := events.NewWorker(publisher, emitter.Events(),
			events.WithWorkerLogger(log),
			events.WithWorkerMetrics(m),
			events.WithBreaker(circuit.New("kafka-publisher")),
		)
		svcOpts = append(svcOpts, service.WithPublisher(emitter))
		deps.checks = append(deps.checks, httpserver.Check{Name: "kafka", Probe: kafkaProbe(kafka)})
		g.Go(func() error { return worker.Run(workerCtx) })
		log.Info("person events enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	svc, err := service.New(deps.store, svcOpts...)
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestTime)
	router.Use(middleware.ClientMetadata)
	router.Use(middleware.Logger(log))
	router.Use(middleware.Latency(platformmetrics.New(prometheus.DefaultRegisterer)))
	handler.New(svc, log).Register(router)
	router.Get("/health", httpserver.Health(deps.checks...))
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	g.Go(func() error {
		log.Info("starting pessoas", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return shutdown(gctx, srv, cfg.ShutdownTimeout, stopWorker)
	})

	return g.Wait()
}

// shutdown drains srv within timeout and only then calls after, which stops
// the background consumers fed by request handlers.
func shutdown(ctx context.Context, srv interface{ Shutdown(context.Context) error }, timeout time.Duration, after func()) error {
	defer after()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// buildStore selects the person store: PostgreSQL when DATABASE_URL is set,
// in-memory otherwise, optionally fronted by Redis.
func buildStore(ctx context.Context, cfg config.Server, log *slog.Logger, m *personmetrics.Metrics) (*infra, error) {
	deps := &infra{}
	var base store.Store

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		deps.db = db
		pg := store.NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			deps.close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		base = pg
		deps.checks = append(deps.checks, httpserver.Check{Name: "postgres", Probe: db.PingContext})
		log.Info("using postgres person store")
	} else {
		base = store.NewInMemory()
		log.Info("using in-memory person store")
	}

	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		deps.close()
		return nil, err
	}
	if client == nil {
		deps.store = base
		return deps, nil
	}
	deps.redis = client
	deps.store = store.NewRedis(client.Client, base,
		store.WithCacheTTL(cfg.Redis.CacheTTL),
		store.WithRedisLogger(log),
		store.WithRedisMetrics(m),
	)
	deps.checks = append(deps.checks, httpserver.Check{Name: "redis", Probe: client.Health})
	log.Info("redis nickname reservation and cache enabled")
	return deps, nil
}

func kafkaProbe(client *kgo.Client) func(ctx context.Context) error {
	return client.Ping
}
