package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"datachange/internal/changetrack/handler"
	"datachange/internal/changetrack/metrics"
	"datachange/internal/changetrack/service"
	kafkasink "datachange/internal/changetrack/sink/kafka"
	recordstore "datachange/internal/changetrack/store"
	jwttoken "datachange/internal/jwt_token"
	"datachange/internal/platform/config"
	platformmetrics "datachange/internal/platform/metrics"
	authmw "datachange/pkg/platform/middleware/auth"
	"datachange/pkg/platform/middleware/metadata"
)

// app holds the wired service graph and the resources it must release.
type app struct {
	log      *slog.Logger
	registry *platformmetrics.Registry
	handler  *handler.Handler
	jwt      *jwttoken.JWTService
	closers  []func()
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{
		log:      log,
		registry: platformmetrics.New(),
		jwt:      jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer),
	}
	m := metrics.New(a.registry)

	store, closeStore, err := recordstore.Open(ctx, cfg, log)
	a.closers = append(a.closers, closeStore)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []service.Option{service.WithLogger(log), service.WithMetrics(m)}
	if cfg.Kafka.Enabled() {
		sink, err := a.openKafkaSink(ctx, cfg.Kafka, m)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, service.WithSinks(sink))
	}

	svc, err := service.New(store, service.Config{
		FieldBlacklist:        cfg.FieldBlacklist,
		SaveRequestParams:     cfg.SaveRequestParams,
		RequestParamBlacklist: cfg.RequestParamBlacklist,
	}, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.handler = handler.New(svc, log)
	return a, nil
}

func (a *app) openKafkaSink(ctx context.Context, cfg config.KafkaConfig, m *metrics.Metrics) (*kafkasink.Sink, error) {
	client, err := kafkasink.NewClient(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	if err := kafkasink.EnsureTopic(ctx, client, cfg.Topic, 3, 1); err != nil {
		a.log.Warn("kafka topic not provisioned", "topic", cfg.Topic, "error", err)
	}
	return kafkasink.New(client, cfg.Topic,
		kafkasink.WithLogger(a.log),
		kafkasink.WithMetrics(m),
	)
}

// Router builds the HTTP surface: the change API behind the metadata and
// actor middleware, plus health and metrics endpoints.
func (a *app) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(metadata.ClientMetadata)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", a.registry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authmw.Actor(jwttoken.NewMiddlewareValidator(a.jwt), a.log))
		a.handler.Register(r)
	})
	return r
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
