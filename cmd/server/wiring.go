package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"emrvault/internal/emr/handler"
	"emrvault/internal/emr/service"
	"emrvault/internal/idgen"
	"emrvault/internal/platform/config"
	"emrvault/internal/platform/kafka"
	"emrvault/internal/platform/metrics"
	"emrvault/internal/platform/postgres"
	"emrvault/internal/platform/redis"
	"emrvault/internal/state"
	"emrvault/internal/storage/memory"
	audit "emrvault/pkg/platform/audit"
	"emrvault/pkg/platform/audit/publishers/buffered"
	"emrvault/pkg/platform/audit/publishers/stream"
	auditmemory "emrvault/pkg/platform/audit/store/memory"
	"emrvault/pkg/platform/audit/worker"
	"emrvault/pkg/platform/httputil"
	"emrvault/pkg/platform/middleware/metadata"
	"emrvault/pkg/platform/middleware/requesttime"
)

type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

type app struct {
	router      http.Handler
	state       *state.State
	metrics     *metrics.Metrics
	reseeder    *idgen.Reseeder
	auditWorker *worker.Worker
	health      []healthCheck
	closers     []func() error
	log         *slog.Logger
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
}

func build(ctx context.Context, cfg config.Server, log *slog.Logger) (*app, error) {
	a := &app{log: log}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	mem, err := a.openMemory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.state, err = state.Open(mem, state.WithBucketPages(cfg.Storage.BucketPages))
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(reg)

	gen, err := idgen.Bootstrap(ctx, idgen.NewChaChaSource(idgen.SystemEntropy{}))
	if err != nil {
		return nil, fmt.Errorf("seed identifier generator: %w", err)
	}
	a.reseeder = idgen.NewReseeder(gen, cfg.ReseedInterval,
		idgen.WithLogger(log),
		idgen.WithResultHook(a.metrics.ReseedResult),
	)

	sink, err := a.auditSink(ctx, cfg.Kafka)
	if err != nil {
		return nil, err
	}
	pub := buffered.New(cfg.Kafka.BufferSize,
		buffered.WithLogger(log),
		buffered.WithDropHook(a.metrics.ActivityDropped.Inc),
	)
	a.auditWorker = worker.NewWorker(pub, sink,
		worker.WithLogger(log),
		worker.WithBatchSize(cfg.Kafka.BatchSize),
		worker.WithHooks(
			func(n int) { a.metrics.ActivityMirrored.Add(float64(n)) },
			func(n int) { a.metrics.ActivityDropped.Add(float64(n)) },
		),
	)

	svc := service.New(a.state, gen,
		service.WithLogger(log),
		service.WithMetrics(a.metrics),
		service.WithAuditEmitter(pub),
	)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Route("/v1", handler.New(svc, log).Register)
	a.router = r

	ok = true
	return a, nil
}

func (a *app) openMemory(ctx context.Context, cfg config.Server) (memory.Memory, error) {
	sc := cfg.Storage
	switch sc.Backend {
	case config.BackendMemory:
		return memory.NewVecMemory(), nil
	case config.BackendFile:
		fm, err := memory.OpenFile(sc.Path, memory.WithSyncWrites(sc.SyncWrites))
		if err != nil {
			return nil, fmt.Errorf("open image file: %w", err)
		}
		a.closers = append(a.closers, fm.Close)
		return fm, nil
	case config.BackendPostgres:
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.health = append(a.health, healthCheck{"postgres", db.Health})
		store := memory.NewPostgresPageStore(db.DB, sc.Image)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate page store: %w", err)
		}
		return openPages(ctx, store, sc.WriteTimeout)
	case config.BackendRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		a.health = append(a.health, healthCheck{"redis", client.Health})
		return openPages(ctx, memory.NewRedisPageStore(client.Client, sc.Image), sc.WriteTimeout)
	default:
		return nil, fmt.Errorf("unknown backend %q", sc.Backend)
	}
}

func openPages(ctx context.Context, store memory.PageStore, timeout time.Duration) (memory.Memory, error) {
	pm, err := memory.OpenPageMemory(ctx, store, timeout)
	if err != nil {
		return nil, fmt.Errorf("load page image: %w", err)
	}
	return pm, nil
}

// auditSink mirrors to Kafka when brokers are configured and keeps events
// in process otherwise.
func (a *app) auditSink(ctx context.Context, cfg config.KafkaConfig) (audit.Sink, error) {
	client, err := kafka.New(cfg)
	if err != nil {
		return nil, err
	}
	if client == nil {
		a.log.Info("no kafka brokers configured, activity mirror kept in memory")
		return auditmemory.NewInMemoryStore(), nil
	}
	a.closers = append(a.closers, func() error { client.Close(); return nil })
	a.health = append(a.health, healthCheck{"kafka", client.Health})
	if err := client.EnsureTopic(ctx, 1, 1); err != nil {
		return nil, err
	}
	return stream.NewSink(client, cfg.Topic), nil
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]string{"storage": "ok"}
	var errs []error
	for _, h := range a.health {
		if err := h.check(ctx); err != nil {
			status[h.name] = err.Error()
			errs = append(errs, err)
			continue
		}
		status[h.name] = "ok"
	}
	if len(errs) > 0 {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// reportUsage samples region usage into the gauges until ctx is done.
func (a *app) reportUsage(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		a.sampleUsage()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *app) sampleUsage() {
	buckets := 0
	for _, u := range a.state.Usage() {
		a.metrics.SetRegionPages(u.Name, u.Pages)
		buckets += u.Buckets
	}
	a.metrics.AllocatedBuckets.Set(float64(buckets))
	_ = a.state.With(func(st *state.Stores) error {
		a.metrics.RegistryEntries.Set(float64(st.Registry.Len()))
		return nil
	})
}

