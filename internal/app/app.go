// Package app wires configuration, storage and HTTP routing into a runnable API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-buyback/internal/buyback"
	"github.com/noah-isme/backend-buyback/internal/catalog"
	"github.com/noah-isme/backend-buyback/internal/common"
	"github.com/noah-isme/backend-buyback/internal/config"
	"github.com/noah-isme/backend-buyback/internal/db"
	"github.com/noah-isme/backend-buyback/internal/events"
	"github.com/noah-isme/backend-buyback/internal/health"
	"github.com/noah-isme/backend-buyback/internal/lock"
	"github.com/noah-isme/backend-buyback/internal/market"
	"github.com/noah-isme/backend-buyback/internal/obs"
	"github.com/noah-isme/backend-buyback/internal/persist"
	"github.com/noah-isme/backend-buyback/internal/ratelimit"
	"github.com/noah-isme/backend-buyback/internal/resilience"
	"github.com/noah-isme/backend-buyback/internal/security"
	"github.com/noah-isme/backend-buyback/internal/session"
)

// App is a fully wired API instance.
type App struct {
	Router   http.Handler
	Registry *prometheus.Registry

	closers []func() error
}

type deps struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	breakers *resilience.Metrics
	redis    *redis.Client
	pool     *pgxpool.Pool
}

// New connects the configured backends and builds the router. Close releases
// whatever New opened, including after a partial failure.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *App, err error) {
	a := &App{Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	d := &deps{
		cfg:      cfg,
		logger:   logger,
		registry: a.Registry,
		breakers: resilience.NewMetrics(cfg.Obs.MetricsNamespace, a.Registry),
	}
	if err := a.connect(ctx, d); err != nil {
		return nil, err
	}

	kv := d.store()
	source, err := d.catalogSource()
	if err != nil {
		return nil, err
	}
	catalogSvc, err := catalog.NewService(catalog.ServiceConfig{
		Source: source,
		Cache:  catalog.NewCache(d.redis, cfg.CatalogCacheTTL),
		Logger: logger.With().Str("component", "catalog").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("initialise catalog service: %w", err)
	}

	metrics := obs.NewBuybackMetrics(cfg.Obs.MetricsNamespace, a.Registry)
	bus := &events.Bus{Notifiers: []events.Notifier{
		metrics,
		events.LogNotifier{Logger: logger.With().Str("component", "events").Logger()},
	}}
	manager, err := buyback.NewManager(buyback.ManagerConfig{
		Policies:    cfg.Policies(),
		Slot:        buyback.SlotFactory(kv, cfg.BlobMaxBytes),
		Locker:      d.locker(),
		LockTTL:     cfg.LockTTL,
		MaxQuantity: cfg.MaxQuantity,
		Bus:         bus,
		Metrics:     metrics,
		Logger:      logger.With().Str("component", "buyback").Logger(),
		NewID:       uuid.NewString,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise buyback manager: %w", err)
	}
	handler := buyback.NewHandler(buyback.HandlerConfig{Manager: manager, Catalog: catalogSvc, Logger: logger})

	write, err := d.writeMiddleware()
	if err != nil {
		return nil, err
	}
	router, err := d.router(handler, write)
	if err != nil {
		return nil, err
	}
	a.Router = router
	return a, nil
}

// Close shuts down the backend connections opened by New.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) connect(ctx context.Context, d *deps) error {
	cfg := d.cfg
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client.Close)
		if err := redisotel.InstrumentTracing(client); err != nil {
			d.logger.Error().Err(err).Msg("instrument redis tracing")
		}
		if cfg.Obs.EnablePrometheus {
			if err := redisotel.InstrumentMetrics(client); err != nil {
				d.logger.Error().Err(err).Msg("instrument redis metrics")
			}
		}
		if err := client.Ping(connectCtx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		d.redis = client
	}

	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnStart {
			if err := db.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}
		}
		pool, err := db.Connect(connectCtx, cfg.DatabaseURL, "buyback-api")
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		d.pool = pool
	}
	return nil
}

func (d *deps) breaker(target string) *resilience.Breaker {
	return resilience.NewBreaker(10, 0.5, 30*time.Second).
		WithTarget(target).
		WithLogger(d.logger).
		WithMetrics(d.breakers)
}

// store picks the list backend. Remote backends sit behind a breaker.
func (d *deps) store() persist.KV {
	switch d.cfg.Storage {
	case config.StorageRedis:
		return persist.Guarded{
			KV:      persist.Redis{Client: d.redis, TTL: d.cfg.SessionTTL},
			Breaker: d.breaker("buyback_redis"),
		}
	case config.StoragePostgres:
		return persist.Guarded{
			KV:      persist.Postgres{DB: d.pool, TTL: d.cfg.SessionTTL},
			Breaker: d.breaker("buyback_postgres"),
		}
	default:
		d.logger.Warn().Msg("buyback lists are kept in memory and will not survive a restart")
		return persist.NewMemory()
	}
}

func (d *deps) locker() buyback.Locker {
	if d.redis != nil {
		return lock.Redis{R: d.redis, Prefix: "lock:buyback:"}
	}
	return lock.NewLocal()
}

func (d *deps) catalogSource() (catalog.Source, error) {
	switch d.cfg.CatalogSource {
	case config.CatalogPostgres:
		return catalog.Postgres{DB: d.pool}, nil
	case config.CatalogHTTP:
		return catalog.HTTP{
			BaseURL: d.cfg.CatalogBaseURL,
			Client: resilience.HTTPClient{
				Client:      &http.Client{Timeout: 5 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
				Breaker:     d.breaker("catalog_http"),
				MaxAttempts: 3,
				BaseBackoff: 100 * time.Millisecond,
				Jitter:      0.2,
			},
		}, nil
	default:
		seed, err := catalog.Seed()
		if err != nil {
			return nil, fmt.Errorf("load catalog seed: %w", err)
		}
		return seed, nil
	}
}

// writeMiddleware throttles list additions per session and replays retried
// requests carrying an Idempotency-Key.
func (d *deps) writeMiddleware() (func(http.Handler) http.Handler, error) {
	var limiter ratelimit.Limiter
	if d.redis != nil {
		limiter = ratelimit.Sliding{Client: d.redis, Prefix: "rl:mut:"}
	} else {
		fixed, err := ratelimit.NewFixed(nil, "rl:mut:")
		if err != nil {
			return nil, fmt.Errorf("initialise mutation limiter: %w", err)
		}
		limiter = fixed
	}
	throttle := ratelimit.Handler{
		Limiter: limiter,
		Config: ratelimit.Config{
			Key: func(r *http.Request) string {
				id, _ := session.FromContext(r.Context())
				return "session:" + id
			},
			Window: d.cfg.RateLimitWindow,
			Max:    d.cfg.MutationLimitMax,
		},
		OnError: d.limiterError,
	}
	idem := common.Idem{
		R:   d.redis,
		TTL: d.cfg.IdempotencyTTL,
		Scope: func(r *http.Request) string {
			id, _ := session.FromContext(r.Context())
			return id
		},
	}
	return func(next http.Handler) http.Handler {
		return throttle.Middleware(idem.Middleware(next))
	}, nil
}

func (d *deps) limiterError(err error) {
	d.logger.Warn().Err(err).Msg("rate limiter unavailable")
}

func (d *deps) router(handler *buyback.Handler, write func(http.Handler) http.Handler) (http.Handler, error) {
	cfg := d.cfg

	perIP, err := ratelimit.NewFixed(d.redis, "rl:ip:")
	if err != nil {
		return nil, fmt.Errorf("initialise ip limiter: %w", err)
	}

	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.EnablePrometheus {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), d.registry)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.Obs.EnableTracing {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key", "X-Buyback-Session", "X-Market", "X-Family-Member", buyback.RevisionHeader},
		ExposedHeaders:   []string{"X-Buyback-Session", buyback.RevisionHeader, "Idempotent-Replayed", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.IsProduction(), HSTSMaxAge: 31536000}.Middleware)

	if httpMetrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{Registry: d.registry}))
	}

	probes := map[string]health.Probe{}
	if d.redis != nil {
		probes["redis"] = health.RedisProbe(d.redis)
	}
	if d.pool != nil {
		probes["database"] = health.PoolProbe(d.pool)
	}
	healthHandler := health.Handler{Probes: probes, Timeout: 500 * time.Millisecond}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	sessions := session.Resolver{
		CookieName: cfg.SessionCookie,
		TTL:        cfg.SessionTTL,
		Secure:     cfg.CookieSecure,
	}
	policies := cfg.Policies()
	markets := market.NewResolver(cfg.RootDomain, cfg.DefaultMarket, policies.Has)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(ratelimit.Handler{
			Limiter: perIP,
			Config:  ratelimit.Config{Key: ratelimit.ByClientIP("ip:"), Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax},
			OnError: d.limiterError,
		}.Middleware)
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		v.Use(sessions.Middleware)
		v.Use(markets.Middleware)
		handler.Routes(v, write)
	})
	return r, nil
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
