// Package app wires the estatedesk server runtime: config, logging, metrics,
// the session store and the HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"estatedesk/cmd/internal/auth/api"
	"estatedesk/cmd/internal/auth/authn"
	"estatedesk/cmd/internal/auth/session"
	"estatedesk/cmd/internal/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// App is the estatedesk server runtime: it owns the DB pool, the selected
// session store and the HTTP servers.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	store  session.Store

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	sessions *api.Handler
}

// New constructs a fully wired App instance from config and logger.
// ctx bounds the startup work (DB connect and schema probe).
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	authCfg, err := authn.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("auth config: %w", err)
	}
	authenticator, err := authn.New(authCfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	store, dbPool, err := newStore(ctx, cfg, log, m)
	if err != nil {
		return nil, err
	}
	m.SetDegraded(store.Mode() == session.ModePointer)

	registrar := session.NewRegistrar(store, session.WithLogger(log), session.WithMetrics(m))
	validator := session.NewValidator(store, session.WithLogger(log), session.WithMetrics(m))

	var apiOpts []api.HandlerOption
	if dbPool != nil {
		apiOpts = append(apiOpts, api.WithAudit(dbPool, cfg.DBSchema))
	}
	sessions, err := api.NewHandler(log, authenticator, registrar, validator, api.LoadConfigFromEnv(), apiOpts...)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	return &App{
		cfg:      cfg,
		log:      log,
		dbPool:   dbPool,
		store:    store,
		registry: registry,
		metrics:  m,
		sessions: sessions,
	}, nil
}

// Handler returns the API handler with the full middleware chain.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.store, a.sessions, a.registry)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log, a.metrics)
}

// Run starts the HTTP servers and blocks until context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	servers := []*http.Server{a.newServer(a.cfg.HTTPAddr, a.Handler())}
	if a.cfg.MetricsAddr != "" {
		servers = append(servers, a.newServer(a.cfg.MetricsAddr, metricsMux(a.registry)))
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", runtimeBaseURL(a.cfg.HTTPAddr),
		"metrics_addr", a.cfg.MetricsAddr,
		"db_enabled", a.dbPool != nil,
		"mode", string(a.store.Mode()),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("server.fail", "addr", srv.Addr, "err", err)
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.Error("server.shutdown.fail", "addr", srv.Addr, "err", err)
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	err := g.Wait()

	if a.dbPool != nil {
		a.dbPool.Close()
	}

	if err != nil {
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

func (a *App) newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// newStore decides between the Postgres-backed session store and the in-memory dev store.
//
// Ownership model:
// - app owns pool lifecycle
// - stores never close the pool
func newStore(ctx context.Context, cfg Config, log Logger, m *metrics.Metrics) (session.Store, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return session.NewMemoryStore(), nil, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	store, caps, err := session.Probe(ctx, pool, log,
		session.WithSchema(cfg.DBSchema),
		session.OnDowngrade(func() { m.SetDegraded(true) }),
	)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	log.Info("db.enabled.postgres_store",
		"schema", cfg.DBSchema,
		"sessions_table", caps.SessionsTable,
		"pointer_column", caps.PointerColumn,
		"mode", string(caps.SelectedMode),
	)
	return store, pool, nil
}
