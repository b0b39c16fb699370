package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"turismo/internal/adapters/analytics"
	httpadapter "turismo/internal/adapters/http"
	pg "turismo/internal/adapters/postgres"
	rediscache "turismo/internal/adapters/redis"
	"turismo/internal/config"
	"turismo/internal/logger"
	"turismo/internal/observability"
	"turismo/internal/ports"
	"turismo/internal/services/drilldown"
	"turismo/internal/taxonomy"
	"turismo/internal/workers/warmer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "turismo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.Env == "development"})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tax, closeTaxonomy, err := loadTaxonomy(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeTaxonomy()
	for _, st := range []struct {
		name  string
		table *taxonomy.Table
	}{{"towns", tax.Towns}, {"categories", tax.Categories}} {
		for alias, ids := range st.table.Overlaps() {
			log.Warn("ambiguous taxonomy alias; first entry wins",
				logger.String("table", st.name), logger.String("alias", alias), logger.Strings("ids", ids))
		}
	}
	log.Info("taxonomy loaded",
		logger.String("source", cfg.TaxonomySource),
		logger.Int("towns", tax.Towns.Len()),
		logger.Int("categories", tax.Categories.Len()))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	backend := analytics.New(analytics.Config{
		BaseURL: cfg.AnalyticsBaseURL,
		Token:   cfg.AnalyticsToken,
		Timeout: cfg.AnalyticsTimeout,
		Retries: uint64(cfg.AnalyticsRetries),
	}, log.With(logger.String("component", "analytics")))

	opts := []drilldown.Option{
		drilldown.WithLogger(log.With(logger.String("component", "drilldown"))),
		drilldown.WithMetrics(metrics),
		drilldown.WithStrategy(cfg.SumStrategy),
		drilldown.WithDebug(cfg.Debug),
	}
	if cfg.CacheEnabled() {
		cache, err := rediscache.Connect(ctx, rediscache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   "turismo",
		})
		if err != nil {
			return err
		}
		defer cache.Close()
		opts = append(opts, drilldown.WithCache(cache, cfg.CacheTTL))
		log.Info("redis cache enabled", logger.String("addr", cfg.RedisAddr), logger.Duration("ttl", cfg.CacheTTL))
	}
	svc := drilldown.New(backend, tax, opts...)

	var _ ports.Drilldowns = svc
	var _ ports.Taxonomy = svc

	warm := warmer.New(svc, svc, warmer.Config{Workers: cfg.WarmWorkers, Interval: cfg.WarmInterval},
		log.With(logger.String("component", "warmer")))
	if cfg.WarmOnStart {
		started := time.Now()
		failed := warm.RunOnce(ctx)
		log.Info("startup warm finished",
			logger.Int("jobs", len(warm.Jobs())),
			logger.Int("failed", failed),
			logger.Duration("took", time.Since(started)))
	}
	if cfg.WarmWorkers > 0 {
		warm.Run(ctx)
		log.Info("cache warmer started", logger.Int("workers", cfg.WarmWorkers), logger.Duration("interval", cfg.WarmInterval))
	}

	srv := httpadapter.New(svc, svc, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), log.With(logger.String("component", "http")))
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()
	log.Info("listening", logger.String("addr", cfg.ListenAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", logger.String("signal", sig.String()))
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
}

// loadTaxonomy reads the tables from the configured source. The returned
// func releases any connection the source opened.
func loadTaxonomy(ctx context.Context, cfg config.Config, log logger.Logger) (taxonomy.Set, func(), error) {
	noop := func() {}
	var repo ports.TaxonomyRepository
	release := noop

	switch cfg.TaxonomySource {
	case config.TaxonomyFromPostgres:
		db, err := pg.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return taxonomy.Set{}, noop, fmt.Errorf("db connect: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return taxonomy.Set{}, noop, err
		}
		log.Info("database migrated")
		if cfg.SeedFile != "" {
			seed, err := taxonomy.FileSource{Path: cfg.SeedFile}.Load(ctx)
			if err == nil {
				err = db.Replace(ctx, seed)
			}
			if err != nil {
				db.Close()
				return taxonomy.Set{}, noop, fmt.Errorf("seed taxonomy: %w", err)
			}
			log.Info("taxonomy seeded", logger.String("file", cfg.SeedFile))
		}
		repo, release = db, db.Close
	default:
		repo = taxonomy.FileSource{Path: cfg.TaxonomyFile}
	}

	set, err := repo.Load(ctx)
	if err != nil {
		release()
		return taxonomy.Set{}, noop, fmt.Errorf("load taxonomy: %w", err)
	}
	return set, release, nil
}
