package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AntonStoeckl/live-query-loader-go/internal/appconfig"
	"github.com/AntonStoeckl/live-query-loader-go/loader/contentclient"
	"github.com/AntonStoeckl/live-query-loader-go/loader/corestore"
	"github.com/AntonStoeckl/live-query-loader-go/loader/oteladapters"
	"github.com/AntonStoeckl/live-query-loader-go/loader/pgcache"
	"github.com/AntonStoeckl/live-query-loader-go/loader/querystore"
)

// app wires configuration, telemetry, content client, stores and the optional PostgreSQL cache.
type app struct {
	config  appconfig.Config
	logger  *oteladapters.SlogBridgeLogger
	client  *contentclient.Client
	store   *corestore.Store
	queries *querystore.QueryStore
	closers []func(context.Context) error
}

func newApp(ctx context.Context, opts *rootOptions, stderr io.Writer, queryOptions ...querystore.Option) (*app, error) {
	cfg, err := appconfig.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	contentConfig, err := cfg.ContentConfig()
	if err != nil {
		return nil, err
	}

	a := &app{config: cfg}

	logger, err := newLogger(cfg.Log, stderr)
	if err != nil {
		return nil, err
	}
	a.logger = logger

	tel, err := setupTelemetry(opts.trace, stderr)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, tel.shutdown)

	a.client, err = contentclient.New(contentConfig, contentclient.WithLogger(logger))
	if err != nil {
		return nil, a.closeWith(ctx, err)
	}

	storeOptions := []corestore.Option{
		corestore.WithContextualLogger(logger),
		corestore.WithMutationSource(a.client),
		corestore.WithPerspective(cfg.Perspective),
		corestore.WithSourceMaps(cfg.ResultSourceMap),
		corestore.WithCacheTTL(cfg.Cache.TTL),
	}
	queryOptions = append([]querystore.Option{querystore.WithContextualLogger(logger)}, queryOptions...)

	if tel.tracing != nil {
		storeOptions = append(storeOptions, corestore.WithTracing(tel.tracing), corestore.WithMetrics(tel.metrics))
		queryOptions = append(queryOptions, querystore.WithTracing(tel.tracing), querystore.WithMetrics(tel.metrics))
	}

	if cfg.Cache.PostgresDSN != "" {
		backend, backendErr := a.openPostgresCache(ctx, cfg.Cache, tel)
		if backendErr != nil {
			return nil, a.closeWith(ctx, backendErr)
		}

		storeOptions = append(storeOptions, corestore.WithCacheBackend(backend))
	}

	a.store, err = corestore.New(a.client, storeOptions...)
	if err != nil {
		return nil, a.closeWith(ctx, err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		a.store.Close()
		return nil
	})

	a.queries, err = querystore.New(a.store, queryOptions...)
	if err != nil {
		return nil, a.closeWith(ctx, err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		a.queries.Close()
		return nil
	})

	return a, nil
}

func (a *app) openPostgresCache(ctx context.Context, cfg appconfig.CacheConfig, tel telemetry) (*pgcache.Cache, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error {
		pool.Close()
		return nil
	})

	options := []pgcache.Option{
		pgcache.WithTableName(cfg.Table),
		pgcache.WithContextualLogger(a.logger),
	}
	if tel.tracing != nil {
		options = append(options, pgcache.WithTracing(tel.tracing), pgcache.WithMetrics(tel.metrics))
	}

	cache, err := pgcache.NewCacheFromPGXPool(pool, options...)
	if err != nil {
		return nil, err
	}

	if err := cache.Migrate(ctx); err != nil {
		return nil, err
	}

	if cfg.TTL > 0 {
		if _, err := cache.DeleteExpired(ctx, cfg.TTL); err != nil {
			return nil, err
		}
	}

	return cache, nil
}

// Close releases everything in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil

	return errors.Join(errs...)
}

func (a *app) closeWith(ctx context.Context, err error) error {
	return errors.Join(err, a.Close(ctx))
}

func newLogger(cfg appconfig.LogConfig, w io.Writer) (*oteladapters.SlogBridgeLogger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(w, handlerOptions)
	if cfg.Format == appconfig.LogFormatJSON {
		handler = slog.NewJSONHandler(w, handlerOptions)
	}

	return oteladapters.NewSlogBridgeLoggerWithHandler(handler), nil
}
