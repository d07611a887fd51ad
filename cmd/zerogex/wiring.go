package main

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/zerogex/internal/aggregate"
	"github.com/dgnsrekt/zerogex/internal/analytics"
	"github.com/dgnsrekt/zerogex/internal/api"
	"github.com/dgnsrekt/zerogex/internal/cache"
	"github.com/dgnsrekt/zerogex/internal/ingest"
	"github.com/dgnsrekt/zerogex/internal/pricing"
	"github.com/dgnsrekt/zerogex/internal/server"
	"github.com/dgnsrekt/zerogex/internal/storage"
	"github.com/dgnsrekt/zerogex/internal/ws"
)

// newAPIClient builds the upstream client from the api and auth sections.
func newAPIClient() (*api.HTTPClient, error) {
	if err := cfg.Auth.Validate(); err != nil {
		return nil, err
	}

	var tokens api.TokenSource
	if cfg.Auth.AccessToken != "" {
		tokens = api.StaticTokenSource(cfg.Auth.AccessToken)
	} else {
		tokens = api.NewRefreshTokenSource(
			cfg.Auth.TokenURL,
			cfg.Auth.ClientID,
			cfg.Auth.ClientSecret,
			cfg.Auth.RefreshToken,
			cfg.Auth.RefreshMargin,
			cfg.API.Timeout,
			logger,
		)
	}

	logger.Info("upstream client configured",
		zap.String("base_url", cfg.API.URL()),
		zap.Bool("sandbox", cfg.API.Sandbox),
		zap.Int("rate_per_second", cfg.API.RatePerSecond),
	)

	return api.NewClient(
		cfg.API.URL(),
		tokens,
		cfg.API.RatePerSecond,
		cfg.API.Timeout,
		cfg.API.RetryDelay,
		cfg.API.RetryCount,
		logger,
	), nil
}

// pipeline is the acquisition side: records are priced, then buffered
// into per-bucket aggregates that flush to storage.
type pipeline struct {
	store  storage.Backend
	buffer *aggregate.Buffer
	sink   ingest.Sink
}

func newPipeline(ctx context.Context) (*pipeline, error) {
	store, err := storage.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	buffer := aggregate.NewBuffer(store, cfg.AggregationOptions(), logger.Named("aggregate"))
	pricer := pricing.NewEngine(cfg.PricingOptions())

	return &pipeline{
		store:  store,
		buffer: buffer,
		sink:   ingest.NewEnrichingSink(buffer, pricer),
	}, nil
}

func (p *pipeline) Close() {
	p.store.Close()
}

// runtime holds the optional outer surfaces of a long-running mode: the ops
// server and, for modes that produce or relay cycles, the websocket hub and
// the redis cache.
type runtime struct {
	hub     *ws.Hub
	redis   *cache.Redis
	workers map[string]server.StatusFunc
	closers []func()
}

func newRuntime(ctx context.Context, feeds bool) (*runtime, error) {
	rt := &runtime{workers: make(map[string]server.StatusFunc)}
	if !feeds {
		return rt, nil
	}

	if cfg.Server.Listen != "" {
		enc, err := ws.NewEncoder()
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, enc.Close)
		rt.hub = ws.NewHub("gex", []string{cfg.Universe.Underlying}, enc, logger.Named("ws"))
	}

	if cfg.Redis.URL != "" {
		client, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = client.Close() })

		r, err := cache.New(client, cfg.Redis, logger.Named("cache"))
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, r.Close)
		rt.redis = r
		logger.Info("redis cache enabled", zap.String("channel", cfg.Redis.Channel), zap.Duration("ttl", cfg.Redis.TTL))
	}

	return rt, nil
}

// publishers returns every configured analytics fan-out target.
func (rt *runtime) publishers() []analytics.Publisher {
	var pubs []analytics.Publisher
	if rt.redis != nil {
		pubs = append(pubs, rt.redis)
	}
	if rt.hub != nil {
		pubs = append(pubs, ws.NewFeed(rt.hub, logger.Named("feed")))
	}
	return pubs
}

// start launches the hub and the ops server on g when a listen address is
// configured. Workers must be registered before start.
func (rt *runtime) start(ctx context.Context, g *errgroup.Group, mode string) {
	if cfg.Server.Listen == "" {
		return
	}
	if rt.hub != nil {
		g.Go(func() error {
			rt.hub.Run(ctx)
			return nil
		})
	}
	router := server.NewRouter(server.Options{Mode: mode, Hub: rt.hub, Workers: rt.workers}, logger.Named("http"))
	g.Go(func() error {
		return server.Serve(ctx, cfg.Server.Listen, router, logger.Named("http"))
	})
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}
