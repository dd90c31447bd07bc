package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/frank120121/bpa/internal/book"
	"github.com/frank120121/bpa/internal/gateway"
	"github.com/frank120121/bpa/internal/infra"
	"github.com/frank120121/bpa/internal/pricesink"
	"github.com/frank120121/bpa/internal/quote"
	"github.com/frank120121/bpa/internal/storage"
)

// App wires the whole quoting stack: store, gateways, order book replica,
// threshold updater and quote engine.
type App struct {
	cfg     *infra.Config
	log     *slog.Logger
	store   *storage.ListingStore
	redis   *redis.Client
	clock   *gateway.ServerClock
	replica *book.Replica
	engine  *quote.Engine
	updater *quote.ThresholdUpdater
}

// NewApp builds the application from its configuration. Every component is
// constructed here; nothing reaches for globals.
func NewApp(cfg *infra.Config) (*App, error) {
	log := infra.NewLogger(cfg.Logging.Level)
	slog.SetDefault(log)
	log.Info("bootstrapping", "app", cfg.App.Name, "version", cfg.App.Version)

	store, err := storage.NewListingStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open listing store: %w", err)
	}

	listings, err := store.LoadListings(context.Background(), "")
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load listings: %w", err)
	}
	if len(listings) == 0 {
		store.Close()
		return nil, fmt.Errorf("listing store %s holds no listings", cfg.Store.Path)
	}
	log.Info("listings loaded", "count", len(listings))

	// One clock, limiter and cache for the whole process; every account
	// gateway shares them so rate limits hold globally.
	clock := gateway.NewServerClock(cfg.Exchange.RestURL)
	limiter := gateway.NewEndpointLimiter()
	cache := gateway.NewSearchCache(250 * time.Millisecond)

	opts := gateway.Options{
		BaseURL:  cfg.Exchange.RestURL,
		VenueURL: cfg.Venue.RestURL,
		Clock:    clock,
		Limiter:  limiter,
		Cache:    cache,
		SkipAds:  cfg.Quote.SkipAds,
	}
	gateways := make(map[string]quote.Exchange, len(cfg.Accounts))
	var snapshotGW *gateway.Gateway
	for account := range cfg.Accounts {
		creds, err := cfg.Credentials(account)
		if err != nil {
			store.Close()
			return nil, err
		}
		gw := gateway.New(account, creds, opts)
		gateways[account] = gw
		if snapshotGW == nil {
			snapshotGW = gw
		}
	}

	a := &App{cfg: cfg, log: log, store: store, clock: clock}

	var sink book.PriceSink = pricesink.NopSink{}
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		sink = pricesink.NewRedisSink(a.redis, cfg.Venue.Book, cfg.Redis.Channel, log)
	}

	targetNotional, err := decimal.NewFromString(cfg.Venue.TargetNotional)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("bad target notional %q: %w", cfg.Venue.TargetNotional, err)
	}
	a.replica = book.NewReplica(cfg.Venue.Book, cfg.Venue.WSURL, targetNotional, snapshotGW, sink)

	thresholds, minDelta, err := thresholdsFromConfig(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	inventory, err := decimal.NewFromString(orDefault(cfg.Thresholds.InventoryUSD, "55000"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("bad inventory balance %q: %w", cfg.Thresholds.InventoryUSD, err)
	}
	updateInterval := time.Duration(cfg.Thresholds.UpdateIntervalSec) * time.Second
	if updateInterval <= 0 {
		updateInterval = 5 * time.Minute
	}
	a.updater = quote.NewThresholdUpdater(thresholds,
		quote.StaticBalance{Amount: inventory}, a.replica, updateInterval, minDelta)

	engineCfg, err := engineConfigFromConfig(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = quote.NewEngine(engineCfg, gateways, store, thresholds, listings, log)

	return a, nil
}

// Run starts every long-lived task and blocks until ctx is cancelled. The
// quote engine is held back until the replica has a book; a replica that
// cannot bootstrap fails startup outward.
func (a *App) Run(ctx context.Context) error {
	go a.clock.Run(ctx)
	a.replica.Start(ctx)
	defer a.replica.Stop()

	readyCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if err := a.replica.WaitReady(readyCtx); err != nil {
		return fmt.Errorf("order book replica never became ready: %w", err)
	}
	a.log.Info("order book ready", "book", a.cfg.Venue.Book, "sequence", a.replica.Sequence())

	go a.updater.Run(ctx)

	a.engine.Run(ctx)
	return nil
}

// Close releases the app's resources. Safe to call after a failed build.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("closing listing store", "err", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("closing redis client", "err", err)
		}
	}
}

func thresholdsFromConfig(cfg *infra.Config) (*quote.ThresholdState, decimal.Decimal, error) {
	buy, err := decimal.NewFromString(orDefault(cfg.Thresholds.Buy, "0.98"))
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("bad buy threshold: %w", err)
	}
	sell, err := decimal.NewFromString(orDefault(cfg.Thresholds.Sell, "1.02"))
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("bad sell threshold: %w", err)
	}
	special, err := decimal.NewFromString(orDefault(cfg.Thresholds.Special, "0.975"))
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("bad special threshold: %w", err)
	}
	minDelta, err := decimal.NewFromString(orDefault(cfg.Thresholds.MinDelta, "0.0005"))
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("bad threshold min delta: %w", err)
	}
	return quote.NewThresholdState(buy, sell, special), minDelta, nil
}

func engineConfigFromConfig(cfg *infra.Config) (quote.Config, error) {
	out := quote.DefaultConfig()
	out.Interval = time.Duration(cfg.Quote.IntervalMS) * time.Millisecond

	overrides := []struct {
		raw  string
		dest *decimal.Decimal
		name string
	}{
		{cfg.Quote.MinRatio, &out.MinRatio, "min_ratio"},
		{cfg.Quote.MaxRatio, &out.MaxRatio, "max_ratio"},
		{cfg.Quote.RatioAdjustment, &out.RatioAdjustment, "ratio_adjustment"},
		{cfg.Quote.DiffThreshold, &out.DiffThreshold, "diff_threshold"},
		{cfg.Quote.Epsilon, &out.Epsilon, "epsilon"},
		{cfg.Quote.DefaultTransAmount, &out.DefaultTransAmount, "default_trans_amount"},
	}
	for _, o := range overrides {
		if o.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(o.raw)
		if err != nil {
			return quote.Config{}, fmt.Errorf("bad quote %s %q: %w", o.name, o.raw, err)
		}
		*o.dest = v
	}
	if cfg.Quote.MaxSearchPages > 0 {
		out.MaxSearchPages = cfg.Quote.MaxSearchPages
	}
	return out, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
