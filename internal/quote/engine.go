package quote

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frank120121/bpa/internal/domain"
	"github.com/frank120121/bpa/internal/gateway"
)

// Exchange is the gateway surface the engine drives.
type Exchange interface {
	SearchAds(ctx context.Context, req gateway.SearchAdsRequest) (*gateway.SearchAdsResponse, error)
	AdDetail(ctx context.Context, advNo string) (*gateway.AdvInfo, error)
	UpdateAd(ctx context.Context, advNo string, ratio decimal.Decimal) error
}

// ListingStore records every successful price update durably.
type ListingStore interface {
	SaveListing(ctx context.Context, l *domain.Listing) error
}

// Config carries the engine's pricing constants.
type Config struct {
	Interval           time.Duration
	MinRatio           decimal.Decimal
	MaxRatio           decimal.Decimal
	RatioAdjustment    decimal.Decimal
	DiffThreshold      decimal.Decimal
	Epsilon            decimal.Decimal
	DefaultTransAmount decimal.Decimal
	MaxSearchPages     int
}

// DefaultConfig returns the production pricing constants.
func DefaultConfig() Config {
	return Config{
		Interval:           15 * time.Second,
		MinRatio:           decimal.NewFromInt(90),
		MaxRatio:           decimal.NewFromInt(110),
		RatioAdjustment:    decimal.RequireFromString("0.05"),
		DiffThreshold:      decimal.RequireFromString("0.15"),
		Epsilon:            decimal.RequireFromString("0.005"),
		DefaultTransAmount: decimal.NewFromInt(4000),
		MaxSearchPages:     3,
	}
}

// Engine keeps every managed listing at its target competitive rank.
// One loop per listing group; groups never share mutable state, a listing
// is mutated only by its own group's loop.
type Engine struct {
	cfg        Config
	exchanges  map[string]Exchange
	store      ListingStore
	thresholds *ThresholdState
	groups     map[string][]*domain.Listing
	own        map[string]struct{}
	log        *slog.Logger
}

// NewEngine groups the listings and wires their account gateways.
func NewEngine(cfg Config, exchanges map[string]Exchange, store ListingStore,
	thresholds *ThresholdState, listings []*domain.Listing, log *slog.Logger) *Engine {

	groups := make(map[string][]*domain.Listing)
	own := make(map[string]struct{}, len(listings))
	for _, l := range listings {
		groups[l.Group] = append(groups[l.Group], l)
		own[l.AdvNo] = struct{}{}
	}
	return &Engine{
		cfg:        cfg,
		exchanges:  exchanges,
		store:      store,
		thresholds: thresholds,
		groups:     groups,
		own:        own,
		log:        log,
	}
}

// Run drives one loop per group until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for name, group := range e.groups {
		wg.Add(1)
		go func(name string, group []*domain.Listing) {
			defer wg.Done()
			e.runGroup(ctx, name, group)
		}(name, group)
	}
	wg.Wait()
}

func (e *Engine) runGroup(ctx context.Context, name string, group []*domain.Listing) {
	log := e.log.With("group", name)
	log.Info("quote loop started", "listings", len(group))

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.processGroup(ctx, log, group)
	for {
		select {
		case <-ctx.Done():
			log.Info("quote loop stopped")
			return
		case <-ticker.C:
			e.processGroup(ctx, log, group)
		}
	}
}

// processGroup evaluates the group's listings concurrently. A failure is
// local to its listing and cycle.
func (e *Engine) processGroup(ctx context.Context, log *slog.Logger, group []*domain.Listing) {
	var wg sync.WaitGroup
	for _, l := range group {
		wg.Add(1)
		go func(l *domain.Listing) {
			defer wg.Done()
			if err := e.evaluate(ctx, l); err != nil {
				log.Warn("listing evaluation failed", "advNo", l.AdvNo, "err", err)
			}
		}(l)
	}
	wg.Wait()
}

func (e *Engine) evaluate(ctx context.Context, l *domain.Listing) error {
	ex, ok := e.exchanges[l.Account]
	if !ok {
		return fmt.Errorf("no gateway for account %s", l.Account)
	}

	transAmount := l.TransAmount
	if transAmount.IsZero() {
		transAmount = e.cfg.DefaultTransAmount
	}

	req := gateway.SearchAdsRequest{
		TradeType:   l.Side,
		Asset:       l.Asset,
		Fiat:        l.Fiat,
		TransAmount: transAmount,
		PayTypes:    l.PayTypes,
		Page:        1,
	}
	resp, err := ex.SearchAds(ctx, req)
	if err != nil {
		return fmt.Errorf("search ads: %w", err)
	}

	// Prefer the own-ad row from the search page over an extra detail call.
	ownPrice, found := findOwnPrice(resp.Data, l.AdvNo)
	if !found {
		detail, err := ex.AdDetail(ctx, l.AdvNo)
		if err != nil {
			return fmt.Errorf("ad detail: %w", err)
		}
		if !detail.Online() {
			e.log.Debug("listing offline, skipping cycle", "advNo", l.AdvNo)
			return nil
		}
		ownPrice = detail.Price
	}

	basePrice := ComputeBasePrice(ownPrice, l.FloatingRatio)
	if basePrice.IsZero() {
		return fmt.Errorf("listing %s has no floating ratio", l.AdvNo)
	}

	threshold := e.thresholds.For(l.Side, l.PayTypes)
	competitors := FilterCompetitors(resp.Data, e.own, l.Side, basePrice, threshold, transAmount, l.MinTransAmount)

	// Thin first page: widen the search before giving up for this cycle.
	for page := 2; len(competitors) == 0 && page <= e.cfg.MaxSearchPages; page++ {
		req.Page = page
		resp, err = ex.SearchAds(ctx, req)
		if err != nil {
			return fmt.Errorf("search ads page %d: %w", page, err)
		}
		if len(resp.Data) == 0 {
			break
		}
		competitors = FilterCompetitors(resp.Data, e.own, l.Side, basePrice, threshold, transAmount, l.MinTransAmount)
	}
	if len(competitors) == 0 {
		e.log.Debug("no eligible competitors", "advNo", l.AdvNo)
		return nil
	}

	spot := ClampSpot(l.TargetSpot, len(competitors))
	competitor := competitors[spot-1]

	newRatio, update := decideRatio(e.cfg, l.Side, ownPrice, basePrice, l.FloatingRatio, competitor)
	if !update {
		return nil
	}

	if err := ex.UpdateAd(ctx, l.AdvNo, newRatio); err != nil {
		return fmt.Errorf("update ad: %w", err)
	}

	l.FloatingRatio = newRatio
	l.Price = basePrice.Mul(newRatio).Div(oneHundred).Round(2)
	if err := e.store.SaveListing(ctx, l); err != nil {
		// The remote update stuck; surface the persistence miss but keep
		// the in-memory state consistent with the venue.
		return fmt.Errorf("save listing: %w", err)
	}

	e.log.Info("listing repriced",
		"advNo", l.AdvNo, "ratio", newRatio.String(),
		"price", l.Price.String(), "competitor", competitor.AdvNo)
	return nil
}

func findOwnPrice(entries []gateway.SearchAdsEntry, advNo string) (decimal.Decimal, bool) {
	for _, e := range entries {
		if e.Adv.AdvNo == advNo {
			return e.Adv.Price, true
		}
	}
	return decimal.Zero, false
}
