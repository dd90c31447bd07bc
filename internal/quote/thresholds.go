package quote

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frank120121/bpa/internal/domain"
)

// specialPayTypes are payment methods with higher counterparty risk; ads
// accepting any of them price against the wider threshold tier.
var specialPayTypes = map[string]struct{}{
	"OXXO":               {},
	"BANK":               {},
	"ZELLE":              {},
	"SkrillMoneybookers": {},
}

func hasSpecialPayType(payTypes []string) bool {
	for _, p := range payTypes {
		if _, ok := specialPayTypes[p]; ok {
			return true
		}
	}
	return false
}

// ThresholdState owns the mutable buy/sell price thresholds. It is injected
// into every listing-group loop; reads and adaptive updates go through it
// instead of package globals.
type ThresholdState struct {
	mu      sync.RWMutex
	buy     decimal.Decimal
	sell    decimal.Decimal
	special decimal.Decimal // wider buy-side tier for risky payment methods
}

// NewThresholdState creates the state with its base tiers.
func NewThresholdState(buy, sell, special decimal.Decimal) *ThresholdState {
	return &ThresholdState{buy: buy, sell: sell, special: special}
}

// For returns the applicable threshold for a listing.
func (t *ThresholdState) For(side domain.Side, payTypes []string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if side == domain.SideBuy {
		if hasSpecialPayType(payTypes) {
			return t.special
		}
		return t.buy
	}
	return t.sell
}

// Snapshot returns the current tiers.
func (t *ThresholdState) Snapshot() (buy, sell, special decimal.Decimal) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.buy, t.sell, t.special
}

// Set applies new buy/sell thresholds unless both moves are below minDelta,
// so noise does not churn every group's pricing. Returns whether the update
// was applied.
func (t *ThresholdState) Set(buy, sell, minDelta decimal.Decimal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if buy.Sub(t.buy).Abs().LessThan(minDelta) && sell.Sub(t.sell).Abs().LessThan(minDelta) {
		return false
	}

	slog.Debug("thresholds updated",
		"buy", buy.String(), "sell", sell.String(),
		"old_buy", t.buy.String(), "old_sell", t.sell.String())
	t.buy = buy
	t.sell = sell
	return true
}

// BalanceSource reports the available inventory in quote-currency units.
// Wallet aggregation lives outside this core; hosts wire their own source.
type BalanceSource interface {
	TotalUSD(ctx context.Context) (decimal.Decimal, error)
}

// StaticBalance is a fixed inventory level for hosts without a live wallet
// feed.
type StaticBalance struct {
	Amount decimal.Decimal
}

func (s StaticBalance) TotalUSD(ctx context.Context) (decimal.Decimal, error) {
	return s.Amount, nil
}

// RefSource exposes the latest reference price. Implemented by the order
// book replica.
type RefSource interface {
	ReferencePrice(side domain.Side) domain.ReferencePrice
}

// Inventory adaptation constants: below the pivot, thresholds widen by one
// step per thousand units of missing stock, up to the caps.
var (
	balancePivot    = decimal.NewFromInt(55000)
	balanceStep     = decimal.RequireFromString("0.00025")
	perThousand     = decimal.NewFromInt(1000)
	sellTierCeiling = decimal.RequireFromString("0.9992")
	buyTierCeiling  = decimal.RequireFromString("1.10")
)

// ThresholdUpdater periodically recomputes the buy/sell thresholds from the
// inventory balance signal, gated on a live reference price. Runs on its
// own interval, independent of the per-listing loops.
type ThresholdUpdater struct {
	State    *ThresholdState
	Balance  BalanceSource
	Refs     RefSource
	Interval time.Duration
	MinDelta decimal.Decimal

	baseBuy  decimal.Decimal
	baseSell decimal.Decimal
}

// NewThresholdUpdater creates an updater anchored on the state's current
// tiers.
func NewThresholdUpdater(state *ThresholdState, balance BalanceSource, refs RefSource, interval time.Duration, minDelta decimal.Decimal) *ThresholdUpdater {
	buy, sell, _ := state.Snapshot()
	return &ThresholdUpdater{
		State:    state,
		Balance:  balance,
		Refs:     refs,
		Interval: interval,
		MinDelta: minDelta,
		baseBuy:  buy,
		baseSell: sell,
	}
}

// Run recomputes thresholds on the configured interval until ctx ends.
func (u *ThresholdUpdater) Run(ctx context.Context) {
	ticker := time.NewTicker(u.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.update(ctx)
		}
	}
}

func (u *ThresholdUpdater) update(ctx context.Context) {
	if u.Refs != nil {
		if ref := u.Refs.ReferencePrice(domain.SideBuy); ref.IsZero() {
			// Book is empty or rebuilding; do not adapt on a blind venue.
			slog.Debug("skipping threshold update, no reference price")
			return
		}
	}

	balance, err := u.Balance.TotalUSD(ctx)
	if err != nil {
		slog.Warn("threshold update skipped, balance fetch failed", "err", err)
		return
	}

	buy, sell := adjustForBalance(u.baseBuy, u.baseSell, balance)
	if u.State.Set(buy, sell, u.MinDelta) {
		slog.Info("adaptive thresholds applied",
			"balance", balance.String(), "buy", buy.String(), "sell", sell.String())
	}
}

// adjustForBalance widens both thresholds as available stock shrinks below
// the pivot: scarce inventory prices more defensively.
func adjustForBalance(baseBuy, baseSell, balance decimal.Decimal) (buy, sell decimal.Decimal) {
	if balance.GreaterThanOrEqual(balancePivot) {
		return baseBuy, baseSell
	}

	adj := balancePivot.Sub(balance).Div(perThousand).Mul(balanceStep)
	sell = decimal.Min(baseSell.Add(adj), sellTierCeiling)
	buy = decimal.Min(baseBuy.Add(adj), buyTierCeiling)
	return buy, sell
}
