package book

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/frank120121/bpa/internal/domain"
)

func levels(pairs ...string) []domain.PriceLevel {
	if len(pairs)%2 != 0 {
		panic("levels wants price,amount pairs")
	}
	out := make([]domain.PriceLevel, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, domain.PriceLevel{
			Price:  decimal.RequireFromString(pairs[i]),
			Amount: decimal.RequireFromString(pairs[i+1]),
		})
	}
	return out
}

func TestWeightedAverage_CrossingLevelTakesFraction(t *testing.T) {
	// bids 19.50 x 1000, 19.40 x 2000, target notional 30000:
	// level 1 contributes 19500 in full, the remaining 10500 comes from
	// level 2 at 19.40 (amount 10500/19.40). Weighted average just under
	// 19.47.
	bids := levels("19.50", "1000", "19.40", "2000")
	target := decimal.RequireFromString("30000")

	got := weightedAverage(bids, target)

	want := decimal.RequireFromString("19.4649")
	if got.Sub(want).Abs().GreaterThan(decimal.RequireFromString("0.001")) {
		t.Errorf("weightedAverage = %s, want ~%s", got, want)
	}
}

func TestWeightedAverage_EmptyBookReturnsZero(t *testing.T) {
	if got := weightedAverage(nil, decimal.RequireFromString("1000")); !got.IsZero() {
		t.Errorf("empty book average = %s, want 0", got)
	}
	if got := weightedAverage(levels("19.50", "10"), decimal.Zero); !got.IsZero() {
		t.Errorf("zero target average = %s, want 0", got)
	}
}

func TestWeightedAverage_SingleLevelIsItsPrice(t *testing.T) {
	got := weightedAverage(levels("19.50", "1000"), decimal.RequireFromString("5000"))
	if !got.Equal(decimal.RequireFromString("19.5")) {
		t.Errorf("single level average = %s, want 19.5", got)
	}
}

func TestWeightedAverage_ShallowBookCoversAvailableDepth(t *testing.T) {
	// Book holds only 19500 of notional; a larger target still yields the
	// average of the existing depth.
	got := weightedAverage(levels("19.50", "1000"), decimal.RequireFromString("100000"))
	if !got.Equal(decimal.RequireFromString("19.5")) {
		t.Errorf("average = %s, want 19.5", got)
	}
}

func TestWeightedAverage_MonotoneInTarget(t *testing.T) {
	asks := levels("19.60", "500", "19.70", "800", "19.90", "2000")
	bids := levels("19.50", "500", "19.40", "800", "19.10", "2000")

	targets := []string{"1000", "5000", "10000", "20000", "40000"}

	prevAsk := decimal.Zero
	for _, ts := range targets {
		target := decimal.RequireFromString(ts)
		avg := weightedAverage(asks, target)
		if avg.LessThan(prevAsk) {
			t.Errorf("ask average decreased at target %s: %s < %s", ts, avg, prevAsk)
		}
		prevAsk = avg
	}

	var prevBid decimal.Decimal
	for i, ts := range targets {
		target := decimal.RequireFromString(ts)
		avg := weightedAverage(bids, target)
		if i > 0 && avg.GreaterThan(prevBid) {
			t.Errorf("bid average increased at target %s: %s > %s", ts, avg, prevBid)
		}
		prevBid = avg
	}
}

func TestSortedLevels(t *testing.T) {
	side := map[string]domain.PriceLevel{}
	for _, l := range levels("19.40", "1", "19.60", "1", "19.50", "1") {
		side[l.Price.String()] = l
	}

	bids := sortedLevels(side, true)
	if !bids[0].Price.Equal(decimal.RequireFromString("19.6")) {
		t.Errorf("best bid = %s, want 19.6", bids[0].Price)
	}

	asks := sortedLevels(side, false)
	if !asks[0].Price.Equal(decimal.RequireFromString("19.4")) {
		t.Errorf("best ask = %s, want 19.4", asks[0].Price)
	}
}
