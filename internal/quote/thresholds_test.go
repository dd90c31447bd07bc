package quote

import (
	"context"
	"testing"
	"time"

	"github.com/frank120121/bpa/internal/domain"
)

func newTestState() *ThresholdState {
	return NewThresholdState(d("0.98"), d("1.02"), d("0.975"))
}

func TestThresholdForSpecialPayTypes(t *testing.T) {
	ts := newTestState()

	tests := []struct {
		name     string
		side     domain.Side
		payTypes []string
		want     string
	}{
		{"buy regular", domain.SideBuy, []string{"BBVA"}, "0.98"},
		{"buy special", domain.SideBuy, []string{"BBVA", "OXXO"}, "0.975"},
		{"buy zelle", domain.SideBuy, []string{"ZELLE"}, "0.975"},
		{"sell ignores special", domain.SideSell, []string{"OXXO"}, "1.02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ts.For(tt.side, tt.payTypes); !got.Equal(d(tt.want)) {
				t.Fatalf("For(%s, %v) = %s, want %s", tt.side, tt.payTypes, got, tt.want)
			}
		})
	}
}

func TestThresholdSetMinDelta(t *testing.T) {
	ts := newTestState()
	minDelta := d("0.001")

	if ts.Set(d("0.9805"), d("1.0205"), minDelta) {
		t.Fatal("sub-delta move should not apply")
	}
	buy, sell, _ := ts.Snapshot()
	if !buy.Equal(d("0.98")) || !sell.Equal(d("1.02")) {
		t.Fatalf("thresholds changed on filtered update: buy=%s sell=%s", buy, sell)
	}

	if !ts.Set(d("0.985"), d("1.02"), minDelta) {
		t.Fatal("move at delta on one side should apply")
	}
	buy, _, _ = ts.Snapshot()
	if !buy.Equal(d("0.985")) {
		t.Fatalf("buy = %s, want 0.985", buy)
	}
}

func TestAdjustForBalance(t *testing.T) {
	baseBuy, baseSell := d("0.98"), d("1.02")

	tests := []struct {
		name     string
		balance  string
		wantBuy  string
		wantSell string
	}{
		{"at pivot keeps base", "55000", "0.98", "1.02"},
		{"above pivot keeps base", "80000", "0.98", "1.02"},
		// 5000 short of pivot: 5 * 0.00025 = 0.00125 widening.
		{"below pivot widens", "50000", "0.98125", "1.02125"},
		// Deeply short: sell capped at its ceiling.
		{"sell capped", "0", "0.99375", "0.9992"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buy, sell := adjustForBalance(baseBuy, baseSell, d(tt.balance))
			if !buy.Equal(d(tt.wantBuy)) {
				t.Errorf("buy = %s, want %s", buy, tt.wantBuy)
			}
			if !sell.Equal(d(tt.wantSell)) {
				t.Errorf("sell = %s, want %s", sell, tt.wantSell)
			}
		})
	}
}

type staticRefs struct {
	ref domain.ReferencePrice
}

func (s staticRefs) ReferencePrice(side domain.Side) domain.ReferencePrice {
	return s.ref
}

func TestUpdaterSkipsWithoutReferencePrice(t *testing.T) {
	ts := newTestState()
	u := NewThresholdUpdater(ts, StaticBalance{Amount: d("50000")}, staticRefs{}, time.Minute, d("0.0001"))

	u.update(context.Background())

	buy, sell, _ := ts.Snapshot()
	if !buy.Equal(d("0.98")) || !sell.Equal(d("1.02")) {
		t.Fatalf("thresholds moved on an empty book: buy=%s sell=%s", buy, sell)
	}
}

func TestUpdaterAppliesBalanceAdjustment(t *testing.T) {
	ts := newTestState()
	refs := staticRefs{ref: domain.ReferencePrice{Side: domain.SideBuy, WeightedAverage: d("19.50")}}
	u := NewThresholdUpdater(ts, StaticBalance{Amount: d("50000")}, refs, time.Minute, d("0.0001"))

	u.update(context.Background())

	buy, sell, _ := ts.Snapshot()
	if !buy.Equal(d("0.98125")) || !sell.Equal(d("1.02125")) {
		t.Fatalf("buy=%s sell=%s, want widened tiers", buy, sell)
	}
}
