package quote

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/frank120121/bpa/internal/domain"
	"github.com/frank120121/bpa/internal/gateway"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func entry(advNo, price, maxTrans, minTrans string) gateway.SearchAdsEntry {
	return gateway.SearchAdsEntry{Adv: gateway.AdvInfo{
		AdvNo:                       advNo,
		Price:                       d(price),
		DynamicMaxSingleTransAmount: d(maxTrans),
		MinSingleTransAmount:        d(minTrans),
		AdvStatus:                   1,
	}}
}

func TestComputeBasePrice(t *testing.T) {
	tests := []struct {
		name  string
		price string
		ratio string
		want  string
	}{
		{"above par", "20.10", "100.50", "20"},
		{"at par", "19.50", "100", "19.5"},
		{"below par", "19.11", "98", "19.5"},
		{"zero ratio", "19.50", "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeBasePrice(d(tt.price), d(tt.ratio))
			if !got.Equal(d(tt.want)) {
				t.Fatalf("ComputeBasePrice(%s, %s) = %s, want %s", tt.price, tt.ratio, got, tt.want)
			}
		})
	}
}

func TestFilterCompetitorsExcludesOwnAds(t *testing.T) {
	entries := []gateway.SearchAdsEntry{
		entry("mine", "20.00", "50000", "100"),
		entry("other", "20.00", "50000", "100"),
	}
	own := map[string]struct{}{"mine": {}}

	got := FilterCompetitors(entries, own, domain.SideBuy, d("19.50"), d("0.98"), d("4000"), d("500"))
	if len(got) != 1 || got[0].AdvNo != "other" {
		t.Fatalf("got %+v, want only the non-own ad", got)
	}
}

func TestFilterCompetitorsPriceBand(t *testing.T) {
	// base 19.50, threshold 0.98 -> buy limit 19.11.
	entries := []gateway.SearchAdsEntry{
		entry("inside", "19.20", "50000", "100"),
		entry("lowball", "19.00", "50000", "100"),
	}

	buy := FilterCompetitors(entries, nil, domain.SideBuy, d("19.50"), d("0.98"), d("4000"), d("500"))
	if len(buy) != 1 || buy[0].AdvNo != "inside" {
		t.Fatalf("buy side got %+v, want only the ad above the band floor", buy)
	}

	// base 19.50, threshold 1.02 -> sell limit 19.89.
	sellEntries := []gateway.SearchAdsEntry{
		entry("inside", "19.80", "50000", "100"),
		entry("rich", "20.10", "50000", "100"),
	}
	sell := FilterCompetitors(sellEntries, nil, domain.SideSell, d("19.50"), d("1.02"), d("4000"), d("500"))
	if len(sell) != 1 || sell[0].AdvNo != "inside" {
		t.Fatalf("sell side got %+v, want only the ad below the band ceiling", sell)
	}
}

func TestFilterCompetitorsTradeSizeBounds(t *testing.T) {
	entries := []gateway.SearchAdsEntry{
		entry("ok", "19.50", "5000", "100"),
		entry("too_small_max", "19.50", "3999", "100"),
		entry("min_too_high", "19.50", "5000", "500"),
	}

	got := FilterCompetitors(entries, nil, domain.SideBuy, d("19.50"), d("0.98"), d("4000"), d("500"))
	if len(got) != 1 || got[0].AdvNo != "ok" {
		t.Fatalf("got %+v, want only the size-compatible ad", got)
	}
}

func TestClampSpot(t *testing.T) {
	tests := []struct {
		target, available, want int
	}{
		{5, 3, 3},
		{2, 3, 2},
		{3, 3, 3},
		{0, 3, 1},
	}
	for _, tt := range tests {
		if got := ClampSpot(tt.target, tt.available); got != tt.want {
			t.Errorf("ClampSpot(%d, %d) = %d, want %d", tt.target, tt.available, got, tt.want)
		}
	}
}

func TestDecideRatio(t *testing.T) {
	cfg := DefaultConfig()
	base := d("19.50")

	tests := []struct {
		name       string
		side       domain.Side
		ownPrice   string
		current    string
		competitor string
		wantRatio  string
		wantUpdate bool
	}{
		{
			// Competitor at 19.90 on base 19.50 is ratio ~102.05; step
			// inside it on the buy side.
			name: "buy steps under competitor", side: domain.SideBuy,
			ownPrice: "19.30", current: "98.97", competitor: "19.90",
			wantRatio: "102", wantUpdate: true,
		},
		{
			name: "sell steps over competitor", side: domain.SideSell,
			ownPrice: "20.40", current: "104.62", competitor: "19.90",
			wantRatio: "102.1", wantUpdate: true,
		},
		{
			// Gap below the hysteresis threshold: hold position.
			name: "buy holds inside hysteresis band", side: domain.SideBuy,
			ownPrice: "19.88", current: "101.95", competitor: "19.90",
			wantUpdate: false,
		},
		{
			// Already priced past the competitor: react without hysteresis.
			name: "buy already past competitor still steps", side: domain.SideBuy,
			ownPrice: "20.20", current: "103.59", competitor: "19.90",
			wantRatio: "102", wantUpdate: true,
		},
		{
			// Competitor ratio ~128 clamps to the ceiling.
			name: "buy clamps to max ratio", side: domain.SideBuy,
			ownPrice: "19.30", current: "98.97", competitor: "25.00",
			wantRatio: "110", wantUpdate: true,
		},
		{
			// Competitor ratio ~77 clamps to the floor.
			name: "sell clamps to min ratio", side: domain.SideSell,
			ownPrice: "20.40", current: "104.62", competitor: "15.00",
			wantRatio: "90", wantUpdate: true,
		},
		{
			// New ratio within epsilon of current: skip the remote call.
			name: "epsilon suppresses redundant update", side: domain.SideBuy,
			ownPrice: "20.20", current: "102", competitor: "19.90",
			wantUpdate: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp := domain.CompetitorListing{AdvNo: "c1", Price: d(tt.competitor)}
			got, update := decideRatio(cfg, tt.side, d(tt.ownPrice), base, d(tt.current), comp)
			if update != tt.wantUpdate {
				t.Fatalf("update = %v, want %v (ratio %s)", update, tt.wantUpdate, got)
			}
			if update && !got.Equal(d(tt.wantRatio)) {
				t.Fatalf("ratio = %s, want %s", got, tt.wantRatio)
			}
		})
	}
}
