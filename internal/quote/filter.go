package quote

import (
	"github.com/shopspring/decimal"

	"github.com/frank120121/bpa/internal/domain"
	"github.com/frank120121/bpa/internal/gateway"
)

var oneHundred = decimal.NewFromInt(100)

// ComputeBasePrice derives the venue's underlying spot from a published
// price and its floating ratio: base = price / (ratio / 100), rounded to
// cents. Zero when the ratio is missing.
func ComputeBasePrice(price, floatingRatio decimal.Decimal) decimal.Decimal {
	if floatingRatio.IsZero() {
		return decimal.Zero
	}
	return price.Div(floatingRatio.Div(oneHundred)).Round(2)
}

// FilterCompetitors reduces one search page to the ads worth ranking
// against. Own ads are excluded; the rest must be priced inside the
// threshold band and able to service the listing's trade size.
func FilterCompetitors(entries []gateway.SearchAdsEntry, own map[string]struct{},
	side domain.Side, basePrice, threshold, transAmount, minTransAmount decimal.Decimal) []domain.CompetitorListing {

	limit := basePrice.Mul(threshold)

	var out []domain.CompetitorListing
	for _, e := range entries {
		adv := e.Adv
		if _, isOwn := own[adv.AdvNo]; isOwn {
			continue
		}
		if side == domain.SideBuy {
			if adv.Price.LessThan(limit) {
				continue
			}
		} else {
			if adv.Price.GreaterThan(limit) {
				continue
			}
		}
		if adv.DynamicMaxSingleTransAmount.LessThan(transAmount) {
			continue
		}
		if !adv.MinSingleTransAmount.LessThan(minTransAmount) {
			continue
		}
		out = append(out, domain.CompetitorListing{
			AdvNo:          adv.AdvNo,
			Price:          adv.Price,
			MaxTransAmount: adv.DynamicMaxSingleTransAmount,
			MinTransAmount: adv.MinSingleTransAmount,
		})
	}
	return out
}

// ClampSpot bounds a 1-based target rank to the number of available
// competitors.
func ClampSpot(targetSpot, available int) int {
	if targetSpot < 1 {
		return 1
	}
	if available < targetSpot {
		return available
	}
	return targetSpot
}

// decideRatio computes the floating ratio that places the listing one step
// past the targeted competitor, and whether an update is worth sending.
//
// When the listing already beats the competitor it steps to just inside the
// competitor's ratio. Otherwise the gap must exceed the hysteresis
// threshold before reacting. The result is clamped to the allowed band and
// dropped when within epsilon of the current ratio.
func decideRatio(cfg Config, side domain.Side, ownPrice, basePrice, currentRatio decimal.Decimal,
	competitor domain.CompetitorListing) (decimal.Decimal, bool) {

	competitorRatio := competitor.Price.Div(basePrice).Mul(oneHundred)
	isBuy := side == domain.SideBuy

	alreadyPast := (isBuy && ownPrice.GreaterThanOrEqual(competitor.Price)) ||
		(!isBuy && ownPrice.LessThanOrEqual(competitor.Price))
	if !alreadyPast {
		gap := competitorRatio.Sub(currentRatio)
		if !isBuy {
			gap = currentRatio.Sub(competitorRatio)
		}
		if gap.LessThanOrEqual(cfg.DiffThreshold) {
			return decimal.Zero, false
		}
	}

	var target decimal.Decimal
	if isBuy {
		target = competitorRatio.Sub(cfg.RatioAdjustment)
	} else {
		target = competitorRatio.Add(cfg.RatioAdjustment)
	}

	clamped := clampRatio(target.Round(2), cfg.MinRatio, cfg.MaxRatio)
	if clamped.Sub(currentRatio).Abs().LessThan(cfg.Epsilon) {
		return decimal.Zero, false
	}
	return clamped, true
}

func clampRatio(ratio, min, max decimal.Decimal) decimal.Decimal {
	if ratio.LessThan(min) {
		return min
	}
	if ratio.GreaterThan(max) {
		return max
	}
	return ratio
}
