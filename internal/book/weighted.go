package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/frank120121/bpa/internal/domain"
)

// weightedAverage walks levels (already sorted best-first) accumulating
// notional until target is reached, taking a fractional amount from the
// level that crosses it. Returns totalNotional / totalAmount, or zero when
// the book is empty or target is not positive. If the book holds less than
// target, the average covers whatever depth exists.
// Pure function; safe from any reader.
func weightedAverage(levels []domain.PriceLevel, target decimal.Decimal) decimal.Decimal {
	if len(levels) == 0 || !target.IsPositive() {
		return decimal.Zero
	}

	totalNotional := decimal.Zero
	totalAmount := decimal.Zero

	for _, level := range levels {
		take := decimal.Min(level.Notional(), target.Sub(totalNotional))
		totalNotional = totalNotional.Add(take)
		totalAmount = totalAmount.Add(take.Div(level.Price))

		if totalNotional.GreaterThanOrEqual(target) {
			break
		}
	}

	if totalAmount.IsZero() {
		return decimal.Zero
	}
	return totalNotional.Div(totalAmount)
}

// sortedLevels copies the side's levels sorted best-first: descending for
// bids, ascending for asks.
func sortedLevels(side map[string]domain.PriceLevel, descending bool) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(side))
	for _, l := range side {
		levels = append(levels, l)
	}

	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	return levels
}
