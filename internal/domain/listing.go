package domain

import (
	"github.com/shopspring/decimal"
)

// Side is the trade direction of a listing, from the taker's perspective.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Listing is one managed ad on the C2C venue.
// Loaded from the listing store at startup and mutated in place by the
// quote engine after each successful remote update.
type Listing struct {
	AdvNo          string
	Account        string
	Asset          string
	Fiat           string
	Group          string
	Side           Side
	TargetSpot     int
	FloatingRatio  decimal.Decimal
	Price          decimal.Decimal
	SurplusAmount  decimal.Decimal
	TransAmount    decimal.Decimal
	MinTransAmount decimal.Decimal
	PayTypes       []string
}

// CompetitorListing is another participant's ad as seen in one search cycle.
// Never retained beyond the ranking computation.
type CompetitorListing struct {
	AdvNo          string
	Price          decimal.Decimal
	MaxTransAmount decimal.Decimal
	MinTransAmount decimal.Decimal
}

// Credentials holds one account's API key pair.
type Credentials struct {
	Key    string
	Secret string
}

// CredentialsProvider resolves API credentials for an account.
type CredentialsProvider interface {
	Credentials(account string) (Credentials, error)
}
