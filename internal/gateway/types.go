package gateway

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/frank120121/bpa/internal/domain"
)

const (
	endpointSearch = "/sapi/v1/c2c/ads/search"
	endpointUpdate = "/sapi/v1/c2c/ads/update"
	endpointDetail = "/sapi/v1/c2c/ads/getDetailByNo"

	// Vendor success code on the C2C surface.
	codeSuccess = "000000"
	// Vendor code for a timestamp outside the server's acceptance window.
	codeBadTimestamp = -1021
)

// SearchAdsRequest describes one competitor search.
type SearchAdsRequest struct {
	TradeType   domain.Side
	Asset       string
	Fiat        string
	TransAmount decimal.Decimal
	PayTypes    []string
	Page        int
}

// CacheKey returns the normalized parameter tuple used as the cache key.
func (r SearchAdsRequest) CacheKey() string {
	payTypes := append([]string(nil), r.PayTypes...)
	sort.Strings(payTypes)

	page := r.Page
	if page == 0 {
		page = 1
	}

	return fmt.Sprintf("%s|%s|%s|%s|%d|%s",
		r.TradeType, r.Asset, r.Fiat, r.TransAmount.String(), page,
		strings.Join(payTypes, ","))
}

// payload builds the request body. Field names and defaults follow the
// vendor API (publisherType merchant, 20 rows per page).
func (r SearchAdsRequest) payload() map[string]any {
	page := r.Page
	if page == 0 {
		page = 1
	}

	body := map[string]any{
		"asset":         r.Asset,
		"fiat":          r.Fiat,
		"page":          page,
		"publisherType": "merchant",
		"rows":          20,
		"tradeType":     string(r.TradeType),
	}
	if !r.TransAmount.IsZero() {
		body["transAmount"] = r.TransAmount.String()
	}
	if len(r.PayTypes) > 0 {
		body["payTypes"] = r.PayTypes
	}
	return body
}

// AdvInfo is one ad as returned by the search and detail endpoints.
type AdvInfo struct {
	AdvNo                       string          `json:"advNo"`
	Price                       decimal.Decimal `json:"price"`
	PriceFloatingRatio          decimal.Decimal `json:"priceFloatingRatio"`
	Asset                       string          `json:"asset"`
	SurplusAmount               decimal.Decimal `json:"surplusAmount"`
	DynamicMaxSingleTransAmount decimal.Decimal `json:"dynamicMaxSingleTransAmount"`
	MinSingleTransAmount        decimal.Decimal `json:"minSingleTransAmount"`
	AdvStatus                   int             `json:"advStatus"`
}

// Online reports whether the ad is currently published on the venue.
func (a AdvInfo) Online() bool {
	return a.AdvStatus == 1
}

// SearchAdsEntry wraps one search result row.
type SearchAdsEntry struct {
	Adv AdvInfo `json:"adv"`
}

// SearchAdsResponse is the typed search endpoint response.
type SearchAdsResponse struct {
	Code    string           `json:"code"`
	Message string           `json:"message"`
	Data    []SearchAdsEntry `json:"data"`
}

// AdDetailResponse is the typed ad detail endpoint response.
type AdDetailResponse struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Data    AdvInfo `json:"data"`
}

// UpdateAdResponse is the typed ad update endpoint response.
type UpdateAdResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// apiErrorBody is the vendor error envelope on non-200 responses.
type apiErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// SnapshotLevel is one level of a venue order book snapshot.
type SnapshotLevel struct {
	Book   string          `json:"book"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// BookSnapshot is the venue's full order book snapshot with its sequence.
type BookSnapshot struct {
	Success bool `json:"success"`
	Payload struct {
		Sequence string          `json:"sequence"`
		Bids     []SnapshotLevel `json:"bids"`
		Asks     []SnapshotLevel `json:"asks"`
	} `json:"payload"`
}

// APIError is a vendor rejection that retrying will not fix.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s msg=%s", e.Status, e.Code, e.Message)
}
