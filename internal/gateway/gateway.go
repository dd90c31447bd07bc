// Package gateway is the single path for outbound calls to the exchanges.
// It owns request signing, clock-skew correction, per-endpoint rate
// limiting, short-TTL response caching, and retry with backoff, so callers
// never talk to the network directly.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/frank120121/bpa/internal/domain"
	"github.com/frank120121/bpa/internal/infra"
)

const (
	maxAttempts       = 5
	defaultRetryAfter = 30 * time.Second
	retryBase         = 1 * time.Second
	retryMax          = 30 * time.Second
)

// outcome classifies one call attempt so the retry policy is a function of
// the classification, not of error types.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeRetryable
	outcomeResync // timestamp rejected; resync the clock and retry once free
	outcomeFatal
)

// Options configures a Gateway. Clock, Limiter and Cache are process-wide
// shared instances; every Gateway of the process must receive the same ones.
type Options struct {
	BaseURL    string // C2C exchange REST base
	VenueURL   string // order book venue REST base
	Clock      *ServerClock
	Limiter    *EndpointLimiter
	Cache      *SearchCache
	Timeout    time.Duration
	ClientType string
	SkipAds    []string // ad numbers never updated remotely
}

// Gateway performs signed REST calls for one account. All outbound traffic
// of the process flows through Gateway instances sharing one limiter, one
// clock and one cache.
type Gateway struct {
	account    string
	creds      domain.Credentials
	clock      *ServerClock
	limiter    *EndpointLimiter
	cache      *SearchCache
	http       *resty.Client
	baseURL    string
	venueURL   string
	clientType string
	skipAds    map[string]struct{}
}

// New creates a Gateway for one account.
func New(account string, creds domain.Credentials, opts Options) *Gateway {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	clientType := opts.ClientType
	if clientType == "" {
		clientType = "WEB"
	}

	skip := make(map[string]struct{}, len(opts.SkipAds))
	for _, advNo := range opts.SkipAds {
		skip[advNo] = struct{}{}
	}

	return &Gateway{
		account:    account,
		creds:      creds,
		clock:      opts.Clock,
		limiter:    opts.Limiter,
		cache:      opts.Cache,
		http:       resty.New().SetTimeout(timeout),
		baseURL:    opts.BaseURL,
		venueURL:   opts.VenueURL,
		clientType: clientType,
		skipAds:    skip,
	}
}

// Account returns the account this gateway signs for.
func (g *Gateway) Account() string { return g.account }

// SearchAds runs a competitor search, serving bursts from the shared cache.
func (g *Gateway) SearchAds(ctx context.Context, req SearchAdsRequest) (*SearchAdsResponse, error) {
	key := req.CacheKey()
	if resp, ok := g.cache.Get(key); ok {
		slog.Debug("search served from cache", "account", g.account, "key", key)
		return resp, nil
	}

	var out SearchAdsResponse
	if err := g.signedCall(ctx, "POST", endpointSearch, ClassSearch, nil, req.payload(), &out); err != nil {
		return nil, err
	}
	if out.Code != codeSuccess {
		return nil, &APIError{Status: 200, Code: out.Code, Message: out.Message}
	}

	g.cache.Put(key, &out)
	return &out, nil
}

// AdDetail fetches the current state of one own ad.
func (g *Gateway) AdDetail(ctx context.Context, advNo string) (*AdvInfo, error) {
	params := url.Values{}
	params.Set("adsNo", advNo)

	var out AdDetailResponse
	if err := g.signedCall(ctx, "POST", endpointDetail, ClassDetail, params, nil, &out); err != nil {
		return nil, err
	}
	if out.Code != codeSuccess {
		return nil, &APIError{Status: 200, Code: out.Code, Message: out.Message}
	}
	return &out.Data, nil
}

// UpdateAd submits a new floating ratio for an ad. Ads on the skip list are
// acknowledged locally without touching the venue.
func (g *Gateway) UpdateAd(ctx context.Context, advNo string, ratio decimal.Decimal) error {
	if _, skip := g.skipAds[advNo]; skip {
		slog.Debug("ad is on the skip list, not updating", "account", g.account, "advNo", advNo)
		return nil
	}

	body := map[string]any{
		"advNo":              advNo,
		"priceFloatingRatio": ratio.StringFixed(2),
	}

	var out UpdateAdResponse
	if err := g.signedCall(ctx, "POST", endpointUpdate, ClassUpdate, nil, body, &out); err != nil {
		return err
	}
	if out.Code != codeSuccess {
		return &APIError{Status: 200, Code: out.Code, Message: out.Message}
	}
	return nil
}

// OrderBookSnapshot fetches the venue's full book for bootstrap. Unsigned;
// still rate limited and retried like every other outbound call.
func (g *Gateway) OrderBookSnapshot(ctx context.Context, book string) (*BookSnapshot, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, infra.BackoffWithBase(attempt-1, retryBase, retryMax)); err != nil {
				return nil, err
			}
		}
		if err := g.limiter.Wait(ctx, ClassSnapshot); err != nil {
			return nil, err
		}

		resp, err := g.http.R().SetContext(ctx).Get(g.snapshotURL(book))
		if err != nil {
			lastErr = fmt.Errorf("snapshot request failed: %w", err)
			continue
		}
		if resp.StatusCode() != 200 {
			lastErr = fmt.Errorf("snapshot returned status %d", resp.StatusCode())
			continue
		}

		var snap BookSnapshot
		if err := json.Unmarshal(resp.Body(), &snap); err != nil {
			lastErr = fmt.Errorf("decode snapshot: %w", err)
			continue
		}
		if !snap.Success {
			lastErr = fmt.Errorf("snapshot for %s not successful", book)
			continue
		}
		return &snap, nil
	}
	return nil, fmt.Errorf("order book snapshot for %s: retries exhausted: %w", book, lastErr)
}

// VenueHealthy probes the venue REST endpoint. Used to gate stream
// connection attempts against a degraded venue.
func (g *Gateway) VenueHealthy(ctx context.Context, book string) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := g.http.R().SetContext(ctx).Get(g.snapshotURL(book))
	if err != nil {
		slog.Warn("venue health check failed", "book", book, "err", err)
		return false
	}
	if resp.StatusCode() != 200 {
		slog.Warn("venue health check failed", "book", book, "status", resp.StatusCode())
		return false
	}
	return true
}

func (g *Gateway) snapshotURL(book string) string {
	return g.venueURL + "/v3/order_book/?book=" + url.QueryEscape(book)
}

// signedCall drives the retry loop around one signed request. Timestamp
// rejections trigger a clock resync and one retry that does not count as
// a failed attempt.
func (g *Gateway) signedCall(ctx context.Context, method, endpoint string, class EndpointClass, params url.Values, body any, out any) error {
	freeRetryUsed := false
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, infra.BackoffWithBase(attempt-1, retryBase, retryMax)); err != nil {
				return err
			}
		}
		if err := g.limiter.Wait(ctx, class); err != nil {
			return err
		}

		oc, err := g.doSigned(ctx, method, endpoint, class, params, body, out)
		switch oc {
		case outcomeOK:
			return nil
		case outcomeFatal:
			return err
		case outcomeResync:
			lastErr = err
			slog.Info("resyncing server clock after timestamp rejection", "account", g.account)
			if serr := g.clock.Sync(ctx); serr != nil {
				slog.Warn("forced clock resync failed", "err", serr)
			}
			if !freeRetryUsed {
				freeRetryUsed = true
				attempt--
			}
		case outcomeRetryable:
			lastErr = err
			slog.Warn("call attempt failed", "account", g.account,
				"endpoint", endpoint, "attempt", attempt+1, "err", err)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s: retries exhausted: %w", endpoint, lastErr)
}

// doSigned performs one attempt and classifies the result.
func (g *Gateway) doSigned(ctx context.Context, method, endpoint string, class EndpointClass, params url.Values, body any, out any) (outcome, error) {
	if err := g.clock.EnsureSynced(ctx); err != nil {
		// Proceed with local time; a -1021 rejection will force another sync.
		slog.Warn("proceeding with unsynced clock", "err", err)
	}

	query := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	query.Set("timestamp", strconv.FormatInt(g.clock.Now(), 10))

	canonical := query.Encode()
	fullURL := g.baseURL + endpoint + "?" + canonical + "&signature=" + sign(g.creds.Secret, canonical)

	req := g.http.R().SetContext(ctx).
		SetHeader("X-MBX-APIKEY", g.creds.Key).
		SetHeader("clientType", g.clientType).
		SetHeader("x-trace-id", uuid.NewString()).
		SetHeader("Content-Type", "application/json;charset=utf-8")
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, fullURL)
	if err != nil {
		return outcomeRetryable, fmt.Errorf("request failed: %w", err)
	}

	status := resp.StatusCode()
	switch {
	case status == 200:
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			slog.Error("malformed response payload", "endpoint", endpoint,
				"body", string(resp.Body()), "err", err)
			return outcomeFatal, fmt.Errorf("decode %s response: %w", endpoint, err)
		}
		return outcomeOK, nil

	case status == 400:
		var apiErr apiErrorBody
		if uerr := json.Unmarshal(resp.Body(), &apiErr); uerr == nil && apiErr.Code == codeBadTimestamp {
			return outcomeResync, fmt.Errorf("timestamp outside server window")
		}
		return outcomeFatal, &APIError{Status: status, Code: strconv.Itoa(apiErr.Code), Message: apiErr.Msg}

	case status == 429:
		retryAfter := defaultRetryAfter
		if hdr := resp.Header().Get("Retry-After"); hdr != "" {
			if secs, perr := strconv.Atoi(hdr); perr == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		g.limiter.RaiseDelay(class, retryAfter)
		if err := sleepCtx(ctx, retryAfter); err != nil {
			return outcomeRetryable, err
		}
		return outcomeRetryable, fmt.Errorf("rate limited, slept %s", retryAfter)

	case status >= 500:
		return outcomeRetryable, fmt.Errorf("server error: status %d", status)

	default:
		var apiErr apiErrorBody
		_ = json.Unmarshal(resp.Body(), &apiErr)
		return outcomeFatal, &APIError{Status: status, Code: strconv.Itoa(apiErr.Code), Message: apiErr.Msg}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
