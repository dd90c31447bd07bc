// Package book maintains an eventually-consistent replica of one external
// order book, synchronized from a streaming diff feed with REST-snapshot
// bootstrap, and derives the depth-weighted reference price from it.
package book

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/frank120121/bpa/internal/domain"
	"github.com/frank120121/bpa/internal/gateway"
	"github.com/frank120121/bpa/internal/infra"
)

// State is the replica's connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateBootstrapping
	StateStreaming
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateBootstrapping:
		return "BOOTSTRAPPING"
	case StateStreaming:
		return "STREAMING"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// SnapshotFetcher provides the REST side of bootstrap. Implemented by the
// API gateway.
type SnapshotFetcher interface {
	OrderBookSnapshot(ctx context.Context, book string) (*gateway.BookSnapshot, error)
	VenueHealthy(ctx context.Context, book string) bool
}

// PriceSink receives every recomputed reference price. Implementations must
// not block; publishing happens on the stream goroutine.
type PriceSink interface {
	PublishReferencePrice(side domain.Side, value decimal.Decimal)
}

// Replica is the in-memory order book for one symbol. It owns its socket
// and book exclusively; other components only read the derived reference
// prices. On any disconnect the book is discarded and rebuilt from a fresh
// snapshot, so a partial book is never served as authoritative.
type Replica struct {
	book           string
	wsURL          string
	targetNotional decimal.Decimal
	fetcher        SnapshotFetcher
	sink           PriceSink
	breaker        *infra.CircuitBreaker
	worker         *infra.BaseWSWorker

	mu       sync.RWMutex
	state    State
	bids     map[string]domain.PriceLevel
	asks     map[string]domain.PriceLevel
	sequence int64
	pending  []streamMessage // diffs buffered before the snapshot arrives
	refBid   decimal.Decimal
	refAsk   decimal.Decimal

	readyOnce sync.Once
	ready     chan struct{}
}

// NewReplica creates a replica for one book symbol.
func NewReplica(bookSymbol, wsURL string, targetNotional decimal.Decimal, fetcher SnapshotFetcher, sink PriceSink) *Replica {
	r := &Replica{
		book:           bookSymbol,
		wsURL:          wsURL,
		targetNotional: targetNotional,
		fetcher:        fetcher,
		sink:           sink,
		breaker:        infra.NewCircuitBreaker("venue:"+bookSymbol, 3, 1, 30*time.Second),
		state:          StateDisconnected,
		bids:           make(map[string]domain.PriceLevel),
		asks:           make(map[string]domain.PriceLevel),
		ready:          make(chan struct{}),
	}
	r.worker = infra.NewBaseWSWorker(r)
	return r
}

// Start launches the connection loop.
func (r *Replica) Start(ctx context.Context) {
	r.setState(StateConnecting)
	r.worker.Start(ctx)
}

// Stop shuts the replica down and closes its socket.
func (r *Replica) Stop() {
	r.worker.Stop()
	r.setState(StateDisconnected)
}

// WaitReady blocks until the first successful bootstrap, so the owner can
// treat a symbol that never produces a reference price as a startup
// failure.
func (r *Replica) WaitReady(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("order book %s not ready: %w", r.book, ctx.Err())
	}
}

// State returns the current lifecycle state.
func (r *Replica) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Sequence returns the last applied feed sequence.
func (r *Replica) Sequence() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sequence
}

// Depth returns the number of resting levels per side.
func (r *Replica) Depth() (bids, asks int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bids), len(r.asks)
}

// ReferencePrice returns the latest depth-weighted average for side.
// Zero while the book is empty or rebuilding.
func (r *Replica) ReferencePrice(side domain.Side) domain.ReferencePrice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	value := r.refBid
	if side == domain.SideSell {
		value = r.refAsk
	}
	return domain.ReferencePrice{Side: side, WeightedAverage: value}
}

// WeightedAverage computes the depth-weighted average to fill target
// notional on side against the current book. Pure read; any notional may
// be queried, not just the configured one.
func (r *Replica) WeightedAverage(side domain.Side, target decimal.Decimal) decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if side == domain.SideBuy {
		return weightedAverage(sortedLevels(r.bids, true), target)
	}
	return weightedAverage(sortedLevels(r.asks, false), target)
}

// GetURL implements infra.StreamHandler.
func (r *Replica) GetURL() string { return r.wsURL }

// ID implements infra.StreamHandler.
func (r *Replica) ID() string { return "BOOK_" + r.book }

// PreConnect gates dialing on venue health, tracked through the circuit
// breaker so a degraded venue is not hammered.
func (r *Replica) PreConnect(ctx context.Context) error {
	r.setState(StateConnecting)

	if !r.breaker.Allow() {
		return fmt.Errorf("venue %s circuit open", r.book)
	}
	if !r.fetcher.VenueHealthy(ctx, r.book) {
		r.breaker.RecordFailure()
		return fmt.Errorf("venue %s unhealthy", r.book)
	}
	r.breaker.RecordSuccess()
	return nil
}

// OnConnect subscribes to the diff channel and kicks off the snapshot
// bootstrap. Diffs that land before the snapshot are buffered in arrival
// order and replayed afterward.
func (r *Replica) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	r.mu.Lock()
	r.bids = make(map[string]domain.PriceLevel)
	r.asks = make(map[string]domain.PriceLevel)
	r.sequence = 0
	r.pending = nil
	r.refBid = decimal.Zero
	r.refAsk = decimal.Zero
	r.state = StateBootstrapping
	r.mu.Unlock()

	sub, err := json.Marshal(subscribeMessage{
		Action: "subscribe",
		Book:   r.book,
		Type:   msgTypeDiffOrders,
	})
	if err != nil {
		return err
	}
	if err := r.worker.Write(websocket.TextMessage, sub); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.book, err)
	}

	go r.bootstrap(ctx)
	return nil
}

// OnMessage handles one raw feed message.
func (r *Replica) OnMessage(ctx context.Context, msg []byte) {
	var m streamMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		slog.Error("dropping malformed feed message", "book", r.book,
			"payload", string(msg), "err", err)
		return
	}

	switch m.Type {
	case msgTypeKeepAlive:
		// Acknowledged, no state change.
		return
	case msgTypeDiffOrders:
		r.handleDiff(m)
	default:
		// Subscription acks and anything unknown.
		slog.Debug("ignoring feed message", "book", r.book, "type", m.Type)
	}
}

// OnDisconnect discards the book; a reconnect always starts from a fresh
// snapshot.
func (r *Replica) OnDisconnect(ctx context.Context) {
	r.mu.Lock()
	r.bids = make(map[string]domain.PriceLevel)
	r.asks = make(map[string]domain.PriceLevel)
	r.pending = nil
	r.refBid = decimal.Zero
	r.refAsk = decimal.Zero
	r.state = StateReconnecting
	r.mu.Unlock()

	slog.Warn("order book dropped, will rebuild from snapshot", "book", r.book)
}

// OnPing keeps the connection alive.
func (r *Replica) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return r.worker.Write(websocket.PingMessage, nil)
}

func (r *Replica) bootstrap(ctx context.Context) {
	snap, err := r.fetcher.OrderBookSnapshot(ctx, r.book)
	if err != nil {
		slog.Error("snapshot bootstrap failed", "book", r.book, "err", err)
		r.worker.Bounce()
		return
	}
	if err := r.loadSnapshot(snap); err != nil {
		slog.Error("snapshot load failed", "book", r.book, "err", err)
		r.worker.Bounce()
		return
	}

	r.publishRefs()
	r.readyOnce.Do(func() { close(r.ready) })
	slog.Info("order book bootstrapped", "book", r.book, "sequence", r.Sequence())
}

// loadSnapshot installs the snapshot and replays buffered diffs whose
// sequence exceeds the snapshot's.
func (r *Replica) loadSnapshot(snap *gateway.BookSnapshot) error {
	seq, err := strconv.ParseInt(snap.Payload.Sequence, 10, 64)
	if err != nil {
		return fmt.Errorf("bad snapshot sequence %q: %w", snap.Payload.Sequence, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.bids = make(map[string]domain.PriceLevel, len(snap.Payload.Bids))
	for _, level := range snap.Payload.Bids {
		r.bids[level.Price.String()] = domain.PriceLevel{Price: level.Price, Amount: level.Amount}
	}
	r.asks = make(map[string]domain.PriceLevel, len(snap.Payload.Asks))
	for _, level := range snap.Payload.Asks {
		r.asks[level.Price.String()] = domain.PriceLevel{Price: level.Price, Amount: level.Amount}
	}
	r.sequence = seq

	// Replay buffered diffs in arrival order. The snapshot may already
	// contain part of them, so only the sequence check filters here; gap
	// detection starts once live streaming resumes.
	for _, m := range r.pending {
		r.applyLocked(m, true)
	}
	r.pending = nil
	r.state = StateStreaming
	r.recomputeRefsLocked()
	return nil
}

// handleDiff routes a live diff message according to the current state.
func (r *Replica) handleDiff(m streamMessage) {
	r.mu.Lock()

	switch r.state {
	case StateBootstrapping:
		r.pending = append(r.pending, m)
		r.mu.Unlock()
		return
	case StateStreaming:
		applied, gap := r.applyLocked(m, false)
		if applied {
			r.recomputeRefsLocked()
		}
		r.mu.Unlock()

		if gap {
			// A skipped sequence leaves the book silently inconsistent;
			// force a fresh snapshot instead of serving it.
			slog.Warn("sequence gap detected, forcing resync", "book", r.book)
			r.worker.Bounce()
			return
		}
		if applied {
			r.publishRefs()
		}
	default:
		r.mu.Unlock()
	}
}

// applyLocked applies one diff message. Returns whether the book changed
// and whether a sequence gap was detected. Stale or duplicate sequences
// (<= current) are discarded: the feed is at-least-once.
func (r *Replica) applyLocked(m streamMessage, allowGap bool) (applied, gap bool) {
	seq, ok := m.sequence()
	if !ok {
		slog.Error("diff message without usable sequence", "book", r.book)
		return false, false
	}

	if seq <= r.sequence {
		slog.Debug("skipping stale diff", "book", r.book, "sequence", seq, "current", r.sequence)
		return false, false
	}
	if !allowGap && seq > r.sequence+1 {
		return false, true
	}

	for _, update := range m.Payload {
		side := r.bids
		if update.Side == sideAsk {
			side = r.asks
		}

		key := update.Rate.String()
		if update.Status == statusCancelled || update.Amount.IsZero() {
			delete(side, key)
		} else {
			side[key] = domain.PriceLevel{Price: update.Rate, Amount: update.Amount}
		}
	}

	r.sequence = seq
	return true, false
}

func (r *Replica) recomputeRefsLocked() {
	r.refBid = weightedAverage(sortedLevels(r.bids, true), r.targetNotional)
	r.refAsk = weightedAverage(sortedLevels(r.asks, false), r.targetNotional)
}

func (r *Replica) publishRefs() {
	if r.sink == nil {
		return
	}

	r.mu.RLock()
	bid, ask := r.refBid, r.refAsk
	r.mu.RUnlock()

	r.sink.PublishReferencePrice(domain.SideBuy, bid)
	r.sink.PublishReferencePrice(domain.SideSell, ask)
}

func (r *Replica) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}
