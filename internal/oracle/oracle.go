// Package oracle implements the allow-listed price-feed gate every risk
// check in the core reads through (spec.md §4.2). Grounded on the teacher's
// MarketRegistry (pkg/app/core/market/registry.go) — a thread-safe,
// symbol-keyed registry with admin-gated mutation — generalized from
// markets to price feeds.
package oracle

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/unxversal/core/internal/admin"
)

var (
	// ErrUnknownSymbol is returned by Price/PushUpdate/MaxStaleness when
	// symbol has no feed.
	ErrUnknownSymbol = errors.New("oracle: unknown symbol")
	// ErrStalePrice is returned when the feed's last update predates
	// max_staleness_ms per spec.md §4.2.
	ErrStalePrice = errors.New("oracle: stale price")
	// ErrNegativePrice is returned when the underlying feed yields a
	// negative value.
	ErrNegativePrice = errors.New("oracle: negative price")
)

// Feed is one allow-listed price source: a feed id (opaque to the core —
// interpreted by whatever oracle adapter pushes updates) and a staleness
// bound.
type Feed struct {
	FeedID        string
	MaxStalenessMs int64

	// mutable, updated by PushUpdate (called by the oracle adapter, an
	// external collaborator outside this package's concern)
	lastPriceMicro *big.Int // micro-units, may be negative if the adapter misbehaves
	lastUpdateMs   int64
}

// Registry is the OracleRegistry shared object: symbol -> Feed. Single
// writer at a time per spec.md §5.
type Registry struct {
	mu    sync.RWMutex
	cap   *admin.Cap
	feeds map[string]*Feed
}

// NewRegistry creates an empty registry gated by cap.
func NewRegistry(cap *admin.Cap) *Registry {
	return &Registry{cap: cap, feeds: make(map[string]*Feed)}
}

// SetFeed allow-lists (or updates the staleness bound of) a feed. Requires
// AdminCap per spec.md §4.2.
func (r *Registry) SetFeed(caller common.Address, symbol, feedID string, maxStalenessMs int64) error {
	if err := r.cap.Authorize(caller); err != nil {
		return err
	}
	if maxStalenessMs <= 0 {
		return errors.New("oracle: max staleness must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[symbol]
	if !ok {
		f = &Feed{}
		r.feeds[symbol] = f
	}
	f.FeedID = feedID
	f.MaxStalenessMs = maxStalenessMs
	return nil
}

// RemoveFeed de-lists a symbol. Requires AdminCap.
func (r *Registry) RemoveFeed(caller common.Address, symbol string) error {
	if err := r.cap.Authorize(caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.feeds, symbol)
	return nil
}

// PushUpdate records a new observation for symbol's feed. This is the seam
// an external oracle adapter (Pyth, Chainlink, a push relayer) writes
// through; it is not gated by AdminCap since price pushes are continuous
// and not a governance action, but the symbol must already be allow-listed.
func (r *Registry) PushUpdate(symbol string, priceMicro *big.Int, nowMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[symbol]
	if !ok {
		return ErrUnknownSymbol
	}
	f.lastPriceMicro = new(big.Int).Set(priceMicro)
	f.lastUpdateMs = nowMs
	return nil
}

// Price reads symbol's price at time nowMs, enforcing staleness and
// allow-listing per spec.md §4.2's exact contract.
func (r *Registry) Price(symbol string, nowMs int64) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.feeds[symbol]
	if !ok {
		return nil, ErrUnknownSymbol
	}
	if f.lastPriceMicro == nil {
		return nil, ErrStalePrice
	}
	if nowMs-f.lastUpdateMs > f.MaxStalenessMs {
		return nil, ErrStalePrice
	}
	if f.lastPriceMicro.Sign() < 0 {
		return nil, ErrNegativePrice
	}
	return new(big.Int).Set(f.lastPriceMicro), nil
}

// MaxStaleness returns the configured staleness bound for symbol, used by
// callers constructing boundary-condition tests.
func (r *Registry) MaxStaleness(symbol string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.feeds[symbol]
	if !ok {
		return 0, ErrUnknownSymbol
	}
	return f.MaxStalenessMs, nil
}

// IsListed reports whether symbol has an allow-listed feed.
func (r *Registry) IsListed(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.feeds[symbol]
	return ok
}
