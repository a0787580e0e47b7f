// Package orderbook implements the price-time priority CLOB described in
// spec.md §4.5: Market parameters, Order, and the OrderBook matching engine
// with maker bonds and claimable per-fill maker proceeds. Grounded on the
// teacher's pkg/app/core/orderbook (heap-based best-price tracking, FIFO
// price-level queues, O(1) cancel via an order index) and pkg/app/core/
// market.go (tick/lot/min-notional validation), generalized from int64
// ticks to *big.Int and from a single implicit fee schedule to the shared
// fees.Config/fees.Vault.
package orderbook

import (
	"errors"
	"math/big"

	"github.com/unxversal/core/internal/ledger"
)

var (
	// ErrInvalidPrice is returned when price is non-positive or not a
	// multiple of the market's tick size.
	ErrInvalidPrice = errors.New("orderbook: invalid price")
	// ErrInvalidQty is returned when qty is non-positive or not a multiple
	// of the market's lot size.
	ErrInvalidQty = errors.New("orderbook: invalid quantity")
	// ErrBelowMinNotional is returned when price*qty is below the market's
	// minimum notional.
	ErrBelowMinNotional = errors.New("orderbook: order notional below minimum")
)

// Side is the direction of an order: Buy pays quote to receive base, Sell
// pays base to receive quote.
type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

// TimeInForce selects whether unfilled remainder rests (GTC) or is
// cancelled immediately (IOC), matching spec.md §4.5.
type TimeInForce int8

const (
	GTC TimeInForce = iota
	IOC
)

// Market holds the tick/lot/notional bounds and fee-adjacent parameters for
// one trading pair, directly generalizing the teacher's Market
// (pkg/app/core/market.go: TickSize, LotSize, MinNotional) from integer
// ticks to arbitrary-precision integers.
type Market struct {
	Symbol       string
	BaseAsset    ledger.Asset
	QuoteAsset   ledger.Asset
	TickSize     *big.Int
	LotSize      *big.Int
	MinNotional  *big.Int
	MakerBondBps int64 // bps of notional locked as a maker's resting-order bond
}

// ValidateOrder enforces the market's tick/lot/min-notional bounds.
func (m *Market) ValidateOrder(price, qty *big.Int) error {
	if price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	if new(big.Int).Mod(price, m.TickSize).Sign() != 0 {
		return ErrInvalidPrice
	}
	if qty.Sign() <= 0 {
		return ErrInvalidQty
	}
	if new(big.Int).Mod(qty, m.LotSize).Sign() != 0 {
		return ErrInvalidQty
	}
	notional := new(big.Int).Mul(price, qty)
	if notional.Cmp(m.MinNotional) < 0 {
		return ErrBelowMinNotional
	}
	return nil
}
