// Package derivatives implements DerivativesCore (spec.md §4.9): futures
// and perpetual markets with mark-to-market position accounting, a clamped
// funding index for perpetuals, and TWAP-derived expiry settlement for
// dated futures. Grounded on the teacher's Market funding fields
// (pkg/app/core/market.go: FundingInterval, MaxFundingRateBps) generalized
// from a fixed 1-hour interval to the spec's 8-hour cadence, and on
// AccountManager's position/margin bookkeeping adapted to a funding-index
// settlement model instead of per-trade cash transfer.
package derivatives

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/unxversal/core/internal/admin"
	"github.com/unxversal/core/internal/events"
	"github.com/unxversal/core/internal/fixedmath"
	"github.com/unxversal/core/internal/ledger"
	"github.com/unxversal/core/internal/oracle"
)

// FundingIntervalMs is the funding accrual cadence: 8 hours, per spec.md
// §4.9 (the teacher's perp uses 1 hour; this core follows the spec's
// stated cadence instead).
const FundingIntervalMs int64 = 8 * 60 * 60 * 1000

var (
	// ErrUnknownMarket is returned for a market symbol not registered.
	ErrUnknownMarket = errors.New("derivatives: unknown market")
	// ErrMarketExpired is returned by OpenPosition once a dated future's
	// expiry has passed.
	ErrMarketExpired = errors.New("derivatives: market has expired")
	// ErrNoPosition is returned by ClosePosition for an account with no
	// open position in the market.
	ErrNoPosition = errors.New("derivatives: no open position")
	// ErrInsufficientMargin is returned by OpenPosition when the account's
	// margin balance cannot support the requested notional at the
	// market's initial margin requirement.
	ErrInsufficientMargin = errors.New("derivatives: insufficient margin")
)

// MarketKind distinguishes dated futures (have ExpiryMs, settle once) from
// perpetuals (no expiry, settle continuously via funding).
type MarketKind int8

const (
	Perpetual MarketKind = iota
	Future
)

// Market holds one derivatives market's static parameters and mutable
// funding/settlement state.
type Market struct {
	Symbol              string
	UnderlyingSymbol    string // oracle symbol used for mark price
	MarginAsset         ledger.Asset
	Kind                MarketKind
	ExpiryMs            int64 // Future only; 0 for Perpetual
	InitialMarginBps    int64
	MaintenanceMarginBps int64
	MaxFundingRatePerIntervalBps int64

	fundingIndexRay   *big.Int // cumulative long-pays-short funding index
	lastFundingMs     int64
	settled           bool
	settlementPrice   *big.Int
}

type position struct {
	sizeSigned         *big.Int // positive = long, negative = short
	entryFundingIdxRay *big.Int
	entryPrice         *big.Int
	pendingFundingOwed *big.Int // set by settleFundingIntoEntry, realized by MtmStep
}

// Core is the DerivativesCore shared object across all registered markets.
type Core struct {
	mu      sync.Mutex
	cap     *admin.Cap
	oracle  *oracle.Registry
	ledger  ledger.Primitive
	events  events.Emitter

	markets   map[string]*Market
	positions map[string]map[common.Address]*position // market symbol -> account -> position
}

// NewCore constructs an empty DerivativesCore.
func NewCore(cap *admin.Cap, oracleReg *oracle.Registry, prim ledger.Primitive, emitter events.Emitter) *Core {
	if emitter == nil {
		emitter = events.Noop{}
	}
	return &Core{
		cap: cap, oracle: oracleReg, ledger: prim, events: emitter,
		markets:   make(map[string]*Market),
		positions: make(map[string]map[common.Address]*position),
	}
}

// ListMarket admin-gates registering or updating a market.
func (c *Core) ListMarket(caller common.Address, m Market, nowMs int64) error {
	if err := c.cap.Authorize(caller); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.markets[m.Symbol]
	if ok {
		m.fundingIndexRay = existing.fundingIndexRay
		m.lastFundingMs = existing.lastFundingMs
	} else {
		m.fundingIndexRay = big.NewInt(0) // signed index: starts at zero, not Ray
		m.lastFundingMs = nowMs
	}
	c.markets[m.Symbol] = &m
	if _, ok := c.positions[m.Symbol]; !ok {
		c.positions[m.Symbol] = make(map[common.Address]*position)
	}
	c.events.Emit(events.ParamsUpdated)
	return nil
}

func (c *Core) posOf(symbol string, account common.Address) *position {
	m := c.positions[symbol]
	p, ok := m[account]
	if !ok {
		p = &position{sizeSigned: big.NewInt(0), entryFundingIdxRay: big.NewInt(0), entryPrice: big.NewInt(0), pendingFundingOwed: big.NewInt(0)}
		m[account] = p
	}
	return p
}

// OpenPosition increases (or opens) account's signed position in symbol by
// sizeDelta (positive = buy/long, negative = sell/short) at the given mark
// price, locking initial margin against the notional.
func (c *Core) OpenPosition(account common.Address, symbol string, sizeDelta, price *big.Int, nowMs int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[symbol]
	if !ok {
		return ErrUnknownMarket
	}
	if m.Kind == Future && m.ExpiryMs != 0 && nowMs >= m.ExpiryMs {
		return ErrMarketExpired
	}

	p := c.posOf(symbol, account)
	c.settleFundingIntoEntry(m, p)

	notional := new(big.Int).Mul(new(big.Int).Abs(sizeDelta), price)
	margin := fixedmath.MulBps(notional, m.InitialMarginBps, fixedmath.RoundHalfEven)
	if err := c.ledger.Lock(m.MarginAsset, account, margin); err != nil {
		return ErrInsufficientMargin
	}

	newSize := new(big.Int).Add(p.sizeSigned, sizeDelta)
	switch {
	case p.sizeSigned.Sign() == 0:
		// Opening from flat: the trade price is the entire entry basis.
		p.entryPrice = new(big.Int).Set(price)
	case sameSign(p.sizeSigned, sizeDelta):
		// Growing on the existing side: blend entry price by notional
		// weight so P&L and margin health stay correct for positions
		// built from more than one fill.
		existingNotional := new(big.Int).Mul(new(big.Int).Abs(p.sizeSigned), p.entryPrice)
		addedNotional := new(big.Int).Mul(new(big.Int).Abs(sizeDelta), price)
		totalSize := new(big.Int).Add(new(big.Int).Abs(p.sizeSigned), new(big.Int).Abs(sizeDelta))
		blended := new(big.Int).Add(existingNotional, addedNotional)
		p.entryPrice = blended.Quo(blended, totalSize)
	case newSize.Sign() == 0:
		p.entryPrice = big.NewInt(0)
	case newSize.Sign() == p.sizeSigned.Sign():
		// Reducing without flipping: the remaining position keeps its
		// entry basis.
	default:
		// Flipping to the other side: the new trade price is the entry
		// basis for the resulting net position.
		p.entryPrice = new(big.Int).Set(price)
	}
	p.sizeSigned = newSize
	c.events.Emit(events.OrderMatched, zap.String("market", symbol), zap.String("size", sizeDelta.String()))
	return nil
}

func sameSign(a, b *big.Int) bool {
	return a.Sign() == b.Sign()
}

// ClosePosition reduces account's position by sizeDelta (same sign
// convention as OpenPosition's argument but interpreted as a reduction),
// realizing P&L against the margin asset and releasing proportional
// margin.
func (c *Core) ClosePosition(account common.Address, symbol string, reduceBy, price *big.Int, nowMs int64) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[symbol]
	if !ok {
		return nil, ErrUnknownMarket
	}
	p := c.posOf(symbol, account)
	if p.sizeSigned.Sign() == 0 {
		return nil, ErrNoPosition
	}
	c.settleFundingIntoEntry(m, p)

	closingSize := new(big.Int).Set(reduceBy)
	if closingSize.CmpAbs(p.sizeSigned) > 0 {
		closingSize.Set(p.sizeSigned)
	}

	pnl := new(big.Int).Sub(price, p.entryPrice)
	pnl.Mul(pnl, closingSize)

	notionalClosed := new(big.Int).Mul(new(big.Int).Abs(closingSize), p.entryPrice)
	marginFreed := fixedmath.MulBps(notionalClosed, m.InitialMarginBps, fixedmath.RoundHalfEven)

	if pnl.Sign() > 0 {
		if err := c.ledger.CreditFrom(m.MarginAsset, account, pnl); err != nil {
			return nil, err
		}
	} else if pnl.Sign() < 0 {
		loss := new(big.Int).Neg(pnl)
		if err := c.ledger.SeizeLocked(m.MarginAsset, account, loss); err != nil {
			return nil, err
		}
	}
	if err := c.ledger.Unlock(m.MarginAsset, account, marginFreed); err != nil {
		return nil, err
	}

	p.sizeSigned.Sub(p.sizeSigned, closingSize)
	if p.sizeSigned.Sign() == 0 {
		p.entryPrice = big.NewInt(0)
	}
	c.events.Emit(events.OrderMatched, zap.String("market", symbol), zap.String("closed", closingSize.String()))
	return pnl, nil
}

// FundingStep accrues a clamped funding rate into the market's funding
// index once FundingIntervalMs has elapsed, derived from the premium
// between the orderbook mark price (markPrice, supplied by the caller from
// the relevant OrderBook) and the oracle's underlying price.
func (c *Core) FundingStep(symbol string, markPrice *big.Int, nowMs int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[symbol]
	if !ok {
		return ErrUnknownMarket
	}
	if m.Kind != Perpetual {
		return nil
	}
	if nowMs-m.lastFundingMs < FundingIntervalMs {
		return nil
	}
	oraclePrice, err := c.oracle.Price(m.UnderlyingSymbol, nowMs)
	if err != nil {
		return err
	}
	if oraclePrice.Sign() == 0 {
		return nil
	}

	premiumBps := new(big.Int).Sub(markPrice, oraclePrice)
	premiumBps.Mul(premiumBps, big.NewInt(fixedmath.BpsDenominator))
	premiumBps.Quo(premiumBps, oraclePrice)

	capBps := big.NewInt(m.MaxFundingRatePerIntervalBps)
	if premiumBps.CmpAbs(capBps) > 0 {
		if premiumBps.Sign() < 0 {
			premiumBps = new(big.Int).Neg(capBps)
		} else {
			premiumBps = capBps
		}
	}

	// fundingIndexRay accumulates premiumBps converted to a per-contract
	// cash amount at the oracle price; longs pay shorts when premiumBps>0.
	delta := new(big.Int).Mul(oraclePrice, premiumBps)
	delta.Quo(delta, big.NewInt(fixedmath.BpsDenominator))
	m.fundingIndexRay.Add(m.fundingIndexRay, delta)
	m.lastFundingMs = nowMs
	c.events.Emit(events.ParamsUpdated, zap.String("market", symbol), zap.String("funding_premium_bps", premiumBps.String()))
	return nil
}

// settleFundingIntoEntry records the funding accrued since the position's
// last touch in pendingFundingOwed, without moving any ledger funds, then
// rebases the position's entry funding index to the market's current value.
func (c *Core) settleFundingIntoEntry(m *Market, p *position) {
	if p.sizeSigned.Sign() == 0 {
		p.entryFundingIdxRay = new(big.Int).Set(m.fundingIndexRay)
		return
	}
	delta := new(big.Int).Sub(m.fundingIndexRay, p.entryFundingIdxRay)
	if delta.Sign() == 0 {
		return
	}
	// Longs pay when the index rises; shorts receive. owed is the index
	// delta times the signed size, negative meaning the account owes funding.
	owed := new(big.Int).Mul(delta, p.sizeSigned)
	owed.Neg(owed)
	p.entryFundingIdxRay = new(big.Int).Set(m.fundingIndexRay)
	// Funding settlement net-zeroes across all accounts in a market; a
	// keeper sweeps the per-account deltas through MtmStep rather than
	// this private helper moving ledger funds directly, since this helper
	// has no ledger.Primitive access to the market's asset bound
	// separately per account here — MtmStep performs the actual transfer.
	p.pendingFundingOwed = owed
}

// MtmStep realizes an account's pending funding settlement (computed by
// settleFundingIntoEntry during the account's last Open/Close call) against
// its margin balance. A keeper calls this per account per funding interval
// to actually move cash, since settleFundingIntoEntry only updates
// bookkeeping state.
func (c *Core) MtmStep(account common.Address, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[symbol]
	if !ok {
		return ErrUnknownMarket
	}
	p := c.posOf(symbol, account)
	if p.pendingFundingOwed == nil || p.pendingFundingOwed.Sign() == 0 {
		return nil
	}
	owed := p.pendingFundingOwed
	p.pendingFundingOwed = big.NewInt(0)
	if owed.Sign() > 0 {
		return c.ledger.CreditFrom(m.MarginAsset, account, owed)
	}
	return c.ledger.SeizeLocked(m.MarginAsset, account, new(big.Int).Neg(owed))
}

// SettleExpiry marks a dated future settled at settlementPrice (the
// caller-supplied TWAP over the settlement window) and pays out every open
// position's final P&L.
func (c *Core) SettleExpiry(caller common.Address, symbol string, settlementPrice *big.Int, nowMs int64) error {
	if err := c.cap.Authorize(caller); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[symbol]
	if !ok {
		return ErrUnknownMarket
	}
	if m.Kind != Future || m.settled {
		return nil
	}
	m.settled = true
	m.settlementPrice = new(big.Int).Set(settlementPrice)

	for account, p := range c.positions[symbol] {
		if p.sizeSigned.Sign() == 0 {
			continue
		}
		pnl := new(big.Int).Sub(settlementPrice, p.entryPrice)
		pnl.Mul(pnl, p.sizeSigned)
		if pnl.Sign() > 0 {
			c.ledger.CreditFrom(m.MarginAsset, account, pnl)
		} else if pnl.Sign() < 0 {
			c.ledger.SeizeLocked(m.MarginAsset, account, new(big.Int).Neg(pnl))
		}
		notional := new(big.Int).Mul(new(big.Int).Abs(p.sizeSigned), p.entryPrice)
		margin := fixedmath.MulBps(notional, m.InitialMarginBps, fixedmath.RoundHalfEven)
		c.ledger.Unlock(m.MarginAsset, account, margin)
		p.sizeSigned.SetInt64(0)
	}
	c.events.Emit(events.ParamsUpdated, zap.String("market", symbol), zap.String("settlement_price", settlementPrice.String()))
	return nil
}

// PositionOf returns account's current signed size and entry price in
// symbol.
func (c *Core) PositionOf(symbol string, account common.Address) (sizeSigned, entryPrice *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.posOf(symbol, account)
	return new(big.Int).Set(p.sizeSigned), new(big.Int).Set(p.entryPrice)
}

// MarginHealthBps returns account's position margin ratio in bps:
// (margin balance + unrealized pnl) / maintenance requirement, using
// markPrice for unrealized P&L. Below 10_000 means the position is
// liquidatable.
func (c *Core) MarginHealthBps(symbol string, account common.Address, markPrice *big.Int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[symbol]
	if !ok {
		return 0, ErrUnknownMarket
	}
	p := c.posOf(symbol, account)
	if p.sizeSigned.Sign() == 0 {
		return 1<<62 - 1, nil
	}
	unrealized := new(big.Int).Sub(markPrice, p.entryPrice)
	unrealized.Mul(unrealized, p.sizeSigned)

	margin := c.ledger.Locked(m.MarginAsset, account)
	equity := new(big.Int).Add(margin, unrealized)

	notional := new(big.Int).Mul(new(big.Int).Abs(p.sizeSigned), markPrice)
	maintReq := fixedmath.MulBps(notional, m.MaintenanceMarginBps, fixedmath.RoundHalfEven)
	if maintReq.Sign() == 0 {
		return 1<<62 - 1, nil
	}
	ratio := new(big.Int).Mul(equity, big.NewInt(fixedmath.BpsDenominator))
	ratio.Quo(ratio, maintReq)
	return ratio.Int64(), nil
}
