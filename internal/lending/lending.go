// Package lending implements the isolated per-asset LendingPool from
// spec.md §4.6: kinked-utilization interest, ray-scaled supply/borrow
// indices, origination fees, and a breaker that halts new borrows past a
// configured utilization ceiling. Grounded on josephblackelite-nhbchain's
// native/lending (InterestModel.BorrowAPR's base+slope1+slope2+kink shape,
// native/lending/math.go's index accrual) adapted from big.Rat APR terms to
// this core's ray-scaled fixedmath convention, and on the teacher's
// AccountManager lock/unlock discipline (pkg/app/core/account/manager.go)
// for collateral escrow.
package lending

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
)

var (
	// ErrBreakerTripped is returned by Borrow when utilization after the
	// borrow would exceed the pool's breaker threshold.
	ErrBreakerTripped = errors.New("lending: utilization breaker tripped")
	// ErrInsufficientLiquidity is returned by Borrow/Withdraw when the
	// pool's available cash cannot cover the request.
	ErrInsufficientLiquidity = errors.New("lending: insufficient pool liquidity")
	// ErrNoDebt is returned by Repay when the borrower has nothing owed.
	ErrNoDebt = errors.New("lending: no outstanding debt")
)

// RateModel is the kinked-utilization interest curve. Up to and including
// Kink the rate is BaseRateRay + Slope1Ray*u; beyond Kink it is
// BaseRateRay + Slope1Ray*Kink + Slope2Ray*(u-Kink). Slope1Ray is not
// divided by Kink, and Slope2Ray is not divided by (1-Kink). All rates and
// Kink are ray-scaled (fixedmath.Ray denominator); rates are per second.
type RateModel struct {
	BaseRateRay *big.Int
	Slope1Ray   *big.Int
	Slope2Ray   *big.Int
	KinkRay     *big.Int
}

// Utilization returns ray-scaled totalBorrows/totalCash+totalBorrows, or
// zero if the pool holds nothing.
func Utilization(totalBorrows, totalCash *big.Int) *big.Int {
	denom := new(big.Int).Add(totalBorrows, totalCash)
	if denom.Sign() == 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(totalBorrows, fixedmath.Ray)
	return num.Quo(num, denom)
}

// BorrowRatePerSecRay derives the per-second ray-scaled borrow rate from
// current utilization.
func (m *RateModel) BorrowRatePerSecRay(utilRay *big.Int) *big.Int {
	rate := new(big.Int).Set(m.BaseRateRay)
	if utilRay.Cmp(m.KinkRay) <= 0 {
		slope := fixedmath.RayMul(m.Slope1Ray, utilRay)
		return rate.Add(rate, slope)
	}
	slope1Full := fixedmath.RayMul(m.Slope1Ray, m.KinkRay)
	rate.Add(rate, slope1Full)
	excess := new(big.Int).Sub(utilRay, m.KinkRay)
	slope2 := fixedmath.RayMul(m.Slope2Ray, excess)
	return rate.Add(rate, slope2)
}

// Config holds a pool's static parameters (spec.md §3's LendingPool
// entity).
type Config struct {
	Asset                ledger.Asset
	CollateralFactorBps  int64 // base CF before any effective-CF bonus
	LiquidationThreshold int64 // bps; effective CF bonus must stay strictly below this
	OriginationFeeBps    int64
	BreakerUtilizationBps int64 // new borrows rejected once post-borrow utilization exceeds this
	ReserveFactorBps     int64 // share of each period's accrued interest retained as protocol reserves
	Rates                RateModel
}

// Pool is the LendingPool shared object for a single asset.
type Pool struct {
	mu     sync.Mutex
	cfg    Config
	cap    *admin.Cap
	ledger ledger.Primitive
	events events.Emitter

	totalCash         *big.Int
	totalBorrows      *big.Int
	reserves          *big.Int
	supplyIndexRay    *big.Int
	borrowIndexRay    *big.Int
	lastAccrualMs     int64

	supplyPrincipal map[common.Address]*big.Int // scaled by supplyIndexRay at deposit time
	borrowPrincipal map[common.Address]*big.Int // scaled by borrowIndexRay at borrow time
}

// NewPool constructs a pool starting at index 1.0 (ray-scaled).
func NewPool(cfg Config, cap *admin.Cap, prim ledger.Primitive, emitter events.Emitter, nowMs int64) *Pool {
	if emitter == nil {
		emitter = events.Noop{}
	}
	return &Pool{
		cfg: cfg, cap: cap, ledger: prim, events: emitter,
		totalCash: big.NewInt(0), totalBorrows: big.NewInt(0), reserves: big.NewInt(0),
		supplyIndexRay: new(big.Int).Set(fixedmath.Ray),
		borrowIndexRay: new(big.Int).Set(fixedmath.Ray),
		lastAccrualMs:  nowMs,
		supplyPrincipal: make(map[common.Address]*big.Int),
		borrowPrincipal: make(map[common.Address]*big.Int),
	}
}

// AccruePoolInterest rolls both indices forward to nowMs at the rate
// implied by utilization observed at the start of the period, per spec.md
// §4.6's discrete accrual model.
func (p *Pool) AccruePoolInterest(nowMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrueLocked(nowMs)
}

func (p *Pool) accrueLocked(nowMs int64) {
	dt := fixedmath.ClampDT((nowMs - p.lastAccrualMs) / 1000)
	if dt <= 0 {
		p.lastAccrualMs = nowMs
		return
	}
	util := Utilization(p.totalBorrows, p.totalCash)
	borrowRate := p.cfg.Rates.BorrowRatePerSecRay(util)
	p.borrowIndexRay = fixedmath.AccrueIndex(p.borrowIndexRay, borrowRate, dt)

	// Interest owed by borrowers this period compounds into totalBorrows
	// directly; individual debts track it implicitly via borrowIndexRay.
	// A ReserveFactorBps share of it is retained as protocol reserves
	// rather than passed through to suppliers, per spec.md §4.6.
	interestAccrued := fixedmath.RayMul(p.totalBorrows, borrowRateOverDt(borrowRate, dt))
	p.totalBorrows.Add(p.totalBorrows, interestAccrued)

	reserveShare := fixedmath.MulBps(interestAccrued, p.cfg.ReserveFactorBps, fixedmath.RoundFloor)
	p.reserves.Add(p.reserves, reserveShare)

	supplierShareBps := fixedmath.BpsDenominator - p.cfg.ReserveFactorBps
	supplyRate := fixedmath.RayMul(borrowRate, util) // suppliers earn borrower interest weighted by utilization
	supplyRate = fixedmath.MulBps(supplyRate, supplierShareBps, fixedmath.RoundFloor)
	p.supplyIndexRay = fixedmath.AccrueIndex(p.supplyIndexRay, supplyRate, dt)

	p.lastAccrualMs = nowMs
	p.events.Emit(events.InterestAccrued, zap.String("asset", string(p.cfg.Asset)), zap.String("util", util.String()))
}

func borrowRateOverDt(ratePerSecRay *big.Int, dtSec int64) *big.Int {
	return new(big.Int).Mul(ratePerSecRay, big.NewInt(dtSec))
}

// Supply deposits amount of the pool's asset from account's available
// ledger balance in exchange for supply-share principal.
func (p *Pool) Supply(account common.Address, amount *big.Int, nowMs int64) error {
	if amount.Sign() <= 0 {
		return errors.New("lending: amount must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrueLocked(nowMs)

	if err := p.ledger.Lock(p.cfg.Asset, account, amount); err != nil {
		return err
	}
	shares := fixedmath.RayDiv(amount, p.supplyIndexRay)
	cur, ok := p.supplyPrincipal[account]
	if !ok {
		cur = big.NewInt(0)
		p.supplyPrincipal[account] = cur
	}
	cur.Add(cur, shares)
	p.totalCash.Add(p.totalCash, amount)
	p.events.Emit(events.AssetSupplied, zap.String("asset", string(p.cfg.Asset)), zap.String("amount", amount.String()))
	return nil
}

// Withdraw redeems shares worth amount of underlying back to the account's
// available balance, failing if the pool lacks the cash.
func (p *Pool) Withdraw(account common.Address, amount *big.Int, nowMs int64) error {
	if amount.Sign() <= 0 {
		return errors.New("lending: amount must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrueLocked(nowMs)

	if amount.Cmp(p.totalCash) > 0 {
		return ErrInsufficientLiquidity
	}
	shares := fixedmath.RayDiv(amount, p.supplyIndexRay)
	cur, ok := p.supplyPrincipal[account]
	if !ok || cur.Cmp(shares) < 0 {
		return errors.New("lending: withdraw exceeds supplied balance")
	}
	cur.Sub(cur, shares)
	p.totalCash.Sub(p.totalCash, amount)
	if err := p.ledger.Unlock(p.cfg.Asset, account, amount); err != nil {
		return err
	}
	p.events.Emit(events.AssetWithdrawn, zap.String("asset", string(p.cfg.Asset)), zap.String("amount", amount.String()))
	return nil
}

// Borrow draws amount of underlying against account's collateral
// (collateral adequacy is the caller's responsibility — spec.md §4.6 scopes
// the pool itself to single-asset bookkeeping; cross-asset health checks
// live in the liquidation dispatcher). Rejects if the breaker trips.
func (p *Pool) Borrow(account common.Address, amount *big.Int, nowMs int64) error {
	if amount.Sign() <= 0 {
		return errors.New("lending: amount must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrueLocked(nowMs)

	if amount.Cmp(p.totalCash) > 0 {
		return ErrInsufficientLiquidity
	}
	postBorrows := new(big.Int).Add(p.totalBorrows, amount)
	postCash := new(big.Int).Sub(p.totalCash, amount)
	if Utilization(postBorrows, postCash).Cmp(bpsToRay(p.cfg.BreakerUtilizationBps)) > 0 {
		return ErrBreakerTripped
	}

	fee := fixedmath.MulBps(amount, p.cfg.OriginationFeeBps, fixedmath.RoundFloor)
	netOut := new(big.Int).Sub(amount, fee)

	shares := fixedmath.RayDiv(amount, p.borrowIndexRay)
	cur, ok := p.borrowPrincipal[account]
	if !ok {
		cur = big.NewInt(0)
		p.borrowPrincipal[account] = cur
	}
	cur.Add(cur, shares)

	p.totalBorrows.Add(p.totalBorrows, amount)
	p.totalCash.Sub(p.totalCash, amount)
	p.reserves.Add(p.reserves, fee)

	if err := p.ledger.CreditFrom(p.cfg.Asset, account, netOut); err != nil {
		return err
	}
	p.events.Emit(events.AssetBorrowed, zap.String("asset", string(p.cfg.Asset)), zap.String("amount", amount.String()))
	return nil
}

func bpsToRay(bps int64) *big.Int {
	r := new(big.Int).Mul(big.NewInt(bps), fixedmath.Ray)
	return r.Quo(r, big.NewInt(fixedmath.BpsDenominator))
}

// Repay reduces account's outstanding debt by amount, capping amount at
// what is owed.
func (p *Pool) Repay(account common.Address, amount *big.Int, nowMs int64) error {
	if amount.Sign() <= 0 {
		return errors.New("lending: amount must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrueLocked(nowMs)

	owed := p.debtOfLocked(account)
	if owed.Sign() == 0 {
		return ErrNoDebt
	}
	if amount.Cmp(owed) > 0 {
		amount = owed
	}
	if err := p.ledger.DebitTo(p.cfg.Asset, account, amount); err != nil {
		return err
	}
	shares := fixedmath.RayDiv(amount, p.borrowIndexRay)
	cur := p.borrowPrincipal[account]
	cur.Sub(cur, shares)
	if cur.Sign() < 0 {
		cur.SetInt64(0)
	}
	p.totalBorrows.Sub(p.totalBorrows, amount)
	p.totalCash.Add(p.totalCash, amount)
	p.events.Emit(events.DebtRepaid, zap.String("asset", string(p.cfg.Asset)), zap.String("amount", amount.String()))
	return nil
}

func (p *Pool) debtOfLocked(account common.Address) *big.Int {
	shares, ok := p.borrowPrincipal[account]
	if !ok {
		return big.NewInt(0)
	}
	return fixedmath.RayMul(shares, p.borrowIndexRay)
}

// DebtOf returns account's current outstanding debt, accrual-adjusted as
// of the last AccruePoolInterest call.
func (p *Pool) DebtOf(account common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.debtOfLocked(account)
}

// SupplyBalanceOf returns account's redeemable underlying balance.
func (p *Pool) SupplyBalanceOf(account common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.supplyBalanceOfLocked(account)
}

func (p *Pool) supplyBalanceOfLocked(account common.Address) *big.Int {
	shares, ok := p.supplyPrincipal[account]
	if !ok {
		return big.NewInt(0)
	}
	return fixedmath.RayMul(shares, p.supplyIndexRay)
}

// CollateralValueOf returns account's supplied balance scaled by the
// pool's liquidation threshold — the debt level above which the
// account becomes eligible for liquidation in this silo (spec.md §4.8:
// liquidatable iff collateral-adjusted value < debt-adjusted value). This
// pool is single-asset, so an account's supply position here doubles as
// its collateral against its own borrow position here.
func (p *Pool) CollateralValueOf(account common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	supplied := p.supplyBalanceOfLocked(account)
	return fixedmath.MulBps(supplied, p.cfg.LiquidationThreshold, fixedmath.RoundFloor)
}

// EffectiveCollateralFactorBps returns the base CF plus a bonus (e.g. for a
// stake-tier boost), clamped strictly below LiquidationThreshold per
// spec.md §4.6.
func (p *Pool) EffectiveCollateralFactorBps(bonusBps int64) int64 {
	eff := p.cfg.CollateralFactorBps + bonusBps
	if eff >= p.cfg.LiquidationThreshold {
		eff = p.cfg.LiquidationThreshold - 1
	}
	return eff
}

// SeizeCollateralDebt is called by the liquidation dispatcher to forcibly
// write down a borrower's debt during liquidation: it removes the borrow
// shares worth repayAmount (at most the account's shares), subtracts
// repayAmount from total borrows and adds it to pool cash. It moves no
// collateral, credits nothing to reserves and moves no ledger funds.
func (p *Pool) SeizeCollateralDebt(account common.Address, repayAmount *big.Int, nowMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrueLocked(nowMs)

	shares := fixedmath.RayDiv(repayAmount, p.borrowIndexRay)
	cur, ok := p.borrowPrincipal[account]
	if !ok {
		return ErrNoDebt
	}
	if shares.Cmp(cur) > 0 {
		shares = cur
	}
	cur.Sub(cur, shares)
	p.totalBorrows.Sub(p.totalBorrows, repayAmount)
	p.totalCash.Add(p.totalCash, repayAmount)
	p.events.Emit(events.LiquidationExecuted, zap.String("asset", string(p.cfg.Asset)))
	return nil
}

// SetBreakerUtilizationBps is an admin-gated parameter update.
func (p *Pool) SetBreakerUtilizationBps(caller common.Address, bps int64) error {
	if err := p.cap.Authorize(caller); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.BreakerUtilizationBps = bps
	p.events.Emit(events.ParamsUpdated)
	return nil
}

// UpdatePoolRates is the admin-gated update_pool_rates entry point
// (spec.md §3/§6): it accrues interest up to nowMs under the old curve
// before swapping in the new RateModel, so no interest is retroactively
// mispriced across the boundary.
func (p *Pool) UpdatePoolRates(caller common.Address, rates RateModel, nowMs int64) error {
	if err := p.cap.Authorize(caller); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrueLocked(nowMs)
	p.cfg.Rates = rates
	p.events.Emit(events.RateUpdated, zap.String("asset", string(p.cfg.Asset)))
	return nil
}

// TotalCashBorrowsReserves exposes the pool's three aggregates, used by
// invariant tests asserting cash + borrows >= reserves at rest.
func (p *Pool) TotalCashBorrowsReserves() (cash, borrows, reserves *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.totalCash), new(big.Int).Set(p.totalBorrows), new(big.Int).Set(p.reserves)
}
