// Package synth implements the SyntheticRegistry and per-vault synthetic
// debt tracking from spec.md §4.7: multi-symbol debt against a single
// collateral balance, continuous lazy stability-fee accrual, and CR checks
// against the strictest listed symbol's minimum. Grounded on the teacher's
// AccountManager collateral-lock discipline (pkg/app/core/account/
// manager.go) generalized from margin-for-a-position to collateral-for-
// synthetic-debt, and on josephblackelite-nhbchain/native/lending's
// index-based interest accrual reused here for the per-symbol stability
// fee index.
package synth

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

var (
	// ErrUnknownSymbol is returned for a synthetic symbol not registered.
	ErrUnknownSymbol = errors.New("synth: unknown symbol")
	// ErrDebtCeilingExceeded is returned by Mint when the symbol's global
	// debt ceiling would be breached.
	ErrDebtCeilingExceeded = errors.New("synth: debt ceiling exceeded")
	// ErrBelowMinCR is returned by Mint/Withdraw when the resulting
	// collateralization ratio would fall below the strictest listed
	// symbol's minimum.
	ErrBelowMinCR = errors.New("synth: below minimum collateralization ratio")
	// ErrNoDebt is returned by Burn for a symbol the vault owes nothing on.
	ErrNoDebt = errors.New("synth: no outstanding debt for symbol")
	// ErrVaultHealthy is returned by Liquidate when the vault's CR is still
	// at or above the strictest minimum.
	ErrVaultHealthy = errors.New("synth: vault is not eligible for liquidation")
)

// SymbolConfig is one synthetic asset's static parameters.
type SymbolConfig struct {
	Symbol              string
	MinCRBps            int64 // minimum collateralization ratio, e.g. 15000 = 150%
	StabilityFeePerSecRay *big.Int
	DebtCeiling         *big.Int
	LiquidationPenaltyBps int64
}

type symbolState struct {
	cfg           SymbolConfig
	feeIndexRay   *big.Int
	lastAccrualMs int64
	totalDebt     *big.Int // aggregate outstanding principal across all vaults, index-adjusted at read time is per-vault
}

// Registry is the SyntheticRegistry: admin-gated symbol listing plus the
// collateral-asset-keyed set of vaults.
type Registry struct {
	mu       sync.Mutex
	cap      *admin.Cap
	oracle   *oracle.Registry
	ledger   ledger.Primitive
	events   events.Emitter
	collAsset ledger.Asset

	symbols map[string]*symbolState
	vaults  map[common.Address]*vaultState
}

type vaultState struct {
	debtShares map[string]*big.Int // symbol -> shares scaled by that symbol's feeIndexRay at mint time
}

// NewRegistry constructs an empty registry over a single collateral asset.
func NewRegistry(cap *admin.Cap, oracleReg *oracle.Registry, prim ledger.Primitive, collAsset ledger.Asset, emitter events.Emitter) *Registry {
	if emitter == nil {
		emitter = events.Noop{}
	}
	return &Registry{
		cap: cap, oracle: oracleReg, ledger: prim, events: emitter, collAsset: collAsset,
		symbols: make(map[string]*symbolState),
		vaults:  make(map[common.Address]*vaultState),
	}
}

// ListSymbol admin-gates adding or updating a synthetic symbol.
func (r *Registry) ListSymbol(caller common.Address, cfg SymbolConfig, nowMs int64) error {
	if err := r.cap.Authorize(caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.symbols[cfg.Symbol]
	if !ok {
		s = &symbolState{feeIndexRay: new(big.Int).Set(fixedmath.Ray), lastAccrualMs: nowMs, totalDebt: big.NewInt(0)}
		r.symbols[cfg.Symbol] = s
	}
	s.cfg = cfg
	r.events.Emit(events.ParamsUpdated)
	return nil
}

func (r *Registry) vaultOf(account common.Address) *vaultState {
	v, ok := r.vaults[account]
	if !ok {
		v = &vaultState{debtShares: make(map[string]*big.Int)}
		r.vaults[account] = v
	}
	return v
}

func (r *Registry) accrueSymbol(s *symbolState, nowMs int64) {
	dt := fixedmath.ClampDT((nowMs - s.lastAccrualMs) / 1000)
	if dt <= 0 {
		s.lastAccrualMs = nowMs
		return
	}
	s.feeIndexRay = fixedmath.AccrueIndex(s.feeIndexRay, s.cfg.StabilityFeePerSecRay, dt)
	s.lastAccrualMs = nowMs
}

// AccrueStabilityFees rolls every listed symbol's fee index forward. A
// keeper calls this periodically (spec.md §4.9's poll loop).
func (r *Registry) AccrueStabilityFees(nowMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.symbols {
		r.accrueSymbol(s, nowMs)
	}
	r.events.Emit(events.StabilityAccrued)
}

func (r *Registry) debtOfLocked(v *vaultState, symbol string) *big.Int {
	s, ok := r.symbols[symbol]
	if !ok {
		return big.NewInt(0)
	}
	shares, ok := v.debtShares[symbol]
	if !ok {
		return big.NewInt(0)
	}
	return fixedmath.RayMul(shares, s.feeIndexRay)
}

// DebtOf returns account's current symbol debt, fee-accrual adjusted as of
// the last AccrueStabilityFees call.
func (r *Registry) DebtOf(account common.Address, symbol string) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vaults[account]
	if !ok {
		return big.NewInt(0)
	}
	return r.debtOfLocked(v, symbol)
}

// crBps computes account's aggregate collateralization ratio in bps:
// collateral_value / total_debt_value, using the oracle price of each
// symbol the vault has debt in plus the collateral asset's own price
// (collAsset is assumed priced in the same oracle under its own symbol).
func (r *Registry) crBps(v *vaultState, account common.Address, collSymbol string, nowMs int64) (int64, error) {
	collAmt := r.ledger.Locked(r.collAsset, account)
	collPrice, err := r.oracle.Price(collSymbol, nowMs)
	if err != nil {
		return 0, err
	}
	collValue := new(big.Int).Mul(collAmt, collPrice)

	debtValue := big.NewInt(0)
	for symbol, shares := range v.debtShares {
		if shares.Sign() == 0 {
			continue
		}
		s := r.symbols[symbol]
		debt := fixedmath.RayMul(shares, s.feeIndexRay)
		price, err := r.oracle.Price(symbol, nowMs)
		if err != nil {
			return 0, err
		}
		debtValue.Add(debtValue, new(big.Int).Mul(debt, price))
	}
	if debtValue.Sign() == 0 {
		return 1<<62 - 1, nil // no debt: effectively infinite CR
	}
	ratio := new(big.Int).Mul(collValue, big.NewInt(fixedmath.BpsDenominator))
	ratio.Quo(ratio, debtValue)
	return ratio.Int64(), nil
}

// strictestMinCRBps returns the highest (strictest) MinCRBps across symbols
// the vault currently owes debt in, per spec.md §4.7.
func (r *Registry) strictestMinCRBps(v *vaultState) int64 {
	var strictest int64
	for symbol, shares := range v.debtShares {
		if shares.Sign() == 0 {
			continue
		}
		if s, ok := r.symbols[symbol]; ok && s.cfg.MinCRBps > strictest {
			strictest = s.cfg.MinCRBps
		}
	}
	return strictest
}

// DepositCollateral locks amount of the collateral asset from account's
// available balance.
func (r *Registry) DepositCollateral(account common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return errors.New("synth: amount must be positive")
	}
	if err := r.ledger.Lock(r.collAsset, account, amount); err != nil {
		return err
	}
	r.events.Emit(events.CollateralDeposited, zap.String("account", account.Hex()))
	return nil
}

// WithdrawCollateral unlocks amount back to account's available balance,
// rejecting the withdrawal if it would breach the strictest minimum CR.
func (r *Registry) WithdrawCollateral(account common.Address, amount *big.Int, collSymbol string, nowMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.vaultOf(account)

	locked := r.ledger.Locked(r.collAsset, account)
	projected := new(big.Int).Sub(locked, amount)
	if projected.Sign() < 0 {
		return errors.New("synth: withdraw exceeds locked collateral")
	}
	if err := r.ledger.Unlock(r.collAsset, account, amount); err != nil {
		return err
	}
	cr, err := r.crBps(v, account, collSymbol, nowMs)
	if err != nil {
		r.ledger.Lock(r.collAsset, account, amount)
		return err
	}
	if cr < r.strictestMinCRBps(v) {
		r.ledger.Lock(r.collAsset, account, amount)
		return ErrBelowMinCR
	}
	r.events.Emit(events.CollateralWithdrawn, zap.String("account", account.Hex()))
	return nil
}

// Mint issues amount of symbol's synthetic debt against account's posted
// collateral, enforcing the debt ceiling and post-mint CR floor.
func (r *Registry) Mint(account common.Address, symbol string, amount *big.Int, collSymbol string, nowMs int64) error {
	if amount.Sign() <= 0 {
		return errors.New("synth: amount must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.symbols[symbol]
	if !ok {
		return ErrUnknownSymbol
	}
	r.accrueSymbol(s, nowMs)

	projectedDebt := new(big.Int).Add(s.totalDebt, amount)
	if projectedDebt.Cmp(s.cfg.DebtCeiling) > 0 {
		return ErrDebtCeilingExceeded
	}

	v := r.vaultOf(account)
	shares := fixedmath.RayDiv(amount, s.feeIndexRay)
	cur, ok := v.debtShares[symbol]
	if !ok {
		cur = big.NewInt(0)
		v.debtShares[symbol] = cur
	}
	cur.Add(cur, shares)

	cr, err := r.crBps(v, account, collSymbol, nowMs)
	if err != nil {
		cur.Sub(cur, shares)
		return err
	}
	if cr < r.strictestMinCRBps(v) {
		cur.Sub(cur, shares)
		return ErrBelowMinCR
	}

	s.totalDebt = projectedDebt
	if err := r.ledger.CreditFrom(ledger.Asset(symbol), account, amount); err != nil {
		cur.Sub(cur, shares)
		s.totalDebt.Sub(s.totalDebt, amount)
		return err
	}
	r.events.Emit(events.SyntheticMinted, zap.String("symbol", symbol), zap.String("amount", amount.String()))
	return nil
}

// Burn repays up to amount of account's symbol debt, debiting the
// synthetic balance from account.
func (r *Registry) Burn(account common.Address, symbol string, amount *big.Int, nowMs int64) error {
	if amount.Sign() <= 0 {
		return errors.New("synth: amount must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.symbols[symbol]
	if !ok {
		return ErrUnknownSymbol
	}
	r.accrueSymbol(s, nowMs)

	v := r.vaultOf(account)
	owed := r.debtOfLocked(v, symbol)
	if owed.Sign() == 0 {
		return ErrNoDebt
	}
	if amount.Cmp(owed) > 0 {
		amount = owed
	}
	if err := r.ledger.DebitTo(ledger.Asset(symbol), account, amount); err != nil {
		return err
	}
	shares := fixedmath.RayDiv(amount, s.feeIndexRay)
	cur := v.debtShares[symbol]
	cur.Sub(cur, shares)
	if cur.Sign() < 0 {
		cur.SetInt64(0)
	}
	s.totalDebt.Sub(s.totalDebt, amount)
	r.events.Emit(events.SyntheticBurned, zap.String("symbol", symbol), zap.String("amount", amount.String()))
	return nil
}

// LiquidateVault repays up to maxRepayShareBps of account's debt in the
// given symbol when the vault's CR has fallen below the strictest minimum.
// The caller pays the repaid synthetic and receives collateral worth the
// repaid value plus LiquidationPenaltyBps. Routed through by the liquidation dispatcher (spec.md §4.8).
func (r *Registry) LiquidateVault(caller, account common.Address, symbol string, collSymbol string, maxRepayShareBps int64, nowMs int64) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.symbols[symbol]
	if !ok {
		return nil, ErrUnknownSymbol
	}
	r.accrueSymbol(s, nowMs)

	v := r.vaultOf(account)
	cr, err := r.crBps(v, account, collSymbol, nowMs)
	if err != nil {
		return nil, err
	}
	if cr >= r.strictestMinCRBps(v) {
		return nil, ErrVaultHealthy
	}

	owed := r.debtOfLocked(v, symbol)
	if owed.Sign() == 0 {
		return nil, ErrNoDebt
	}
	repay := fixedmath.MulBps(owed, maxRepayShareBps, fixedmath.RoundFloor)
	if repay.Sign() == 0 || repay.Cmp(owed) > 0 {
		repay = owed
	}

	price, err := r.oracle.Price(symbol, nowMs)
	if err != nil {
		return nil, err
	}
	collPrice, err := r.oracle.Price(collSymbol, nowMs)
	if err != nil {
		return nil, err
	}
	repayValue := new(big.Int).Mul(repay, price)
	bonus := fixedmath.MulBps(repayValue, s.cfg.LiquidationPenaltyBps, fixedmath.RoundFloor)
	seizeValue := new(big.Int).Add(repayValue, bonus)
	seizeColl := new(big.Int).Quo(seizeValue, collPrice)

	if err := r.ledger.DebitTo(ledger.Asset(symbol), caller, repay); err != nil {
		return nil, err
	}
	shares := fixedmath.RayDiv(repay, s.feeIndexRay)
	cur := v.debtShares[symbol]
	cur.Sub(cur, shares)
	if cur.Sign() < 0 {
		cur.SetInt64(0)
	}
	s.totalDebt.Sub(s.totalDebt, repay)

	if err := r.ledger.SeizeLocked(r.collAsset, account, seizeColl); err != nil {
		return nil, err
	}
	if err := r.ledger.CreditFrom(r.collAsset, caller, seizeColl); err != nil {
		return nil, err
	}
	r.events.Emit(events.LiquidationExecuted, zap.String("symbol", symbol), zap.String("repay", repay.String()))
	return seizeColl, nil
}
