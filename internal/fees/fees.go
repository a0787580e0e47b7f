// Package fees implements the FeeEngine applied uniformly across products:
// taker/maker bps, UNXV-payment discount, staking-tier discount, and the
// protocol fee vault split (spec.md §4.3). Grounded on the teacher's
// maker/taker bps fields on Market (pkg/app/core/market.go: MakerFeeBps,
// TakerFeeBps) generalized into a standalone, product-agnostic engine, and
// on josephblackelite-nhbchain's native/lending FeeAccrual{ProtocolFeesWei,
// DeveloperFeesWei} pattern for the vault's per-asset bookkeeping.
package fees

import (
	"errors"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/unxversal/core/internal/admin"
	"github.com/unxversal/core/internal/events"
	"github.com/unxversal/core/internal/fixedmath"
	"github.com/unxversal/core/internal/ledger"
	"github.com/unxversal/core/internal/staking"
)

var (
	// ErrInvalidBps is returned when a configured bps value falls outside
	// [0, 10_000].
	ErrInvalidBps = errors.New("fees: bps out of range [0, 10000]")
	// ErrTiersNotIncreasing is returned when stake tiers are not strictly
	// increasing on both dimensions per spec.md §3.
	ErrTiersNotIncreasing = errors.New("fees: stake tiers must be strictly increasing")
)

// StakeTier is one (min_stake, discount_bps) pair in FeeConfig.StakeTiers.
type StakeTier struct {
	MinStake    *big.Int
	DiscountBps int64
}

// Config mirrors spec.md §3's FeeConfig entity exactly.
type Config struct {
	TakerBps            int64
	MakerBps            int64
	UnxvDiscountBps     int64
	PoolCreationFeeUnxv *big.Int
	StakeTiers          []StakeTier // ordered, strictly increasing on both dims
	LendingOriginationBps  int64
	LendingCfBonusBpsMax   int64

	// StakerShareBps / TreasuryShareBps / BurnShareBps govern the UNXV fee
	// split in AccrueUnxvAndSplit; they must sum to 10_000.
	StakerShareBps   int64
	TreasuryShareBps int64
	BurnShareBps     int64
}

// Validate enforces spec.md §3's FeeConfig invariants.
func (c *Config) Validate() error {
	for _, bps := range []int64{c.TakerBps, c.MakerBps, c.UnxvDiscountBps, c.LendingOriginationBps, c.LendingCfBonusBpsMax, c.StakerShareBps, c.TreasuryShareBps, c.BurnShareBps} {
		if bps < 0 || bps > fixedmath.BpsDenominator {
			return ErrInvalidBps
		}
	}
	if c.StakerShareBps+c.TreasuryShareBps+c.BurnShareBps != fixedmath.BpsDenominator {
		return errors.New("fees: staker+treasury+burn shares must sum to 10000")
	}
	for i := range c.StakeTiers {
		t := c.StakeTiers[i]
		if t.DiscountBps < 0 || t.DiscountBps > fixedmath.BpsDenominator {
			return ErrInvalidBps
		}
		if i > 0 {
			prev := c.StakeTiers[i-1]
			if t.MinStake.Cmp(prev.MinStake) <= 0 || t.DiscountBps <= prev.DiscountBps {
				return ErrTiersNotIncreasing
			}
		}
	}
	return nil
}

// ConfigStore holds the single live FeeConfig, admin-gated for mutation,
// matching spec.md §9's "only process-wide objects" framing.
type ConfigStore struct {
	mu     sync.RWMutex
	cap    *admin.Cap
	cfg    Config
	events events.Emitter
}

// NewConfigStore seeds a ConfigStore with an already-validated cfg.
func NewConfigStore(cap *admin.Cap, cfg Config, emitter events.Emitter) (*ConfigStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if emitter == nil {
		emitter = events.Noop{}
	}
	return &ConfigStore{cap: cap, cfg: cfg, events: emitter}, nil
}

// Get returns a copy of the current config.
func (s *ConfigStore) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update replaces the config, gated by AdminCap.
func (s *ConfigStore) Update(caller common.Address, cfg Config) error {
	if err := s.cap.Authorize(caller); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.events.Emit(events.ParamsUpdated)
	return nil
}

// ApplyDiscounts computes effective taker/maker bps per spec.md §4.3's
// fixed algorithm: first the UNXV payment discount (if applicable), then
// the highest-qualifying stake tier discount, both floored at zero. The
// UNXV discount comes off the taker rate only; the stake tier discount
// comes off both taker and maker (no maker rebate exists under this
// policy).
func ApplyDiscounts(cfg Config, payingInUnxv bool, userStake *big.Int) (takerEffBps, makerEffBps int64) {
	taker := cfg.TakerBps
	maker := cfg.MakerBps

	if payingInUnxv {
		taker -= cfg.UnxvDiscountBps
		if taker < 0 {
			taker = 0
		}
	}

	tierDiscount := highestQualifyingDiscount(cfg.StakeTiers, userStake)
	taker -= tierDiscount
	if taker < 0 {
		taker = 0
	}
	maker -= tierDiscount
	if maker < 0 {
		maker = 0
	}
	return taker, maker
}

func highestQualifyingDiscount(tiers []StakeTier, userStake *big.Int) int64 {
	if userStake == nil {
		return 0
	}
	// tiers are validated strictly increasing on MinStake; find the last
	// tier whose MinStake <= userStake.
	idx := sort.Search(len(tiers), func(i int) bool {
		return tiers[i].MinStake.Cmp(userStake) > 0
	})
	if idx == 0 {
		return 0
	}
	return tiers[idx-1].DiscountBps
}

// Vault is the FeeVault shared object: a per-asset sink with reserves split
// across treasury/stakers/burn per spec.md §4.3 and §3.
type Vault struct {
	mu        sync.Mutex
	ledger    ledger.Primitive
	treasury  common.Address // holding account for the treasury share
	balances  map[ledger.Asset]*big.Int // lifetime total accrued, per asset, for observability
	events    events.Emitter
}

// NewVault constructs a FeeVault backed by the host balance primitive,
// crediting the treasury share to treasuryAccount.
func NewVault(prim ledger.Primitive, treasuryAccount common.Address, emitter events.Emitter) *Vault {
	if emitter == nil {
		emitter = events.Noop{}
	}
	return &Vault{
		ledger:   prim,
		treasury: treasuryAccount,
		balances: make(map[ledger.Asset]*big.Int),
		events:   emitter,
	}
}

// AccrueGeneric credits amount of asset to the vault, keyed by asset type
// tag, from payer (spec.md §4.3's accrue_generic). payer's funds must
// already be escrowed/locked by the caller; AccrueGeneric performs the
// seize-then-credit so the vault's own address accumulates the balance.
func (v *Vault) AccrueGeneric(asset ledger.Asset, payer common.Address, amount *big.Int, reason string) error {
	if amount.Sign() == 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ledger.SeizeLocked(asset, payer, amount); err != nil {
		return err
	}
	if err := v.ledger.CreditFrom(asset, v.vaultAccount(), amount); err != nil {
		return err
	}
	v.bump(asset, amount)
	v.events.Emit(events.FeeCollected)
	return nil
}

// AccrueUnxvAndSplit splits a UNXV fee payment into stakers/treasury/burn
// shares per spec.md §4.3. The stakers share is deposited into the current
// weekly reward bucket via staking.Pool.AddWeeklyReward; the treasury share
// is credited to the treasury account; the burn share is irrevocably
// removed from circulation by seizing it without a matching credit.
func (v *Vault) AccrueUnxvAndSplit(cfg Config, stakingPool *staking.Pool, unxvAsset ledger.Asset, payer common.Address, amount *big.Int, nowMs int64) error {
	if amount.Sign() == 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	stakerShare := fixedmath.MulBps(amount, cfg.StakerShareBps, fixedmath.RoundFloor)
	treasuryShare := fixedmath.MulBps(amount, cfg.TreasuryShareBps, fixedmath.RoundFloor)
	burnShare := new(big.Int).Sub(amount, new(big.Int).Add(stakerShare, treasuryShare))

	if err := v.ledger.SeizeLocked(unxvAsset, payer, amount); err != nil {
		return err
	}
	if stakerShare.Sign() > 0 {
		if err := v.ledger.CreditFrom(unxvAsset, stakingPool.RewardAccount(), stakerShare); err != nil {
			return err
		}
		stakingPool.AddWeeklyReward(unxvAsset, stakerShare, nowMs)
	}
	if treasuryShare.Sign() > 0 {
		if err := v.ledger.CreditFrom(unxvAsset, v.treasury, treasuryShare); err != nil {
			return err
		}
	}
	// burnShare: seized above, never re-credited anywhere — irrevocably
	// removed from circulation.
	v.bump(unxvAsset, amount)
	v.events.Emit(events.FeeCollected)
	return nil
}

// AccrueDirect credits amount of asset straight to the vault's own
// account. Unlike AccrueGeneric, it does not seize a locked balance from
// any payer — it is for callers (like the orderbook) that already withheld
// the fee from a counterparty's proceeds before this call, so there is
// nothing left to seize.
func (v *Vault) AccrueDirect(asset ledger.Asset, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ledger.CreditFrom(asset, v.vaultAccount(), amount); err != nil {
		return err
	}
	v.bump(asset, amount)
	v.events.Emit(events.FeeCollected)
	return nil
}

func (v *Vault) bump(asset ledger.Asset, amount *big.Int) {
	cur, ok := v.balances[asset]
	if !ok {
		cur = big.NewInt(0)
		v.balances[asset] = cur
	}
	cur.Add(cur, amount)
}

// LifetimeAccrued returns the vault's running total for asset, for
// observability only (not used in any risk check).
func (v *Vault) LifetimeAccrued(asset ledger.Asset) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if cur, ok := v.balances[asset]; ok {
		return new(big.Int).Set(cur)
	}
	return big.NewInt(0)
}

// vaultAccount is the address the fee vault itself holds balances under.
// A fixed, well-known non-zero address so the vault can participate in the
// same ledger.Primitive as user accounts without a special case.
func (v *Vault) vaultAccount() common.Address {
	return common.HexToAddress("0x000000000000000000000000000000000FEEE1")
}

// Account exposes the fee vault's own ledger account, e.g. so a keeper can
// read its balance for treasury sweeps.
func (v *Vault) Account() common.Address { return v.vaultAccount() }
