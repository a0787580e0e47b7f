// Package staking implements per-user active stake tracked in weekly
// epochs, used by fees.ApplyDiscounts for tier discounts and to pay out
// weekly UNXV revenue share (spec.md §4.4). Grounded on the teacher's
// AccountManager locking discipline (pkg/app/core/account/manager.go:
// LockCollateral/UnlockCollateral guarded by a single RWMutex) applied to a
// stake balance instead of order margin.
package staking

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/unxversal/core/internal/ledger"
)

// WeekMs is the epoch length: one week in milliseconds.
const WeekMs int64 = 7 * 24 * 60 * 60 * 1000

var (
	// ErrInsufficientStake is returned by Unstake when amount exceeds the
	// user's active stake.
	ErrInsufficientStake = errors.New("staking: insufficient active stake")
	// ErrAlreadyClaimed is returned by Claim for a (user, epoch, asset)
	// already paid out.
	ErrAlreadyClaimed = errors.New("staking: epoch already claimed")
)

type epochBucket struct {
	rewards       map[ledger.Asset]*big.Int
	totalSnapshot *big.Int
	userSnapshot  map[common.Address]*big.Int
	claimed       map[common.Address]map[ledger.Asset]bool
}

func newEpochBucket() *epochBucket {
	return &epochBucket{
		rewards:      make(map[ledger.Asset]*big.Int),
		userSnapshot: make(map[common.Address]*big.Int),
		claimed:      make(map[common.Address]map[ledger.Asset]bool),
	}
}

// Pool is the StakingPool shared object.
type Pool struct {
	mu           sync.Mutex
	ledger       ledger.Primitive
	stakeAsset   ledger.Asset
	activeStake  map[common.Address]*big.Int
	totalStake   *big.Int
	epochs       map[int64]*epochBucket
	rewardAccount common.Address
}

// NewPool constructs an empty StakingPool backed by the host balance
// primitive. Staked funds stay locked in each staker's own account;
// rewardAccount is the pool's own ledger account, which receives the
// stakers' fee share.
func NewPool(prim ledger.Primitive, stakeAsset ledger.Asset) *Pool {
	return &Pool{
		ledger:      prim,
		stakeAsset:  stakeAsset,
		activeStake: make(map[common.Address]*big.Int),
		totalStake:  big.NewInt(0),
		epochs:      make(map[int64]*epochBucket),
		rewardAccount: common.HexToAddress("0x0000000000000000000000000000000057A41E"),
	}
}

// RewardAccount returns the pool's own ledger account, used by
// fees.Vault.AccrueUnxvAndSplit to credit the stakers' share before it is
// attributed to a weekly bucket.
func (p *Pool) RewardAccount() common.Address { return p.rewardAccount }

// EpochOf returns the epoch index for a millisecond timestamp:
// floor(now_ms / WEEK_MS).
func EpochOf(nowMs int64) int64 { return nowMs / WeekMs }

func (p *Pool) ensureEpoch(epoch int64) *epochBucket {
	b, ok := p.epochs[epoch]
	if !ok {
		b = newEpochBucket()
		p.epochs[epoch] = b
	}
	return b
}

// Stake locks amount of the stake asset from user's available balance into
// the pool and adds it to active_stake[user] and the pool's running total.
func (p *Pool) Stake(user common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return errors.New("staking: amount must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ledger.Lock(p.stakeAsset, user, amount); err != nil {
		return err
	}
	cur, ok := p.activeStake[user]
	if !ok {
		cur = big.NewInt(0)
		p.activeStake[user] = cur
	}
	cur.Add(cur, amount)
	p.totalStake.Add(p.totalStake, amount)
	return nil
}

// Unstake unlocks amount back to the user's available balance, failing if
// it would take active_stake below zero per spec.md §4.4.
func (p *Pool) Unstake(user common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return errors.New("staking: amount must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.activeStake[user]
	if !ok || cur.Cmp(amount) < 0 {
		return ErrInsufficientStake
	}
	if err := p.ledger.Unlock(p.stakeAsset, user, amount); err != nil {
		return err
	}
	cur.Sub(cur, amount)
	p.totalStake.Sub(p.totalStake, amount)
	if cur.Sign() == 0 {
		delete(p.activeStake, user)
	}
	return nil
}

// ActiveStakeOf is the single read FeeEngine uses for discount tiering.
func (p *Pool) ActiveStakeOf(user common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.activeStake[user]; ok {
		return new(big.Int).Set(cur)
	}
	return big.NewInt(0)
}

// AddWeeklyReward deposits amount of asset into the bucket for the epoch
// containing nowMs.
func (p *Pool) AddWeeklyReward(asset ledger.Asset, amount *big.Int, nowMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	epoch := EpochOf(nowMs)
	b := p.ensureEpoch(epoch)
	cur, ok := b.rewards[asset]
	if !ok {
		cur = big.NewInt(0)
		b.rewards[asset] = cur
	}
	cur.Add(cur, amount)
}

// ensureSnapshots lazily snapshots the epoch's total stake and every
// staker's stake together on the first read of the epoch, per spec.md §4.4
// ("Snapshots of total stake per epoch are taken lazily on first read of
// that epoch"). A user with no stake at that moment reads as zero.
func (p *Pool) ensureSnapshots(b *epochBucket, user common.Address) {
	if b.totalSnapshot == nil {
		b.totalSnapshot = new(big.Int).Set(p.totalStake)
		for u, cur := range p.activeStake {
			b.userSnapshot[u] = new(big.Int).Set(cur)
		}
	}
	if _, ok := b.userSnapshot[user]; !ok {
		b.userSnapshot[user] = big.NewInt(0)
	}
}

// Claim pays user their pro-rata share of asset's weekly reward bucket for
// epoch: amount * user_stake_at_epoch / total_stake_at_epoch, per spec.md
// §4.4. Returns the amount paid (zero if the bucket has no reward for
// asset, or the epoch snapshot shows zero total stake).
func (p *Pool) Claim(user common.Address, epoch int64, asset ledger.Asset) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.ensureEpoch(epoch)
	p.ensureSnapshots(b, user)

	if claimed, ok := b.claimed[user]; ok && claimed[asset] {
		return nil, ErrAlreadyClaimed
	}

	reward, ok := b.rewards[asset]
	if !ok || reward.Sign() == 0 || b.totalSnapshot.Sign() == 0 {
		p.markClaimed(b, user, asset)
		return big.NewInt(0), nil
	}

	userShare := b.userSnapshot[user]
	payout := new(big.Int).Mul(reward, userShare)
	payout.Quo(payout, b.totalSnapshot)

	if payout.Sign() > 0 {
		if err := p.ledger.CreditFrom(asset, user, payout); err != nil {
			return nil, err
		}
	}
	p.markClaimed(b, user, asset)
	return payout, nil
}

func (p *Pool) markClaimed(b *epochBucket, user common.Address, asset ledger.Asset) {
	m, ok := b.claimed[user]
	if !ok {
		m = make(map[ledger.Asset]bool)
		b.claimed[user] = m
	}
	m[asset] = true
}

// TotalStake returns the pool's current aggregate active stake.
func (p *Pool) TotalStake() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.totalStake)
}
