// Package ledger defines the balance-primitive boundary the core reads and
// writes through. spec.md §1 lists "token transfers and balance primitives"
// as an external collaborator assumed available, and §5 requires that "the
// core never double-counts by keeping parallel tallies — it either reads
// the balance primitive or tracks scaled units whose underlying is always
// the balance primitive." Primitive is that seam: every escrow, bond,
// margin lock, and collateral balance in the core is expressed against it
// rather than against an ad hoc int64 field.
//
// The in-memory reference implementation here (InMemory, which Snapshot can
// write out to a pebble-backed store) is grounded on
// uhyunpark/hyperlicked's pkg/app/core/account (Account.USDCBalance /
// LockedCollateral / AvailableBalance, AccountManager.Deposit/Withdraw/
// LockCollateral/UnlockCollateral) generalized from a single USDC balance
// per account to a balance per (asset, account) pair, since the core spans
// several isolated products each denominated in a different asset.
package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/unxversal/core/internal/store"
)

// Asset identifies a fungible balance class (e.g. "USDC", "sBTC", a market's
// quote asset). The core treats it as an opaque type tag, matching spec.md
// §6 ("Fee vault balances are keyed by asset type tag").
type Asset string

// Primitive is the balance primitive boundary. Implementations MUST NOT
// allow a balance to go negative and MUST make Lock/Unlock atomic with
// respect to concurrent calls for the same (asset, account) pair.
type Primitive interface {
	// Balance returns the total balance of asset held by account.
	Balance(asset Asset, account common.Address) *big.Int
	// Locked returns the portion of account's asset balance currently
	// locked as escrow/bond/margin.
	Locked(asset Asset, account common.Address) *big.Int
	// Available returns Balance - Locked.
	Available(asset Asset, account common.Address) *big.Int
	// CreditFrom increases account's balance of asset by amount — a
	// transfer-in from the host's token-transfer primitive.
	CreditFrom(asset Asset, account common.Address, amount *big.Int) error
	// DebitTo decreases account's available balance of asset by amount — a
	// transfer-out to the host's token-transfer primitive. Fails if amount
	// exceeds Available.
	DebitTo(asset Asset, account common.Address, amount *big.Int) error
	// Lock moves amount from available into locked. Fails if amount
	// exceeds Available.
	Lock(asset Asset, account common.Address, amount *big.Int) error
	// Unlock moves amount from locked back into available. Fails if amount
	// exceeds Locked.
	Unlock(asset Asset, account common.Address, amount *big.Int) error
	// SeizeLocked removes amount directly from an account's locked balance
	// (used by liquidation and bond slashing, which bypass the normal
	// unlock-then-debit path because the account does not consent).
	SeizeLocked(asset Asset, account common.Address, amount *big.Int) error
}

type balance struct {
	total  *big.Int
	locked *big.Int
}

// InMemory is a Primitive backed by an in-process map, suitable for tests
// and for embedding behind a persistence layer. It mirrors the
// AccountManager pattern of the teacher: an RWMutex-guarded map keyed by
// address, generalized to (asset, address).
type InMemory struct {
	mu       sync.RWMutex
	balances map[Asset]map[common.Address]*balance
}

// NewInMemory constructs an empty balance primitive.
func NewInMemory() *InMemory {
	return &InMemory{balances: make(map[Asset]map[common.Address]*balance)}
}

func (m *InMemory) entryLocked(asset Asset, account common.Address) *balance {
	accts, ok := m.balances[asset]
	if !ok {
		accts = make(map[common.Address]*balance)
		m.balances[asset] = accts
	}
	b, ok := accts[account]
	if !ok {
		b = &balance{total: big.NewInt(0), locked: big.NewInt(0)}
		accts[account] = b
	}
	return b
}

func (m *InMemory) Balance(asset Asset, account common.Address) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if accts, ok := m.balances[asset]; ok {
		if b, ok := accts[account]; ok {
			return new(big.Int).Set(b.total)
		}
	}
	return big.NewInt(0)
}

func (m *InMemory) Locked(asset Asset, account common.Address) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if accts, ok := m.balances[asset]; ok {
		if b, ok := accts[account]; ok {
			return new(big.Int).Set(b.locked)
		}
	}
	return big.NewInt(0)
}

func (m *InMemory) Available(asset Asset, account common.Address) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	accts, ok := m.balances[asset]
	if !ok {
		return big.NewInt(0)
	}
	b, ok := accts[account]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(b.total, b.locked)
}

func (m *InMemory) CreditFrom(asset Asset, account common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative credit amount")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.entryLocked(asset, account)
	b.total.Add(b.total, amount)
	return nil
}

func (m *InMemory) DebitTo(asset Asset, account common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative debit amount")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.entryLocked(asset, account)
	available := new(big.Int).Sub(b.total, b.locked)
	if available.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: insufficient available balance: have %s, need %s", available, amount)
	}
	b.total.Sub(b.total, amount)
	return nil
}

func (m *InMemory) Lock(asset Asset, account common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative lock amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.entryLocked(asset, account)
	available := new(big.Int).Sub(b.total, b.locked)
	if available.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: insufficient available balance to lock: have %s, need %s", available, amount)
	}
	b.locked.Add(b.locked, amount)
	return nil
}

func (m *InMemory) Unlock(asset Asset, account common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative unlock amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.entryLocked(asset, account)
	if b.locked.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: insufficient locked balance: have %s, need %s", b.locked, amount)
	}
	b.locked.Sub(b.locked, amount)
	return nil
}

func (m *InMemory) SeizeLocked(asset Asset, account common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("ledger: negative seize amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.entryLocked(asset, account)
	if b.locked.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: insufficient locked balance to seize: have %s, need %s", b.locked, amount)
	}
	b.locked.Sub(b.locked, amount)
	b.total.Sub(b.total, amount)
	return nil
}

// TotalEquity sums account's total balance (locked included) across assets plus an
// externally-supplied unrealized P&L map, grounded on the teacher's
// Account.TotalEquity helper (balance + unrealized PnL across positions).
func TotalEquity(p Primitive, account common.Address, assets []Asset, unrealizedPnL map[Asset]*big.Int) *big.Int {
	total := big.NewInt(0)
	for _, a := range assets {
		total.Add(total, p.Balance(a, account))
		if pnl, ok := unrealizedPnL[a]; ok {
			total.Add(total, pnl)
		}
	}
	return total
}

// persistenceRecord is the on-disk shape of one (asset, account) balance
// row in Store, written by Snapshot. This package has no matching restore.
type persistenceRecord struct {
	Total  string `json:"total"`
	Locked string `json:"locked"`
}

// Snapshot writes every non-zero balance to st under the "ledger"
// namespace, keyed "<asset>:<address>". Adapted from the teacher's
// Store.SaveAccount pattern, generalized across assets.
func Snapshot(m *InMemory, st *store.Store) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for asset, accts := range m.balances {
		for addr, b := range accts {
			key := string(asset) + ":" + addr.Hex()
			rec := persistenceRecord{Total: b.total.String(), Locked: b.locked.String()}
			if err := st.Put("ledger", key, rec); err != nil {
				return err
			}
		}
	}
	return nil
}
