package orderbook

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/unxversal/core/internal/admin"
	"github.com/unxversal/core/internal/events"
	"github.com/unxversal/core/internal/fees"
	"github.com/unxversal/core/internal/ledger"
)

const (
	quote ledger.Asset = "USDC"
	base  ledger.Asset = "HYPL"
	unxv  ledger.Asset = "UNXV"
)

func newTestBook(t *testing.T) (*Book, *ledger.InMemory) {
	t.Helper()
	prim := ledger.NewInMemory()
	cap := admin.NewCap(common.HexToAddress("0xADM"))
	cfg := fees.Config{
		TakerBps: 10, MakerBps: 5,
		UnxvDiscountBps: 2, PoolCreationFeeUnxv: big.NewInt(0),
		StakerShareBps: 5000, TreasuryShareBps: 3000, BurnShareBps: 2000,
	}
	store, err := fees.NewConfigStore(cap, cfg, events.Noop{})
	require.NoError(t, err)
	vault := fees.NewVault(prim, common.HexToAddress("0xTREASURY"), events.Noop{})

	mkt := &Market{
		Symbol: "HYPL-USDC", BaseAsset: base, QuoteAsset: quote,
		TickSize: big.NewInt(1), LotSize: big.NewInt(1), MinNotional: big.NewInt(1),
		MakerBondBps: 0,
	}
	book := NewBook(mkt, prim, vault, store, nil, unxv, events.Noop{})
	return book, prim
}

func fund(t *testing.T, prim *ledger.InMemory, asset ledger.Asset, owner common.Address, amt int64) {
	t.Helper()
	require.NoError(t, prim.CreditFrom(asset, owner, big.NewInt(amt)))
}

func TestMakerRestsThenTakerCrosses(t *testing.T) {
	book, prim := newTestBook(t)
	maker := common.HexToAddress("0xAAAA")
	taker := common.HexToAddress("0xBBBB")
	fund(t, prim, base, maker, 100)
	fund(t, prim, quote, taker, 10_000)

	makerOrder := &Order{ID: "m1", Owner: maker, Side: Sell, Price: big.NewInt(100), Remaining: big.NewInt(10), TIF: GTC}
	fills, err := book.Place(makerOrder, 0)
	require.NoError(t, err)
	require.Empty(t, fills)

	takerOrder := &Order{ID: "t1", Owner: taker, Side: Buy, Price: big.NewInt(100), Remaining: big.NewInt(10), TIF: GTC}
	fills, err = book.Place(takerOrder, 0)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, big.NewInt(10), fills[0].Qty)
	require.Equal(t, big.NewInt(100), fills[0].Price)

	// Taker settles immediately.
	require.Equal(t, big.NewInt(10), prim.Balance(base, taker))

	// Maker proceeds are withheld until claimed.
	require.Equal(t, big.NewInt(0), prim.Balance(quote, maker))
	require.NoError(t, book.ClaimMakerFills(maker))
	require.True(t, prim.Balance(quote, maker).Sign() > 0)
}

func TestPriceTimePriority(t *testing.T) {
	book, prim := newTestBook(t)
	m1 := common.HexToAddress("0x1")
	m2 := common.HexToAddress("0x2")
	taker := common.HexToAddress("0x3")
	fund(t, prim, base, m1, 100)
	fund(t, prim, base, m2, 100)
	fund(t, prim, quote, taker, 10_000)

	_, err := book.Place(&Order{ID: "m1", Owner: m1, Side: Sell, Price: big.NewInt(100), Remaining: big.NewInt(5), TIF: GTC}, 0)
	require.NoError(t, err)
	_, err = book.Place(&Order{ID: "m2", Owner: m2, Side: Sell, Price: big.NewInt(100), Remaining: big.NewInt(5), TIF: GTC}, 0)
	require.NoError(t, err)

	fills, err := book.Place(&Order{ID: "t1", Owner: taker, Side: Buy, Price: big.NewInt(100), Remaining: big.NewInt(5), TIF: GTC}, 0)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, "m1", fills[0].MakerOrderID) // earliest resting order at the same price fills first
}

func TestIOCDoesNotRest(t *testing.T) {
	book, prim := newTestBook(t)
	taker := common.HexToAddress("0x3")
	fund(t, prim, quote, taker, 10_000)

	fills, err := book.Place(&Order{ID: "t1", Owner: taker, Side: Buy, Price: big.NewInt(100), Remaining: big.NewInt(5), TIF: IOC}, 0)
	require.NoError(t, err)
	require.Empty(t, fills)

	bid, _ := book.BestBidAsk()
	require.Nil(t, bid)
	require.Equal(t, big.NewInt(0), prim.Locked(quote, taker))
}

func TestCancelRefundsEscrow(t *testing.T) {
	book, prim := newTestBook(t)
	owner := common.HexToAddress("0x1")
	fund(t, prim, quote, owner, 1000)

	o := &Order{ID: "o1", Owner: owner, Side: Buy, Price: big.NewInt(100), Remaining: big.NewInt(5), TIF: GTC}
	_, err := book.Place(o, 0)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500), prim.Locked(quote, owner))

	require.NoError(t, book.Cancel(owner, "o1"))
	require.Equal(t, big.NewInt(0), prim.Locked(quote, owner))
}

func TestModifyRejectsGrowth(t *testing.T) {
	book, prim := newTestBook(t)
	owner := common.HexToAddress("0x1")
	fund(t, prim, quote, owner, 1000)

	o := &Order{ID: "o1", Owner: owner, Side: Buy, Price: big.NewInt(100), Remaining: big.NewInt(5), TIF: GTC}
	_, err := book.Place(o, 0)
	require.NoError(t, err)

	err = book.Modify(owner, "o1", big.NewInt(6))
	require.ErrorIs(t, err, ErrInsufficientRemaining)

	err = book.Modify(owner, "o1", big.NewInt(2))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(200), prim.Locked(quote, owner))
}

func TestGCStepSweepsExpiredAndRefundsBond(t *testing.T) {
	book, prim := newTestBook(t)
	book.market.MakerBondBps = 100 // 1%
	owner := common.HexToAddress("0x1")
	fund(t, prim, quote, owner, 10_000)

	o := &Order{ID: "o1", Owner: owner, Side: Buy, Price: big.NewInt(100), Remaining: big.NewInt(5), TIF: GTC, ExpiryMs: 1000}
	_, err := book.Place(o, 0)
	require.NoError(t, err)
	require.True(t, prim.Locked(quote, owner).Sign() > 0)

	swept := book.GCStep(2000, 10)
	require.Equal(t, 1, swept)

	bid, _ := book.BestBidAsk()
	require.Nil(t, bid)
	// Expiry refunds escrow and bond in full — it is not treated as abuse.
	require.Equal(t, big.NewInt(0), prim.Locked(quote, owner))
}

func TestPriceImprovementUnlocksSavedEscrow(t *testing.T) {
	book, prim := newTestBook(t)
	maker := common.HexToAddress("0xAAAA")
	taker := common.HexToAddress("0xBBBB")
	fund(t, prim, base, maker, 100)
	fund(t, prim, quote, taker, 10_000)

	// Resting ask at 98, crossed by a buy limited at 100: the trade
	// executes at the maker's (better) price, so only 98*10=980 of the
	// taker's 100*10=1000 locked escrow should ever be consumed.
	_, err := book.Place(&Order{ID: "m1", Owner: maker, Side: Sell, Price: big.NewInt(98), Remaining: big.NewInt(10), TIF: GTC}, 0)
	require.NoError(t, err)

	fills, err := book.Place(&Order{ID: "t1", Owner: taker, Side: Buy, Price: big.NewInt(100), Remaining: big.NewInt(10), TIF: GTC}, 0)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, big.NewInt(98), fills[0].Price)

	// Fully filled taker order: nothing should remain locked for it, and
	// none of the saved price-improvement difference should be stranded.
	require.Equal(t, big.NewInt(0), prim.Locked(quote, taker))
}
