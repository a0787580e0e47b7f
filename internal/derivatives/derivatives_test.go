package derivatives

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/unxversal/core/internal/admin"
	"github.com/unxversal/core/internal/events"
	"github.com/unxversal/core/internal/ledger"
	"github.com/unxversal/core/internal/oracle"
)

const usdc ledger.Asset = "USDC"

func newTestCore(t *testing.T) (*Core, *ledger.InMemory, *admin.Cap) {
	t.Helper()
	prim := ledger.NewInMemory()
	cap := admin.NewCap(common.HexToAddress("0xADM"))
	oracleReg := oracle.NewRegistry(cap)
	require.NoError(t, oracleReg.SetFeed(cap.Authority(), "BTC", "feed-btc", 60_000))
	require.NoError(t, oracleReg.PushUpdate("BTC", big.NewInt(30000), 0))

	core := NewCore(cap, oracleReg, prim, events.Noop{})
	require.NoError(t, core.ListMarket(cap.Authority(), Market{
		Symbol: "BTC-PERP", UnderlyingSymbol: "BTC", MarginAsset: usdc, Kind: Perpetual,
		InitialMarginBps: 1000, MaintenanceMarginBps: 500, MaxFundingRatePerIntervalBps: 100,
	}, 0))
	return core, prim, cap
}

func TestOpenAndCloseRealizesPnL(t *testing.T) {
	core, prim, _ := newTestCore(t)
	user := common.HexToAddress("0x1")
	require.NoError(t, prim.CreditFrom(usdc, user, big.NewInt(10_000)))

	require.NoError(t, core.OpenPosition(user, "BTC-PERP", big.NewInt(1), big.NewInt(30000), 0))
	size, entry := core.PositionOf("BTC-PERP", user)
	require.Equal(t, big.NewInt(1), size)
	require.Equal(t, big.NewInt(30000), entry)

	pnl, err := core.ClosePosition(user, "BTC-PERP", big.NewInt(1), big.NewInt(31000), 0)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), pnl)
}

func TestOpenPositionBlendsEntryPriceOnSameSideGrowth(t *testing.T) {
	core, prim, _ := newTestCore(t)
	user := common.HexToAddress("0x1")
	require.NoError(t, prim.CreditFrom(usdc, user, big.NewInt(100_000)))

	require.NoError(t, core.OpenPosition(user, "BTC-PERP", big.NewInt(10), big.NewInt(100), 0))
	require.NoError(t, core.OpenPosition(user, "BTC-PERP", big.NewInt(10), big.NewInt(200), 0))

	size, entry := core.PositionOf("BTC-PERP", user)
	require.Equal(t, big.NewInt(20), size)
	require.Equal(t, big.NewInt(150), entry) // notional-weighted: (10*100+10*200)/20
}

func TestFundingStepClampsToCap(t *testing.T) {
	core, _, _ := newTestCore(t)
	m := core.markets["BTC-PERP"]
	m.lastFundingMs = -FundingIntervalMs

	// Mark trades 10% above oracle; cap is 1% (100bps) per interval.
	require.NoError(t, core.FundingStep("BTC-PERP", big.NewInt(33000), 0))
	require.Equal(t, big.NewInt(300), m.fundingIndexRay) // 30000 * 100bps / 10000
}

func TestSettleExpiryPaysOutPosition(t *testing.T) {
	prim := ledger.NewInMemory()
	cap := admin.NewCap(common.HexToAddress("0xADM"))
	oracleReg := oracle.NewRegistry(cap)
	core := NewCore(cap, oracleReg, prim, events.Noop{})
	require.NoError(t, core.ListMarket(cap.Authority(), Market{
		Symbol: "BTC-0925", MarginAsset: usdc, Kind: Future, ExpiryMs: 1000,
		InitialMarginBps: 1000, MaintenanceMarginBps: 500,
	}, 0))

	user := common.HexToAddress("0x1")
	require.NoError(t, prim.CreditFrom(usdc, user, big.NewInt(10_000)))
	require.NoError(t, core.OpenPosition(user, "BTC-0925", big.NewInt(1), big.NewInt(30000), 0))

	require.NoError(t, core.SettleExpiry(cap.Authority(), "BTC-0925", big.NewInt(31000), 1000))
	size, _ := core.PositionOf("BTC-0925", user)
	require.Equal(t, big.NewInt(0), size)
	require.Equal(t, big.NewInt(11_000), prim.Balance(usdc, user))
}
