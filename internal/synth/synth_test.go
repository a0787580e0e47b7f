package synth

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

const (
	collAsset ledger.Asset = "sETH"
	sBTC      string       = "sBTC"
)

func newTestRegistry(t *testing.T) (*Registry, *ledger.InMemory, *oracle.Registry, *admin.Cap) {
	t.Helper()
	prim := ledger.NewInMemory()
	cap := admin.NewCap(common.HexToAddress("0xADM"))
	oracleReg := oracle.NewRegistry(cap)
	require.NoError(t, oracleReg.SetFeed(cap.Authority(), "sETH", "feed-eth", 60_000))
	require.NoError(t, oracleReg.SetFeed(cap.Authority(), sBTC, "feed-btc", 60_000))
	require.NoError(t, oracleReg.PushUpdate("sETH", big.NewInt(2000), 0))
	require.NoError(t, oracleReg.PushUpdate(sBTC, big.NewInt(30000), 0))

	reg := NewRegistry(cap, oracleReg, prim, collAsset, events.Noop{})
	require.NoError(t, reg.ListSymbol(cap.Authority(), SymbolConfig{
		Symbol: sBTC, MinCRBps: 15000, StabilityFeePerSecRay: big.NewInt(0),
		DebtCeiling: big.NewInt(1_000_000), LiquidationPenaltyBps: 1000,
	}, 0))
	return reg, prim, oracleReg, cap
}

func TestMintRequiresMinCR(t *testing.T) {
	reg, prim, _, _ := newTestRegistry(t)
	user := common.HexToAddress("0x1")
	require.NoError(t, prim.CreditFrom(collAsset, user, big.NewInt(100)))
	require.NoError(t, reg.DepositCollateral(user, big.NewInt(100)))

	// 100 ETH * $2000 = $200,000 collateral. Minting 10 BTC ($300,000)
	// would put CR at ~66%, well under 150%.
	err := reg.Mint(user, sBTC, big.NewInt(10), "sETH", 0)
	require.ErrorIs(t, err, ErrBelowMinCR)

	// Minting 1 BTC ($30,000) keeps CR at ~666%.
	require.NoError(t, reg.Mint(user, sBTC, big.NewInt(1), "sETH", 0))
	require.Equal(t, big.NewInt(1), prim.Balance(ledger.Asset(sBTC), user))
}

func TestBurnReducesDebt(t *testing.T) {
	reg, prim, _, _ := newTestRegistry(t)
	user := common.HexToAddress("0x1")
	require.NoError(t, prim.CreditFrom(collAsset, user, big.NewInt(100)))
	require.NoError(t, reg.DepositCollateral(user, big.NewInt(100)))
	require.NoError(t, reg.Mint(user, sBTC, big.NewInt(1), "sETH", 0))

	require.NoError(t, reg.Burn(user, sBTC, big.NewInt(1), 0))
	require.Equal(t, 0, reg.DebtOf(user, sBTC).Sign())
}

func TestLiquidateHealthyVaultFails(t *testing.T) {
	reg, prim, _, _ := newTestRegistry(t)
	user := common.HexToAddress("0x1")
	liquidator := common.HexToAddress("0x2")
	require.NoError(t, prim.CreditFrom(collAsset, user, big.NewInt(100)))
	require.NoError(t, reg.DepositCollateral(user, big.NewInt(100)))
	require.NoError(t, reg.Mint(user, sBTC, big.NewInt(1), "sETH", 0))

	_, err := reg.LiquidateVault(liquidator, user, sBTC, "sETH", 5000, 0)
	require.ErrorIs(t, err, ErrVaultHealthy)
}

func TestLiquidateUnderwaterVault(t *testing.T) {
	reg, prim, oracleReg, cap := newTestRegistry(t)
	user := common.HexToAddress("0x1")
	liquidator := common.HexToAddress("0x2")
	require.NoError(t, prim.CreditFrom(collAsset, user, big.NewInt(100)))
	require.NoError(t, reg.DepositCollateral(user, big.NewInt(100)))
	require.NoError(t, reg.Mint(user, sBTC, big.NewInt(1), "sETH", 0)) // $200k coll / $30k debt

	// Crash the collateral price so CR falls below 150%.
	require.NoError(t, oracleReg.PushUpdate("sETH", big.NewInt(300), 60_000))
	require.NoError(t, prim.CreditFrom(ledger.Asset(sBTC), liquidator, big.NewInt(1)))

	seized, err := reg.LiquidateVault(liquidator, user, sBTC, "sETH", 5000, 60_000)
	require.NoError(t, err)
	require.True(t, seized.Sign() > 0)
	_ = cap
}
