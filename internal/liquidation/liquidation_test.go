package liquidation

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/unxversal/core/internal/admin"
	"github.com/unxversal/core/internal/derivatives"
	"github.com/unxversal/core/internal/events"
	"github.com/unxversal/core/internal/ledger"
	"github.com/unxversal/core/internal/lending"
	"github.com/unxversal/core/internal/oracle"
	"github.com/unxversal/core/internal/synth"
)

const usdc ledger.Asset = "USDC"

func TestUnknownSiloRejected(t *testing.T) {
	prim := ledger.NewInMemory()
	cap := admin.NewCap(common.HexToAddress("0xADM"))
	oracleReg := oracle.NewRegistry(cap)
	derivCore := derivatives.NewCore(cap, oracleReg, prim, events.Noop{})
	synthReg := synth.NewRegistry(cap, oracleReg, prim, "sETH", events.Noop{})
	d := NewDispatcher(derivCore, synthReg, events.Noop{})

	_, err := d.Liquidate(common.HexToAddress("0x1"), Target{Silo: Silo(99)}, 0)
	require.ErrorIs(t, err, ErrUnknownSilo)
}

func TestLendingSiloSeizesUpToMaxShare(t *testing.T) {
	prim := ledger.NewInMemory()
	cap := admin.NewCap(common.HexToAddress("0xADM"))
	oracleReg := oracle.NewRegistry(cap)
	derivCore := derivatives.NewCore(cap, oracleReg, prim, events.Noop{})
	synthReg := synth.NewRegistry(cap, oracleReg, prim, "sETH", events.Noop{})
	d := NewDispatcher(derivCore, synthReg, events.Noop{})

	pool := lending.NewPool(lending.Config{
		Asset: usdc, CollateralFactorBps: 7500, LiquidationThreshold: 8000,
		BreakerUtilizationBps: 9900,
		Rates: lending.RateModel{BaseRateRay: big.NewInt(0), Slope1Ray: big.NewInt(0), Slope2Ray: big.NewInt(0), KinkRay: big.NewInt(0)},
	}, cap, prim, events.Noop{}, 0)

	lp := common.HexToAddress("0x1")
	borrower := common.HexToAddress("0x2")
	require.NoError(t, prim.CreditFrom(usdc, lp, big.NewInt(1000)))
	require.NoError(t, pool.Supply(lp, big.NewInt(1000), 0))
	require.NoError(t, pool.Borrow(borrower, big.NewInt(500), 0))

	debtBefore := pool.DebtOf(borrower)
	repaid, err := d.Liquidate(common.HexToAddress("0x3"), Target{Silo: SiloLending, Account: borrower, LendingPool: pool}, 0)
	require.NoError(t, err)
	require.True(t, repaid.Sign() > 0)
	require.True(t, repaid.Cmp(debtBefore) < 0) // default 50% share, not full debt
}

func TestLendingSiloWellCollateralizedFails(t *testing.T) {
	prim := ledger.NewInMemory()
	cap := admin.NewCap(common.HexToAddress("0xADM"))
	oracleReg := oracle.NewRegistry(cap)
	derivCore := derivatives.NewCore(cap, oracleReg, prim, events.Noop{})
	synthReg := synth.NewRegistry(cap, oracleReg, prim, "sETH", events.Noop{})
	d := NewDispatcher(derivCore, synthReg, events.Noop{})

	pool := lending.NewPool(lending.Config{
		Asset: usdc, CollateralFactorBps: 7500, LiquidationThreshold: 8000,
		BreakerUtilizationBps: 9900,
		Rates: lending.RateModel{BaseRateRay: big.NewInt(0), Slope1Ray: big.NewInt(0), Slope2Ray: big.NewInt(0), KinkRay: big.NewInt(0)},
	}, cap, prim, events.Noop{}, 0)

	lp := common.HexToAddress("0x1")
	borrower := common.HexToAddress("0x2")
	require.NoError(t, prim.CreditFrom(usdc, lp, big.NewInt(1000)))
	require.NoError(t, pool.Supply(lp, big.NewInt(1000), 0))
	require.NoError(t, prim.CreditFrom(usdc, borrower, big.NewInt(1000)))
	require.NoError(t, pool.Supply(borrower, big.NewInt(1000), 0))
	require.NoError(t, pool.Borrow(borrower, big.NewInt(100), 0))

	// Borrower supplied far more than they borrowed, so they remain
	// well-collateralized and must not be liquidatable.
	_, err := d.Liquidate(common.HexToAddress("0x3"), Target{Silo: SiloLending, Account: borrower, LendingPool: pool}, 0)
	require.ErrorIs(t, err, ErrHealthy)
}

func TestLendingSiloHealthyFails(t *testing.T) {
	prim := ledger.NewInMemory()
	cap := admin.NewCap(common.HexToAddress("0xADM"))
	oracleReg := oracle.NewRegistry(cap)
	derivCore := derivatives.NewCore(cap, oracleReg, prim, events.Noop{})
	synthReg := synth.NewRegistry(cap, oracleReg, prim, "sETH", events.Noop{})
	d := NewDispatcher(derivCore, synthReg, events.Noop{})

	pool := lending.NewPool(lending.Config{
		Asset: usdc,
		Rates: lending.RateModel{BaseRateRay: big.NewInt(0), Slope1Ray: big.NewInt(0), Slope2Ray: big.NewInt(0), KinkRay: big.NewInt(0)},
	}, cap, prim, events.Noop{}, 0)

	_, err := d.Liquidate(common.HexToAddress("0x3"), Target{Silo: SiloLending, Account: common.HexToAddress("0x2"), LendingPool: pool}, 0)
	require.ErrorIs(t, err, ErrHealthy)
}
