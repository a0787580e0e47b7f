package lending

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/unxversal/core/internal/admin"
	"github.com/unxversal/core/internal/events"
	"github.com/unxversal/core/internal/fixedmath"
	"github.com/unxversal/core/internal/ledger"
)

const usdc ledger.Asset = "USDC"

func newTestPool(t *testing.T) (*Pool, *ledger.InMemory) {
	t.Helper()
	prim := ledger.NewInMemory()
	cap := admin.NewCap(common.HexToAddress("0xADM"))
	cfg := Config{
		Asset: usdc, CollateralFactorBps: 7500, LiquidationThreshold: 8000,
		OriginationFeeBps: 10, BreakerUtilizationBps: 9500,
		Rates: RateModel{
			BaseRateRay: big.NewInt(0),
			Slope1Ray:   new(big.Int).Quo(fixedmath.Ray, big.NewInt(10)),
			Slope2Ray:   fixedmath.Ray,
			KinkRay:     new(big.Int).Quo(new(big.Int).Mul(fixedmath.Ray, big.NewInt(8)), big.NewInt(10)),
		},
	}
	return NewPool(cfg, cap, prim, events.Noop{}, 0), prim
}

func TestSupplyBorrowRepay(t *testing.T) {
	pool, prim := newTestPool(t)
	lp := common.HexToAddress("0x1")
	borrower := common.HexToAddress("0x2")

	require.NoError(t, prim.CreditFrom(usdc, lp, big.NewInt(1000)))
	require.NoError(t, pool.Supply(lp, big.NewInt(1000), 0))

	require.NoError(t, pool.Borrow(borrower, big.NewInt(500), 0))
	require.True(t, prim.Balance(usdc, borrower).Sign() > 0)
	require.True(t, pool.DebtOf(borrower).Sign() > 0)

	require.NoError(t, prim.CreditFrom(usdc, borrower, big.NewInt(500)))
	require.NoError(t, pool.Repay(borrower, pool.DebtOf(borrower), 0))
	require.Equal(t, 0, pool.DebtOf(borrower).Sign())
}

func TestBreakerTripsAboveThreshold(t *testing.T) {
	pool, prim := newTestPool(t)
	lp := common.HexToAddress("0x1")
	borrower := common.HexToAddress("0x2")
	require.NoError(t, prim.CreditFrom(usdc, lp, big.NewInt(1000)))
	require.NoError(t, pool.Supply(lp, big.NewInt(1000), 0))

	err := pool.Borrow(borrower, big.NewInt(960), 0)
	require.ErrorIs(t, err, ErrBreakerTripped)
}

func TestIndexMonotonicUnderAccrual(t *testing.T) {
	pool, prim := newTestPool(t)
	lp := common.HexToAddress("0x1")
	borrower := common.HexToAddress("0x2")
	require.NoError(t, prim.CreditFrom(usdc, lp, big.NewInt(1000)))
	require.NoError(t, pool.Supply(lp, big.NewInt(1000), 0))
	require.NoError(t, pool.Borrow(borrower, big.NewInt(500), 0))

	before := new(big.Int).Set(pool.borrowIndexRay)
	pool.AccruePoolInterest(3600_000)
	after := pool.borrowIndexRay
	require.True(t, after.Cmp(before) >= 0)
}

func TestCashBorrowsCoverReserves(t *testing.T) {
	pool, prim := newTestPool(t)
	lp := common.HexToAddress("0x1")
	borrower := common.HexToAddress("0x2")
	require.NoError(t, prim.CreditFrom(usdc, lp, big.NewInt(1000)))
	require.NoError(t, pool.Supply(lp, big.NewInt(1000), 0))
	require.NoError(t, pool.Borrow(borrower, big.NewInt(500), 0))

	cash, borrows, reserves := pool.TotalCashBorrowsReserves()
	total := new(big.Int).Add(cash, borrows)
	require.True(t, total.Cmp(reserves) >= 0)
}

func TestReserveFactorRetainsShareOfAccruedInterest(t *testing.T) {
	pool, prim := newTestPool(t)
	pool.cfg.ReserveFactorBps = 1000 // 10%
	lp := common.HexToAddress("0x1")
	borrower := common.HexToAddress("0x2")
	require.NoError(t, prim.CreditFrom(usdc, lp, big.NewInt(1000)))
	require.NoError(t, pool.Supply(lp, big.NewInt(1000), 0))
	require.NoError(t, pool.Borrow(borrower, big.NewInt(500), 0))

	_, _, reservesBefore := pool.TotalCashBorrowsReserves()
	pool.AccruePoolInterest(3600_000)
	_, _, reservesAfter := pool.TotalCashBorrowsReserves()
	require.True(t, reservesAfter.Cmp(reservesBefore) > 0)
}

func TestUpdatePoolRatesRequiresAuthority(t *testing.T) {
	pool, _ := newTestPool(t)
	stranger := common.HexToAddress("0xBAD")
	newRates := RateModel{BaseRateRay: big.NewInt(1), Slope1Ray: big.NewInt(0), Slope2Ray: big.NewInt(0), KinkRay: big.NewInt(0)}
	err := pool.UpdatePoolRates(stranger, newRates, 0)
	require.Error(t, err)

	require.NoError(t, pool.UpdatePoolRates(common.HexToAddress("0xADM"), newRates, 0))
	require.Equal(t, big.NewInt(1), pool.cfg.Rates.BaseRateRay)
}

func TestCollateralValueGatesLiquidationEligibility(t *testing.T) {
	pool, prim := newTestPool(t)
	lp := common.HexToAddress("0x1")
	borrower := common.HexToAddress("0x2")
	require.NoError(t, prim.CreditFrom(usdc, lp, big.NewInt(1000)))
	require.NoError(t, pool.Supply(lp, big.NewInt(1000), 0))
	require.NoError(t, pool.Borrow(borrower, big.NewInt(100), 0))

	// Borrower never supplied anything of their own, so their collateral
	// value in this pool is zero — strictly less than their debt.
	require.True(t, pool.CollateralValueOf(borrower).Cmp(pool.DebtOf(borrower)) < 0)

	require.NoError(t, prim.CreditFrom(usdc, borrower, big.NewInt(1000)))
	require.NoError(t, pool.Supply(borrower, big.NewInt(1000), 0))
	require.True(t, pool.CollateralValueOf(borrower).Cmp(pool.DebtOf(borrower)) >= 0)
}
