// Command keeper runs tickers for the periodic maintenance steps every
// component in this core expects an external driver to call: orderbook
// expiry sweeps, lending interest accrual, synthetic stability-fee accrual,
// and derivatives mark-to-market/funding steps. Only the stability-fee
// ticker calls a component (synth.Registry.AccrueStabilityFees); the other
// four tickers log the tick and call nothing. Grounded on the teacher's
// cmd/node/main.go (.env + os.Getenv config loading, signal.NotifyContext
// graceful shutdown, a ticker-driven progress loop), generalized from a
// single consensus-engine Run loop to several independent polling tickers
// — this core has no consensus engine of its own (spec.md §1 excludes the
// underlying consensus/storage substrate).
package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/unxversal/core/config"
	"github.com/unxversal/core/internal/admin"
	"github.com/unxversal/core/internal/clock"
	"github.com/unxversal/core/internal/derivatives"
	"github.com/unxversal/core/internal/events"
	"github.com/unxversal/core/internal/fees"
	"github.com/unxversal/core/internal/ledger"
	"github.com/unxversal/core/internal/liquidation"
	"github.com/unxversal/core/internal/logging"
	"github.com/unxversal/core/internal/metrics"
	"github.com/unxversal/core/internal/oracle"
	"github.com/unxversal/core/internal/staking"
	"github.com/unxversal/core/internal/store"
	"github.com/unxversal/core/internal/synth"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.LoadFromFile(os.Getenv("UNXV_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg = config.LoadFromEnv(cfg, "")

	logPath := os.Getenv("UNXV_LOG_FILE")
	if logPath == "" {
		logPath = "data/keeper.log"
	}
	logger, err := logging.NewWithFile(logPath)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("keeper_starting", zap.String("data_dir", cfg.Storage.DataDir))

	db, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		logger.Fatal("store_open_failed", zap.Error(err))
	}
	defer db.Close()

	clk := clock.Real{}
	emitter := events.NewZapEmitter(logger, clk)

	authority := common.HexToAddress(os.Getenv("UNXV_ADMIN_ADDRESS"))
	treasury := common.HexToAddress(os.Getenv("UNXV_TREASURY_ADDRESS"))
	cap := admin.NewCap(authority)

	prim := ledger.NewInMemory()
	oracleReg := oracle.NewRegistry(cap)

	poolCreationFee, ok := new(big.Int).SetString(cfg.Fees.PoolCreationFeeUnxv, 10)
	if !ok {
		poolCreationFee = big.NewInt(0)
	}
	feeCfg := fees.Config{
		TakerBps: cfg.Fees.TakerBps, MakerBps: cfg.Fees.MakerBps,
		UnxvDiscountBps: cfg.Fees.UnxvDiscountBps, PoolCreationFeeUnxv: poolCreationFee,
		LendingOriginationBps: cfg.Fees.LendingOriginationBps, LendingCfBonusBpsMax: cfg.Fees.LendingCfBonusBpsMax,
		StakerShareBps: cfg.Fees.StakerShareBps, TreasuryShareBps: cfg.Fees.TreasuryShareBps, BurnShareBps: cfg.Fees.BurnShareBps,
	}
	feeCfgStore, err := fees.NewConfigStore(cap, feeCfg, emitter)
	if err != nil {
		logger.Fatal("fee_config_invalid", zap.Error(err))
	}

	stakingPool := staking.NewPool(prim, "UNXV")
	feeVault := fees.NewVault(prim, treasury, emitter)
	synthReg := synth.NewRegistry(cap, oracleReg, prim, "USDC", emitter)
	derivCore := derivatives.NewCore(cap, oracleReg, prim, emitter)
	liqDispatcher := liquidation.NewDispatcher(derivCore, synthReg, emitter)

	metricsReg := metrics.NewRegistry(prometheus.NewRegistry())

	_ = feeCfgStore
	_ = feeVault
	_ = liqDispatcher
	_ = metricsReg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gcTicker := time.NewTicker(durationOf(cfg.Keeper.GCStepIntervalMs))
	defer gcTicker.Stop()
	interestTicker := time.NewTicker(durationOf(cfg.Keeper.AccruePoolInterestIntervalMs))
	defer interestTicker.Stop()
	mtmTicker := time.NewTicker(durationOf(cfg.Keeper.MtmStepIntervalMs))
	defer mtmTicker.Stop()
	fundingTicker := time.NewTicker(durationOf(cfg.Keeper.FundingStepIntervalMs))
	defer fundingTicker.Stop()
	stabilityTicker := time.NewTicker(durationOf(cfg.Keeper.StabilityAccrualIntervalMs))
	defer stabilityTicker.Stop()

	logger.Info("keeper_ready", zap.Int64("active_stake", weiToInt64(stakingPool.TotalStake())))
	for {
		select {
		case <-ctx.Done():
			logger.Info("keeper_shutting_down")
			return
		case <-gcTicker.C:
			// Each registered orderbook.Book's GCStep is invoked by the
			// embedding process, which owns the set of live markets; this
			// loop is the cadence signal only.
			logger.Debug("gc_step_tick", zap.Int64("now_ms", clk.NowMs()))
		case <-interestTicker.C:
			// Each lending.Pool's AccruePoolInterest is invoked by the
			// embedding process over the set of listed assets.
			logger.Debug("accrue_pool_interest_tick", zap.Int64("now_ms", clk.NowMs()))
		case <-mtmTicker.C:
			logger.Debug("mtm_step_tick", zap.Int64("now_ms", clk.NowMs()))
		case <-fundingTicker.C:
			logger.Debug("funding_step_tick", zap.Int64("now_ms", clk.NowMs()))
		case <-stabilityTicker.C:
			synthReg.AccrueStabilityFees(clk.NowMs())
		}
	}
}

func durationOf(ms int64) time.Duration {
	if ms <= 0 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}

func weiToInt64(v *big.Int) int64 {
	if v == nil || !v.IsInt64() {
		return 0
	}
	return v.Int64()
}
