// Package config loads the keeper process's static protocol parameters.
// Grounded on the teacher's params/config.go (Default() baseline,
// LoadFromEnv's godotenv + os.Getenv override layering), generalized from
// consensus timing knobs to the core's fee/rate/oracle parameter set, and
// on the pack's yaml.v3 usage for the static document itself (the teacher
// has no file-based config; a deployment-sized parameter set like this
// core's warrants one beyond bare env vars).
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StakeTier mirrors fees.StakeTier in a YAML-friendly shape (string amounts,
// decoded to *big.Int by the caller wiring fees.Config).
type StakeTier struct {
	MinStake    string `yaml:"min_stake"`
	DiscountBps int64  `yaml:"discount_bps"`
}

// Fees mirrors fees.Config in YAML-friendly form.
type Fees struct {
	TakerBps              int64       `yaml:"taker_bps"`
	MakerBps              int64       `yaml:"maker_bps"`
	UnxvDiscountBps       int64       `yaml:"unxv_discount_bps"`
	PoolCreationFeeUnxv   string      `yaml:"pool_creation_fee_unxv"`
	StakeTiers            []StakeTier `yaml:"stake_tiers"`
	LendingOriginationBps int64       `yaml:"lending_origination_bps"`
	LendingCfBonusBpsMax  int64       `yaml:"lending_cf_bonus_bps_max"`
	StakerShareBps        int64       `yaml:"staker_share_bps"`
	TreasuryShareBps      int64       `yaml:"treasury_share_bps"`
	BurnShareBps          int64       `yaml:"burn_share_bps"`
}

// Keeper holds the periodic poll intervals for the keeper process's
// maintenance loops.
type Keeper struct {
	GCStepIntervalMs           int64 `yaml:"gc_step_interval_ms"`
	AccruePoolInterestIntervalMs int64 `yaml:"accrue_pool_interest_interval_ms"`
	MtmStepIntervalMs          int64 `yaml:"mtm_step_interval_ms"`
	FundingStepIntervalMs      int64 `yaml:"funding_step_interval_ms"`
	StabilityAccrualIntervalMs int64 `yaml:"stability_accrual_interval_ms"`
}

// Storage holds the pebble data directory.
type Storage struct {
	DataDir string `yaml:"data_dir"`
}

// Config is the keeper process's full static configuration document.
type Config struct {
	Fees    Fees    `yaml:"fees"`
	Keeper  Keeper  `yaml:"keeper"`
	Storage Storage `yaml:"storage"`
}

// Default returns the baseline configuration, mirroring the teacher's
// Default()'s role as the floor every override layers on top of.
func Default() Config {
	return Config{
		Fees: Fees{
			TakerBps: 10, MakerBps: 5, UnxvDiscountBps: 2,
			PoolCreationFeeUnxv: "0",
			LendingOriginationBps: 10, LendingCfBonusBpsMax: 500,
			StakerShareBps: 5000, TreasuryShareBps: 3000, BurnShareBps: 2000,
		},
		Keeper: Keeper{
			GCStepIntervalMs:              5_000,
			AccruePoolInterestIntervalMs:  60_000,
			MtmStepIntervalMs:             60_000,
			FundingStepIntervalMs:         60_000,
			StabilityAccrualIntervalMs:    60_000,
		},
		Storage: Storage{DataDir: "./data"},
	}
}

// LoadFromFile reads a YAML document at path into Default()'s baseline,
// then LoadFromEnv applies environment overrides on top. Either step is
// optional: path == "" skips the YAML layer, matching the teacher's
// LoadFromEnv(envPath string) where an empty path still checks ./.env.
func LoadFromFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFromEnv overlays cfg with UNXV_-prefixed environment variables
// (loaded from a .env file first, if present), directly adapted from the
// teacher's LoadFromEnv priority order: ENV > .env file > defaults.
func LoadFromEnv(cfg Config, envPath string) Config {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("UNXV_FEES_TAKER_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Fees.TakerBps = n
		}
	}
	if v := os.Getenv("UNXV_FEES_MAKER_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Fees.MakerBps = n
		}
	}
	if v := os.Getenv("UNXV_KEEPER_GC_STEP_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Keeper.GCStepIntervalMs = n
		}
	}
	if v := os.Getenv("UNXV_STORAGE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	return cfg
}
