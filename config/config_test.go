package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsSelfConsistent(t *testing.T) {
	cfg := Default()
	require.Equal(t, int64(10000), cfg.Fees.StakerShareBps+cfg.Fees.TreasuryShareBps+cfg.Fees.BurnShareBps)
}

func TestLoadFromFileMissingFallsBackToDefault(t *testing.T) {
	cfg, err := LoadFromFile("/nonexistent/path.yaml")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestEnvOverridesTakerBps(t *testing.T) {
	os.Setenv("UNXV_FEES_TAKER_BPS", "25")
	defer os.Unsetenv("UNXV_FEES_TAKER_BPS")

	cfg := LoadFromEnv(Default(), "")
	require.Equal(t, int64(25), cfg.Fees.TakerBps)
}
