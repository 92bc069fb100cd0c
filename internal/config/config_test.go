package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pool.Address = "bc1qexampleaddress"
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsMissingPoolAddress(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool.address")
}

func TestValidate_RejectsOutOfRangeCollateralRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pool.Address = "bc1qexampleaddress"
	cfg.Risk.CollateralRate = 1.5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk.collateral_rate")
}

func TestValidate_RejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pool.Address = "bc1qexampleaddress"
	cfg.System.LogLevel = "VERBOSE"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system.log_level")
}

func TestLoadConfig_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_POOL_ADDRESS", "bc1qfromenv")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
pool:
  address: "${TEST_POOL_ADDRESS}"
  network: signet
risk:
  collateral_rate: 0.5
  risk_margin: 1.2
  risk_free_rate: 0.05
upstream:
  aggregator_url: "localhost:50051"
  iv_api_url: "http://localhost:8081"
system:
  log_level: INFO
storage:
  sqlite_path: test.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "bc1qfromenv", cfg.Pool.Address)
}

func TestString_DoesNotPanic(t *testing.T) {
	cfg := DefaultConfig()
	assert.NotEmpty(t, cfg.String())
}
