package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LEDGER_STORE", "Memory")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "3100", cfg.NetAssetsAccount)
	assert.Equal(t, "10s", cfg.StatementTimeout.String())
	assert.Equal(t, uint64(3), cfg.PostRetries)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsUnknownStore(t *testing.T) {
	t.Setenv("LEDGER_STORE", "sqlite")
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEDGER_STORE")
}

func TestValidateRequiresNetAssetsAccount(t *testing.T) {
	cfg := testConfig()
	cfg.NetAssetsAccount = " "
	require.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.StatementTimeout = 0
	require.Error(t, cfg.Validate())

	require.NoError(t, testConfig().Validate())
}
