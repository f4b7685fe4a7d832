package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfileFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "learning_profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistryLoadsProfiles(t *testing.T) {
	path := writeProfileFile(t, `
learning_profiles:
  BTC-USD:
    symbol: btcusdt
    interval: 4h
    history_limit: 500
    params:
      window_size: 20
  ETH-USD:
    enabled: false
`)
	reg, err := NewRegistry(path)
	require.NoError(t, err)

	snap := reg.Snapshot()
	require.Len(t, snap.Profiles, 2)

	btc, ok := reg.Profile("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", btc.Symbol)
	assert.Equal(t, "4h", btc.Interval)
	assert.Equal(t, 500, btc.HistoryLimit)
	assert.True(t, btc.IsEnabled())

	enabled := snap.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "BTC-USD", enabled[0].AssetID)
}

func TestRegistryDefaults(t *testing.T) {
	path := writeProfileFile(t, `
learning_profiles:
  SOL-USD: {}
`)
	reg, err := NewRegistry(path)
	require.NoError(t, err)

	sol, ok := reg.Profile("SOL-USD")
	require.True(t, ok)
	assert.Equal(t, "SOL-USD", sol.AssetID)
	assert.Equal(t, "1h", sol.Interval)
	assert.Equal(t, 300, sol.HistoryLimit)
}

func TestRegistrySkipsInvalidParams(t *testing.T) {
	path := writeProfileFile(t, `
learning_profiles:
  BTC-USD:
    params:
      window_size: -5
  ETH-USD: {}
`)
	reg, err := NewRegistry(path)
	require.NoError(t, err)

	_, ok := reg.Profile("BTC-USD")
	assert.False(t, ok)
	_, ok = reg.Profile("ETH-USD")
	assert.True(t, ok)
}

func TestRegistryRejectsUnknownTopLevelKeys(t *testing.T) {
	path := writeProfileFile(t, `
learning_profiles: {}
unexpected_key: true
`)
	_, err := NewRegistry(path)
	assert.Error(t, err)
}
