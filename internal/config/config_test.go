package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocet-audio/crasd/internal/node"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingPathErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoadParsesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crasd.yaml")
	contents := `
log_level: debug
bluetooth:
  conn_watch_period: 5s
  conn_watch_max_retries: 10
floop:
  - name: studio
    client_types_mask: 3
speak_on_mute:
  window_size: 20
  threshold: 12
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.Bluetooth.ConnWatchPeriod)
	assert.Equal(t, 10, cfg.Bluetooth.ConnWatchMaxRetries)
	// Untouched defaults survive a partial override.
	assert.Equal(t, 500*time.Millisecond, cfg.Bluetooth.ProfileSwitchDelay)
	require.Len(t, cfg.Floop, 1)
	assert.Equal(t, "studio", cfg.Floop[0].Name)
	assert.Equal(t, uint64(3), cfg.Floop[0].ClientTypesMask)
	assert.Equal(t, 20, cfg.SpeakOnMute.WindowSize)
	assert.Equal(t, 12, cfg.SpeakOnMute.Threshold)
}

func TestLoadInvalidYAMLErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNodePriorityTableMergesOverridesWithoutMutatingDefaults(t *testing.T) {
	cfg := Default()
	cfg.NodePriority = map[string]int{"HDMI": 999, "NOT_A_TYPE": 5}

	table := cfg.NodePriorityTable()
	assert.Equal(t, 999, table[node.TypeHDMI])
	assert.Equal(t, node.Priority[node.TypeBluetooth], table[node.TypeBluetooth])

	// The package-level default table must be untouched.
	assert.NotEqual(t, 999, node.Priority[node.TypeHDMI])
}
