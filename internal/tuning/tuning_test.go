package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTuning(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transport.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsWithoutFile(t *testing.T) {
	SetPathForTest(filepath.Join(t.TempDir(), "missing.yaml"))

	got := Current()
	assert.Equal(t, 2*time.Second, got.PollInterval)
	assert.Equal(t, 90, got.PollMaxAttempts)
	assert.Equal(t, 10*time.Second, got.SocketGrace)
	assert.Equal(t, 180*time.Second, got.OverallTimeout)
	assert.Equal(t, 30*time.Second, got.Cooldown)
	assert.Equal(t, 0, got.RatePerMinute)
}

func TestLoadsOverrides(t *testing.T) {
	path := writeTuning(t, `
transport:
  poll_interval_ms: 500
  poll_max_attempts: 20
  socket_grace_ms: 3000
  overall_timeout_ms: 60000
guard:
  cooldown_ms: 10000
  rate_per_minute: 6
`)
	SetPathForTest(path)

	got := Current()
	assert.Equal(t, 500*time.Millisecond, got.PollInterval)
	assert.Equal(t, 20, got.PollMaxAttempts)
	assert.Equal(t, 3*time.Second, got.SocketGrace)
	assert.Equal(t, time.Minute, got.OverallTimeout)
	assert.Equal(t, 10*time.Second, got.Cooldown)
	assert.Equal(t, 6, got.RatePerMinute)
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := writeTuning(t, `
transport:
  poll_interval_ms: 750
`)
	SetPathForTest(path)

	got := Current()
	assert.Equal(t, 750*time.Millisecond, got.PollInterval)
	assert.Equal(t, 90, got.PollMaxAttempts)
	assert.Equal(t, 30*time.Second, got.Cooldown)
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := writeTuning(t, `
transport:
  poll_interval_ms: 1000
`)
	SetPathForTest(path)
	assert.Equal(t, time.Second, Current().PollInterval)

	require.NoError(t, os.WriteFile(path, []byte(`
transport:
  poll_interval_ms: 4000
`), 0o644))
	Reload()
	assert.Equal(t, 4*time.Second, Current().PollInterval)
}

func TestMalformedFileFallsBackToDefaults(t *testing.T) {
	path := writeTuning(t, "transport: [not a map")
	SetPathForTest(path)

	got := Current()
	assert.Equal(t, 2*time.Second, got.PollInterval)
}
