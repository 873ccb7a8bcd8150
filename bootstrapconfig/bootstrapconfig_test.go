package bootstrapconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8443, cfg.Listen.Port)
	require.Equal(t, 90, cfg.Audit.RetentionDays)
}

func TestLoadReadsOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "healthsync.toml")
	contents := `
[listen]
host = "127.0.0.1"
port = 9443

[storage]
data_dir = "/var/lib/healthsync"

[rate_limit]
window_seconds = 30
max_requests = 30
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.Listen.Host)
	require.Equal(t, 9443, cfg.Listen.Port)
	require.Equal(t, "/var/lib/healthsync", cfg.Storage.DataDir)
	require.Equal(t, 30, cfg.RateLimit.WindowSeconds)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestValidateRejectsInvalidPort(t *testing.T) {
	cfg := defaults()
	cfg.Listen.Port = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	cfg := defaults()
	cfg.Storage.DataDir = "   "
	require.Error(t, cfg.Validate())
}
