package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mneves75/ai-health-sync-ios-sub001/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "healthsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCreateAndFindDeviceByTokenHash(t *testing.T) {
	db := openTestDB(t)

	device := &model.PairedDevice{
		ID: "dev-1", ClientName: "Client-ABCD1234", TokenHash: "deadbeef",
		IsActive: true, ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(), LastSeenAt: time.Now(),
	}
	require.NoError(t, db.CreateDevice(device))

	found, err := db.FindActiveByTokenHash("deadbeef")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "dev-1", found.ID)
}

func TestFindActiveByTokenHashReturnsNilNilWhenMissing(t *testing.T) {
	db := openTestDB(t)
	found, err := db.FindActiveByTokenHash("nope")
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestRevokeAllDeactivatesEveryDevice(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.CreateDevice(&model.PairedDevice{ID: "a", TokenHash: "h1", IsActive: true, ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, db.CreateDevice(&model.PairedDevice{ID: "b", TokenHash: "h2", IsActive: true, ExpiresAt: time.Now().Add(time.Hour)}))

	require.NoError(t, db.RevokeAll())

	a, err := db.FindActiveByTokenHash("h1")
	require.NoError(t, err)
	require.False(t, a.IsActive)
	b, err := db.FindActiveByTokenHash("h2")
	require.NoError(t, err)
	require.False(t, b.IsActive)
}

func TestLoadConfigurationCreatesSingletonRow(t *testing.T) {
	db := openTestDB(t)

	cfg, err := db.LoadConfiguration()
	require.NoError(t, err)
	require.Equal(t, uint(1), cfg.ID)
	require.Empty(t, cfg.EnabledTypes)
}

func TestSaveConfigurationPersistsMutations(t *testing.T) {
	db := openTestDB(t)

	cfg, err := db.LoadConfiguration()
	require.NoError(t, err)
	cfg.EnabledTypes = "stepCount,heartRate"
	now := time.Now()
	cfg.LastExportAt = &now
	require.NoError(t, db.SaveConfiguration(cfg))

	reloaded, err := db.LoadConfiguration()
	require.NoError(t, err)
	require.Equal(t, "stepCount,heartRate", reloaded.EnabledTypes)
	require.NotNil(t, reloaded.LastExportAt)
}

func TestTouchLastSeenUpdatesTimestamp(t *testing.T) {
	db := openTestDB(t)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, db.CreateDevice(&model.PairedDevice{
		ID: "dev-1", TokenHash: "h1", IsActive: true, ExpiresAt: time.Now().Add(time.Hour), LastSeenAt: past,
	}))

	require.NoError(t, db.TouchLastSeen("dev-1", time.Now()))

	found, err := db.FindActiveByTokenHash("h1")
	require.NoError(t, err)
	require.True(t, found.LastSeenAt.After(past))
}
