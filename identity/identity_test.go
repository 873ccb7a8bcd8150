package identity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateCreatesOnFirstRun(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	id, err := store.LoadOrCreate()
	require.NoError(t, err)
	require.NotNil(t, id.PrivateKey)
	require.Len(t, id.Certificate.Fingerprint, 32)
}

func TestLoadOrCreatePersistsAcrossStores(t *testing.T) {
	dir := t.TempDir()

	first, err := NewStore(dir)
	require.NoError(t, err)
	idA, err := first.LoadOrCreate()
	require.NoError(t, err)

	second, err := NewStore(dir)
	require.NoError(t, err)
	idB, err := second.LoadOrCreate()
	require.NoError(t, err)

	require.Equal(t, idA.PrivateKey.D, idB.PrivateKey.D)
	require.Equal(t, idA.FingerprintHex(), idB.FingerprintHex())
}

func TestLoadOrCreateConcurrentCallersShareOneGeneration(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	const callers = 16
	results := make([]Identity, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.LoadOrCreate()
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0].FingerprintHex(), results[i].FingerprintHex())
	}
}

func TestCreateEphemeralIsNotPersisted(t *testing.T) {
	idA, err := CreateEphemeral()
	require.NoError(t, err)
	idB, err := CreateEphemeral()
	require.NoError(t, err)

	require.NotEqual(t, idA.FingerprintHex(), idB.FingerprintHex())
}
