package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSoftwareKeystoreOpenWithoutSealReturnsErrNoIdentity(t *testing.T) {
	ks, err := newSoftwareKeystore(t.TempDir())
	require.NoError(t, err)

	_, err = ks.Open()
	require.True(t, errors.Is(err, ErrNoIdentity))
}

func TestSoftwareKeystoreSealOpenRoundTrip(t *testing.T) {
	ks, err := newSoftwareKeystore(t.TempDir())
	require.NoError(t, err)

	plaintext := []byte("super secret DER-encoded key material")
	require.NoError(t, ks.Seal(plaintext))

	got, err := ks.Open()
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestSoftwareKeystoreFilePermissionsAreOwnerOnly(t *testing.T) {
	dir := t.TempDir()
	ks, err := newSoftwareKeystore(dir)
	require.NoError(t, err)
	require.NoError(t, ks.Seal([]byte("secret")))

	info, err := os.Stat(filepath.Join(dir, keyFileName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	seedInfo, err := os.Stat(filepath.Join(dir, seedFileName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), seedInfo.Mode().Perm())
}

func TestSoftwareKeystoreRejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	ks, err := newSoftwareKeystore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, keyFileName), []byte{0x01}, keyFilePerm))

	_, err = ks.Open()
	require.Error(t, err)
}
