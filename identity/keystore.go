package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

// keyFilePerm and dirPerm keep the wrapped private key and its containing
// directory readable only by the owning process, the same posture a real
// Secure Enclave/Keychain binding would give the key material.
const (
	keyFilePerm = 0o600
	dirPerm     = 0o700
)

// seedFileName is the file holding the random wrapping seed. Losing it
// makes every previously wrapped key file unrecoverable; it never leaves
// the data directory.
const seedFileName = "keystore.seed"
const keyFileName = "identity.key.enc"

// nonceSize is the standard GCM nonce length.
const nonceSize = 12

// softwareKeystore is the fallback key-wrapping capability used on
// platforms with no hardware-backed enclave. It derives one AES-256 key
// per keystore directory from a random on-disk seed via HKDF-SHA256 and
// seals the SEC1 DER EC private key bytes with AES-256-GCM.
type softwareKeystore struct {
	dir string
}

func newSoftwareKeystore(dir string) (*softwareKeystore, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("identity: create keystore dir: %w", err)
	}
	return &softwareKeystore{dir: dir}, nil
}

// Seal wraps plaintext (the DER-encoded private key) and writes it to disk.
func (k *softwareKeystore) Seal(plaintext []byte) error {
	key, err := k.derivedKey()
	if err != nil {
		return err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("identity: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("identity: new gcm: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("identity: generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return os.WriteFile(filepath.Join(k.dir, keyFileName), sealed, keyFilePerm)
}

// Open reads and unwraps the previously sealed private key. It returns
// ErrNoIdentity if no key file has ever been written.
func (k *softwareKeystore) Open() ([]byte, error) {
	path := filepath.Join(k.dir, keyFileName)
	sealed, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("identity: read keystore file: %w", err)
	}
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("identity: keystore file is truncated")
	}

	key, err := k.derivedKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("identity: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("identity: new gcm: %w", err)
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("identity: unseal keystore file: %w", err)
	}
	return plaintext, nil
}

// derivedKey loads (creating if absent) a random seed and stretches it into
// a 32-byte AES key via HKDF-SHA256. The seed, not the key, is what's
// persisted, so rotating the HKDF info string would re-derive a different
// key without touching the seed file.
func (k *softwareKeystore) derivedKey() ([]byte, error) {
	seed, err := k.loadOrCreateSeed()
	if err != nil {
		return nil, err
	}
	reader := hkdf.New(sha256.New, seed, nil, []byte("healthsync-identity-wrap-v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("identity: derive wrap key: %w", err)
	}
	return key, nil
}

func (k *softwareKeystore) loadOrCreateSeed() ([]byte, error) {
	path := filepath.Join(k.dir, seedFileName)
	existing, err := os.ReadFile(path)
	if err == nil && len(existing) == 32 {
		return existing, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("identity: read keystore seed: %w", err)
	}

	seed := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, fmt.Errorf("identity: generate keystore seed: %w", err)
	}
	if err := os.WriteFile(path, seed, keyFilePerm); err != nil {
		return nil, fmt.Errorf("identity: write keystore seed: %w", err)
	}
	return seed, nil
}
