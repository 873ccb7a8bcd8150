// Package identity owns the device's long-lived TLS key pair and
// self-signed certificate: loading them from disk, minting them on first
// run, and handing out the pinned fingerprint clients use to trust the
// server without a certificate chain.
package identity

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	devicecrypto "github.com/mneves75/ai-health-sync-ios-sub001/crypto"
	"github.com/mneves75/ai-health-sync-ios-sub001/der"
)

// ErrNoIdentity is returned by the keystore when no identity has ever been
// persisted to the data directory.
var ErrNoIdentity = errors.New("identity: no identity in keystore")

// certificateLifetime is long enough that a long-running device rarely
// rotates, but short enough to bound how long a compromised key stays
// trusted if the data directory is ever copied off-device.
const certificateLifetime = 397 * 24 * time.Hour

// Identity bundles the private key with its self-signed certificate and
// the certificate's pinned fingerprint.
type Identity struct {
	PrivateKey  *ecdsa.PrivateKey
	Certificate der.SelfSignedCertificate
}

// FingerprintHex returns the lowercase hex SHA-256 fingerprint clients pin.
func (id Identity) FingerprintHex() string {
	return id.Certificate.FingerprintHex()
}

// Store loads or creates the on-device identity, persisting the private
// key through a software-fallback keystore. A single in-process instance
// is safe for concurrent use.
type Store struct {
	keystore *softwareKeystore
	group    singleflight.Group

	mu      sync.RWMutex
	current *Identity
}

// NewStore opens (without yet loading) the identity keystore rooted at dir.
func NewStore(dir string) (*Store, error) {
	ks, err := newSoftwareKeystore(dir)
	if err != nil {
		return nil, err
	}
	return &Store{keystore: ks}, nil
}

// LoadOrCreate returns the cached identity if one has already been
// resolved this process, otherwise loads it from the keystore or mints a
// fresh one. Concurrent callers during first run are serialized onto a
// single generation via singleflight so the key is never minted twice.
func (s *Store) LoadOrCreate() (Identity, error) {
	if id := s.cached(); id != nil {
		return *id, nil
	}

	result, err, _ := s.group.Do("load-or-create", func() (any, error) {
		if id := s.cached(); id != nil {
			return *id, nil
		}

		id, err := s.load()
		if errors.Is(err, ErrNoIdentity) {
			id, err = s.create()
		}
		if err != nil {
			return Identity{}, err
		}

		s.mu.Lock()
		cached := id
		s.current = &cached
		s.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return Identity{}, err
	}
	return result.(Identity), nil
}

func (s *Store) cached() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Store) load() (Identity, error) {
	raw, err := s.keystore.Open()
	if err != nil {
		return Identity{}, err
	}
	key, err := devicecrypto.PrivateKeyFromBytes(raw)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: decode stored key: %w", err)
	}
	cert, err := der.BuildSelfSigned(key.PrivateKey, time.Now(), certificateLifetime)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: rebuild certificate: %w", err)
	}
	return Identity{PrivateKey: key.PrivateKey, Certificate: cert}, nil
}

func (s *Store) create() (Identity, error) {
	key, err := devicecrypto.GeneratePrivateKey()
	if err != nil {
		return Identity{}, fmt.Errorf("identity: generate key: %w", err)
	}
	raw, err := key.Bytes()
	if err != nil {
		return Identity{}, err
	}
	if err := s.keystore.Seal(raw); err != nil {
		return Identity{}, fmt.Errorf("identity: persist key: %w", err)
	}
	cert, err := der.BuildSelfSigned(key.PrivateKey, time.Now(), certificateLifetime)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: build certificate: %w", err)
	}
	return Identity{PrivateKey: key.PrivateKey, Certificate: cert}, nil
}

// CreateEphemeral mints a brand-new, unpersisted identity. Tests and
// diagnostic tooling use this to get a valid TLS identity without
// touching a data directory.
func CreateEphemeral() (Identity, error) {
	key, err := devicecrypto.GeneratePrivateKey()
	if err != nil {
		return Identity{}, fmt.Errorf("identity: generate ephemeral key: %w", err)
	}
	cert, err := der.BuildSelfSigned(key.PrivateKey, time.Now(), certificateLifetime)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: build ephemeral certificate: %w", err)
	}
	return Identity{PrivateKey: key.PrivateKey, Certificate: cert}, nil
}
