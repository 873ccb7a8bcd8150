// Package crypto wraps the P-256 ECDSA key material used for the server's
// TLS identity. Unlike a blockchain signing key, this key is never used to
// derive an address — its only job is to back a self-signed certificate
// that clients trust by pinned SHA-256 fingerprint.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"fmt"
)

// PrivateKey wraps an ECDSA private key on the P-256 curve.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

// PublicKey wraps an ECDSA public key on the P-256 curve.
type PublicKey struct {
	*ecdsa.PublicKey
}

// GeneratePrivateKey creates a new P-256 identity key.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the SEC1 DER encoding of the private key, suitable for
// encrypting-at-rest in the identity store's software-fallback keystore.
func (k *PrivateKey) Bytes() ([]byte, error) {
	b, err := x509.MarshalECPrivateKey(k.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal private key: %w", err)
	}
	return b, nil
}

// PubKey returns the public half of the key pair.
func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// PrivateKeyFromBytes parses a SEC1 DER-encoded P-256 private key.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := x509.ParseECPrivateKey(b)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("crypto: private key is not on the P-256 curve")
	}
	return &PrivateKey{key}, nil
}
