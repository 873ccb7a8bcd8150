package der

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// oidECPublicKey is id-ecPublicKey (1.2.840.10045.2.1).
var oidECPublicKey = []uint32{1, 2, 840, 10045, 2, 1}

// oidPrime256v1 is the named curve OID for P-256 (1.2.840.10045.3.1.7).
var oidPrime256v1 = []uint32{1, 2, 840, 10045, 3, 1, 7}

// oidECDSAWithSHA256 is ecdsa-with-SHA256 (1.2.840.10045.4.3.2).
var oidECDSAWithSHA256 = []uint32{1, 2, 840, 10045, 4, 3, 2}

// subjectName is the fixed single-RDN CN used for both issuer and subject,
// since the client trusts the certificate by pinned fingerprint rather than
// by name or chain.
const subjectName = "HealthSync Local"

// SelfSignedCertificate is the result of building and signing a TBS
// structure: the final DER certificate bytes and their SHA-256 fingerprint.
type SelfSignedCertificate struct {
	DER         []byte
	Fingerprint [32]byte
}

// FingerprintHex returns the lowercase hex SHA-256 fingerprint.
func (c SelfSignedCertificate) FingerprintHex() string {
	return fmt.Sprintf("%x", c.Fingerprint)
}

// BuildSelfSigned constructs a self-signed ECDSA-P256 certificate for key,
// valid from notBefore for the given duration. It builds TBSCertificate by
// hand using the der package's primitives (no encoding/asn1, no
// crypto/x509.CreateCertificate), per the DER/X.509 encoder component.
func BuildSelfSigned(key *ecdsa.PrivateKey, notBefore time.Time, validity time.Duration) (SelfSignedCertificate, error) {
	if key == nil {
		return SelfSignedCertificate{}, errors.New("der: nil private key")
	}
	if key.Curve != elliptic.P256() {
		return SelfSignedCertificate{}, errors.New("der: key must be on the P-256 curve")
	}

	serial, err := randomSerial()
	if err != nil {
		return SelfSignedCertificate{}, fmt.Errorf("der: generate serial: %w", err)
	}

	tbs, err := buildTBS(key, serial, notBefore, validity)
	if err != nil {
		return SelfSignedCertificate{}, fmt.Errorf("der: build TBS: %w", err)
	}

	digest := sha256.Sum256(tbs)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return SelfSignedCertificate{}, fmt.Errorf("der: sign TBS: %w", err)
	}
	sigDER, err := ecdsaSignatureDER(r, s)
	if err != nil {
		return SelfSignedCertificate{}, fmt.Errorf("der: encode signature: %w", err)
	}
	sigBitString, err := BitString(sigDER, 0)
	if err != nil {
		return SelfSignedCertificate{}, err
	}

	sigAlg, err := algorithmIdentifier(oidECDSAWithSHA256, true)
	if err != nil {
		return SelfSignedCertificate{}, err
	}

	cert, err := Sequence(tbs, sigAlg, sigBitString)
	if err != nil {
		return SelfSignedCertificate{}, err
	}

	return SelfSignedCertificate{DER: cert, Fingerprint: sha256.Sum256(cert)}, nil
}

func buildTBS(key *ecdsa.PrivateKey, serial *big.Int, notBefore time.Time, validity time.Duration) ([]byte, error) {
	versionInt, err := IntegerFromInt64(2) // v3
	if err != nil {
		return nil, err
	}
	version, err := ContextWrapper(0, versionInt)
	if err != nil {
		return nil, err
	}

	serialDER, err := Integer(serial.Bytes())
	if err != nil {
		return nil, err
	}

	sigAlg, err := algorithmIdentifier(oidECDSAWithSHA256, true)
	if err != nil {
		return nil, err
	}

	name, err := rdnSequence(subjectName)
	if err != nil {
		return nil, err
	}

	validityDER, err := encodeValidity(notBefore, notBefore.Add(validity))
	if err != nil {
		return nil, err
	}

	spki, err := subjectPublicKeyInfo(key)
	if err != nil {
		return nil, err
	}

	return Sequence(version, serialDER, sigAlg, name, validityDER, name, spki)
}

// algorithmIdentifier encodes an AlgorithmIdentifier SEQUENCE { OID, NULL? }.
// It is used for the ecdsa-with-SHA256 signature algorithm, which carries a
// NULL parameters field in this minimal encoder; the key algorithm in
// subjectPublicKeyInfo is built separately with the named-curve OID as its
// parameters.
func algorithmIdentifier(oid []uint32, withNullParams bool) ([]byte, error) {
	oidDER, err := ObjectIdentifier(oid)
	if err != nil {
		return nil, err
	}
	if !withNullParams {
		return Sequence(oidDER)
	}
	nullDER, err := Null()
	if err != nil {
		return nil, err
	}
	return Sequence(oidDER, nullDER)
}

func rdnSequence(cn string) ([]byte, error) {
	// AttributeTypeAndValue: SEQUENCE { commonName OID, UTF8String value }.
	cnOID, err := ObjectIdentifier([]uint32{2, 5, 4, 3})
	if err != nil {
		return nil, err
	}
	value, err := UTF8String(cn)
	if err != nil {
		return nil, err
	}
	atv, err := Sequence(cnOID, value)
	if err != nil {
		return nil, err
	}
	rdn, err := Set(atv)
	if err != nil {
		return nil, err
	}
	return Sequence(rdn)
}

func encodeValidity(notBefore, notAfter time.Time) ([]byte, error) {
	nb, err := UTCTime(formatUTCTime(notBefore))
	if err != nil {
		return nil, err
	}
	na, err := UTCTime(formatUTCTime(notAfter))
	if err != nil {
		return nil, err
	}
	return Sequence(nb, na)
}

func formatUTCTime(t time.Time) string {
	return t.UTC().Format("060102150405") + "Z"
}

func subjectPublicKeyInfo(key *ecdsa.PrivateKey) ([]byte, error) {
	// AlgorithmIdentifier SEQUENCE { id-ecPublicKey, prime256v1 } — the named
	// curve OID takes the place of the usual NULL parameters field.
	ecOID, err := ObjectIdentifier(oidECPublicKey)
	if err != nil {
		return nil, err
	}
	curveOID, err := ObjectIdentifier(oidPrime256v1)
	if err != nil {
		return nil, err
	}
	alg, err := Sequence(ecOID, curveOID)
	if err != nil {
		return nil, err
	}

	point := elliptic.Marshal(key.Curve, key.X, key.Y) // uncompressed point, 0x04||X||Y
	pubBitString, err := BitString(point, 0)
	if err != nil {
		return nil, err
	}
	return Sequence(alg, pubBitString)
}

// ecdsaSignatureDER encodes an ECDSA signature as SEQUENCE { INTEGER r, INTEGER s }.
func ecdsaSignatureDER(r, s *big.Int) ([]byte, error) {
	rDER, err := Integer(r.Bytes())
	if err != nil {
		return nil, err
	}
	sDER, err := Integer(s.Bytes())
	if err != nil {
		return nil, err
	}
	return Sequence(rDER, sDER)
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 63)
	return rand.Int(rand.Reader, limit)
}

// SignerHash is exported so callers that need to re-verify a built
// certificate's signature (tests, fingerprint-pinning logic) can recompute
// the digest used for signing without reaching for crypto/x509.
var SignerHash crypto.Hash = crypto.SHA256
