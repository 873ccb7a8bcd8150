// Package pairing implements the short-lived pairing ceremony that turns a
// one-time code, displayed out of band on the device, into a durable
// bearer token a client presents on every subsequent request.
package pairing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mneves75/ai-health-sync-ios-sub001/model"
)

// codeAlphabet excludes visually ambiguous characters (I, l, 1, O, 0) so a
// code displayed on a small screen or read aloud is unambiguous.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

const (
	codeLength       = 8
	defaultCodeTTL   = 5 * time.Minute
	maxFailedAttempts = 5
	tokenByteLength  = 16 // 128 bits of opaque bearer token entropy
	defaultTokenTTL  = 30 * 24 * time.Hour
)

var (
	// ErrNoPendingPairing means there is no outstanding code to match against.
	ErrNoPendingPairing = errors.New("pairing: no pending pairing")
	// ErrTooManyAttempts means the pending pairing was burned by repeated failures.
	ErrTooManyAttempts = errors.New("pairing: too many failed attempts")
	// ErrPairingExpired means the pending pairing's TTL elapsed.
	ErrPairingExpired = errors.New("pairing: code expired")
	// ErrCodeMismatch means the code didn't match (and was counted as an attempt).
	ErrCodeMismatch = errors.New("pairing: code does not match")
	// ErrTokenInvalid means the bearer token doesn't match an active device.
	ErrTokenInvalid = errors.New("pairing: token invalid or expired")
)

// DeviceStore is the persistence boundary pairing needs from the relational
// store: create, look up by token hash, and revoke-all.
type DeviceStore interface {
	CreateDevice(d *model.PairedDevice) error
	FindActiveByTokenHash(tokenHash string) (*model.PairedDevice, error)
	TouchLastSeen(id string, at time.Time) error
	RevokeAll() error
}

// pendingPairing is the single in-memory slot for an outstanding pairing
// code. Only one pairing ceremony can be in flight at a time, matching the
// device's single-owner pairing flow.
type pendingPairing struct {
	code          string
	expiresAt     time.Time
	failedAttempts int
}

// Service coordinates the pairing ceremony and subsequent token validation.
type Service struct {
	devices  DeviceStore
	codeTTL  time.Duration
	tokenTTL time.Duration

	mu      sync.Mutex
	pending *pendingPairing
}

// NewService constructs a pairing Service backed by the given device store,
// using the default code and token lifetimes.
func NewService(devices DeviceStore) *Service {
	return NewServiceWithTTLs(devices, defaultCodeTTL, defaultTokenTTL)
}

// NewServiceWithTTLs is NewService with operator-configured pairing code and
// bearer token lifetimes in place of the defaults.
func NewServiceWithTTLs(devices DeviceStore, codeTTL, tokenTTL time.Duration) *Service {
	if codeTTL <= 0 {
		codeTTL = defaultCodeTTL
	}
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &Service{devices: devices, codeTTL: codeTTL, tokenTTL: tokenTTL}
}

// BeginPairing generates a fresh pairing code, replacing any pairing
// already in progress, and returns it along with its expiry.
func (s *Service) BeginPairing() (code string, expiresAt time.Time, err error) {
	generated, err := generateCode()
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt = time.Now().Add(s.codeTTL)

	s.mu.Lock()
	s.pending = &pendingPairing{code: generated, expiresAt: expiresAt}
	s.mu.Unlock()

	return generated, expiresAt, nil
}

// HandlePairRequest validates the presented code against the pending
// pairing and, on success, mints and persists a bearer token for the
// anonymized client name. Checks run in a fixed order: a pending pairing
// must exist, the attempt cap must not be exhausted, the code must not
// have expired, and finally the code itself must match in constant time.
func (s *Service) HandlePairRequest(req model.PairRequest) (model.PairResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return model.PairResponse{}, ErrNoPendingPairing
	}
	if s.pending.failedAttempts >= maxFailedAttempts {
		s.pending = nil
		return model.PairResponse{}, ErrTooManyAttempts
	}
	if time.Now().After(s.pending.expiresAt) {
		s.pending = nil
		return model.PairResponse{}, ErrPairingExpired
	}
	if !constantTimeCodeEqual(s.pending.code, req.Code) {
		s.pending.failedAttempts++
		return model.PairResponse{}, ErrCodeMismatch
	}

	token, tokenHash, err := mintToken()
	if err != nil {
		return model.PairResponse{}, err
	}

	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)
	device := &model.PairedDevice{
		ID:         uuid.NewString(),
		ClientName: anonymizeClientName(req.ClientName),
		TokenHash:  tokenHash,
		ExpiresAt:  expiresAt,
		IsActive:   true,
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if err := s.devices.CreateDevice(device); err != nil {
		return model.PairResponse{}, fmt.Errorf("pairing: persist paired device: %w", err)
	}

	s.pending = nil
	return model.PairResponse{Token: token, ExpiresAt: expiresAt}, nil
}

// ValidateToken hashes the presented bearer token and looks up the
// corresponding active, unexpired device, touching its last-seen time on
// success. The plaintext token is never persisted or logged.
func (s *Service) ValidateToken(token string) (*model.PairedDevice, error) {
	hash := hashToken(token)
	device, err := s.devices.FindActiveByTokenHash(hash)
	if err != nil {
		return nil, fmt.Errorf("pairing: look up device: %w", err)
	}
	if device == nil || !device.Reachable(time.Now()) {
		return nil, ErrTokenInvalid
	}
	if err := s.devices.TouchLastSeen(device.ID, time.Now()); err != nil {
		return nil, fmt.Errorf("pairing: touch last seen: %w", err)
	}
	return device, nil
}

// RevokeAll deauthorizes every paired device, e.g. on a factory reset or
// when the user disables sync entirely from the device's own UI.
func (s *Service) RevokeAll() error {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	return s.devices.RevokeAll()
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("pairing: generate code: %w", err)
	}
	out := make([]byte, codeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}

func mintToken() (token string, tokenHash string, err error) {
	buf := make([]byte, tokenByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("pairing: generate token: %w", err)
	}
	token = hex.EncodeToString(buf)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// anonymizeClientName never persists the client-supplied device name
// verbatim; it folds it into a short, stable-looking label instead so the
// audit trail and device list can't be used to fingerprint a specific
// physical device by name.
func anonymizeClientName(name string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(name)))
	return fmt.Sprintf("Client-%X", sum[:4])
}

func constantTimeCodeEqual(expected, got string) bool {
	if len(expected) != len(got) {
		// Still run a comparison so the failure path takes roughly constant
		// time relative to a length match, masking the length itself.
		hmac.Equal([]byte(expected), []byte(expected))
		return false
	}
	return hmac.Equal([]byte(expected), []byte(got))
}
