// Package capability implements the signed capability-token lifecycle:
// issuance, keyed signatures, validity checks, atomic single-use spend,
// and bearer export for cross-process hand-off.
package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hearthward/warden/pkg/canonicalize"
	"github.com/hearthward/warden/pkg/contracts"
)

// Clock provides authority time for token issuance and validation.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// DefaultTTL bounds token lifetime when the caller does not override it.
const DefaultTTL = 5 * time.Minute

// Manager issues and verifies capability tokens with a keyed digest
// over the canonicalized token tuple.
type Manager struct {
	secret []byte
	ttl    time.Duration
	clock  Clock
}

// NewManager creates a token manager. The secret is the kernel signing
// key; every token signature is an HMAC-SHA256 over the JCS canonical
// form of the token's signing fields.
func NewManager(secret []byte, opts ...Option) *Manager {
	m := &Manager{
		secret: secret,
		ttl:    DefaultTTL,
		clock:  wallClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the default token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithClock injects a deterministic clock for testing.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// Issue mints a signed token bound to one intent. ExpiresAt is always
// set; a token without expiry violates the authority-expiry invariant
// and is never produced.
func (m *Manager) Issue(intent *contracts.ActionIntent, caps []contracts.Capability, scope contracts.CapabilityScope) (*contracts.CapabilityToken, error) {
	if len(caps) == 0 {
		return nil, fmt.Errorf("%w: token requires at least one capability", contracts.ErrValidation)
	}
	// Second precision keeps the signing payload stable through the
	// JWT bearer round-trip, which drops sub-second precision.
	now := m.clock.Now().UTC().Truncate(time.Second)
	token := &contracts.CapabilityToken{
		ID:           uuid.New().String(),
		Capabilities: caps,
		Scope:        scope,
		IssuedTo:     intent.RequestingAgent,
		IntentID:     intent.ID,
		IssuedAt:     now,
		ExpiresAt:    now.Add(m.ttl),
	}
	sig, err := m.signature(token)
	if err != nil {
		return nil, err
	}
	token.Signature = sig
	return token, nil
}

// VerifySignature recomputes the keyed digest and compares it in
// constant time.
func (m *Manager) VerifySignature(token *contracts.CapabilityToken) bool {
	if token.Signature == "" {
		return false
	}
	expected, err := m.signature(token)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(token.Signature))
}

// IsValid reports whether the token is usable at the given instant.
// The reason string is stable and suitable for audit entries.
func (m *Manager) IsValid(token *contracts.CapabilityToken, now time.Time) (bool, string) {
	if token == nil {
		return false, "token missing"
	}
	if !m.VerifySignature(token) {
		return false, "signature missing or invalid"
	}
	if token.ExpiresAt.IsZero() {
		return false, "token has no expiry"
	}
	if now.After(token.ExpiresAt) {
		return false, "token expired"
	}
	if token.Scope == contracts.ScopeSingleUse && token.Used {
		return false, "single-use token already spent"
	}
	return true, ""
}

func (m *Manager) signature(token *contracts.CapabilityToken) (string, error) {
	payload, err := canonicalize.JCS(token.SigningFields())
	if err != nil {
		return "", fmt.Errorf("token canonicalization failed: %w", err)
	}
	mac := hmac.New(sha256.New, m.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
