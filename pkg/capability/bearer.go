package capability

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hearthward/warden/pkg/contracts"
)

// bearerIssuer identifies tokens minted by this kernel in JWT form.
const bearerIssuer = "warden/capability"

// BearerClaims mirrors a capability token as registered JWT claims plus
// warden-specific fields, so a token can cross a process boundary and
// be re-validated on the far side with the same secret.
type BearerClaims struct {
	jwt.RegisteredClaims
	Capabilities []string                  `json:"capabilities"`
	Scope        contracts.CapabilityScope `json:"scope"`
	IntentID     string                    `json:"intent_id"`
	TokenSig     string                    `json:"token_sig"`
}

// Bearer encodes a token as a signed JWT (HS256, kernel secret).
func (m *Manager) Bearer(token *contracts.CapabilityToken) (string, error) {
	if ok, reason := m.IsValid(token, m.clock.Now()); !ok {
		return "", fmt.Errorf("%w: %s", contracts.ErrTokenInvalid, reason)
	}
	caps := make([]string, 0, len(token.Capabilities))
	for _, c := range token.Capabilities {
		caps = append(caps, string(c))
	}
	claims := BearerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        token.ID,
			Subject:   token.IssuedTo,
			Issuer:    bearerIssuer,
			IssuedAt:  jwt.NewNumericDate(token.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(token.ExpiresAt),
		},
		Capabilities: caps,
		Scope:        token.Scope,
		IntentID:     token.IntentID,
		TokenSig:     token.Signature,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// FromBearer decodes and validates a JWT produced by Bearer and
// reconstructs the capability token, re-verifying its keyed signature.
func (m *Manager) FromBearer(s string) (*contracts.CapabilityToken, error) {
	parsed, err := jwt.ParseWithClaims(s, &BearerClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(bearerIssuer), jwt.WithTimeFunc(func() time.Time { return m.clock.Now() }))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrTokenInvalid, err)
	}
	claims, ok := parsed.Claims.(*BearerClaims)
	if !ok || !parsed.Valid {
		return nil, contracts.ErrTokenInvalid
	}

	caps := make([]contracts.Capability, 0, len(claims.Capabilities))
	for _, c := range claims.Capabilities {
		caps = append(caps, contracts.Capability(c))
	}
	token := &contracts.CapabilityToken{
		ID:           claims.ID,
		Capabilities: caps,
		Scope:        claims.Scope,
		IssuedTo:     claims.Subject,
		IntentID:     claims.IntentID,
		IssuedAt:     claims.IssuedAt.Time,
		ExpiresAt:    claims.ExpiresAt.Time,
		Signature:    claims.TokenSig,
	}
	if !m.VerifySignature(token) {
		return nil, contracts.ErrTokenInvalid
	}
	return token, nil
}
