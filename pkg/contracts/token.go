package contracts

import "time"

// CapabilityScope is the token reuse policy.
type CapabilityScope string

const (
	ScopeSingleUse   CapabilityScope = "SINGLE_USE"
	ScopeTimeLimited CapabilityScope = "TIME_LIMITED"
	ScopeMultiUse    CapabilityScope = "MULTI_USE"
)

// CapabilityToken is a signed, scoped, time-bounded credential
// authorizing exactly one intent's execution. ExpiresAt is mandatory:
// a token with no expiry never existed as far as the kernel is
// concerned. Signing and the used-flag transition live in
// pkg/capability; this is the wire record.
type CapabilityToken struct {
	ID           string          `json:"id"`
	Capabilities []Capability    `json:"capabilities"`
	Scope        CapabilityScope `json:"scope"`
	IssuedTo     string          `json:"issued_to"`
	IntentID     string          `json:"intent_id"`
	IssuedAt     time.Time       `json:"issued_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Used         bool            `json:"used"`
	Signature    string          `json:"signature,omitempty"`
}

// HasCapability reports whether the token carries cap.
func (t *CapabilityToken) HasCapability(cap Capability) bool {
	for _, c := range t.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// SigningFields returns the canonicalizable tuple covered by the keyed
// signature. The Used flag and the signature itself are excluded: spend
// state is runtime state, not credential content.
func (t *CapabilityToken) SigningFields() map[string]any {
	caps := make([]string, 0, len(t.Capabilities))
	for _, c := range t.Capabilities {
		caps = append(caps, string(c))
	}
	return map[string]any{
		"id":           t.ID,
		"capabilities": caps,
		"scope":        string(t.Scope),
		"issued_to":    t.IssuedTo,
		"intent_id":    t.IntentID,
		"issued_at":    t.IssuedAt.UTC().Format(time.RFC3339Nano),
		"expires_at":   t.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
}
