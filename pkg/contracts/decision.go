package contracts

import (
	"fmt"
	"time"
)

// Capability names a narrow permission a token can carry.
type Capability string

const (
	CapReadFile    Capability = "read_file"
	CapWriteFile   Capability = "write_file"
	CapReadMemory  Capability = "read_memory"
	CapWriteMemory Capability = "write_memory"
)

// DecisionResult is the engine's verdict on an intent.
type DecisionResult string

const (
	ResultAllow    DecisionResult = "ALLOW"
	ResultDeny     DecisionResult = "DENY"
	ResultSanitize DecisionResult = "SANITIZE"
)

// PolicyDecision captures the engine's judgment of a single intent.
// A decision carries a capability token iff the result is ALLOW.
type PolicyDecision struct {
	ID                  string           `json:"id"`
	IntentID            string           `json:"intent_id"`
	Result              DecisionResult   `json:"result"`
	AllowedCapabilities []Capability     `json:"allowed_capabilities,omitempty"`
	DeniedReasons       []string         `json:"denied_reasons,omitempty"`
	RiskAssessment      string           `json:"risk_assessment,omitempty"`
	PolicyRef           string           `json:"policy_ref,omitempty"`
	DecisionHash        string           `json:"decision_hash,omitempty"`
	Token               *CapabilityToken `json:"capability_token,omitempty"`
	Timestamp           time.Time        `json:"timestamp"`
}

// Allowed reports whether the decision authorizes execution.
func (d *PolicyDecision) Allowed() bool { return d.Result == ResultAllow }

// Validate enforces the decision record invariants: a token exists iff
// the result is ALLOW, capabilities are never granted on DENY, and deny
// outcomes always carry reasons.
func (d *PolicyDecision) Validate() error {
	switch d.Result {
	case ResultAllow:
		if d.Token == nil {
			return fmt.Errorf("%w: ALLOW decision without capability token", ErrValidation)
		}
		if len(d.AllowedCapabilities) == 0 {
			return fmt.Errorf("%w: ALLOW decision without capabilities", ErrValidation)
		}
	case ResultDeny:
		if d.Token != nil {
			return fmt.Errorf("%w: DENY decision carries a capability token", ErrValidation)
		}
		if len(d.AllowedCapabilities) != 0 {
			return fmt.Errorf("%w: DENY decision carries capabilities", ErrValidation)
		}
		if len(d.DeniedReasons) == 0 {
			return fmt.Errorf("%w: DENY decision without reasons", ErrValidation)
		}
	case ResultSanitize:
		if d.Token != nil {
			return fmt.Errorf("%w: SANITIZE decision carries a capability token", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown decision result %q", ErrValidation, d.Result)
	}
	return nil
}

// HasCapability reports whether cap was granted by this decision.
func (d *PolicyDecision) HasCapability(cap Capability) bool {
	for _, c := range d.AllowedCapabilities {
		if c == cap {
			return true
		}
	}
	return false
}
