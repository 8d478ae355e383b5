// Package contracts defines the immutable data records exchanged between
// the warden kernel's components: intents, decisions, capability tokens,
// execution results, and evidence records. Records carry no behavior
// beyond validation and serialization.
package contracts

import (
	"fmt"
	"time"
)

// ActionType is the closed set of mediated operations.
type ActionType string

const (
	ActionReadFile    ActionType = "READ_FILE"
	ActionWriteFile   ActionType = "WRITE_FILE"
	ActionReadMemory  ActionType = "READ_MEMORY"
	ActionWriteMemory ActionType = "WRITE_MEMORY"
)

// ActionTypes lists every known action type. Dispatch sites switch
// exhaustively over this set; adding an action means updating them.
var ActionTypes = []ActionType{
	ActionReadFile,
	ActionWriteFile,
	ActionReadMemory,
	ActionWriteMemory,
}

// Known reports whether t is a member of the closed action set.
func (t ActionType) Known() bool {
	for _, a := range ActionTypes {
		if t == a {
			return true
		}
	}
	return false
}

// RequiredCapability maps an action type to the single capability the
// runner demands before dispatch.
func (t ActionType) RequiredCapability() Capability {
	switch t {
	case ActionReadFile:
		return CapReadFile
	case ActionWriteFile:
		return CapWriteFile
	case ActionReadMemory:
		return CapReadMemory
	case ActionWriteMemory:
		return CapWriteMemory
	default:
		return ""
	}
}

// RequiresTarget reports whether the action type is meaningless without
// a target path or entity id. All current actions require one.
func (t ActionType) RequiresTarget() bool {
	switch t {
	case ActionReadFile, ActionWriteFile, ActionReadMemory, ActionWriteMemory:
		return true
	default:
		return false
	}
}

// RiskLevel is the requesting agent's self-assessed risk for an intent.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// ActionIntent is a proposal by an agent to perform a side-effecting
// operation. An intent never authorizes anything by itself; it must be
// evaluated into a PolicyDecision first.
type ActionIntent struct {
	ID              string         `json:"id"`
	ActionType      ActionType     `json:"action_type"`
	Target          string         `json:"target"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	Rationale       string         `json:"rationale,omitempty"`
	ExpectedOutcome string         `json:"expected_outcome,omitempty"`
	RiskLevel       RiskLevel      `json:"risk_level"`
	RequestingAgent string         `json:"requesting_agent"`
	SessionID       string         `json:"session_id"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Validate rejects structurally malformed intents. The engine and the
// runner both call this before doing anything with the record.
func (i *ActionIntent) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("%w: missing id", ErrValidation)
	}
	if !i.ActionType.Known() {
		return fmt.Errorf("%w: unknown action type %q", ErrValidation, i.ActionType)
	}
	if i.RequestingAgent == "" {
		return fmt.Errorf("%w: missing requesting_agent", ErrValidation)
	}
	if i.SessionID == "" {
		return fmt.Errorf("%w: missing session_id", ErrValidation)
	}
	if i.ActionType.RequiresTarget() && i.Target == "" {
		return fmt.Errorf("%w: action %s requires a target", ErrValidation, i.ActionType)
	}
	return nil
}

// ToMap serializes the intent into a generic map. Round-trips through
// IntentFromMap without loss, including nested parameters.
func (i *ActionIntent) ToMap() map[string]any {
	var params map[string]any
	if i.Parameters != nil {
		params = make(map[string]any, len(i.Parameters))
		for k, v := range i.Parameters {
			params[k] = v
		}
	}
	return map[string]any{
		"id":               i.ID,
		"action_type":      string(i.ActionType),
		"target":           i.Target,
		"parameters":       params,
		"rationale":        i.Rationale,
		"expected_outcome": i.ExpectedOutcome,
		"risk_level":       string(i.RiskLevel),
		"requesting_agent": i.RequestingAgent,
		"session_id":       i.SessionID,
		"created_at":       i.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// IntentFromMap reconstructs an ActionIntent from its ToMap form.
func IntentFromMap(m map[string]any) (*ActionIntent, error) {
	intent := &ActionIntent{
		ID:              stringField(m, "id"),
		ActionType:      ActionType(stringField(m, "action_type")),
		Target:          stringField(m, "target"),
		Rationale:       stringField(m, "rationale"),
		ExpectedOutcome: stringField(m, "expected_outcome"),
		RiskLevel:       RiskLevel(stringField(m, "risk_level")),
		RequestingAgent: stringField(m, "requesting_agent"),
		SessionID:       stringField(m, "session_id"),
	}
	if params, ok := m["parameters"].(map[string]any); ok && params != nil {
		intent.Parameters = make(map[string]any, len(params))
		for k, v := range params {
			intent.Parameters[k] = v
		}
	}
	if raw := stringField(m, "created_at"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: bad created_at: %v", ErrValidation, err)
		}
		intent.CreatedAt = ts
	}
	return intent, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
