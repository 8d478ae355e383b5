package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/hearthward/warden/pkg/canonicalize"
	"github.com/hearthward/warden/pkg/capability"
	"github.com/hearthward/warden/pkg/contracts"
)

// Clock provides authority time for decision records.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Engine evaluates intents against a fixed rule table. Evaluation is a
// pure function of the intent and the table: no hidden state, no I/O.
// The engine is the only component that decides ALLOW/DENY/SANITIZE,
// and the only component that mints capability tokens.
type Engine struct {
	table     *RuleTable
	issuer    *capability.Manager
	clock     Clock
	policyRef string

	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEngine builds an engine over the given rule table. All CEL
// conditions are compiled eagerly so a malformed table fails at
// construction, not at decision time.
func NewEngine(table *RuleTable, issuer *capability.Manager, opts ...EngineOption) (*Engine, error) {
	if table == nil {
		table = DefaultRuleTable()
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}

	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: creating CEL env: %w", err)
	}

	ref, err := canonicalize.CanonicalHash(table)
	if err != nil {
		return nil, fmt.Errorf("policy: hashing rule table: %w", err)
	}

	e := &Engine{
		table:     table,
		issuer:    issuer,
		clock:     wallClock{},
		policyRef: "sha256:" + ref,
		env:       env,
		programs:  make(map[string]cel.Program),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, rule := range table.Allow {
		if rule.Condition == "" {
			continue
		}
		if _, err := e.compile(rule.Condition); err != nil {
			return nil, fmt.Errorf("policy: rule %q: %w", rule.ID, err)
		}
	}
	return e, nil
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock injects a deterministic clock for testing.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// PolicyRef returns the content-addressed hash of the active rule table.
func (e *Engine) PolicyRef() string { return e.policyRef }

// Evaluate maps an intent to a decision. Rule order: hard deny-list
// first, then sanitize categories, then the allow-list, then the
// fail-closed default deny. On ALLOW exactly one capability token is
// minted, scoped to the minimal capability set the matched rule grants.
func (e *Engine) Evaluate(intent *contracts.ActionIntent) (*contracts.PolicyDecision, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	decision := &contracts.PolicyDecision{
		ID:        uuid.New().String(),
		IntentID:  intent.ID,
		PolicyRef: e.policyRef,
		Timestamp: e.clock.Now().UTC(),
	}

	// 1. Hard deny-list always wins.
	for _, rule := range e.table.Deny {
		if !matchAction(rule.Actions, intent.ActionType) {
			continue
		}
		for _, pattern := range rule.Targets {
			if matchTarget(pattern, intent.Target) {
				return e.deny(decision, intent,
					fmt.Sprintf("target %q denied by rule %s: %s", intent.Target, rule.ID, rule.Reason)), nil
			}
		}
	}

	// 2. CRITICAL risk is never granted automatically.
	if intent.RiskLevel == contracts.RiskCritical {
		return e.deny(decision, intent, "CRITICAL risk intents are denied pending human review"), nil
	}

	// 3. Sanitize categories apply regardless of target. A payload the
	// coordinator has already run through the sanitizer falls through to
	// the allow-list on resubmission.
	for _, action := range e.table.Sanitize {
		if intent.ActionType == action && !payloadSanitized(intent) {
			decision.Result = contracts.ResultSanitize
			decision.RiskAssessment = fmt.Sprintf("action %s requires content sanitization before persisting", action)
			e.finalize(decision)
			return decision, nil
		}
	}

	// 4. Allow-list with optional CEL conditions.
	for _, rule := range e.table.Allow {
		if !matchAction(rule.Actions, intent.ActionType) {
			continue
		}
		matched := false
		for _, pattern := range rule.Targets {
			if matchTarget(pattern, intent.Target) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if rule.Condition != "" {
			ok, err := e.evalCondition(rule.Condition, intent)
			if err != nil {
				// Fail-closed: a broken condition denies.
				return e.deny(decision, intent,
					fmt.Sprintf("rule %s condition error, denied: %v", rule.ID, err)), nil
			}
			if !ok {
				continue
			}
		}
		return e.allow(decision, intent, rule)
	}

	// 5. Fail-closed default.
	return e.deny(decision, intent,
		fmt.Sprintf("no policy rule matched %s on %q: denied by default", intent.ActionType, intent.Target)), nil
}

func (e *Engine) allow(decision *contracts.PolicyDecision, intent *contracts.ActionIntent, rule AllowRule) (*contracts.PolicyDecision, error) {
	scope := rule.Scope
	if scope == "" {
		scope = contracts.ScopeSingleUse
	}
	token, err := e.issuer.Issue(intent, rule.Capabilities, scope)
	if err != nil {
		return nil, fmt.Errorf("policy: minting token for rule %s: %w", rule.ID, err)
	}
	decision.Result = contracts.ResultAllow
	decision.AllowedCapabilities = append([]contracts.Capability(nil), rule.Capabilities...)
	decision.RiskAssessment = fmt.Sprintf("allowed by rule %s at risk %s", rule.ID, intent.RiskLevel)
	decision.Token = token
	e.finalize(decision)
	return decision, nil
}

func (e *Engine) deny(decision *contracts.PolicyDecision, intent *contracts.ActionIntent, reason string) *contracts.PolicyDecision {
	decision.Result = contracts.ResultDeny
	decision.DeniedReasons = append(decision.DeniedReasons, reason)
	decision.RiskAssessment = fmt.Sprintf("denied at risk %s", intent.RiskLevel)
	e.finalize(decision)
	return decision
}

// finalize stamps the deterministic decision hash. The hash covers the
// decision minus itself and minus the token signature's runtime state.
func (e *Engine) finalize(decision *contracts.PolicyDecision) {
	hashable := map[string]any{
		"id":                   decision.ID,
		"intent_id":            decision.IntentID,
		"result":               string(decision.Result),
		"allowed_capabilities": decision.AllowedCapabilities,
		"denied_reasons":       decision.DeniedReasons,
		"policy_ref":           decision.PolicyRef,
	}
	if hash, err := canonicalize.CanonicalHash(hashable); err == nil {
		decision.DecisionHash = "sha256:" + hash
	}
}

// payloadSanitized reports whether the intent's payload was marked as
// sanitized on resubmission.
func payloadSanitized(intent *contracts.ActionIntent) bool {
	flag, _ := intent.Parameters["sanitized"].(bool)
	return flag
}

func (e *Engine) evalCondition(expr string, intent *contracts.ActionIntent) (bool, error) {
	prg, err := e.compile(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{"input": intent.ToMap()})
	if err != nil {
		return false, fmt.Errorf("CEL eval error: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition result not boolean")
	}
	return allowed, nil
}

// compile returns a cached CEL program for the expression, compiling it
// on first use with double-checked locking.
func (e *Engine) compile(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.programs[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.programs[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	p, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program error: %w", err)
	}
	e.programs[expr] = p
	return p, nil
}
