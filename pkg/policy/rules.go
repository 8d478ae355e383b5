// Package policy implements the policy evaluation engine: a pure,
// deterministic mapping from an ActionIntent to a PolicyDecision.
// Rule evaluation is fail-closed; anything unmatched is denied.
package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hearthward/warden/pkg/contracts"
)

// DenyRule is a hard deny-list entry. Deny rules always win and
// short-circuit evaluation.
type DenyRule struct {
	ID      string   `yaml:"id"`
	Reason  string   `yaml:"reason"`
	Targets []string `yaml:"targets"`
	// Actions limits the rule to specific action types; empty means all.
	Actions []contracts.ActionType `yaml:"actions,omitempty"`
}

// AllowRule grants the minimal capability set for routine, low-risk
// targets. An optional CEL condition over the intent gates the grant.
type AllowRule struct {
	ID           string                    `yaml:"id"`
	Actions      []contracts.ActionType    `yaml:"actions"`
	Targets      []string                  `yaml:"targets"`
	Capabilities []contracts.Capability    `yaml:"capabilities"`
	Scope        contracts.CapabilityScope `yaml:"scope,omitempty"`
	Condition    string                    `yaml:"condition,omitempty"`
}

// RuleTable is the fixed rule set the engine evaluates against.
type RuleTable struct {
	Version string `yaml:"version"`
	Deny    []DenyRule `yaml:"deny"`
	Allow   []AllowRule `yaml:"allow"`
	// Sanitize lists action categories whose payload must be
	// content-filtered before persisting, regardless of target.
	Sanitize []contracts.ActionType `yaml:"sanitize"`
}

// DefaultRuleTable returns the compiled-in household-kernel rule set:
// secrets and source trees are hard-denied, the sandboxed data
// directories are allowed with minimal capabilities, and memory-fact
// writes always require sanitization.
func DefaultRuleTable() *RuleTable {
	return &RuleTable{
		Version: "1",
		Deny: []DenyRule{
			{
				ID:     "deny-secrets",
				Reason: "access to secret material is denied",
				Targets: []string{
					".env", ".env.*", "*/.env", "*/.env.*",
					"*.pem", "*.key",
					"secrets/", "*secrets/*", "credentials/", "*credentials/*",
				},
			},
			{
				ID:     "deny-source",
				Reason: "source tree modification is denied outside the sandbox",
				Targets: []string{
					"backend/", "frontend/", "cmd/", "pkg/", "internal/", ".git/",
				},
			},
			{
				ID:      "deny-traversal",
				Reason:  "path traversal is denied",
				Targets: []string{"*..*", "/*"},
			},
		},
		Allow: []AllowRule{
			{
				ID:           "allow-sandbox-read",
				Actions:      []contracts.ActionType{contracts.ActionReadFile},
				Targets:      []string{"memory/", "data/", "sandbox/"},
				Capabilities: []contracts.Capability{contracts.CapReadFile},
				Scope:        contracts.ScopeTimeLimited,
				Condition:    `input.risk_level in ["LOW", "MEDIUM"]`,
			},
			{
				ID:           "allow-sandbox-write",
				Actions:      []contracts.ActionType{contracts.ActionWriteFile},
				Targets:      []string{"memory/", "data/", "sandbox/"},
				Capabilities: []contracts.Capability{contracts.CapWriteFile},
				Scope:        contracts.ScopeSingleUse,
				Condition:    `input.risk_level in ["LOW", "MEDIUM"]`,
			},
			{
				ID:           "allow-memory-read",
				Actions:      []contracts.ActionType{contracts.ActionReadMemory},
				Targets:      []string{"*"},
				Capabilities: []contracts.Capability{contracts.CapReadMemory},
				Scope:        contracts.ScopeTimeLimited,
			},
			{
				// Reachable only once the sanitize step has been satisfied.
				ID:           "allow-memory-write-sanitized",
				Actions:      []contracts.ActionType{contracts.ActionWriteMemory},
				Targets:      []string{"*"},
				Capabilities: []contracts.Capability{contracts.CapWriteMemory},
				Scope:        contracts.ScopeSingleUse,
				Condition:    `input.risk_level in ["LOW", "MEDIUM"]`,
			},
		},
		Sanitize: []contracts.ActionType{contracts.ActionWriteMemory},
	}
}

// LoadRuleTable reads a YAML rule table from disk.
func LoadRuleTable(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: reading rule table: %w", err)
	}
	var table RuleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("policy: parsing rule table: %w", err)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

// Validate rejects rule tables that would grant without capabilities.
func (t *RuleTable) Validate() error {
	for _, r := range t.Allow {
		if len(r.Capabilities) == 0 {
			return fmt.Errorf("policy: allow rule %q grants no capabilities", r.ID)
		}
		if len(r.Actions) == 0 {
			return fmt.Errorf("policy: allow rule %q binds no actions", r.ID)
		}
	}
	for _, r := range t.Deny {
		if len(r.Targets) == 0 {
			return fmt.Errorf("policy: deny rule %q matches no targets", r.ID)
		}
	}
	return nil
}

// matchTarget implements the pattern dialect used by rules:
//
//	"dir/"   — prefix match
//	"*.ext"  — suffix match
//	"*mid*"  — substring match
//	"/..."   — absolute-path prefix
//	"*"      — any non-empty target
//	other    — exact match
func matchTarget(pattern, target string) bool {
	switch {
	case pattern == "*":
		return target != ""
	case strings.HasSuffix(pattern, "/"):
		return strings.HasPrefix(target, pattern)
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 2:
		return strings.Contains(target, pattern[1:len(pattern)-1])
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(target, pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(target, pattern[:len(pattern)-1])
	default:
		return target == pattern
	}
}

func matchAction(actions []contracts.ActionType, action contracts.ActionType) bool {
	if len(actions) == 0 {
		return true
	}
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}
