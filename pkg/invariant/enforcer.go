// Package invariant holds the kernel's runtime trip-wires: stateless
// assertions checked at the integration points where side effects
// occur. A violation is fatal by design; business logic must never
// suppress one.
package invariant

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Rule identifies which invariant was violated.
type Rule string

const (
	RuleNoDirectToolExecution   Rule = "NO_DIRECT_TOOL_EXECUTION"
	RuleNoSharedMemory          Rule = "NO_SHARED_MEMORY"
	RuleSideEffectsNeedApproval Rule = "SIDE_EFFECTS_REQUIRE_APPROVAL"
	RuleNoUntrustedConcat       Rule = "NO_UNTRUSTED_CONCATENATION"
	RuleAuthorityExpiry         Rule = "AUTHORITY_EXPIRY"
)

// Violation is the fatal error raised when an invariant does not hold.
// It implements error so it can cross API boundaries, but it is meant
// to propagate to the top of the call stack unmodified.
type Violation struct {
	Rule        Rule
	Description string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("invariant violation [%s]: %s", v.Rule, v.Description)
}

// MustNot escalates a violation to a panic after logging it at the
// highest severity. The enforcement points call this directly; only a
// process-level handler may observe the resulting panic.
func MustNot(v *Violation) {
	if v == nil {
		return
	}
	slog.Error("invariant violation", "rule", string(v.Rule), "description", v.Description)
	panic(v)
}

// CheckNoDirectToolExecution is a trip-wire placed on any code path
// that would execute a tool outside the coordinator/runner gate.
// Reaching it is always a violation.
func CheckNoDirectToolExecution(toolName string) *Violation {
	return &Violation{
		Rule:        RuleNoDirectToolExecution,
		Description: fmt.Sprintf("direct execution of %q bypasses the mediated runner", toolName),
	}
}

// CheckNoSharedMemory verifies an agent only touches its own namespace.
func CheckNoSharedMemory(agentID, ownNamespace, requestedNamespace string) *Violation {
	if ownNamespace == requestedNamespace {
		return nil
	}
	return &Violation{
		Rule: RuleNoSharedMemory,
		Description: fmt.Sprintf("agent %s (namespace %s) attempted access to namespace %s",
			agentID, ownNamespace, requestedNamespace),
	}
}

// CheckSideEffectsRequireApproval verifies both a policy decision and a
// capability token exist before a side effect proceeds.
func CheckSideEffectsRequireApproval(hasDecision, hasToken bool, description string) *Violation {
	if hasDecision && hasToken {
		return nil
	}
	return &Violation{
		Rule: RuleSideEffectsNeedApproval,
		Description: fmt.Sprintf("side effect %q without approval (decision=%t token=%t)",
			description, hasDecision, hasToken),
	}
}

// untrustedSources are the content source classes that must never be
// concatenated into a model prompt unreviewed.
var untrustedSources = []string{"web", "email", "pdf", "file", "doc"}

// CheckNoUntrustedConcatenation verifies content from an untrusted
// source class has not been flagged as concatenated into a prompt.
func CheckNoUntrustedConcatenation(contentSource string, isInPrompt bool) *Violation {
	if !isInPrompt {
		return nil
	}
	source := strings.ToLower(contentSource)
	for _, class := range untrustedSources {
		if strings.Contains(source, class) {
			return &Violation{
				Rule: RuleNoUntrustedConcat,
				Description: fmt.Sprintf("content from untrusted source %q concatenated into prompt",
					contentSource),
			}
		}
	}
	return nil
}

// CheckAuthorityExpiry verifies an authority grant carries an expiry
// and has not outlived it.
func CheckAuthorityExpiry(issuedAt, expiresAt, now time.Time) *Violation {
	if expiresAt.IsZero() {
		return &Violation{
			Rule:        RuleAuthorityExpiry,
			Description: fmt.Sprintf("authority issued at %s has no expiry", issuedAt.Format(time.RFC3339)),
		}
	}
	if now.After(expiresAt) {
		return &Violation{
			Rule: RuleAuthorityExpiry,
			Description: fmt.Sprintf("authority expired at %s (now %s)",
				expiresAt.Format(time.RFC3339), now.Format(time.RFC3339)),
		}
	}
	return nil
}
