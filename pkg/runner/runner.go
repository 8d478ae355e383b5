// Package runner implements the mediated tool runner: the single gate
// through which any real operation executes. No file or memory effect
// happens anywhere else in the kernel.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/hearthward/warden/pkg/capability"
	"github.com/hearthward/warden/pkg/contracts"
	"github.com/hearthward/warden/pkg/invariant"
)

// Clock provides authority time for execution results.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Runner validates a capability token and dispatches the underlying
// operation. Validation is strictly ordered and fail-fast: any token
// problem surfaces as the literal "Invalid capability token" before a
// single byte of the effect is performed.
type Runner struct {
	tokens   *capability.Store
	verifier *capability.Manager
	fs       Filesystem
	facts    FactStore
	firewall *Firewall
	clock    Clock
}

// New creates a runner over the given collaborators. The firewall may
// be nil, in which case no parameter schemas are enforced.
func New(tokens *capability.Store, verifier *capability.Manager, fs Filesystem, facts FactStore, opts ...Option) *Runner {
	r := &Runner{
		tokens:   tokens,
		verifier: verifier,
		fs:       fs,
		facts:    facts,
		clock:    wallClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Option configures a Runner.
type Option func(*Runner)

// WithFirewall installs a parameter schema firewall.
func WithFirewall(f *Firewall) Option {
	return func(r *Runner) { r.firewall = f }
}

// WithClock injects a deterministic clock for testing.
func WithClock(c Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// Execute performs the mediated operation for an authorized intent.
//
// Validation order, before any real effect:
//
//	(a) the token resolves to a known, non-expired, non-exhausted token
//	(b) the token is bound to this exact intent
//	(c) the token was issued to the requesting agent
//	(d) the token carries the capability the action requires
//
// A SINGLE_USE token is spent atomically before dispatch, so of two
// racing calls exactly one reaches the effect; the loser fails with the
// same token-invalid error as every other authorization failure.
func (r *Runner) Execute(ctx context.Context, intent *contracts.ActionIntent, token *contracts.CapabilityToken) *contracts.ExecutionResult {
	start := r.clock.Now()
	result := &contracts.ExecutionResult{
		Timestamp: start.UTC(),
	}
	if intent != nil {
		result.IntentID = intent.ID
	}

	if intent == nil || intent.Validate() != nil {
		return r.fail(result, start, contracts.ErrCatValidation, "malformed intent")
	}

	// Approved side effects require both a decision and a token; a nil
	// token here means policy evaluation was bypassed. That is not an
	// authorization failure, it is a broken call path, and it halts.
	invariant.MustNot(invariant.CheckSideEffectsRequireApproval(true, token != nil,
		fmt.Sprintf("%s on %q", intent.ActionType, intent.Target)))

	// (a) Resolve against the store; a bare unknown token id fails fast.
	stored, ok := r.tokens.Lookup(token.ID)
	if !ok {
		return r.authFail(result, start)
	}
	if ok, _ := r.verifier.IsValid(stored, r.clock.Now()); !ok {
		return r.authFail(result, start)
	}
	if v := invariant.CheckAuthorityExpiry(stored.IssuedAt, stored.ExpiresAt, r.clock.Now()); v != nil {
		return r.authFail(result, start)
	}

	// (b) Token is bound to exactly one intent.
	if stored.IntentID != intent.ID {
		return r.authFail(result, start)
	}
	// (c) Actor match.
	if stored.IssuedTo != intent.RequestingAgent {
		return r.authFail(result, start)
	}
	// (d) Capability coverage.
	required := intent.ActionType.RequiredCapability()
	if required == "" || !stored.HasCapability(required) {
		return r.authFail(result, start)
	}

	// Parameter firewall: validation failure, not authorization failure.
	if r.firewall != nil {
		if err := r.firewall.Check(intent.ActionType, intent.Parameters); err != nil {
			return r.fail(result, start, contracts.ErrCatValidation, err.Error())
		}
	}

	// Spend before dispatch: the compare-and-set is what makes a
	// concurrent double-execute impossible.
	if stored.Scope == contracts.ScopeSingleUse {
		if !r.tokens.Spend(stored.ID) {
			return r.authFail(result, start)
		}
	}

	// Authorization passed. From here the result reflects only the
	// underlying operation's outcome.
	payload, err := r.dispatch(ctx, intent)
	elapsed := r.clock.Now().Sub(start)
	result.ExecutionTimeMS = elapsed.Milliseconds()
	if err != nil {
		result.Success = false
		result.Error = contracts.ClassifyExecError(err)
		return result
	}
	result.Success = true
	result.Result = payload
	return result
}

// dispatch routes the intent to its concrete operation. The switch is
// exhaustive over the closed action set.
func (r *Runner) dispatch(ctx context.Context, intent *contracts.ActionIntent) (any, error) {
	switch intent.ActionType {
	case contracts.ActionReadFile:
		data, err := r.fs.Read(ctx, intent.Target)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case contracts.ActionWriteFile:
		content, _ := intent.Parameters["content"].(string)
		if err := r.fs.Write(ctx, intent.Target, []byte(content)); err != nil {
			return nil, err
		}
		return fmt.Sprintf("wrote %d bytes to %s", len(content), intent.Target), nil
	case contracts.ActionReadMemory:
		facts, err := r.facts.Read(ctx, intent.Target)
		if err != nil {
			return nil, err
		}
		return facts, nil
	case contracts.ActionWriteMemory:
		fact, _ := intent.Parameters["fact"].(string)
		if err := r.facts.Write(ctx, intent.Target, fact); err != nil {
			return nil, err
		}
		return fmt.Sprintf("stored fact for %s", intent.Target), nil
	default:
		return nil, fmt.Errorf("unhandled action type %s", intent.ActionType)
	}
}

func (r *Runner) authFail(result *contracts.ExecutionResult, start time.Time) *contracts.ExecutionResult {
	return r.fail(result, start, contracts.ErrCatAuthorization, contracts.ErrTokenInvalid.Error())
}

func (r *Runner) fail(result *contracts.ExecutionResult, start time.Time, cat contracts.ErrorCategory, msg string) *contracts.ExecutionResult {
	result.Success = false
	result.Error = &contracts.ExecutionError{Category: cat, Message: msg}
	result.ExecutionTimeMS = r.clock.Now().Sub(start).Milliseconds()
	return result
}
