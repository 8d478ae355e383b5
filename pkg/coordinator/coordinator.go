// Package coordinator composes the kernel into per-action verbs. It is
// the only surface agents talk to: every verb builds an intent, has it
// evaluated, and executes only with the minted capability token in hand.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hearthward/warden/pkg/audit"
	"github.com/hearthward/warden/pkg/capability"
	"github.com/hearthward/warden/pkg/contracts"
	"github.com/hearthward/warden/pkg/evidence"
	"github.com/hearthward/warden/pkg/observability"
	"github.com/hearthward/warden/pkg/policy"
	"github.com/hearthward/warden/pkg/ratelimit"
	"github.com/hearthward/warden/pkg/runner"
)

// Clock provides authority time for intent construction.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// ActionOutcome is what a verb returns: the caller-facing triple plus
// the decision and execution records for introspection.
type ActionOutcome struct {
	Success   bool
	Payload   any
	Err       error
	Decision  *contracts.PolicyDecision
	Execution *contracts.ExecutionResult
}

// Summary is the aggregate view over all decisions this coordinator has
// made. Counters are updated atomically with the audit append, so the
// summary is always internally consistent.
type Summary struct {
	TotalPolicyDecisions int     `json:"total_policy_decisions"`
	Allowed              int     `json:"allowed"`
	Denied               int     `json:"denied"`
	Sanitized            int     `json:"sanitized"`
	DenialRate           float64 `json:"denial_rate"`
	SuccessRate          float64 `json:"success_rate"`
}

// Coordinator is an explicitly constructed kernel instance. There is no
// process-wide singleton; tests and embedders build isolated instances.
type Coordinator struct {
	engine   *policy.Engine
	runner   *runner.Runner
	tokens   *capability.Store
	evidence *evidence.Manager
	auditLog audit.Log
	limiter  ratelimit.Store
	ratePol  ratelimit.Policy
	obs      *observability.Provider
	logger   *slog.Logger
	clock    Clock

	// mu serializes the audit append with the counter updates so the
	// summary never observes a half-recorded decision.
	mu        sync.Mutex
	total     int
	allowed   int
	denied    int
	sanitized int
	succeeded int
}

// New builds a coordinator over the given engine, runner, and token
// store. Evidence manager, audit log, limiter, and observability are
// optional collaborators.
func New(engine *policy.Engine, run *runner.Runner, tokens *capability.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine:   engine,
		runner:   run,
		tokens:   tokens,
		evidence: evidence.NewManager(),
		auditLog: audit.NewMemoryLog(),
		logger:   slog.Default().With("component", "coordinator"),
		clock:    wallClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAuditLog swaps the audit backend (e.g. the sqlite log).
func WithAuditLog(log audit.Log) Option {
	return func(c *Coordinator) { c.auditLog = log }
}

// WithEvidenceManager injects a shared evidence manager.
func WithEvidenceManager(m *evidence.Manager) Option {
	return func(c *Coordinator) { c.evidence = m }
}

// WithRateLimit throttles agents before policy evaluation.
func WithRateLimit(store ratelimit.Store, pol ratelimit.Policy) Option {
	return func(c *Coordinator) {
		c.limiter = store
		c.ratePol = pol
	}
}

// WithObservability wires tracing and metrics around each verb.
func WithObservability(p *observability.Provider) Option {
	return func(c *Coordinator) { c.obs = p }
}

// WithClock injects a deterministic clock for testing.
func WithClock(clk Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithLogger overrides the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func (c *Coordinator) newIntent(action contracts.ActionType, agentID, sessionID, target string, params map[string]any, risk contracts.RiskLevel) *contracts.ActionIntent {
	return &contracts.ActionIntent{
		ID:              uuid.NewString(),
		ActionType:      action,
		Target:          target,
		Parameters:      params,
		RiskLevel:       risk,
		RequestingAgent: agentID,
		SessionID:       sessionID,
		CreatedAt:       c.clock.Now().UTC(),
	}
}

// SecureFileRead mediates a file read under the sandbox.
func (c *Coordinator) SecureFileRead(ctx context.Context, agentID, sessionID, path string) *ActionOutcome {
	intent := c.newIntent(contracts.ActionReadFile, agentID, sessionID, path, nil, contracts.RiskLow)
	return c.Submit(ctx, intent)
}

// SecureFileWrite mediates a file write under the sandbox.
func (c *Coordinator) SecureFileWrite(ctx context.Context, agentID, sessionID, path, content string) *ActionOutcome {
	intent := c.newIntent(contracts.ActionWriteFile, agentID, sessionID, path,
		map[string]any{"content": content}, contracts.RiskMedium)
	return c.Submit(ctx, intent)
}

// SecureMemoryRead mediates reading an entity's memory facts.
func (c *Coordinator) SecureMemoryRead(ctx context.Context, agentID, sessionID, entityID string) *ActionOutcome {
	intent := c.newIntent(contracts.ActionReadMemory, agentID, sessionID, entityID, nil, contracts.RiskLow)
	return c.Submit(ctx, intent)
}

// SecureMemoryWrite mediates persisting a memory fact. The first
// evaluation yields SANITIZE; the coordinator runs the payload through
// the sanitizer and resubmits it marked as sanitized.
func (c *Coordinator) SecureMemoryWrite(ctx context.Context, agentID, sessionID, entityID, fact string) *ActionOutcome {
	intent := c.newIntent(contracts.ActionWriteMemory, agentID, sessionID, entityID,
		map[string]any{"fact": fact}, contracts.RiskMedium)
	outcome := c.Submit(ctx, intent)
	if outcome.Decision == nil || outcome.Decision.Result != contracts.ResultSanitize {
		return outcome
	}

	cleaned := SanitizeFact(fact)
	c.logger.InfoContext(ctx, "memory fact sanitized",
		"agent", agentID, "entity", entityID,
		"original_len", len(fact), "sanitized_len", len(cleaned))

	resubmit := c.newIntent(contracts.ActionWriteMemory, agentID, sessionID, entityID,
		map[string]any{"fact": cleaned, "sanitized": true}, contracts.RiskMedium)
	return c.Submit(ctx, resubmit)
}

// Submit runs the full pipeline for a caller-built intent: throttle,
// evaluate, register the minted token, execute on ALLOW, and audit the
// decision/execution pair.
func (c *Coordinator) Submit(ctx context.Context, intent *contracts.ActionIntent) *ActionOutcome {
	if c.obs != nil {
		spanCtx, done := c.obs.TrackOperation(ctx, "warden.submit",
			attribute.String("action", string(intent.ActionType)),
			attribute.String("agent.id", intent.RequestingAgent),
		)
		outcome := c.submit(spanCtx, intent)
		done(outcome.Err)
		return outcome
	}
	return c.submit(ctx, intent)
}

func (c *Coordinator) submit(ctx context.Context, intent *contracts.ActionIntent) *ActionOutcome {
	if c.limiter != nil {
		if err := ratelimit.Throttle(ctx, c.limiter, intent.RequestingAgent, c.ratePol); err != nil {
			decision := &contracts.PolicyDecision{
				ID:            uuid.NewString(),
				IntentID:      intent.ID,
				Result:        contracts.ResultDeny,
				DeniedReasons: []string{fmt.Sprintf("request denied: %v", err)},
				Timestamp:     c.clock.Now().UTC(),
			}
			outcome := &ActionOutcome{
				Err:      fmt.Errorf("%w: %v", contracts.ErrPolicyDenied, err),
				Decision: decision,
			}
			c.record(ctx, intent, decision, nil)
			return outcome
		}
	}

	decision, err := c.engine.Evaluate(intent)
	if err != nil {
		return &ActionOutcome{Err: err}
	}

	outcome := &ActionOutcome{Decision: decision}
	switch decision.Result {
	case contracts.ResultAllow:
		c.tokens.Register(decision.Token)
		outcome.Execution = c.runner.Execute(ctx, intent, decision.Token)
		outcome.Success = outcome.Execution.Success
		if outcome.Success {
			outcome.Payload = outcome.Execution.Result
		} else if outcome.Execution.Error != nil {
			outcome.Err = fmt.Errorf("%s: %s", outcome.Execution.Error.Category, outcome.Execution.Error.Message)
		}
	case contracts.ResultDeny:
		outcome.Err = fmt.Errorf("%w: %s", contracts.ErrPolicyDenied,
			strings.Join(decision.DeniedReasons, "; "))
		c.logger.WarnContext(ctx, "intent denied",
			"agent", intent.RequestingAgent,
			"action", string(intent.ActionType),
			"target", intent.Target,
			"reasons", decision.DeniedReasons)
	case contracts.ResultSanitize:
		outcome.Err = fmt.Errorf("%w: %s", contracts.ErrSanitizeRequired, decision.RiskAssessment)
	}

	c.record(ctx, intent, decision, outcome.Execution)
	return outcome
}

// record appends the decision/execution pair to the audit log and bumps
// the summary counters under one lock.
func (c *Coordinator) record(ctx context.Context, intent *contracts.ActionIntent, decision *contracts.PolicyDecision, exec *contracts.ExecutionResult) {
	detail := map[string]any{
		"decision_id":   decision.ID,
		"decision_hash": decision.DecisionHash,
		"risk_level":    string(intent.RiskLevel),
	}
	success := false
	if exec != nil {
		success = exec.Success
		detail["execution_time_ms"] = exec.ExecutionTimeMS
		if exec.Error != nil {
			detail["error_category"] = string(exec.Error.Category)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	switch decision.Result {
	case contracts.ResultAllow:
		c.allowed++
		if success {
			c.succeeded++
		}
	case contracts.ResultDeny:
		c.denied++
	case contracts.ResultSanitize:
		c.sanitized++
	}

	if _, err := c.auditLog.Append(ctx, audit.Record{
		AgentID:   intent.RequestingAgent,
		SessionID: intent.SessionID,
		Action:    intent.ActionType,
		Target:    intent.Target,
		Result:    decision.Result,
		Success:   success,
		Detail:    detail,
	}); err != nil {
		c.logger.ErrorContext(ctx, "audit append failed", "error", err)
	}
}

// GetAuditLog returns audit entries most recent first, optionally
// filtered by agent id. A limit keeps the newest entries.
func (c *Coordinator) GetAuditLog(ctx context.Context, agentID string, limit int) ([]*audit.Entry, error) {
	return c.auditLog.Query(ctx, audit.QueryFilter{AgentID: agentID, Limit: limit})
}

// GetSecuritySummary computes the aggregate decision view.
func (c *Coordinator) GetSecuritySummary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		TotalPolicyDecisions: c.total,
		Allowed:              c.allowed,
		Denied:               c.denied,
		Sanitized:            c.sanitized,
	}
	if c.total > 0 {
		s.DenialRate = float64(c.denied) / float64(c.total)
	}
	if c.allowed > 0 {
		s.SuccessRate = float64(c.succeeded) / float64(c.allowed)
	}
	return s
}

// CreateEvidenceBundle starts a new evidence bundle for a session.
func (c *Coordinator) CreateEvidenceBundle(sessionID, agentID string) *contracts.EvidenceBundle {
	return c.evidence.CreateBundle(sessionID, agentID)
}

// AddEvidence stores untrusted content and returns its opaque reference.
func (c *Coordinator) AddEvidence(bundleID, content, source, contentType string) (contracts.EvidenceRef, error) {
	return c.evidence.AddEvidence(bundleID, content, source, contentType)
}

// GetEvidenceReferences lists a bundle's references. No content crosses
// this boundary.
func (c *Coordinator) GetEvidenceReferences(bundleID string) ([]contracts.EvidenceRef, error) {
	return c.evidence.References(bundleID)
}

// GetEvidenceContent fetches raw content behind a reference with an
// integrity re-check.
func (c *Coordinator) GetEvidenceContent(bundleID, evidenceID string) (string, error) {
	return c.evidence.Get(bundleID, evidenceID)
}
