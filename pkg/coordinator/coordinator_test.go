package coordinator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthward/warden/pkg/capability"
	"github.com/hearthward/warden/pkg/contracts"
	"github.com/hearthward/warden/pkg/policy"
	"github.com/hearthward/warden/pkg/ratelimit"
	"github.com/hearthward/warden/pkg/resource"
	"github.com/hearthward/warden/pkg/runner"
)

type kernel struct {
	coord  *Coordinator
	runner *runner.Runner
}

func newKernel(t *testing.T, opts ...Option) *kernel {
	t.Helper()
	manager := capability.NewManager([]byte("test-secret"))
	tokens := capability.NewStore()
	engine, err := policy.NewEngine(policy.DefaultRuleTable(), manager)
	require.NoError(t, err)

	fs := resource.NewSandboxFS(t.TempDir())
	facts := resource.NewInMemoryFactStore()
	run := runner.New(tokens, manager, fs, facts)

	return &kernel{
		coord:  New(engine, run, tokens, opts...),
		runner: run,
	}
}

func TestSecureFileWriteThenRead(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()

	write := k.coord.SecureFileWrite(ctx, "agent-a", "session-1", "data/report.txt", "all clear")
	require.True(t, write.Success, "err: %v", write.Err)
	require.NotNil(t, write.Decision)
	assert.Equal(t, contracts.ResultAllow, write.Decision.Result)

	read := k.coord.SecureFileRead(ctx, "agent-a", "session-1", "data/report.txt")
	require.True(t, read.Success, "err: %v", read.Err)
	assert.Equal(t, "all clear", read.Payload)
}

func TestSecureFileRead_SecretsDenied(t *testing.T) {
	k := newKernel(t)

	outcome := k.coord.SecureFileRead(context.Background(), "agent-a", "session-1", ".env")
	assert.False(t, outcome.Success)
	assert.Nil(t, outcome.Execution, "denied intents never reach the runner")
	require.NotNil(t, outcome.Err)
	assert.True(t, errors.Is(outcome.Err, contracts.ErrPolicyDenied))
	assert.Contains(t, outcome.Err.Error(), "denied")
}

func TestSecureFileWrite_SourceTreeDenied(t *testing.T) {
	k := newKernel(t)

	outcome := k.coord.SecureFileWrite(context.Background(), "agent-a", "session-1",
		"backend/main.py", "print('pwned')")
	assert.False(t, outcome.Success)
	assert.True(t, errors.Is(outcome.Err, contracts.ErrPolicyDenied))
}

func TestSecureMemoryWrite_SanitizesAndPersists(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()

	outcome := k.coord.SecureMemoryWrite(ctx, "agent-a", "session-1", "household",
		"boiler serviced <script>alert('x')</script> in March")
	require.True(t, outcome.Success, "err: %v", outcome.Err)

	read := k.coord.SecureMemoryRead(ctx, "agent-a", "session-1", "household")
	require.True(t, read.Success, "err: %v", read.Err)
	facts, ok := read.Payload.([]string)
	require.True(t, ok)
	require.Len(t, facts, 1)
	assert.Equal(t, "boiler serviced in March", facts[0])
	assert.NotContains(t, facts[0], "script")
}

func TestSubmit_MemoryWriteWithoutSanitizerIsSanitizeRequired(t *testing.T) {
	k := newKernel(t)

	intent := &contracts.ActionIntent{
		ID:              "intent-raw",
		ActionType:      contracts.ActionWriteMemory,
		Target:          "household",
		Parameters:      map[string]any{"fact": "unfiltered"},
		RiskLevel:       contracts.RiskLow,
		RequestingAgent: "agent-a",
		SessionID:       "session-1",
	}
	outcome := k.coord.Submit(context.Background(), intent)
	assert.False(t, outcome.Success)
	assert.True(t, errors.Is(outcome.Err, contracts.ErrSanitizeRequired))
	assert.Equal(t, contracts.ResultSanitize, outcome.Decision.Result)
}

func TestSubmit_TokenCannotBeReplayed(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()

	outcome := k.coord.SecureFileWrite(ctx, "agent-a", "session-1", "data/once.txt", "x")
	require.True(t, outcome.Success)
	token := outcome.Decision.Token
	require.NotNil(t, token)

	// Replaying the spent token through the runner fails like any other
	// invalid token.
	intent := &contracts.ActionIntent{
		ID:              token.IntentID,
		ActionType:      contracts.ActionWriteFile,
		Target:          "data/once.txt",
		Parameters:      map[string]any{"content": "y"},
		RiskLevel:       contracts.RiskMedium,
		RequestingAgent: "agent-a",
		SessionID:       "session-1",
	}
	replay := k.runner.Execute(ctx, intent, token)
	assert.False(t, replay.Success)
	assert.Contains(t, replay.Error.Message, "Invalid capability token")
}

func TestEvidenceFlow(t *testing.T) {
	k := newKernel(t)

	bundle := k.coord.CreateEvidenceBundle("session-1", "agent-a")
	payload := "<script>alert('x')</script>"
	ref, err := k.coord.AddEvidence(bundle.ID, payload, "web_scrape", "text/html")
	require.NoError(t, err)

	refs, err := k.coord.GetEvidenceReferences(bundle.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)

	content, err := k.coord.GetEvidenceContent(bundle.ID, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, payload, content)
}

func TestGetSecuritySummary(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()

	k.coord.SecureFileWrite(ctx, "agent-a", "session-1", "data/a.txt", "x")
	k.coord.SecureFileRead(ctx, "agent-a", "session-1", ".env")
	k.coord.SecureFileRead(ctx, "agent-a", "session-1", "secrets/key")
	k.coord.SecureMemoryWrite(ctx, "agent-a", "session-1", "household", "fact")

	s := k.coord.GetSecuritySummary()
	// Memory write counts twice: the sanitize pass and the resubmission.
	assert.Equal(t, 5, s.TotalPolicyDecisions)
	assert.Equal(t, 2, s.Allowed)
	assert.Equal(t, 2, s.Denied)
	assert.Equal(t, 1, s.Sanitized)
	assert.InDelta(t, 0.4, s.DenialRate, 1e-9)
	assert.InDelta(t, 1.0, s.SuccessRate, 1e-9)
}

func TestGetAuditLog_FiltersByAgent(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()

	k.coord.SecureFileRead(ctx, "agent-a", "session-1", ".env")
	k.coord.SecureFileWrite(ctx, "agent-b", "session-2", "data/b.txt", "x")

	entries, err := k.coord.GetAuditLog(ctx, "agent-a", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, contracts.ResultDeny, entries[0].Result)

	all, err := k.coord.GetAuditLog(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRateLimit_DeniesBeforeEvaluation(t *testing.T) {
	k := newKernel(t, WithRateLimit(ratelimit.NewMemoryStore(),
		ratelimit.Policy{RequestsPerMinute: 60, Burst: 1}))
	ctx := context.Background()

	first := k.coord.SecureFileWrite(ctx, "agent-a", "session-1", "data/a.txt", "x")
	require.True(t, first.Success)

	second := k.coord.SecureFileWrite(ctx, "agent-a", "session-1", "data/b.txt", "x")
	assert.False(t, second.Success)
	require.NotNil(t, second.Err)
	assert.True(t, errors.Is(second.Err, contracts.ErrPolicyDenied))
	assert.True(t, strings.Contains(second.Err.Error(), "rate limit"))

	s := k.coord.GetSecuritySummary()
	assert.Equal(t, 1, s.Denied)
}
