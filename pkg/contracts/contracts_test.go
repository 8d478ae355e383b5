package contracts

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validIntent() *ActionIntent {
	return &ActionIntent{
		ID:              "intent-1",
		ActionType:      ActionReadFile,
		Target:          "memory/notes.txt",
		Parameters:      map[string]any{"encoding": "utf-8", "depth": float64(2)},
		Rationale:       "user asked for the note",
		ExpectedOutcome: "note contents returned",
		RiskLevel:       RiskLow,
		RequestingAgent: "agent-a",
		SessionID:       "session-1",
		CreatedAt:       time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
	}
}

func TestIntentValidate(t *testing.T) {
	require.NoError(t, validIntent().Validate())

	cases := []struct {
		name   string
		mutate func(*ActionIntent)
	}{
		{"missing id", func(i *ActionIntent) { i.ID = "" }},
		{"unknown action", func(i *ActionIntent) { i.ActionType = "DELETE_EVERYTHING" }},
		{"missing agent", func(i *ActionIntent) { i.RequestingAgent = "" }},
		{"missing session", func(i *ActionIntent) { i.SessionID = "" }},
		{"missing target", func(i *ActionIntent) { i.Target = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intent := validIntent()
			tc.mutate(intent)
			err := intent.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestIntentRoundTrip(t *testing.T) {
	intent := validIntent()
	restored, err := IntentFromMap(intent.ToMap())
	require.NoError(t, err)
	assert.Equal(t, intent, restored)
}

func TestIntentRoundTrip_EmptyParameters(t *testing.T) {
	intent := validIntent()
	intent.Parameters = nil
	restored, err := IntentFromMap(intent.ToMap())
	require.NoError(t, err)
	assert.Equal(t, intent, restored)

	intent.Parameters = map[string]any{}
	restored, err = IntentFromMap(intent.ToMap())
	require.NoError(t, err)
	assert.Equal(t, intent, restored)
}

func TestDecisionValidate(t *testing.T) {
	token := &CapabilityToken{ID: "tok-1"}

	allow := &PolicyDecision{
		Result:              ResultAllow,
		Token:               token,
		AllowedCapabilities: []Capability{CapReadFile},
	}
	require.NoError(t, allow.Validate())

	allow.Token = nil
	assert.Error(t, allow.Validate(), "ALLOW requires a token")

	deny := &PolicyDecision{
		Result:        ResultDeny,
		DeniedReasons: []string{"target denied by rule deny-secrets"},
	}
	require.NoError(t, deny.Validate())

	deny.Token = token
	assert.Error(t, deny.Validate(), "DENY never carries a token")

	deny.Token = nil
	deny.DeniedReasons = nil
	assert.Error(t, deny.Validate(), "DENY requires reasons")

	sanitize := &PolicyDecision{Result: ResultSanitize}
	require.NoError(t, sanitize.Validate())
	sanitize.Token = token
	assert.Error(t, sanitize.Validate())

	assert.Error(t, (&PolicyDecision{Result: "MAYBE"}).Validate())
}

func TestRequiredCapability(t *testing.T) {
	assert.Equal(t, CapReadFile, ActionReadFile.RequiredCapability())
	assert.Equal(t, CapWriteFile, ActionWriteFile.RequiredCapability())
	assert.Equal(t, CapReadMemory, ActionReadMemory.RequiredCapability())
	assert.Equal(t, CapWriteMemory, ActionWriteMemory.RequiredCapability())
	assert.Equal(t, Capability(""), ActionType("BOGUS").RequiredCapability())
}

func TestClassifyExecError(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCategory
	}{
		{errors.New("file not found: data/x"), ErrCatNotFound},
		{errors.New("permission denied by operating system"), ErrCatDeniedByOS},
		{errors.New("something unexpected"), ErrCatInternal},
	}
	for _, tc := range cases {
		got := ClassifyExecError(tc.err)
		require.NotNil(t, got)
		assert.Equal(t, tc.want, got.Category, "for %v", tc.err)
	}
}
