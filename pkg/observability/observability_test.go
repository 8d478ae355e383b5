package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNew_DisabledIsInert(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	// Every method must be callable without providers behind it.
	ctx, done := p.TrackOperation(context.Background(), "warden.evaluate",
		attribute.String("agent.id", "agent-a"))
	assert.NotNil(t, ctx)
	done(errors.New("denied"))

	p.RecordIntent(ctx)
	p.RecordDenial(ctx)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "warden", cfg.ServiceName)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.SampleRate)
}
