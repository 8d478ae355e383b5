package evidence

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthward/warden/pkg/contracts"
)

func TestAddEvidence_RefCarriesNoContent(t *testing.T) {
	m := NewManager()
	bundle := m.CreateBundle("session-1", "agent-a")

	payload := "<script>alert('x')</script>"
	ref, err := m.AddEvidence(bundle.ID, payload, "web_scrape", "text/html")
	require.NoError(t, err)
	assert.NotEmpty(t, ref.ID)
	assert.Equal(t, "web_scrape", ref.Source)
	assert.NotEmpty(t, ref.Hash)

	refs, err := m.References(bundle.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)

	// Nothing in the serialized reference list may carry the payload or
	// even a content field.
	raw, err := json.Marshal(refs)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), payload)
	assert.NotContains(t, string(raw), "content\":")
	assert.False(t, strings.Contains(string(raw), "script"))
}

func TestGet_ReturnsOriginalContent(t *testing.T) {
	m := NewManager()
	bundle := m.CreateBundle("session-1", "agent-a")

	payload := "<script>alert('x')</script>"
	ref, err := m.AddEvidence(bundle.ID, payload, "web_scrape", "text/html")
	require.NoError(t, err)

	got, err := m.Get(bundle.ID, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestGet_TamperedContentFailsIntegrity(t *testing.T) {
	m := NewManager()
	bundle := m.CreateBundle("session-1", "agent-a")

	ref, err := m.AddEvidence(bundle.ID, "original", "email_inbox", "text/plain")
	require.NoError(t, err)

	m.tamper(bundle.ID, ref.ID, "swapped out underneath")

	_, err = m.Get(bundle.ID, ref.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrIntegrity))
}

func TestGet_UnknownBundleAndItem(t *testing.T) {
	m := NewManager()
	_, err := m.Get("no-such-bundle", "no-such-item")
	assert.Error(t, err)

	bundle := m.CreateBundle("session-1", "agent-a")
	_, err = m.Get(bundle.ID, "no-such-item")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, contracts.ErrIntegrity))
}

func TestAddEvidence_ConcurrentAppends(t *testing.T) {
	m := NewManager()
	bundle := m.CreateBundle("session-1", "agent-a")

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.AddEvidence(bundle.ID, "payload", "web_scrape", "text/html")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := m.Len(bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, writers, n)
}
