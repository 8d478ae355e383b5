// Package evidence isolates untrusted content behind opaque references.
// Agents and model prompts only ever see references; the raw content is
// fetched explicitly, one item at a time, with its integrity re-checked
// on every fetch.
package evidence

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthward/warden/pkg/canonicalize"
	"github.com/hearthward/warden/pkg/contracts"
)

// Clock provides authority time for bundle and item timestamps.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Manager owns every evidence bundle in the process. All access to a
// bundle's items goes through it.
type Manager struct {
	mu      sync.RWMutex
	bundles map[string]*bundleState
	clock   Clock
}

// bundleState pairs a bundle with its own lock so appends to different
// bundles never contend.
type bundleState struct {
	mu     sync.Mutex
	bundle *contracts.EvidenceBundle
}

// NewManager creates an empty evidence manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		bundles: make(map[string]*bundleState),
		clock:   wallClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects a deterministic clock for testing.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// CreateBundle starts a new append-only bundle for a session.
func (m *Manager) CreateBundle(sessionID, createdBy string) *contracts.EvidenceBundle {
	bundle := &contracts.EvidenceBundle{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		CreatedBy: createdBy,
		CreatedAt: m.clock.Now().UTC(),
	}
	m.mu.Lock()
	m.bundles[bundle.ID] = &bundleState{bundle: bundle}
	m.mu.Unlock()
	return bundle
}

func (m *Manager) state(bundleID string) (*bundleState, error) {
	m.mu.RLock()
	state, ok := m.bundles[bundleID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown evidence bundle %s", bundleID)
	}
	return state, nil
}

// AddEvidence stores raw content in a bundle and returns the opaque
// reference for it. The content hash is computed at store time and is
// the integrity anchor for every later fetch.
func (m *Manager) AddEvidence(bundleID, content, source, contentType string) (contracts.EvidenceRef, error) {
	state, err := m.state(bundleID)
	if err != nil {
		return contracts.EvidenceRef{}, err
	}
	item := contracts.EvidenceItem{
		ID:          uuid.NewString(),
		Content:     content,
		Source:      source,
		ContentType: contentType,
		Hash:        canonicalize.HashBytes([]byte(content)),
		AddedAt:     m.clock.Now().UTC(),
	}
	state.mu.Lock()
	state.bundle.Items = append(state.bundle.Items, item)
	state.mu.Unlock()
	return item.Ref(), nil
}

// References returns the reference of every item in the bundle, in
// insertion order. No content crosses this boundary.
func (m *Manager) References(bundleID string) ([]contracts.EvidenceRef, error) {
	state, err := m.state(bundleID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	refs := make([]contracts.EvidenceRef, 0, len(state.bundle.Items))
	for i := range state.bundle.Items {
		refs = append(refs, state.bundle.Items[i].Ref())
	}
	return refs, nil
}

// Get fetches the raw content behind a reference. The stored content is
// re-hashed and compared against the hash recorded at store time; a
// mismatch means the store was tampered with and surfaces as
// contracts.ErrIntegrity rather than stale content.
func (m *Manager) Get(bundleID, itemID string) (string, error) {
	state, err := m.state(bundleID)
	if err != nil {
		return "", err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	for i := range state.bundle.Items {
		item := &state.bundle.Items[i]
		if item.ID != itemID {
			continue
		}
		if canonicalize.HashBytes([]byte(item.Content)) != item.Hash {
			return "", fmt.Errorf("%w: evidence %s content does not match stored hash",
				contracts.ErrIntegrity, itemID)
		}
		return item.Content, nil
	}
	return "", fmt.Errorf("evidence %s not found in bundle %s", itemID, bundleID)
}

// Len reports how many items a bundle holds.
func (m *Manager) Len(bundleID string) (int, error) {
	state, err := m.state(bundleID)
	if err != nil {
		return 0, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return len(state.bundle.Items), nil
}

// tamper overwrites an item's stored content without touching its hash.
// Test hook for integrity verification; never called in production code.
func (m *Manager) tamper(bundleID, itemID, content string) {
	state, err := m.state(bundleID)
	if err != nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	for i := range state.bundle.Items {
		if state.bundle.Items[i].ID == itemID {
			state.bundle.Items[i].Content = content
		}
	}
}
