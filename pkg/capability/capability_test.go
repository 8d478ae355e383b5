package capability

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthward/warden/pkg/contracts"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testIntent() *contracts.ActionIntent {
	return &contracts.ActionIntent{
		ID:              "intent-1",
		ActionType:      contracts.ActionReadFile,
		Target:          "memory/notes.txt",
		RiskLevel:       contracts.RiskLow,
		RequestingAgent: "agent-a",
		SessionID:       "session-1",
	}
}

func TestIssue_SignsAndSetsExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager([]byte("test-secret"), WithClock(clock))

	token, err := m.Issue(testIntent(), []contracts.Capability{contracts.CapReadFile}, contracts.ScopeSingleUse)
	require.NoError(t, err)

	assert.NotEmpty(t, token.ID)
	assert.Equal(t, "agent-a", token.IssuedTo)
	assert.Equal(t, "intent-1", token.IntentID)
	assert.False(t, token.ExpiresAt.IsZero(), "expiry is mandatory")
	assert.Equal(t, clock.Now().Add(DefaultTTL), token.ExpiresAt)
	assert.True(t, m.VerifySignature(token))
}

func TestIssue_RequiresCapabilities(t *testing.T) {
	m := NewManager([]byte("test-secret"))
	_, err := m.Issue(testIntent(), nil, contracts.ScopeSingleUse)
	require.ErrorIs(t, err, contracts.ErrValidation)
}

func TestVerifySignature_RejectsTampering(t *testing.T) {
	m := NewManager([]byte("test-secret"))
	token, err := m.Issue(testIntent(), []contracts.Capability{contracts.CapReadFile}, contracts.ScopeSingleUse)
	require.NoError(t, err)

	token.IssuedTo = "agent-b"
	assert.False(t, m.VerifySignature(token), "actor swap must break the signature")

	token.IssuedTo = "agent-a"
	assert.True(t, m.VerifySignature(token))

	token.Capabilities = append(token.Capabilities, contracts.CapWriteFile)
	assert.False(t, m.VerifySignature(token), "capability escalation must break the signature")
}

func TestVerifySignature_DifferentSecret(t *testing.T) {
	m1 := NewManager([]byte("secret-one"))
	m2 := NewManager([]byte("secret-two"))
	token, err := m1.Issue(testIntent(), []contracts.Capability{contracts.CapReadFile}, contracts.ScopeSingleUse)
	require.NoError(t, err)
	assert.False(t, m2.VerifySignature(token), "forged token signed with another key must not verify")
}

func TestIsValid_Expiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager([]byte("test-secret"), WithClock(clock), WithTTL(time.Minute))
	token, err := m.Issue(testIntent(), []contracts.Capability{contracts.CapReadFile}, contracts.ScopeTimeLimited)
	require.NoError(t, err)

	ok, _ := m.IsValid(token, clock.Now())
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	ok, reason := m.IsValid(token, clock.Now())
	assert.False(t, ok)
	assert.Equal(t, "token expired", reason)
}

func TestIsValid_SpentSingleUse(t *testing.T) {
	m := NewManager([]byte("test-secret"))
	token, err := m.Issue(testIntent(), []contracts.Capability{contracts.CapReadFile}, contracts.ScopeSingleUse)
	require.NoError(t, err)

	token.Used = true
	ok, reason := m.IsValid(token, time.Now())
	assert.False(t, ok)
	assert.Equal(t, "single-use token already spent", reason)
}

func TestIsValid_MissingExpiryNeverValid(t *testing.T) {
	m := NewManager([]byte("test-secret"))
	token, err := m.Issue(testIntent(), []contracts.Capability{contracts.CapReadFile}, contracts.ScopeMultiUse)
	require.NoError(t, err)

	token.ExpiresAt = time.Time{}
	ok, _ := m.IsValid(token, time.Now())
	assert.False(t, ok, "a token without expiry is invalid even before signature checks pass")
}

func TestStore_SpendSingleUseIsCompareAndSet(t *testing.T) {
	m := NewManager([]byte("test-secret"))
	token, err := m.Issue(testIntent(), []contracts.Capability{contracts.CapReadFile}, contracts.ScopeSingleUse)
	require.NoError(t, err)

	store := NewStore()
	store.Register(token)

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- store.Spend(token.ID)
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one racer may spend a single-use token")
	assert.True(t, token.Used)
}

func TestStore_LookupReturnsSnapshot(t *testing.T) {
	m := NewManager([]byte("test-secret"))
	token, err := m.Issue(testIntent(), []contracts.Capability{contracts.CapReadFile}, contracts.ScopeSingleUse)
	require.NoError(t, err)

	store := NewStore()
	store.Register(token)

	first, ok := store.Lookup(token.ID)
	require.True(t, ok)
	first.Used = true

	second, ok := store.Lookup(token.ID)
	require.True(t, ok)
	assert.False(t, second.Used, "mutating a lookup result must not touch the stored token")
	assert.True(t, store.Spend(token.ID), "the stored token is still spendable")
}

func TestStore_ValidityChecksRaceSpend(t *testing.T) {
	// Validity checks run on lookup snapshots, so checking a token while
	// another goroutine spends it must be race-free. The spent state is
	// still settled by the compare-and-set, not by the check.
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager([]byte("test-secret"), WithClock(clock))
	token, err := m.Issue(testIntent(), []contracts.Capability{contracts.CapReadFile}, contracts.ScopeSingleUse)
	require.NoError(t, err)

	store := NewStore()
	store.Register(token)

	const checkers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < checkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 100; j++ {
				if snap, ok := store.Lookup(token.ID); ok {
					m.IsValid(snap, clock.Now())
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		for j := 0; j < 100; j++ {
			store.Spend(token.ID)
		}
	}()
	close(start)
	wg.Wait()

	snap, ok := store.Lookup(token.ID)
	require.True(t, ok)
	assert.True(t, snap.Used)
	valid, reason := m.IsValid(snap, clock.Now())
	assert.False(t, valid)
	assert.Equal(t, "single-use token already spent", reason)
}

func TestStore_SpendMultiUse(t *testing.T) {
	m := NewManager([]byte("test-secret"))
	token, err := m.Issue(testIntent(), []contracts.Capability{contracts.CapReadMemory}, contracts.ScopeMultiUse)
	require.NoError(t, err)

	store := NewStore()
	store.Register(token)

	assert.True(t, store.Spend(token.ID))
	assert.True(t, store.Spend(token.ID), "multi-use tokens survive repeated spends")
}

func TestStore_LookupUnknown(t *testing.T) {
	store := NewStore()
	_, ok := store.Lookup("nope")
	assert.False(t, ok)
	assert.False(t, store.Spend("nope"))
}

func TestStore_Prune(t *testing.T) {
	m := NewManager([]byte("test-secret"))
	token, err := m.Issue(testIntent(), []contracts.Capability{contracts.CapReadFile}, contracts.ScopeSingleUse)
	require.NoError(t, err)

	store := NewStore()
	store.Register(token)
	require.Equal(t, 1, store.Size())

	removed := store.Prune(func(t *contracts.CapabilityToken) bool { return true })
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, store.Size())
}

func TestBearer_RoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager([]byte("test-secret"), WithClock(clock))
	token, err := m.Issue(testIntent(), []contracts.Capability{contracts.CapReadFile}, contracts.ScopeSingleUse)
	require.NoError(t, err)

	bearer, err := m.Bearer(token)
	require.NoError(t, err)

	got, err := m.FromBearer(bearer)
	require.NoError(t, err)
	assert.Equal(t, token.ID, got.ID)
	assert.Equal(t, token.IssuedTo, got.IssuedTo)
	assert.Equal(t, token.IntentID, got.IntentID)
	assert.Equal(t, token.Capabilities, got.Capabilities)
	assert.True(t, m.VerifySignature(got))
}

func TestBearer_RejectsForeignSecret(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m1 := NewManager([]byte("secret-one"), WithClock(clock))
	m2 := NewManager([]byte("secret-two"), WithClock(clock))
	token, err := m1.Issue(testIntent(), []contracts.Capability{contracts.CapReadFile}, contracts.ScopeSingleUse)
	require.NoError(t, err)

	bearer, err := m1.Bearer(token)
	require.NoError(t, err)

	_, err = m2.FromBearer(bearer)
	require.ErrorIs(t, err, contracts.ErrTokenInvalid)
}
