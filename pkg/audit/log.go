// Package audit records every policy decision and execution outcome in
// an append-only, hash-chained log. Entries are never mutated; tampering
// anywhere in the chain is detectable from the head.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthward/warden/pkg/canonicalize"
	"github.com/hearthward/warden/pkg/contracts"
)

var (
	ErrChainBroken = errors.New("hash chain is broken")
)

const genesisHash = "genesis"

// Record is the caller-supplied portion of an audit entry.
type Record struct {
	AgentID   string
	SessionID string
	Action    contracts.ActionType
	Target    string
	Result    contracts.DecisionResult
	Success   bool
	Detail    any
}

// Entry is a single immutable row in the audit log.
type Entry struct {
	ID           string                   `json:"id"`
	Sequence     uint64                   `json:"sequence"`
	Timestamp    time.Time                `json:"timestamp"`
	AgentID      string                   `json:"agent_id"`
	SessionID    string                   `json:"session_id"`
	Action       contracts.ActionType     `json:"action"`
	Target       string                   `json:"target"`
	Result       contracts.DecisionResult `json:"result"`
	Success      bool                     `json:"success"`
	Detail       json.RawMessage          `json:"detail,omitempty"`
	PayloadHash  string                   `json:"payload_hash"`
	PreviousHash string                   `json:"previous_hash"`
	EntryHash    string                   `json:"entry_hash"`
}

// QueryFilter narrows a log query. Zero values match everything.
type QueryFilter struct {
	AgentID   string
	SessionID string
	Result    contracts.DecisionResult
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}

func (f QueryFilter) matches(e *Entry) bool {
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

// Log is the audit trail abstraction the coordinator writes to. Query
// results are ordered most recent first.
type Log interface {
	Append(ctx context.Context, record Record) (*Entry, error)
	Query(ctx context.Context, filter QueryFilter) ([]*Entry, error)
	VerifyChain(ctx context.Context) error
}

// entryHash covers everything that matters for chain integrity. It is
// computed over the canonical JSON form so the hash is stable across
// encoders.
func entryHash(e *Entry) (string, error) {
	hashable := struct {
		Sequence     uint64 `json:"sequence"`
		Timestamp    string `json:"timestamp"`
		AgentID      string `json:"agent_id"`
		SessionID    string `json:"session_id"`
		Action       string `json:"action"`
		Target       string `json:"target"`
		Result       string `json:"result"`
		Success      bool   `json:"success"`
		PayloadHash  string `json:"payload_hash"`
		PreviousHash string `json:"previous_hash"`
	}{
		Sequence:     e.Sequence,
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		AgentID:      e.AgentID,
		SessionID:    e.SessionID,
		Action:       string(e.Action),
		Target:       e.Target,
		Result:       string(e.Result),
		Success:      e.Success,
		PayloadHash:  e.PayloadHash,
		PreviousHash: e.PreviousHash,
	}
	return canonicalize.CanonicalHash(hashable)
}

func buildEntry(record Record, seq uint64, prev string, now time.Time) (*Entry, error) {
	detail, err := json.Marshal(record.Detail)
	if err != nil {
		return nil, fmt.Errorf("serialize audit detail: %w", err)
	}
	entry := &Entry{
		ID:           uuid.NewString(),
		Sequence:     seq,
		Timestamp:    now.UTC(),
		AgentID:      record.AgentID,
		SessionID:    record.SessionID,
		Action:       record.Action,
		Target:       record.Target,
		Result:       record.Result,
		Success:      record.Success,
		Detail:       detail,
		PayloadHash:  canonicalize.HashBytes(detail),
		PreviousHash: prev,
	}
	hash, err := entryHash(entry)
	if err != nil {
		return nil, err
	}
	entry.EntryHash = hash
	return entry, nil
}

func verifyEntries(entries []*Entry) error {
	expectedPrev := genesisHash
	for i, entry := range entries {
		if entry.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s, expected %s",
				ErrChainBroken, i, entry.PreviousHash, expectedPrev)
		}
		computed, err := entryHash(entry)
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %w", ErrChainBroken, i, err)
		}
		if computed != entry.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, i)
		}
		expectedPrev = entry.EntryHash
	}
	return nil
}

// MemoryLog is the in-process implementation of Log.
type MemoryLog struct {
	mu        sync.RWMutex
	entries   []*Entry
	sequence  uint64
	chainHead string
	clock     func() time.Time
}

// NewMemoryLog creates an empty in-memory audit log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		chainHead: genesisHash,
		clock:     time.Now,
	}
}

// Append adds a record to the log and returns the stored entry.
func (l *MemoryLog) Append(ctx context.Context, record Record) (*Entry, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := buildEntry(record, l.sequence+1, l.chainHead, l.clock())
	if err != nil {
		return nil, err
	}
	l.sequence++
	l.chainHead = entry.EntryHash
	l.entries = append(l.entries, entry)
	return entry, nil
}

// Query returns entries matching the filter, most recent first. A
// limit keeps the newest matches, so "the last N things this agent
// did" is the natural query.
func (l *MemoryLog) Query(ctx context.Context, filter QueryFilter) ([]*Entry, error) {
	_ = ctx
	l.mu.RLock()
	defer l.mu.RUnlock()

	results := make([]*Entry, 0)
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if filter.matches(e) {
			results = append(results, e)
			if filter.Limit > 0 && len(results) >= filter.Limit {
				break
			}
		}
	}
	return results, nil
}

// VerifyChain re-walks the whole log and recomputes every hash.
func (l *MemoryLog) VerifyChain(ctx context.Context) error {
	_ = ctx
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyEntries(l.entries)
}

// ChainHead returns the hash of the most recent entry.
func (l *MemoryLog) ChainHead() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chainHead
}

// Size returns the number of entries recorded.
func (l *MemoryLog) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
