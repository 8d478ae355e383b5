// Package ratelimit throttles intent submission per agent. The kernel
// consults it before policy evaluation so a flooding agent is rejected
// without spending evaluation work.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// timeNow is swapped in tests to drive bucket refill deterministically.
var timeNow = time.Now

// ErrThrottled marks a rejection caused by rate limiting rather than
// policy. Callers translate it into a DENY decision.
var ErrThrottled = errors.New("rate limit exceeded")

// Policy defines per-agent limits.
type Policy struct {
	RequestsPerMinute int
	Burst             int
}

// Store abstracts the bucket storage so single-process and distributed
// deployments share one call site.
type Store interface {
	// Allow reports whether the agent may spend cost tokens now.
	Allow(ctx context.Context, agentID string, policy Policy, cost int) (bool, error)
}

// Throttle checks the agent against the store and fails closed: a nil
// store or a storage error rejects the request.
func Throttle(ctx context.Context, store Store, agentID string, policy Policy) error {
	if store == nil {
		return fmt.Errorf("ratelimit: no limiter store configured")
	}
	allowed, err := store.Allow(ctx, agentID, policy, 1)
	if err != nil {
		return fmt.Errorf("ratelimit check failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w for agent %s", ErrThrottled, agentID)
	}
	return nil
}

// MemoryStore keeps one token bucket per agent in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewMemoryStore creates an empty in-process limiter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*rate.Limiter)}
}

func (s *MemoryStore) bucket(agentID string, policy Policy) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.buckets[agentID]
	if !ok {
		perSec := rate.Limit(float64(policy.RequestsPerMinute) / 60.0)
		if perSec <= 0 {
			perSec = 1
		}
		burst := policy.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(perSec, burst)
		s.buckets[agentID] = limiter
	}
	return limiter
}

// Allow consumes cost tokens from the agent's bucket if available.
func (s *MemoryStore) Allow(ctx context.Context, agentID string, policy Policy, cost int) (bool, error) {
	_ = ctx
	return s.bucket(agentID, policy).AllowN(timeNow(), cost), nil
}
