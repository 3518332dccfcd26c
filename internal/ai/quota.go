package ai

import (
	"context"
	"sort"
	"sync"
	"time"
)

const DefaultQuotaCooldown = 9 * time.Hour

type QuotaStatus struct {
	Provider  string     `json:"provider"`
	Exhausted bool       `json:"exhausted"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
}

// QuotaTracker remembers which providers hit their quota and until when.
// Expired entries must read as available (lazy reset). MarkExhausted takes
// the provider's Retry-After hint, 0 when it sent none.
type QuotaTracker interface {
	Exhausted(ctx context.Context, provider string) (bool, error)
	MarkExhausted(ctx context.Context, provider string, retryAfter time.Duration) (time.Time, error)
	Status(ctx context.Context, providers []string) ([]QuotaStatus, error)
}

// MemoryQuotaStore keeps quota state in process. State is lost on restart
// and not shared between instances.
type MemoryQuotaStore struct {
	mu       sync.Mutex
	resets   map[string]time.Time
	cooldown time.Duration
	now      func() time.Time
}

func NewMemoryQuotaStore(cooldown time.Duration) *MemoryQuotaStore {
	if cooldown <= 0 {
		cooldown = DefaultQuotaCooldown
	}
	return &MemoryQuotaStore{
		resets:   make(map[string]time.Time),
		cooldown: cooldown,
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (s *MemoryQuotaStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryQuotaStore) Exhausted(_ context.Context, provider string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhaustedLocked(provider), nil
}

func (s *MemoryQuotaStore) exhaustedLocked(provider string) bool {
	reset, ok := s.resets[provider]
	if !ok {
		return false
	}
	if s.now().After(reset) {
		delete(s.resets, provider)
		return false
	}
	return true
}

func (s *MemoryQuotaStore) MarkExhausted(_ context.Context, provider string, retryAfter time.Duration) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reset := s.now().Add(Cooldown(s.cooldown, retryAfter))
	s.resets[provider] = reset
	return reset, nil
}

func (s *MemoryQuotaStore) Status(_ context.Context, providers []string) ([]QuotaStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := append([]string(nil), providers...)
	if len(names) == 0 {
		for name := range s.resets {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	out := make([]QuotaStatus, 0, len(names))
	for _, name := range names {
		st := QuotaStatus{Provider: name}
		if s.exhaustedLocked(name) {
			reset := s.resets[name]
			st.Exhausted = true
			st.ResetAt = &reset
		}
		out = append(out, st)
	}
	return out, nil
}
