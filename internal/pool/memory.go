package pool

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/adlib/coffee-chat/internal/matching"
)

// MemoryPool is a process-local Pool. It is used in tests and when the
// service runs without Redis.
type MemoryPool struct {
	mu      sync.Mutex
	entries map[string]matching.Participant
}

// NewMemoryPool creates an empty in-memory pool.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{entries: make(map[string]matching.Participant)}
}

func clone(p matching.Participant) matching.Participant {
	p.Interests = slices.Clone(p.Interests)
	return p
}

func (m *MemoryPool) Candidates(_ context.Context, duration, tolerance time.Duration) ([]matching.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]matching.Participant, 0, len(m.entries))
	for _, p := range m.entries {
		if p.Status != matching.StatusUnmatched {
			continue
		}
		if _, ok := matching.IsCompatibleDuration(duration, p.Duration, tolerance); !ok {
			continue
		}
		out = append(out, clone(p))
	}
	sortByArrival(out)
	return out, nil
}

func (m *MemoryPool) Add(_ context.Context, p matching.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[p.Username] = clone(p)
	return nil
}

func (m *MemoryPool) Remove(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, username)
	return nil
}

func (m *MemoryPool) Withdraw(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.entries[username]; ok && p.Status == matching.StatusMatched {
		return false, nil
	}
	delete(m.entries, username)
	return true, nil
}

func (m *MemoryPool) Get(_ context.Context, username string) (*matching.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.entries[username]
	if !ok {
		return nil, nil
	}
	p = clone(p)
	return &p, nil
}

func (m *MemoryPool) Claim(_ context.Context, username, matchID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.entries[username]
	if !ok || p.Status != matching.StatusUnmatched {
		return false, nil
	}
	p.Status = matching.StatusMatched
	p.MatchID = matchID
	m.entries[username] = p
	return true, nil
}

func (m *MemoryPool) Release(_ context.Context, username, matchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.entries[username]
	if !ok || p.Status != matching.StatusMatched || p.MatchID != matchID {
		return nil
	}
	p.Status = matching.StatusUnmatched
	p.MatchID = ""
	m.entries[username] = p
	return nil
}

func (m *MemoryPool) Expire(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []string
	for name, p := range m.entries {
		switch {
		case p.Status == matching.StatusUnmatched && !p.AvailableUntil.After(now):
			delete(m.entries, name)
			removed = append(removed, name)
		case p.Status == matching.StatusMatched && !p.AvailableUntil.Add(MatchedRetention).After(now):
			// Matched records only serve status lookups; prune them quietly.
			delete(m.entries, name)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

func (m *MemoryPool) Size(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.entries {
		if p.Status == matching.StatusUnmatched {
			n++
		}
	}
	return n, nil
}

// sortByArrival orders participants oldest first, breaking ties by username
// so that equal timestamps still give a stable order.
func sortByArrival(ps []matching.Participant) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].JoinedAt.Equal(ps[j].JoinedAt) {
			return ps[i].JoinedAt.Before(ps[j].JoinedAt)
		}
		return ps[i].Username < ps[j].Username
	})
}
