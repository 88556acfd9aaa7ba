package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

type seen struct {
	user User
	at   time.Time
}

// MemoryTracker is the single-process fallback used when Redis is disabled.
type MemoryTracker struct {
	mu     sync.Mutex
	window time.Duration
	now    Clock
	users  map[int64]seen
}

func NewMemoryTracker(window time.Duration, now Clock) *MemoryTracker {
	if now == nil {
		now = time.Now
	}
	return &MemoryTracker{
		window: window,
		now:    now,
		users:  make(map[int64]seen),
	}
}

func (m *MemoryTracker) Touch(_ context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.UserID] = seen{user: user, at: m.now()}
	return nil
}

func (m *MemoryTracker) ActiveUsers(_ context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.window)
	active := make([]User, 0, len(m.users))
	for id, s := range m.users {
		if s.at.Before(cutoff) {
			delete(m.users, id)
			continue
		}
		active = append(active, s.user)
	}

	sort.Slice(active, func(i, j int) bool { return active[i].UserID < active[j].UserID })
	return active, nil
}
