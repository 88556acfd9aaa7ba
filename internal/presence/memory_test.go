package presence

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func TestMemoryTrackerWindow(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	tracker := NewMemoryTracker(90*time.Second, clock.Now)

	_ = tracker.Touch(ctx, User{UserID: 2, Username: "bea"})
	_ = tracker.Touch(ctx, User{UserID: 1, Username: "ana"})

	active, err := tracker.ActiveUsers(ctx)
	if err != nil {
		t.Fatalf("ActiveUsers: %v", err)
	}
	if len(active) != 2 || active[0].UserID != 1 || active[1].UserID != 2 {
		t.Fatalf("active = %+v, want users 1 and 2 in order", active)
	}

	clock.t = clock.t.Add(60 * time.Second)
	_ = tracker.Touch(ctx, User{UserID: 2, Username: "bea"})
	clock.t = clock.t.Add(60 * time.Second)

	active, _ = tracker.ActiveUsers(ctx)
	if len(active) != 1 || active[0].UserID != 2 {
		t.Fatalf("active = %+v, want only user 2", active)
	}
}

func TestMemoryTrackerEmpty(t *testing.T) {
	active, err := NewMemoryTracker(time.Minute, nil).ActiveUsers(context.Background())
	if err != nil {
		t.Fatalf("ActiveUsers: %v", err)
	}
	if active == nil || len(active) != 0 {
		t.Fatalf("active = %#v, want empty non-nil slice", active)
	}
}
