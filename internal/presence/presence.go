// Package presence tracks which users have been seen recently. The restart
// vote asks it for the active set on every quorum check.
package presence

import (
	"context"
	"time"
)

type User struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// Source lists the users seen within the presence window.
type Source interface {
	ActiveUsers(ctx context.Context) ([]User, error)
}

// Tracker records heartbeats.
type Tracker interface {
	Source
	Touch(ctx context.Context, user User) error
}

type Clock func() time.Time
