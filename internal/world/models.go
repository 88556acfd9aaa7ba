package world

import (
	"time"

	"github.com/orfeixyz/solara/internal/rules"
)

// CoreID is the fixed identity of the CoreState row.
const CoreID = 1

type Island struct {
	ID                   int64           `json:"id"`
	UserID               int64           `json:"user_id"`
	Resources            rules.Resources `json:"resources"`
	TimeMultiplier       int             `json:"time_multiplier"`
	LastTickAt           time.Time       `json:"last_tick_at"`
	FirstLevel3Announced bool            `json:"first_level3_announced"`
	AlphaCompleted       bool            `json:"alpha_completed"`
	Grid                 Grid            `json:"grid"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

type Building struct {
	ID        int64              `json:"id"`
	IslandID  int64              `json:"island_id"`
	Type      rules.BuildingType `json:"type"`
	Level     int                `json:"level"`
	PosX      int                `json:"pos_x"`
	PosY      int                `json:"pos_y"`
	CreatedAt time.Time          `json:"created_at"`
}

type CoreState struct {
	Totals                     rules.Resources `json:"totals"`
	Goals                      rules.Resources `json:"goals"`
	Active                     bool            `json:"active"`
	ActivatedBy                *int64          `json:"activated_by,omitempty"`
	ActivatedByUsername        string          `json:"activated_by_username,omitempty"`
	ActivatedAt                *time.Time      `json:"activated_at,omitempty"`
	RestartRequested           bool            `json:"restart_requested"`
	RestartRequestedBy         *int64          `json:"restart_requested_by,omitempty"`
	RestartRequestedByUsername string          `json:"restart_requested_by_username,omitempty"`
	RestartRequestedAt         *time.Time      `json:"restart_requested_at,omitempty"`
	UpdatedAt                  time.Time       `json:"updated_at"`
}

// Reset returns the core to inactive with zero totals. Goals are kept.
func (c *CoreState) Reset(now time.Time) {
	goals := c.Goals
	*c = CoreState{Goals: goals, UpdatedAt: now}
}

type Contribution struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Username  string          `json:"username"`
	IslandID  int64           `json:"island_id"`
	Amounts   rules.Resources `json:"amounts"`
	CreatedAt time.Time       `json:"created_at"`
}

type RestartVote struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	Accepted bool      `json:"accepted"`
	VotedAt  time.Time `json:"voted_at"`
}

type ProductionLog struct {
	ID        int64           `json:"id"`
	IslandID  int64           `json:"island_id"`
	Ticks     int             `json:"ticks"`
	Produced  rules.Resources `json:"produced"`
	Consumed  rules.Resources `json:"consumed"`
	CreatedAt time.Time       `json:"created_at"`
}
