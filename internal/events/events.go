// Package events carries state-change notifications from the services to
// whatever transport is listening. Services emit only after commit.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	BuildingUpdate       Type = "building_update"
	ResourceUpdate       Type = "resource_update"
	TickApplied          Type = "tick_applied"
	Milestone            Type = "milestone"
	MultiplierDowngraded Type = "multiplier_downgraded"
	TickFailed           Type = "tick_failed"
	CoreUpdate           Type = "core_update"
	CoreActivated        Type = "core_activated"
	RestartRequested     Type = "restart_requested"
	RestartAccepted      Type = "restart_accepted"
	RestartCompleted     Type = "restart_completed"
)

// Global is the IslandID of world-wide events.
const Global int64 = 0

type Event struct {
	ID       string    `json:"id"`
	Type     Type      `json:"type"`
	IslandID int64     `json:"island_id,omitempty"`
	Payload  any       `json:"payload,omitempty"`
	At       time.Time `json:"at"`
}

func New(t Type, islandID int64, payload any, at time.Time) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     t,
		IslandID: islandID,
		Payload:  payload,
		At:       at,
	}
}

type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// EmitAll sends events in order.
func EmitAll(ctx context.Context, emitter Emitter, batch []Event) {
	for _, e := range batch {
		emitter.Emit(ctx, e)
	}
}

// Multi fans an event out to several emitters.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, e Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(ctx, e)
		}
	}
}

type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger.With("component", "events")}
}

func (l *LogEmitter) Emit(ctx context.Context, e Event) {
	l.logger.DebugContext(ctx, "Event emitted",
		"event_id", e.ID,
		"type", e.Type,
		"island_id", e.IslandID,
	)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) OfType(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
