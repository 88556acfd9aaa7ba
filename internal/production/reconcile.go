package production

import (
	"time"

	"github.com/orfeixyz/solara/internal/rules"
	"github.com/orfeixyz/solara/internal/world"
)

type Params struct {
	Table           *rules.Table
	TickInterval    time.Duration
	MaxCatchupTicks int
}

type State struct {
	Totals     rules.Resources
	Multiplier int
	LastTickAt time.Time
}

type Result struct {
	State        State
	TicksApplied int
	// Tick is the last applied tick, or a preview when no tick was due.
	Tick Tick
	// Downgraded is set when the multiplier fell back to 1 during the batch;
	// DowngradedAt is the index of the first tick run at multiplier 1.
	Downgraded   bool
	DowngradedAt int
	Produced     rules.Resources
	Consumed     rules.Resources
}

// TicksDue is the number of whole intervals between last and now, clamped
// to [0, maxTicks].
func TicksDue(last, now time.Time, interval time.Duration, maxTicks int) int {
	if interval <= 0 {
		return 0
	}
	elapsed := now.Sub(last)
	if elapsed <= 0 {
		return 0
	}
	ticks := int64(elapsed / interval)
	if ticks > int64(maxTicks) {
		return maxTicks
	}
	return int(ticks)
}

// SurchargeCost is the extra energy a tick draws at multiplier m, scaled
// the same way as consumption.
func SurchargeCost(table *rules.Table, m int) int64 {
	surcharge, _ := table.SurchargeFor(m)
	return surcharge * int64(m)
}

// Advance applies every due tick one at a time. Before each tick, a
// multiplier above 1 drops to 1 when energy cannot cover its scaled
// surcharge; it stays at 1 for the rest of the batch. Totals are floored
// at zero after every tick and LastTickAt moves by whole intervals only.
func Advance(p Params, s State, buildings []world.Building, now time.Time) Result {
	ticks := TicksDue(s.LastTickAt, now, p.TickInterval, p.MaxCatchupTicks)
	res := Result{State: s}

	if ticks == 0 {
		res.Tick = ComputeTick(p.Table, s.Totals, s.Multiplier, buildings)
		return res
	}

	totals := s.Totals
	multiplier := s.Multiplier
	for i := 0; i < ticks; i++ {
		if multiplier > 1 && totals.Energy < SurchargeCost(p.Table, multiplier) {
			multiplier = 1
			res.Downgraded = true
			res.DowngradedAt = i
		}
		tick := ComputeTick(p.Table, totals, multiplier, buildings)

		totals = totals.Add(tick.Net).FloorZero()
		res.Produced = res.Produced.Add(tick.Produced)
		res.Consumed = res.Consumed.Add(tick.Consumed)
		res.Tick = tick
	}

	res.TicksApplied = ticks
	res.State = State{
		Totals:     totals,
		Multiplier: multiplier,
		LastTickAt: s.LastTickAt.Add(time.Duration(ticks) * p.TickInterval),
	}
	return res
}
