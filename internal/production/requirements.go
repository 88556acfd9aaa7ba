package production

import (
	"github.com/orfeixyz/solara/internal/rules"
	"github.com/orfeixyz/solara/internal/world"
)

type PositiveNet struct {
	Energy  bool `json:"energy"`
	Water   bool `json:"water"`
	Biomass bool `json:"biomass"`
}

func (p PositiveNet) All() bool {
	return p.Energy && p.Water && p.Biomass
}

// Requirements is the per-island part of the core activation gate.
type Requirements struct {
	HasLevel3Building bool        `json:"has_level3_building"`
	Efficiency        float64     `json:"efficiency"`
	MinEfficiency     float64     `json:"min_efficiency"`
	EfficiencyMet     bool        `json:"efficiency_met"`
	PositiveNet       PositiveNet `json:"positive_net"`
	Met               bool        `json:"met"`
}

func CheckRequirements(tick Tick, buildings []world.Building, minEfficiency float64) Requirements {
	req := Requirements{
		HasLevel3Building: HasLevel(buildings, MilestoneLevel),
		Efficiency:        tick.Efficiency,
		MinEfficiency:     minEfficiency,
		EfficiencyMet:     tick.Efficiency >= minEfficiency,
		PositiveNet: PositiveNet{
			Energy:  tick.Net.Energy > 0,
			Water:   tick.Net.Water > 0,
			Biomass: tick.Net.Biomass > 0,
		},
	}
	req.Met = req.HasLevel3Building && req.EfficiencyMet && req.PositiveNet.All()
	return req
}

// AlphaComplete reports whether an island on its own could power the core:
// it meets the activation requirements and holds at least goal.
func AlphaComplete(totals rules.Resources, req Requirements, goal rules.Resources) bool {
	return req.Met && totals.Covers(goal)
}
