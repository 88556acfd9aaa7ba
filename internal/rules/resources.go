package rules

// Resources is a triple of energy, water and biomass. It is used both for
// stored totals (never negative) and for signed per-tick deltas.
type Resources struct {
	Energy  int64 `json:"energy" yaml:"energy"`
	Water   int64 `json:"water" yaml:"water"`
	Biomass int64 `json:"biomass" yaml:"biomass"`
}

func (r Resources) Add(o Resources) Resources {
	return Resources{Energy: r.Energy + o.Energy, Water: r.Water + o.Water, Biomass: r.Biomass + o.Biomass}
}

func (r Resources) Sub(o Resources) Resources {
	return Resources{Energy: r.Energy - o.Energy, Water: r.Water - o.Water, Biomass: r.Biomass - o.Biomass}
}

// Covers reports whether r holds at least o in every resource.
func (r Resources) Covers(o Resources) bool {
	return r.Energy >= o.Energy && r.Water >= o.Water && r.Biomass >= o.Biomass
}

// FloorZero clamps each negative component to zero.
func (r Resources) FloorZero() Resources {
	return Resources{Energy: max(r.Energy, 0), Water: max(r.Water, 0), Biomass: max(r.Biomass, 0)}
}

func (r Resources) IsZero() bool {
	return r.Energy == 0 && r.Water == 0 && r.Biomass == 0
}

func (r Resources) AnyNegative() bool {
	return r.Energy < 0 || r.Water < 0 || r.Biomass < 0
}

// Remaining is how much of goal is still missing from r, floored at zero.
func (r Resources) Remaining(goal Resources) Resources {
	return goal.Sub(r).FloorZero()
}
