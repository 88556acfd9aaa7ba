// Package production computes per-tick resource flows for an island and
// advances its totals across elapsed tick intervals.
package production

import (
	"math"

	"github.com/orfeixyz/solara/internal/rules"
	"github.com/orfeixyz/solara/internal/world"
)

// MilestoneLevel is the building level behind the first-level-3 milestone and
// the activation requirement.
const MilestoneLevel = 3

// Flow is the unscaled per-tick production and consumption of a building set.
type Flow struct {
	Production  rules.Resources `json:"production"`
	Consumption rules.Resources `json:"consumption"`
}

type Tick struct {
	Produced   rules.Resources `json:"produced"`
	Consumed   rules.Resources `json:"consumed"`
	Net        rules.Resources `json:"net"`
	Efficiency float64         `json:"efficiency"`
	Imbalance  float64         `json:"imbalance"`
	Multiplier int             `json:"multiplier"`
	Base       Flow            `json:"base"`
}

// SumBaseFlows adds up per-level production and consumption. Buildings with
// an unknown type or level contribute nothing.
func SumBaseFlows(table *rules.Table, buildings []world.Building) Flow {
	var flow Flow
	for _, b := range buildings {
		data, ok := table.GetLevelData(b.Type, b.Level)
		if !ok {
			continue
		}
		flow.Production = flow.Production.Add(data.Production)
		flow.Consumption = flow.Consumption.Add(data.Consumption)
	}
	return flow
}

// ComputeTick returns one tick of production for the given totals, multiplier
// and buildings. Produced is scaled by efficiency and multiplier; consumed
// adds the multiplier's energy surcharge before scaling.
func ComputeTick(table *rules.Table, totals rules.Resources, multiplier int, buildings []world.Building) Tick {
	base := SumBaseFlows(table, buildings)
	efficiency := table.EfficiencyFor(totals)
	surcharge, _ := table.SurchargeFor(multiplier)

	factor := efficiency / 100 * float64(multiplier)
	produced := rules.Resources{
		Energy:  round(float64(base.Production.Energy) * factor),
		Water:   round(float64(base.Production.Water) * factor),
		Biomass: round(float64(base.Production.Biomass) * factor),
	}

	m := int64(multiplier)
	consumed := rules.Resources{
		Energy:  (base.Consumption.Energy + surcharge) * m,
		Water:   base.Consumption.Water * m,
		Biomass: base.Consumption.Biomass * m,
	}

	return Tick{
		Produced:   produced,
		Consumed:   consumed,
		Net:        produced.Sub(consumed),
		Efficiency: efficiency,
		Imbalance:  rules.Imbalance(totals),
		Multiplier: multiplier,
		Base:       base,
	}
}

// round is half away from zero.
func round(v float64) int64 {
	return int64(math.Round(v))
}

func HasLevel(buildings []world.Building, level int) bool {
	for _, b := range buildings {
		if b.Level >= level {
			return true
		}
	}
	return false
}
