// Package rules holds the static building table: per-level production,
// consumption and cost, grid bounds, the multiplier surcharge and the
// efficiency curve.
package rules

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type BuildingType string

const (
	SolarCenter     BuildingType = "solar_center"
	BioGarden       BuildingType = "bio_garden"
	CommunityCenter BuildingType = "community_center"
)

//go:embed rules.yaml
var defaultRules []byte

type LevelData struct {
	Production  Resources `json:"production" yaml:"production"`
	Consumption Resources `json:"consumption" yaml:"consumption"`
	Cost        Resources `json:"cost" yaml:"cost"`
}

// EfficiencyCurve maps resource imbalance to a production percentage:
// clamp(Base - Penalty*imbalance, Min, Max).
type EfficiencyCurve struct {
	Base    float64 `yaml:"base"`
	Penalty float64 `yaml:"penalty"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
}

type Table struct {
	GridSize   int                                `yaml:"grid_size"`
	MaxLevel   int                                `yaml:"max_level"`
	Efficiency EfficiencyCurve                    `yaml:"efficiency"`
	Surcharge  map[int]int64                      `yaml:"multiplier_surcharge"`
	Aliases    map[string]BuildingType            `yaml:"aliases"`
	Buildings  map[BuildingType]map[int]LevelData `yaml:"buildings"`
}

// Default parses the embedded table.
func Default() (*Table, error) {
	return Parse(defaultRules)
}

// Load reads the table from path, or the embedded default when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("rules.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// WithLimits returns a copy of the table using the given grid size and max
// level, validated against the building levels it defines.
func (t *Table) WithLimits(gridSize, maxLevel int) (*Table, error) {
	c := *t
	if gridSize > 0 {
		c.GridSize = gridSize
	}
	if maxLevel > 0 {
		c.MaxLevel = maxLevel
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *Table) Validate() error {
	if t.GridSize < 1 {
		return fmt.Errorf("rules: grid_size must be at least 1")
	}
	if t.MaxLevel < 1 {
		return fmt.Errorf("rules: max_level must be at least 1")
	}
	if len(t.Buildings) == 0 {
		return fmt.Errorf("rules: no building types defined")
	}
	if len(t.Surcharge) == 0 {
		return fmt.Errorf("rules: multiplier_surcharge is empty")
	}
	if _, ok := t.Surcharge[1]; !ok {
		return fmt.Errorf("rules: multiplier 1 must be allowed")
	}
	for m, s := range t.Surcharge {
		if m < 1 || s < 0 {
			return fmt.Errorf("rules: invalid surcharge entry %d: %d", m, s)
		}
	}
	if t.Efficiency.Min > t.Efficiency.Max || t.Efficiency.Min < 0 {
		return fmt.Errorf("rules: efficiency range [%v, %v] is invalid", t.Efficiency.Min, t.Efficiency.Max)
	}

	for typ, levels := range t.Buildings {
		for level := 1; level <= t.MaxLevel; level++ {
			data, ok := levels[level]
			if !ok {
				return fmt.Errorf("rules: %s is missing level %d", typ, level)
			}
			if data.Production.AnyNegative() || data.Consumption.AnyNegative() || data.Cost.AnyNegative() {
				return fmt.Errorf("rules: %s level %d has negative values", typ, level)
			}
		}
	}
	for alias, typ := range t.Aliases {
		if _, ok := t.Buildings[typ]; !ok {
			return fmt.Errorf("rules: alias %s points to unknown type %s", alias, typ)
		}
	}
	return nil
}

// GetLevelData returns false for an unknown type or a level outside 1..MaxLevel.
func (t *Table) GetLevelData(typ BuildingType, level int) (LevelData, bool) {
	if level < 1 || level > t.MaxLevel {
		return LevelData{}, false
	}
	levels, ok := t.Buildings[typ]
	if !ok {
		return LevelData{}, false
	}
	data, ok := levels[level]
	return data, ok
}

func (t *Table) GetBuildCost(typ BuildingType, level int) (Resources, bool) {
	data, ok := t.GetLevelData(typ, level)
	if !ok {
		return Resources{}, false
	}
	return data.Cost, true
}

func (t *Table) IsKnownType(typ BuildingType) bool {
	_, ok := t.Buildings[typ]
	return ok
}

// NormalizeType resolves a client supplied type name, accepting aliases.
func (t *Table) NormalizeType(name string) (BuildingType, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if typ := BuildingType(name); t.IsKnownType(typ) {
		return typ, true
	}
	if typ, ok := t.Aliases[name]; ok {
		return typ, true
	}
	return "", false
}

func (t *Table) Types() []BuildingType {
	types := make([]BuildingType, 0, len(t.Buildings))
	for typ := range t.Buildings {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (t *Table) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < t.GridSize && y < t.GridSize
}

// SurchargeFor returns the extra per-tick energy drawn at multiplier m.
func (t *Table) SurchargeFor(m int) (int64, bool) {
	s, ok := t.Surcharge[m]
	return s, ok
}

func (t *Table) AllowedMultiplier(m int) bool {
	_, ok := t.Surcharge[m]
	return ok
}

func (t *Table) Multipliers() []int {
	ms := make([]int, 0, len(t.Surcharge))
	for m := range t.Surcharge {
		ms = append(ms, m)
	}
	sort.Ints(ms)
	return ms
}

// Imbalance is the mean of |energy-biomass| and |biomass-water|.
func Imbalance(totals Resources) float64 {
	eb := math.Abs(float64(totals.Energy - totals.Biomass))
	bw := math.Abs(float64(totals.Biomass - totals.Water))
	return (eb + bw) / 2
}

// EfficiencyFor returns the production percentage for the given totals.
func (t *Table) EfficiencyFor(totals Resources) float64 {
	c := t.Efficiency
	eff := c.Base - c.Penalty*Imbalance(totals)
	return math.Min(c.Max, math.Max(c.Min, eff))
}
