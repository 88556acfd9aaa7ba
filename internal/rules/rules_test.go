package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func mustDefault(t *testing.T) *Table {
	t.Helper()
	table, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	return table
}

func TestDefaultTable(t *testing.T) {
	table := mustDefault(t)

	if table.GridSize != 5 || table.MaxLevel != 3 {
		t.Fatalf("grid=%d max=%d, want 5 and 3", table.GridSize, table.MaxLevel)
	}

	cost, ok := table.GetBuildCost(SolarCenter, 1)
	if !ok {
		t.Fatalf("solar_center level 1 missing")
	}
	want := Resources{Energy: 110, Water: 55, Biomass: 70}
	if cost != want {
		t.Fatalf("solar_center cost = %+v, want %+v", cost, want)
	}

	if _, ok := table.GetLevelData(SolarCenter, 4); ok {
		t.Fatalf("level above max must not resolve")
	}
	if _, ok := table.GetLevelData(SolarCenter, 0); ok {
		t.Fatalf("level 0 must not resolve")
	}
	if _, ok := table.GetLevelData("windmill", 1); ok {
		t.Fatalf("unknown type must not resolve")
	}
}

func TestNormalizeType(t *testing.T) {
	table := mustDefault(t)

	tests := []struct {
		in   string
		want BuildingType
		ok   bool
	}{
		{"solar_center", SolarCenter, true},
		{"  Bio_Garden ", BioGarden, true},
		{"centro_solar", SolarCenter, true},
		{"centro_comunitario", CommunityCenter, true},
		{"windmill", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := table.NormalizeType(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeType(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestEfficiencyClamp(t *testing.T) {
	table := mustDefault(t)

	tests := []struct {
		name   string
		totals Resources
		want   float64
	}{
		{"balanced", Resources{Energy: 500, Water: 500, Biomass: 500}, 100},
		{"mild imbalance", Resources{Energy: 120, Water: 100, Biomass: 100}, 95},
		{"floor", Resources{Energy: 1000, Water: 0, Biomass: 0}, 70},
		{"empty", Resources{}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := table.EfficiencyFor(tt.totals); got != tt.want {
				t.Fatalf("EfficiencyFor(%+v) = %v, want %v", tt.totals, got, tt.want)
			}
		})
	}
}

func TestMultipliers(t *testing.T) {
	table := mustDefault(t)

	got := table.Multipliers()
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 5 {
		t.Fatalf("Multipliers() = %v, want [1 2 5]", got)
	}
	if table.AllowedMultiplier(3) {
		t.Fatalf("multiplier 3 must not be allowed")
	}
	if s, _ := table.SurchargeFor(5); s != 25 {
		t.Fatalf("surcharge at 5 = %d, want 25", s)
	}
}

func TestInBounds(t *testing.T) {
	table := mustDefault(t)

	if !table.InBounds(0, 0) || !table.InBounds(4, 4) {
		t.Fatalf("corners must be in bounds")
	}
	if table.InBounds(5, 0) || table.InBounds(0, -1) {
		t.Fatalf("outside cells must be rejected")
	}
}

func TestWithLimitsRejectsMissingLevels(t *testing.T) {
	table := mustDefault(t)

	if _, err := table.WithLimits(5, 4); err == nil {
		t.Fatalf("max level 4 must fail without level 4 data")
	}

	bigger, err := table.WithLimits(7, 0)
	if err != nil {
		t.Fatalf("WithLimits: %v", err)
	}
	if bigger.GridSize != 7 || bigger.MaxLevel != 3 {
		t.Fatalf("got grid=%d max=%d", bigger.GridSize, bigger.MaxLevel)
	}
	if table.GridSize != 5 {
		t.Fatalf("WithLimits must not modify the receiver")
	}
}

func TestLoadFromFile(t *testing.T) {
	raw := `
grid_size: 3
max_level: 1
efficiency: {base: 100, penalty: 1, min: 50, max: 100}
multiplier_surcharge: {1: 0}
buildings:
  solar_center:
    1:
      production: {energy: 10}
      consumption: {water: 1}
      cost: {energy: 5}
`
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if table.GridSize != 3 {
		t.Fatalf("grid size = %d, want 3", table.GridSize)
	}
	if got, _ := table.GetBuildCost(SolarCenter, 1); got.Energy != 5 {
		t.Fatalf("cost = %+v", got)
	}
}

func TestParseRejectsInvalidTables(t *testing.T) {
	tests := map[string]string{
		"no multiplier 1": `
grid_size: 5
max_level: 1
efficiency: {base: 100, penalty: 0.5, min: 70, max: 115}
multiplier_surcharge: {2: 10}
buildings:
  solar_center:
    1: {cost: {energy: 1}}
`,
		"negative cost": `
grid_size: 5
max_level: 1
efficiency: {base: 100, penalty: 0.5, min: 70, max: 115}
multiplier_surcharge: {1: 0}
buildings:
  solar_center:
    1: {cost: {energy: -1}}
`,
		"dangling alias": `
grid_size: 5
max_level: 1
efficiency: {base: 100, penalty: 0.5, min: 70, max: 115}
multiplier_surcharge: {1: 0}
aliases: {foo: windmill}
buildings:
  solar_center:
    1: {cost: {energy: 1}}
`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(raw)); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestResourcesHelpers(t *testing.T) {
	r := Resources{Energy: 10, Water: 5, Biomass: 0}

	if !r.Covers(Resources{Energy: 10, Water: 5}) {
		t.Fatalf("equal amounts must be covered")
	}
	if r.Covers(Resources{Biomass: 1}) {
		t.Fatalf("missing biomass must not be covered")
	}
	if got := r.Sub(Resources{Energy: 20}).FloorZero(); got.Energy != 0 || got.Water != 5 {
		t.Fatalf("FloorZero = %+v", got)
	}
	if got := r.Remaining(Resources{Energy: 4, Water: 9, Biomass: 3}); got != (Resources{Water: 4, Biomass: 3}) {
		t.Fatalf("Remaining = %+v", got)
	}
}
