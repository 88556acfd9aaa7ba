package world

import "github.com/orfeixyz/solara/internal/rules"

type GridCell struct {
	BuildingID int64              `json:"id"`
	Type       rules.BuildingType `json:"type"`
	Level      int                `json:"level"`
}

// Grid is indexed [y][x]; empty cells are nil.
type Grid [][]*GridCell

func EmptyGrid(size int) Grid {
	g := make(Grid, size)
	for y := range g {
		g[y] = make([]*GridCell, size)
	}
	return g
}

// BuildGrid projects the building list onto a size x size grid. Buildings
// outside the bounds are ignored.
func BuildGrid(size int, buildings []Building) Grid {
	g := EmptyGrid(size)
	for _, b := range buildings {
		if b.PosX < 0 || b.PosY < 0 || b.PosX >= size || b.PosY >= size {
			continue
		}
		g[b.PosY][b.PosX] = &GridCell{BuildingID: b.ID, Type: b.Type, Level: b.Level}
	}
	return g
}

// Cell returns the cell at (x, y), or nil when empty or out of range.
func (g Grid) Cell(x, y int) *GridCell {
	if y < 0 || y >= len(g) || x < 0 || x >= len(g[y]) {
		return nil
	}
	return g[y][x]
}

// Occupied returns the number of non-empty cells.
func (g Grid) Occupied() int {
	n := 0
	for _, row := range g {
		for _, c := range row {
			if c != nil {
				n++
			}
		}
	}
	return n
}

// BuildingAt finds the building at (x, y) in a building list.
func BuildingAt(buildings []Building, x, y int) (Building, bool) {
	for _, b := range buildings {
		if b.PosX == x && b.PosY == y {
			return b, true
		}
	}
	return Building{}, false
}
