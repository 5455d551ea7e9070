// Package region partitions a 2D world into fixed-size square cells.
// Cell ids are derived from positions alone, so any component can name a
// region without a lookup. The grid is conceptually infinite: ids with
// negative coordinates are valid, and the precomputed shard table only
// backs descriptive statistics, never addressing.
package region

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Bounds is an axis-aligned rectangle in world coordinates.
type Bounds struct {
	MinX float64 `msgpack:"min_x"`
	MinY float64 `msgpack:"min_y"`
	MaxX float64 `msgpack:"max_x"`
	MaxY float64 `msgpack:"max_y"`
}

// Shard describes one precomputed grid cell.
type Shard struct {
	ID     string
	Bounds Bounds
}

// Grid is a fixed cell-size partitioning scheme. The zero value is not
// usable; construct with NewGrid.
type Grid struct {
	size float64
}

func NewGrid(cellSize float64) Grid {
	return Grid{size: cellSize}
}

// Size returns the cell edge length.
func (g Grid) Size() float64 { return g.size }

// RegionFor returns the id of the cell containing (x, y).
// Pure and deterministic; negative coordinates floor toward -inf.
func (g Grid) RegionFor(x, y float64) string {
	cx := int(math.Floor(x / g.size))
	cy := int(math.Floor(y / g.size))
	return FormatID(cx, cy)
}

// Adjacent returns the 8-cell Moore neighborhood of a region id, excluding
// the region itself. Returned ids may reference unpopulated cells; callers
// treat a missing region as empty. A malformed id yields an empty set so
// queries degrade to "nothing nearby" instead of failing.
func (g Grid) Adjacent(id string) []string {
	cx, cy, ok := ParseID(id)
	if !ok {
		return nil
	}
	out := make([]string, 0, 8)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			out = append(out, FormatID(cx+dx, cy+dy))
		}
	}
	return out
}

// Shards partitions [0,width]x[0,height] into the full cell table.
// Partial cells at the far edges are included with clipped bounds.
func (g Grid) Shards(width, height float64) []Shard {
	cols := int(math.Ceil(width / g.size))
	rows := int(math.Ceil(height / g.size))
	shards := make([]Shard, 0, cols*rows)
	for cy := 0; cy < rows; cy++ {
		for cx := 0; cx < cols; cx++ {
			shards = append(shards, Shard{
				ID: FormatID(cx, cy),
				Bounds: Bounds{
					MinX: float64(cx) * g.size,
					MinY: float64(cy) * g.size,
					MaxX: math.Min(float64(cx+1)*g.size, width),
					MaxY: math.Min(float64(cy+1)*g.size, height),
				},
			})
		}
	}
	return shards
}

// FormatID builds a region id from cell coordinates.
func FormatID(cx, cy int) string {
	return fmt.Sprintf("region_%d_%d", cx, cy)
}

// ParseID decodes a region id back to cell coordinates.
// Returns ok=false for anything that did not come out of FormatID.
func ParseID(id string) (cx, cy int, ok bool) {
	rest, found := strings.CutPrefix(id, "region_")
	if !found {
		return 0, 0, false
	}
	sep := strings.LastIndexByte(rest, '_')
	if sep < 0 {
		return 0, 0, false
	}
	cx, err := strconv.Atoi(rest[:sep])
	if err != nil {
		return 0, 0, false
	}
	cy, err = strconv.Atoi(rest[sep+1:])
	if err != nil {
		return 0, 0, false
	}
	return cx, cy, true
}
