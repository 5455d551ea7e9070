package region

import (
	"fmt"
	"testing"
)

func TestRegionFor(t *testing.T) {
	g := NewGrid(100)

	t.Run("deterministic cell ids", func(t *testing.T) {
		cases := []struct {
			x, y float64
			want string
		}{
			{0, 0, "region_0_0"},
			{99.9, 99.9, "region_0_0"},
			{100, 0, "region_1_0"},
			{150, 250, "region_1_2"},
			{999, 999, "region_9_9"},
		}
		for _, c := range cases {
			if got := g.RegionFor(c.x, c.y); got != c.want {
				t.Errorf("RegionFor(%v, %v) = %s, want %s", c.x, c.y, got, c.want)
			}
		}
	})

	t.Run("negative coordinates floor toward -inf", func(t *testing.T) {
		if got := g.RegionFor(-1, -1); got != "region_-1_-1" {
			t.Errorf("RegionFor(-1, -1) = %s, want region_-1_-1", got)
		}
		if got := g.RegionFor(-100, -0.5); got != "region_-1_-1" {
			t.Errorf("RegionFor(-100, -0.5) = %s, want region_-1_-1", got)
		}
	})

	t.Run("pure across repeated calls", func(t *testing.T) {
		first := g.RegionFor(123.4, 567.8)
		for i := 0; i < 10; i++ {
			if got := g.RegionFor(123.4, 567.8); got != first {
				t.Fatalf("RegionFor not deterministic: %s vs %s", got, first)
			}
		}
	})
}

func TestAdjacent(t *testing.T) {
	g := NewGrid(100)

	t.Run("exactly 8 neighbors excluding self", func(t *testing.T) {
		self := g.RegionFor(150, 250)
		neighbors := g.Adjacent(self)
		if len(neighbors) != 8 {
			t.Fatalf("expected 8 neighbors, got %d", len(neighbors))
		}
		seen := make(map[string]bool)
		for _, id := range neighbors {
			if id == self {
				t.Errorf("neighborhood includes the region itself: %s", id)
			}
			if seen[id] {
				t.Errorf("duplicate neighbor %s", id)
			}
			seen[id] = true
		}
	})

	t.Run("covers the moore neighborhood", func(t *testing.T) {
		neighbors := g.Adjacent("region_0_0")
		want := map[string]bool{
			"region_-1_-1": true, "region_0_-1": true, "region_1_-1": true,
			"region_-1_0": true, "region_1_0": true,
			"region_-1_1": true, "region_0_1": true, "region_1_1": true,
		}
		for _, id := range neighbors {
			if !want[id] {
				t.Errorf("unexpected neighbor %s", id)
			}
			delete(want, id)
		}
		for id := range want {
			t.Errorf("missing neighbor %s", id)
		}
	})

	t.Run("malformed id yields empty set", func(t *testing.T) {
		for _, id := range []string{"", "region_", "region_a_b", "cell_1_2", "region_1"} {
			if got := g.Adjacent(id); len(got) != 0 {
				t.Errorf("Adjacent(%q) = %v, want empty", id, got)
			}
		}
	})
}

func TestParseID(t *testing.T) {
	t.Run("roundtrip", func(t *testing.T) {
		for _, c := range [][2]int{{0, 0}, {3, 7}, {-2, 5}, {-10, -10}} {
			id := FormatID(c[0], c[1])
			cx, cy, ok := ParseID(id)
			if !ok || cx != c[0] || cy != c[1] {
				t.Errorf("ParseID(%s) = (%d, %d, %v), want (%d, %d, true)", id, cx, cy, ok, c[0], c[1])
			}
		}
	})

	t.Run("rejects malformed ids", func(t *testing.T) {
		for _, id := range []string{"region__", "region_1_x", "region_1.5_2", "grid_1_2"} {
			if _, _, ok := ParseID(id); ok {
				t.Errorf("ParseID(%q) accepted malformed id", id)
			}
		}
	})
}

func TestShards(t *testing.T) {
	g := NewGrid(100)

	t.Run("1000x1000 yields a 10x10 table", func(t *testing.T) {
		shards := g.Shards(1000, 1000)
		if len(shards) != 100 {
			t.Fatalf("expected 100 shards, got %d", len(shards))
		}
		ids := make(map[string]Bounds, len(shards))
		for _, s := range shards {
			ids[s.ID] = s.Bounds
		}
		for cy := 0; cy < 10; cy++ {
			for cx := 0; cx < 10; cx++ {
				id := fmt.Sprintf("region_%d_%d", cx, cy)
				b, ok := ids[id]
				if !ok {
					t.Fatalf("missing shard %s", id)
				}
				if b.MinX != float64(cx)*100 || b.MaxX != float64(cx+1)*100 {
					t.Errorf("shard %s has wrong x bounds: %+v", id, b)
				}
			}
		}
	})

	t.Run("partial edge cells are clipped", func(t *testing.T) {
		shards := g.Shards(250, 100)
		if len(shards) != 3 {
			t.Fatalf("expected 3 shards, got %d", len(shards))
		}
		last := shards[2]
		if last.ID != "region_2_0" || last.Bounds.MaxX != 250 {
			t.Errorf("edge shard = %+v, want region_2_0 clipped at 250", last)
		}
	})
}
