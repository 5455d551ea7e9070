package world

import (
	"math"
	"testing"
	"time"
)

func TestGetAreaOfInterest(t *testing.T) {
	setup := func() (*Store, *AOIService, *fakeClock) {
		s, clock := newTestStore(150)
		s.InitializeState("room1", 1500, 1500)
		return s, NewAOIService(s), clock
	}

	place := func(t *testing.T, s *Store, clock *fakeClock, playerID string, x, y float64) {
		t.Helper()
		res, err := s.UpdatePlayerState("room1", playerID, PlayerUpdate{Position: vec(x, y, 0)}, clock.Now().UnixMilli())
		if err != nil || !res.Accepted {
			t.Fatalf("place %s: %+v %v", playerID, res, err)
		}
	}

	t.Run("includes nearby players and excludes self", func(t *testing.T) {
		s, aoi, clock := setup()
		place(t, s, clock, "p1", 100, 100)
		place(t, s, clock, "p2", 105, 105)

		got := aoi.GetAreaOfInterest("room1", "p1", 150)
		if len(got.Players) != 1 || got.Players[0].PlayerID != "p2" {
			t.Fatalf("expected only p2, got %+v", got.Players)
		}
		for _, p := range got.Players {
			if p.PlayerID == "p1" {
				t.Error("result includes the querying player")
			}
		}
	})

	t.Run("distance check is the authoritative boundary", func(t *testing.T) {
		s, aoi, clock := setup()
		place(t, s, clock, "p1", 100, 100)
		place(t, s, clock, "p2", 105, 105) // distance ≈ 7.07

		if got := aoi.GetAreaOfInterest("room1", "p1", 5); len(got.Players) != 0 {
			t.Errorf("p2 at distance 7.07 returned for radius 5: %+v", got.Players)
		}
	})

	t.Run("no false positives beyond the radius", func(t *testing.T) {
		s, aoi, clock := setup()
		place(t, s, clock, "p1", 750, 750)
		place(t, s, clock, "near", 800, 750)
		place(t, s, clock, "far", 1400, 1400)

		got := aoi.GetAreaOfInterest("room1", "p1", 150)
		self, _ := s.GetPlayerState("room1", "p1")
		for _, p := range got.Players {
			dx, dy := p.Position.X-self.Position.X, p.Position.Y-self.Position.Y
			if math.Sqrt(dx*dx+dy*dy) > 150 {
				t.Errorf("player %s beyond radius returned", p.PlayerID)
			}
		}
		if len(got.Players) != 1 || got.Players[0].PlayerID != "near" {
			t.Errorf("expected only near, got %+v", got.Players)
		}
	})

	t.Run("candidates come from neighboring regions too", func(t *testing.T) {
		s, aoi, clock := setup()
		place(t, s, clock, "p1", 140, 100)  // region_0_0 with cell size 150
		place(t, s, clock, "p2", 160, 100)  // region_1_0, distance 20
		place(t, s, clock, "p3", 100, 160)  // region_0_1, distance ≈ 72
		place(t, s, clock, "p4", 160, 160)  // region_1_1 diagonal

		got := aoi.GetAreaOfInterest("room1", "p1", 150)
		found := make(map[string]bool)
		for _, p := range got.Players {
			found[p.PlayerID] = true
		}
		for _, want := range []string{"p2", "p3", "p4"} {
			if !found[want] {
				t.Errorf("missing in-range neighbor %s", want)
			}
		}
	})

	t.Run("entities are filtered the same way", func(t *testing.T) {
		s, aoi, clock := setup()
		place(t, s, clock, "p1", 100, 100)
		typ := "chest"
		s.UpdateEntityState("room1", "e1", EntityUpdate{Type: &typ, Position: vec(120, 100, 0)})
		s.UpdateEntityState("room1", "e2", EntityUpdate{Type: &typ, Position: vec(1300, 1300, 0)})

		got := aoi.GetAreaOfInterest("room1", "p1", 150)
		if len(got.Entities) != 1 || got.Entities[0].EntityID != "e1" {
			t.Errorf("expected only e1, got %+v", got.Entities)
		}
	})

	t.Run("absent querying player yields empty sets", func(t *testing.T) {
		_, aoi, _ := setup()
		got := aoi.GetAreaOfInterest("room1", "ghost", 150)
		if len(got.Players) != 0 || len(got.Entities) != 0 {
			t.Errorf("expected empty result, got %+v", got)
		}
	})

	t.Run("expired querying player yields empty sets", func(t *testing.T) {
		s, aoi, clock := setup()
		place(t, s, clock, "p1", 100, 100)
		clock.Advance(2 * time.Minute)
		got := aoi.GetAreaOfInterest("room1", "p1", 150)
		if len(got.Players) != 0 || len(got.Entities) != 0 {
			t.Errorf("expected empty result for expired player, got %+v", got)
		}
	})

	t.Run("zero radius falls back to the default", func(t *testing.T) {
		s, aoi, clock := setup()
		place(t, s, clock, "p1", 100, 100)
		place(t, s, clock, "p2", 100+DefaultAOIRadius-1, 100)

		got := aoi.GetAreaOfInterest("room1", "p1", 0)
		if len(got.Players) != 1 {
			t.Errorf("default radius did not pick up p2: %+v", got.Players)
		}
	})
}
