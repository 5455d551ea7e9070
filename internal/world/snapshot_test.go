package world

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSnapshotRoundtrip(t *testing.T) {
	ctx := context.Background()

	setup := func() (*Store, *SnapshotManager, *fakeClock) {
		s, clock := newTestStore(100)
		s.InitializeState("room1", 1000, 1000)
		return s, NewSnapshotManager(s, NewMemorySnapshotStore(), zap.NewNop()), clock
	}

	t.Run("snapshot captures and restore rehydrates", func(t *testing.T) {
		s, m, clock := setup()
		health := 42.5
		s.UpdatePlayerState("room1", "p1", PlayerUpdate{Position: vec(150, 250, 0), Health: &health}, clock.Now().UnixMilli())
		typ := "chest"
		payload := Payload{Type: "loot/v1", Data: []byte("gold")}
		s.UpdateEntityState("room1", "e1", EntityUpdate{Type: &typ, Position: vec(500, 500, 0), State: &payload})

		snapshotID, err := m.SnapshotState(ctx, "room1")
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if !strings.HasPrefix(snapshotID, "snapshot_") {
			t.Errorf("snapshot id %q missing prefix", snapshotID)
		}

		// Diverge the live state, then roll back.
		clock.Advance(time.Second)
		s.UpdatePlayerState("room1", "p1", PlayerUpdate{Position: vec(999, 999, 0)}, clock.Now().UnixMilli())
		if err := m.RestoreFromSnapshot(ctx, "room1", snapshotID); err != nil {
			t.Fatalf("restore: %v", err)
		}

		p, ok := s.GetPlayerState("room1", "p1")
		if !ok {
			t.Fatal("player missing after restore")
		}
		if p.Position.X != 150 || p.Health != 42.5 || p.Region != "region_1_2" {
			t.Errorf("restored player = %+v", p)
		}
		e, ok := s.GetEntityState("room1", "e1")
		if !ok || e.State.Type != "loot/v1" || string(e.State.Data) != "gold" {
			t.Errorf("restored entity = %+v, ok=%v", e, ok)
		}
		// The index is rebuilt, not just the records.
		if got := s.GetPlayersInRegion("room1", "region_1_2"); len(got) != 1 {
			t.Errorf("region index not rehydrated: %+v", got)
		}
	})

	t.Run("version continues past the snapshot", func(t *testing.T) {
		s, m, clock := setup()
		s.UpdatePlayerState("room1", "p1", PlayerUpdate{Position: vec(1, 1, 0)}, clock.Now().UnixMilli())
		before, _ := s.Version("room1")

		snapshotID, _ := m.SnapshotState(ctx, "room1")
		if err := m.RestoreFromSnapshot(ctx, "room1", snapshotID); err != nil {
			t.Fatalf("restore: %v", err)
		}
		after, _ := s.Version("room1")
		if after <= before {
			t.Errorf("version moved backward: %d then %d", before, after)
		}
	})

	t.Run("restored records count as fresh writes", func(t *testing.T) {
		s, m, clock := setup()
		s.UpdatePlayerState("room1", "p1", PlayerUpdate{Position: vec(1, 1, 0)}, clock.Now().UnixMilli())
		snapshotID, _ := m.SnapshotState(ctx, "room1")

		clock.Advance(59 * time.Second)
		if err := m.RestoreFromSnapshot(ctx, "room1", snapshotID); err != nil {
			t.Fatalf("restore: %v", err)
		}
		clock.Advance(30 * time.Second)
		// 89s since the original write, 30s since restore: still live.
		if _, ok := s.GetPlayerState("room1", "p1"); !ok {
			t.Error("restored record expired against its pre-snapshot clock")
		}
	})

	t.Run("snapshotting tolerates concurrent writes", func(t *testing.T) {
		s, m, clock := setup()
		stop := make(chan struct{})
		go func() {
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
					s.UpdatePlayerState("room1", "p1", PlayerUpdate{Position: vec(float64(i%900), 10, 0)}, clock.Now().UnixMilli())
				}
			}
		}()
		for i := 0; i < 20; i++ {
			if _, err := m.SnapshotState(ctx, "room1"); err != nil {
				t.Fatalf("snapshot under load: %v", err)
			}
		}
		close(stop)
	})

	t.Run("unknown snapshot id", func(t *testing.T) {
		_, m, _ := setup()
		err := m.RestoreFromSnapshot(ctx, "room1", "snapshot_0")
		if !errors.Is(err, ErrSnapshotNotFound) {
			t.Errorf("expected ErrSnapshotNotFound, got %v", err)
		}
	})

	t.Run("unknown room cannot snapshot", func(t *testing.T) {
		_, m, _ := setup()
		if _, err := m.SnapshotState(ctx, "ghost"); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("expected ErrRoomNotFound, got %v", err)
		}
	})
}
