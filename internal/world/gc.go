package world

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Collector periodically sweeps expired soft state. Sweeps race benignly
// with live writes: a fresh write missed by one sweep is caught by the
// next, and a record removed just before a read simply yields "absent".
type Collector struct {
	store     *Store
	interval  time.Duration
	olderThan time.Duration
	log       *zap.Logger
}

func NewCollector(store *Store, interval, olderThan time.Duration, log *zap.Logger) *Collector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if olderThan <= 0 {
		olderThan = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{store: store, interval: interval, olderThan: olderThan, log: log}
}

// Run sweeps every room on a fixed cadence until the context is canceled.
// Runs in the background so read/write latency stays O(1) on the hot path.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, roomID := range c.store.Rooms() {
				if removed := c.store.GarbageCollect(roomID, c.olderThan); removed > 0 {
					c.log.Debug("swept expired records",
						zap.String("room", roomID),
						zap.Int("removed", removed))
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// GarbageCollect removes records whose last-write timestamp predates
// now - olderThan, plus lapsed index markers and event records. Returns the
// number of records removed. Unknown rooms sweep nothing.
func (s *Store) GarbageCollect(roomID string, olderThan time.Duration) int {
	room, ok := s.room(roomID)
	if !ok {
		return 0
	}
	now := s.now().UnixMilli()
	cutoff := now - olderThan.Milliseconds()

	room.mu.Lock()
	defer room.mu.Unlock()

	removed := 0
	for id, rec := range room.players {
		if rec.state.Timestamp < cutoff {
			delete(room.players, id)
			removed++
		}
	}
	for id, rec := range room.entities {
		if rec.state.Timestamp < cutoff {
			delete(room.entities, id)
			removed++
		}
	}

	sweepIndex := func(index map[string]memberSet, alive func(string) bool) {
		for regionID, set := range index {
			for id, expiresAt := range set {
				if expiresAt <= now || !alive(id) {
					delete(set, id)
					removed++
				}
			}
			if len(set) == 0 {
				delete(index, regionID)
			}
		}
	}
	sweepIndex(room.playerIndex, func(id string) bool {
		_, ok := room.players[id]
		return ok
	})
	sweepIndex(room.entityIndex, func(id string) bool {
		_, ok := room.entities[id]
		return ok
	})

	for id, rec := range room.events {
		if rec.expiresAt <= now {
			delete(room.events, id)
			removed++
		}
	}
	if len(room.eventLog) > 0 {
		kept := room.eventLog[:0]
		for _, id := range room.eventLog {
			if _, ok := room.events[id]; ok {
				kept = append(kept, id)
			}
		}
		room.eventLog = kept
	}

	return removed
}
