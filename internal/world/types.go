// Package world holds the per-room synchronized state: keyed player and
// entity records with TTLs, the region membership index, the event log,
// and the services composed on top of them (area-of-interest queries,
// snapshots, garbage collection).
//
// All state here is soft: records expire instead of being deleted, and a
// missing record is a normal answer, not an error.
package world

import "github.com/novacore/roomsync/internal/region"

// Vec3 is a position, rotation or velocity component.
type Vec3 struct {
	X float64 `msgpack:"x"`
	Y float64 `msgpack:"y"`
	Z float64 `msgpack:"z"`
}

// Payload is an opaque tagged blob the core stores and forwards but never
// interprets. Type discriminates game-specific schemas at the boundary.
type Payload struct {
	Type string `msgpack:"type"`
	Data []byte `msgpack:"data"`
}

// IsZero reports whether the payload carries nothing.
func (p Payload) IsZero() bool { return p.Type == "" && len(p.Data) == 0 }

// PlayerState is the authoritative record for one player in a room.
// Region always equals the grid cell of Position as of the last accepted
// write. Timestamp is server-stamped unix milliseconds and never decreases.
type PlayerState struct {
	PlayerID  string  `msgpack:"player_id"`
	Position  Vec3    `msgpack:"position"`
	Rotation  Vec3    `msgpack:"rotation"`
	Velocity  Vec3    `msgpack:"velocity"`
	Health    float64 `msgpack:"health"`
	Inventory Payload `msgpack:"inventory"`
	Region    string  `msgpack:"region"`
	Timestamp int64   `msgpack:"timestamp"`
}

// EntityState is the record for one non-player entity. Entities are
// server/owner-authoritative: writes never race with client prediction,
// so there is no acceptance policy on them.
type EntityState struct {
	EntityID  string  `msgpack:"entity_id"`
	Type      string  `msgpack:"type"`
	Position  Vec3    `msgpack:"position"`
	Rotation  Vec3    `msgpack:"rotation"`
	State     Payload `msgpack:"state"`
	OwnerID   string  `msgpack:"owner_id"`
	Region    string  `msgpack:"region"`
	Timestamp int64   `msgpack:"timestamp"`
}

// GameEvent is a non-positional world event.
type GameEvent struct {
	ID        string  `msgpack:"id"`
	Type      string  `msgpack:"type"`
	Data      Payload `msgpack:"data"`
	Timestamp int64   `msgpack:"timestamp"`
	Region    string  `msgpack:"region"`
}

// RegionState describes one precomputed grid cell. Static after room
// initialization except the membership lists, which are filled from the
// index on demand; AuthorityNode is a pass-through hook an external
// placement service may populate.
type RegionState struct {
	ID            string        `msgpack:"id"`
	Bounds        region.Bounds `msgpack:"bounds"`
	Entities      []string      `msgpack:"entities"`
	Players       []string      `msgpack:"players"`
	AuthorityNode string        `msgpack:"authority_node"`
}

// WorldState is the room-global, non-keyed portion of a GameState.
type WorldState struct {
	Time     int64                  `msgpack:"time"` // game clock, unix ms
	Weather  string                 `msgpack:"weather"`
	DayNight string                 `msgpack:"day_night"`
	Events   []GameEvent            `msgpack:"events"` // room log, oldest first
	Regions  map[string]RegionState `msgpack:"-"`
}

// GameState is a read-only view of a room assembled for callers and
// snapshots. The live representation stays in the store's keyed maps.
type GameState struct {
	RoomID       string                 `msgpack:"room_id"`
	World        WorldState             `msgpack:"world"`
	PlayerStates map[string]PlayerState `msgpack:"-"`
	EntityStates map[string]EntityState `msgpack:"-"`
	Version      uint64                 `msgpack:"version"`
	Timestamp    int64                  `msgpack:"timestamp"`
}

// PlayerUpdate is a field-level partial write. Nil fields persist the
// stored value; set fields overwrite it.
type PlayerUpdate struct {
	Position  *Vec3
	Rotation  *Vec3
	Velocity  *Vec3
	Health    *float64
	Inventory *Payload
}

// EntityUpdate is the entity counterpart of PlayerUpdate.
type EntityUpdate struct {
	Type     *string
	Position *Vec3
	Rotation *Vec3
	State    *Payload
	OwnerID  *string
}

// UpdateResult is the outcome of a player-state write. When Accepted is
// false the write was stale and Resolved carries the authoritative record
// so the caller can reconcile its local prediction.
type UpdateResult struct {
	Accepted bool
	Resolved PlayerState
}

// AreaOfInterest is everything near a player: their region plus the 8
// neighboring regions, filtered by true Euclidean distance.
type AreaOfInterest struct {
	Players  []PlayerState
	Entities []EntityState
}
