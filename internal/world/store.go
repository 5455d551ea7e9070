package world

import (
	"errors"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/novacore/roomsync/internal/region"
	"go.uber.org/zap"
)

var (
	// ErrRoomNotFound is returned for operations against a room that was
	// never initialized. Absent records inside a known room are not errors.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomExists is returned when a room is initialized twice.
	ErrRoomExists = errors.New("room already initialized")
)

// Number of per-room lock stripes serializing read-modify-write sequences.
// Writes to the same key always hit the same stripe; writes to different
// keys almost never contend.
const numStripes = 64

// Options tunes record lifetimes and the conflict policy.
type Options struct {
	StateTTL     time.Duration // player/entity record lifetime
	IndexTTL     time.Duration // region membership marker lifetime
	EventTTL     time.Duration // event record lifetime
	MaxClockSkew time.Duration // accepted client timestamps are clamped to now + skew
}

func (o *Options) fillDefaults() {
	if o.StateTTL <= 0 {
		o.StateTTL = 60 * time.Second
	}
	if o.IndexTTL <= 0 {
		o.IndexTTL = 60 * time.Second
	}
	if o.EventTTL <= 0 {
		o.EventTTL = 10 * time.Second
	}
	if o.MaxClockSkew <= 0 {
		o.MaxClockSkew = 5 * time.Second
	}
}

type playerRecord struct {
	state     PlayerState
	expiresAt int64 // unix ms
}

type entityRecord struct {
	state     EntityState
	expiresAt int64
}

type eventRecord struct {
	event     GameEvent
	expiresAt int64
}

// memberSet maps a member id to the expiry (unix ms) of its membership
// marker. Markers are refreshed on every accepted write.
type memberSet map[string]int64

type roomState struct {
	mu       sync.RWMutex
	players  map[string]playerRecord
	entities map[string]entityRecord
	events   map[string]eventRecord
	eventLog []string // event ids, oldest first

	playerIndex map[string]memberSet // region id → player ids
	entityIndex map[string]memberSet // region id → entity ids

	world   WorldState
	regions map[string]RegionState // static shard table
	version uint64
	created int64

	stripes [numStripes]sync.Mutex
}

func (r *roomState) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &r.stripes[h.Sum32()%numStripes]
}

// Store is the keyed soft-state store shared by all rooms in this process.
// Each mutating call is atomic per (room, key); aggregate reads may observe
// a slightly stale view, which the contract allows.
type Store struct {
	grid region.Grid
	opts Options
	log  *zap.Logger
	now  func() time.Time

	mu    sync.RWMutex
	rooms map[string]*roomState
}

func NewStore(grid region.Grid, opts Options, log *zap.Logger) *Store {
	opts.fillDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		grid:  grid,
		opts:  opts,
		log:   log,
		now:   time.Now,
		rooms: make(map[string]*roomState),
	}
}

// Grid returns the partitioning scheme the store indexes by.
func (s *Store) Grid() region.Grid { return s.grid }

// InitializeState creates a room and precomputes its full region table.
// The table backs descriptive statistics only; addressing always derives
// region ids from positions.
func (s *Store) InitializeState(roomID string, width, height float64) (GameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; ok {
		return GameState{}, ErrRoomExists
	}

	now := s.now()
	regions := make(map[string]RegionState)
	for _, shard := range s.grid.Shards(width, height) {
		regions[shard.ID] = RegionState{ID: shard.ID, Bounds: shard.Bounds}
	}

	room := &roomState{
		players:     make(map[string]playerRecord),
		entities:    make(map[string]entityRecord),
		events:      make(map[string]eventRecord),
		playerIndex: make(map[string]memberSet),
		entityIndex: make(map[string]memberSet),
		regions:     regions,
		created:     now.UnixMilli(),
		world: WorldState{
			Time:     now.UnixMilli(),
			Weather:  WeatherClear,
			DayNight: dayNightFor(now),
		},
	}
	s.rooms[roomID] = room

	s.log.Info("room initialized",
		zap.String("room", roomID),
		zap.Float64("width", width),
		zap.Float64("height", height),
		zap.Int("regions", len(regions)))

	return s.viewLocked(roomID, room), nil
}

func (s *Store) room(roomID string) (*roomState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	return room, ok
}

// Rooms returns the ids of all initialized rooms.
func (s *Store) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UpdatePlayerState merges a partial update into the stored player record,
// subject to the last-writer-wins acceptance rule. On acceptance the record
// is stamped with the server clock, the region recomputed from the merged
// position, and both the record and its membership marker get fresh TTLs.
// A rejected update leaves the store untouched and returns the authoritative
// record for client-side reconciliation.
func (s *Store) UpdatePlayerState(roomID, playerID string, upd PlayerUpdate, clientTimestamp int64) (UpdateResult, error) {
	room, ok := s.room(roomID)
	if !ok {
		return UpdateResult{}, ErrRoomNotFound
	}

	lock := room.stripe(playerID)
	lock.Lock()
	defer lock.Unlock()

	now := s.now()
	nowMs := now.UnixMilli()

	room.mu.RLock()
	rec, exists := room.players[playerID]
	room.mu.RUnlock()
	if exists && rec.expiresAt <= nowMs {
		// TTL lapsed; the record is absent, not stale.
		exists = false
	}

	if exists && !acceptTimestamp(rec.state.Timestamp, clientTimestamp, now, s.opts.MaxClockSkew) {
		return UpdateResult{Accepted: false, Resolved: rec.state}, nil
	}

	merged := rec.state
	if !exists {
		merged = PlayerState{}
	}
	merged.PlayerID = playerID
	if upd.Position != nil {
		merged.Position = *upd.Position
		merged.Region = s.grid.RegionFor(upd.Position.X, upd.Position.Y)
	} else if merged.Region == "" {
		merged.Region = s.grid.RegionFor(merged.Position.X, merged.Position.Y)
	}
	if upd.Rotation != nil {
		merged.Rotation = *upd.Rotation
	}
	if upd.Velocity != nil {
		merged.Velocity = *upd.Velocity
	}
	if upd.Health != nil {
		merged.Health = *upd.Health
	}
	if upd.Inventory != nil {
		merged.Inventory = *upd.Inventory
	}
	merged.Timestamp = nowMs

	room.mu.Lock()
	oldRegion := ""
	if exists {
		oldRegion = rec.state.Region
	}
	room.players[playerID] = playerRecord{state: merged, expiresAt: nowMs + s.opts.StateTTL.Milliseconds()}
	refreshMembership(room.playerIndex, oldRegion, merged.Region, playerID, nowMs+s.opts.IndexTTL.Milliseconds())
	room.version++
	room.mu.Unlock()

	return UpdateResult{Accepted: true, Resolved: merged}, nil
}

// UpdateEntityState merges a partial update into an entity record. Entities
// are server/owner-authoritative, so the write is always accepted.
func (s *Store) UpdateEntityState(roomID, entityID string, upd EntityUpdate) (EntityState, error) {
	room, ok := s.room(roomID)
	if !ok {
		return EntityState{}, ErrRoomNotFound
	}

	lock := room.stripe(entityID)
	lock.Lock()
	defer lock.Unlock()

	now := s.now().UnixMilli()

	room.mu.RLock()
	rec, exists := room.entities[entityID]
	room.mu.RUnlock()
	if exists && rec.expiresAt <= now {
		exists = false
	}

	merged := rec.state
	if !exists {
		merged = EntityState{}
	}
	merged.EntityID = entityID
	if upd.Type != nil {
		merged.Type = *upd.Type
	}
	if upd.Position != nil {
		merged.Position = *upd.Position
		merged.Region = s.grid.RegionFor(upd.Position.X, upd.Position.Y)
	} else if merged.Region == "" {
		merged.Region = s.grid.RegionFor(merged.Position.X, merged.Position.Y)
	}
	if upd.Rotation != nil {
		merged.Rotation = *upd.Rotation
	}
	if upd.State != nil {
		merged.State = *upd.State
	}
	if upd.OwnerID != nil {
		merged.OwnerID = *upd.OwnerID
	}
	merged.Timestamp = now

	room.mu.Lock()
	oldRegion := ""
	if exists {
		oldRegion = rec.state.Region
	}
	room.entities[entityID] = entityRecord{state: merged, expiresAt: now + s.opts.StateTTL.Milliseconds()}
	refreshMembership(room.entityIndex, oldRegion, merged.Region, entityID, now+s.opts.IndexTTL.Milliseconds())
	room.version++
	room.mu.Unlock()

	return merged, nil
}

// refreshMembership moves a member between region sets and extends its
// marker TTL. Empty sets are dropped so sparse worlds stay sparse.
func refreshMembership(index map[string]memberSet, oldRegion, newRegion, id string, expiresAt int64) {
	if oldRegion != "" && oldRegion != newRegion {
		if set := index[oldRegion]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(index, oldRegion)
			}
		}
	}
	set := index[newRegion]
	if set == nil {
		set = make(memberSet)
		index[newRegion] = set
	}
	set[id] = expiresAt
}

// GetPlayerState returns a player record, or ok=false if it is absent or
// its TTL has lapsed.
func (s *Store) GetPlayerState(roomID, playerID string) (PlayerState, bool) {
	room, ok := s.room(roomID)
	if !ok {
		return PlayerState{}, false
	}
	now := s.now().UnixMilli()
	room.mu.RLock()
	defer room.mu.RUnlock()
	rec, ok := room.players[playerID]
	if !ok || rec.expiresAt <= now {
		return PlayerState{}, false
	}
	return rec.state, true
}

// GetEntityState returns an entity record, or ok=false if absent/expired.
func (s *Store) GetEntityState(roomID, entityID string) (EntityState, bool) {
	room, ok := s.room(roomID)
	if !ok {
		return EntityState{}, false
	}
	now := s.now().UnixMilli()
	room.mu.RLock()
	defer room.mu.RUnlock()
	rec, ok := room.entities[entityID]
	if !ok || rec.expiresAt <= now {
		return EntityState{}, false
	}
	return rec.state, true
}

// GetPlayersInRegion returns the live player records indexed under a
// region. Unknown or unpopulated regions yield an empty slice.
func (s *Store) GetPlayersInRegion(roomID, regionID string) []PlayerState {
	room, ok := s.room(roomID)
	if !ok {
		return nil
	}
	now := s.now().UnixMilli()
	room.mu.RLock()
	defer room.mu.RUnlock()
	set := room.playerIndex[regionID]
	result := make([]PlayerState, 0, len(set))
	for id, expiresAt := range set {
		if expiresAt <= now {
			continue
		}
		rec, ok := room.players[id]
		if !ok || rec.expiresAt <= now {
			continue
		}
		result = append(result, rec.state)
	}
	return result
}

// GetEntitiesInRegion is the entity counterpart of GetPlayersInRegion.
func (s *Store) GetEntitiesInRegion(roomID, regionID string) []EntityState {
	room, ok := s.room(roomID)
	if !ok {
		return nil
	}
	now := s.now().UnixMilli()
	room.mu.RLock()
	defer room.mu.RUnlock()
	set := room.entityIndex[regionID]
	result := make([]EntityState, 0, len(set))
	for id, expiresAt := range set {
		if expiresAt <= now {
			continue
		}
		rec, ok := room.entities[id]
		if !ok || rec.expiresAt <= now {
			continue
		}
		result = append(result, rec.state)
	}
	return result
}

// RegionStat is a per-region live member count.
type RegionStat struct {
	Players  int
	Entities int
}

// RegionStats counts unexpired members per region across the whole room.
func (s *Store) RegionStats(roomID string) map[string]RegionStat {
	room, ok := s.room(roomID)
	if !ok {
		return nil
	}
	now := s.now().UnixMilli()
	room.mu.RLock()
	defer room.mu.RUnlock()
	stats := make(map[string]RegionStat)
	for regionID, set := range room.playerIndex {
		st := stats[regionID]
		for _, expiresAt := range set {
			if expiresAt > now {
				st.Players++
			}
		}
		stats[regionID] = st
	}
	for regionID, set := range room.entityIndex {
		st := stats[regionID]
		for _, expiresAt := range set {
			if expiresAt > now {
				st.Entities++
			}
		}
		stats[regionID] = st
	}
	return stats
}

// Version returns the room's write counter, for cheap change detection.
func (s *Store) Version(roomID string) (uint64, error) {
	room, ok := s.room(roomID)
	if !ok {
		return 0, ErrRoomNotFound
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return room.version, nil
}

// --- World clock & weather ---

// Weather values carried in WorldState. The core passes them through; game
// rules around them live with the caller.
const (
	WeatherClear = "clear"
	WeatherRain  = "rain"
	WeatherSnow  = "snow"
)

func dayNightFor(t time.Time) string {
	h := t.UTC().Hour()
	if h >= 6 && h < 18 {
		return "day"
	}
	return "night"
}

// AdvanceClock moves the room's world time forward and recomputes the
// day/night phase. Called once per server tick.
func (s *Store) AdvanceClock(roomID string) error {
	room, ok := s.room(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	now := s.now()
	room.mu.Lock()
	room.world.Time = now.UnixMilli()
	room.world.DayNight = dayNightFor(now)
	room.mu.Unlock()
	return nil
}

// RandomizeWeather re-rolls the room weather on a weighted distribution,
// keeping clear weather dominant.
func (s *Store) RandomizeWeather(roomID string) error {
	room, ok := s.room(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	var w string
	switch roll := rand.Intn(10); {
	case roll < 6:
		w = WeatherClear
	case roll < 8:
		w = WeatherSnow
	default:
		w = WeatherRain
	}
	room.mu.Lock()
	room.world.Weather = w
	room.mu.Unlock()
	return nil
}

// --- Aggregate view ---

// GameState assembles a point-in-time view of a room: all live records,
// the world state, and the region table with membership lists filled from
// the index. Best-effort under concurrent writes, per the soft-state
// contract.
func (s *Store) GameState(roomID string) (GameState, error) {
	room, ok := s.room(roomID)
	if !ok {
		return GameState{}, ErrRoomNotFound
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return s.viewLocked(roomID, room), nil
}

// viewLocked builds the GameState view. Caller holds room.mu (either mode)
// or has exclusive access during initialization.
func (s *Store) viewLocked(roomID string, room *roomState) GameState {
	now := s.now().UnixMilli()

	players := make(map[string]PlayerState, len(room.players))
	for id, rec := range room.players {
		if rec.expiresAt > now {
			players[id] = rec.state
		}
	}
	entities := make(map[string]EntityState, len(room.entities))
	for id, rec := range room.entities {
		if rec.expiresAt > now {
			entities[id] = rec.state
		}
	}

	regions := make(map[string]RegionState, len(room.regions))
	for id, rs := range room.regions {
		regions[id] = rs
	}
	fillMembership := func(index map[string]memberSet, assign func(*RegionState, []string)) {
		for regionID, set := range index {
			members := make([]string, 0, len(set))
			for id, expiresAt := range set {
				if expiresAt > now {
					members = append(members, id)
				}
			}
			if len(members) == 0 {
				continue
			}
			sort.Strings(members)
			rs, ok := regions[regionID]
			if !ok {
				// Populated region outside the precomputed table (the grid
				// is infinite); synthesize an entry for the view.
				rs = RegionState{ID: regionID}
			}
			assign(&rs, members)
			regions[regionID] = rs
		}
	}
	fillMembership(room.playerIndex, func(rs *RegionState, m []string) { rs.Players = m })
	fillMembership(room.entityIndex, func(rs *RegionState, m []string) { rs.Entities = m })

	world := room.world
	world.Events = nil
	for _, eventID := range room.eventLog {
		if rec, ok := room.events[eventID]; ok && rec.expiresAt > now {
			world.Events = append(world.Events, rec.event)
		}
	}
	world.Regions = regions

	return GameState{
		RoomID:       roomID,
		World:        world,
		PlayerStates: players,
		EntityStates: entities,
		Version:      room.version,
		Timestamp:    now,
	}
}
