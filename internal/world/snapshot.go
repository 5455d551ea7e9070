package world

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// ErrSnapshotNotFound is returned when a snapshot id resolves to nothing.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore persists opaque snapshot blobs. The backing technology is
// the caller's choice; implementations must be safe for concurrent use.
type SnapshotStore interface {
	Save(ctx context.Context, roomID, snapshotID string, blob []byte) error
	Load(ctx context.Context, snapshotID string) ([]byte, error)
}

// snapshotPayload is the serialized form of a room. The live representation
// uses maps; flattening them to ordered entry lists is the snapshot's
// defining responsibility, so the wire shape is explicit here rather than
// special-cased per field at encode time.
type snapshotPayload struct {
	RoomID    string        `msgpack:"room_id"`
	Version   uint64        `msgpack:"version"`
	Timestamp int64         `msgpack:"timestamp"`
	World     WorldState    `msgpack:"world"` // carries the event log
	Regions   []RegionState `msgpack:"regions"`
	Players   []PlayerState `msgpack:"players"`
	Entities  []EntityState `msgpack:"entities"`
}

// SnapshotManager serializes and restores point-in-time room views.
// Snapshots run concurrently with live updates and capture a best-effort,
// not transactionally consistent, view — acceptable for TTL-bound state.
type SnapshotManager struct {
	store *Store
	blobs SnapshotStore
	log   *zap.Logger
}

func NewSnapshotManager(store *Store, blobs SnapshotStore, log *zap.Logger) *SnapshotManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &SnapshotManager{store: store, blobs: blobs, log: log}
}

// SnapshotState captures a room and persists it, returning the snapshot id.
func (m *SnapshotManager) SnapshotState(ctx context.Context, roomID string) (string, error) {
	view, err := m.store.GameState(roomID)
	if err != nil {
		return "", err
	}

	payload := snapshotPayload{
		RoomID:    view.RoomID,
		Version:   view.Version,
		Timestamp: view.Timestamp,
		World:     view.World,
	}
	for _, id := range sortedKeys(view.World.Regions) {
		payload.Regions = append(payload.Regions, view.World.Regions[id])
	}
	for _, id := range sortedKeys(view.PlayerStates) {
		payload.Players = append(payload.Players, view.PlayerStates[id])
	}
	for _, id := range sortedKeys(view.EntityStates) {
		payload.Entities = append(payload.Entities, view.EntityStates[id])
	}

	encoded, err := msgpack.Marshal(&payload)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	blob, err := compress(encoded)
	if err != nil {
		return "", fmt.Errorf("compress snapshot: %w", err)
	}

	snapshotID := fmt.Sprintf("snapshot_%d", view.Timestamp)
	if err := m.blobs.Save(ctx, roomID, snapshotID, blob); err != nil {
		return "", fmt.Errorf("save snapshot %s: %w", snapshotID, err)
	}

	m.log.Info("snapshot saved",
		zap.String("room", roomID),
		zap.String("snapshot", snapshotID),
		zap.Int("players", len(payload.Players)),
		zap.Int("entities", len(payload.Entities)),
		zap.Int("bytes", len(blob)))
	return snapshotID, nil
}

// RestoreFromSnapshot rehydrates a room from a persisted snapshot,
// replacing any live state it holds. Restored records count as fresh
// writes: they are re-stamped with the server clock and get full TTLs.
func (m *SnapshotManager) RestoreFromSnapshot(ctx context.Context, roomID, snapshotID string) error {
	blob, err := m.blobs.Load(ctx, snapshotID)
	if err != nil {
		return fmt.Errorf("load snapshot %s: %w", snapshotID, err)
	}
	encoded, err := decompress(blob)
	if err != nil {
		return fmt.Errorf("decompress snapshot %s: %w", snapshotID, err)
	}
	var payload snapshotPayload
	if err := msgpack.Unmarshal(encoded, &payload); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", snapshotID, err)
	}

	m.store.restoreState(roomID, payload)
	m.log.Info("snapshot restored",
		zap.String("room", roomID),
		zap.String("snapshot", snapshotID),
		zap.Uint64("version", payload.Version))
	return nil
}

// restoreState rebuilds a room from snapshot payload. The keyed maps and
// region index are rehydrated from the flattened lists; the version counter
// continues past the snapshot's so change detection never moves backward.
func (s *Store) restoreState(roomID string, payload snapshotPayload) {
	now := s.now().UnixMilli()
	stateExpiry := now + s.opts.StateTTL.Milliseconds()
	indexExpiry := now + s.opts.IndexTTL.Milliseconds()
	eventExpiry := now + s.opts.EventTTL.Milliseconds()

	room := &roomState{
		players:     make(map[string]playerRecord, len(payload.Players)),
		entities:    make(map[string]entityRecord, len(payload.Entities)),
		events:      make(map[string]eventRecord, len(payload.World.Events)),
		playerIndex: make(map[string]memberSet),
		entityIndex: make(map[string]memberSet),
		regions:     make(map[string]RegionState, len(payload.Regions)),
		world:       payload.World,
		version:     payload.Version + 1,
		created:     now,
	}
	for _, rs := range payload.Regions {
		rs.Players = nil
		rs.Entities = nil
		room.regions[rs.ID] = rs
	}
	for _, p := range payload.Players {
		p.Timestamp = now
		room.players[p.PlayerID] = playerRecord{state: p, expiresAt: stateExpiry}
		refreshMembership(room.playerIndex, "", p.Region, p.PlayerID, indexExpiry)
	}
	for _, e := range payload.Entities {
		e.Timestamp = now
		room.entities[e.EntityID] = entityRecord{state: e, expiresAt: stateExpiry}
		refreshMembership(room.entityIndex, "", e.Region, e.EntityID, indexExpiry)
	}
	room.eventLog = make([]string, 0, len(payload.World.Events))
	for _, ev := range payload.World.Events {
		room.events[ev.ID] = eventRecord{event: ev, expiresAt: eventExpiry}
		room.eventLog = append(room.eventLog, ev.ID)
	}
	room.world.Events = nil
	room.world.Regions = nil

	s.mu.Lock()
	s.rooms[roomID] = room
	s.mu.Unlock()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(zr)
}

// MemorySnapshotStore is an in-process SnapshotStore for tests and
// single-node runs without Postgres.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{blobs: make(map[string][]byte)}
}

func (m *MemorySnapshotStore) Save(_ context.Context, _, snapshotID string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(blob))
	copy(cp, blob)
	m.blobs[snapshotID] = cp
	return nil
}

func (m *MemorySnapshotStore) Load(_ context.Context, snapshotID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[snapshotID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, nil
}
