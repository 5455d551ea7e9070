package world

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Broadcaster fans an event out to subscribers. Delivery is at-most-once:
// a missed broadcast is superseded by the next periodic push, not retried.
type Broadcaster interface {
	Broadcast(roomID string, event GameEvent) error
}

// EventLog records non-positional world events. Events are stored by id
// with a short TTL, appended to a room-scoped log, and broadcast
// fire-and-forget. The log never touches the spatial index.
type EventLog struct {
	store       *Store
	broadcaster Broadcaster
	log         *zap.Logger
}

func NewEventLog(store *Store, broadcaster Broadcaster, log *zap.Logger) *EventLog {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventLog{store: store, broadcaster: broadcaster, log: log}
}

// ProcessGameEvent stores, logs and broadcasts one event. An event arriving
// without an id gets one; the stored timestamp is always the server clock.
// Broadcast failures are logged and swallowed — soft state, at-most-once.
func (l *EventLog) ProcessGameEvent(roomID string, event GameEvent) (GameEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Timestamp = l.store.now().UnixMilli()

	if err := l.store.appendEvent(roomID, event); err != nil {
		return GameEvent{}, err
	}

	if l.broadcaster != nil {
		if err := l.broadcaster.Broadcast(roomID, event); err != nil {
			l.log.Warn("event broadcast failed",
				zap.String("room", roomID),
				zap.String("event", event.ID),
				zap.Error(err))
		}
	}
	return event, nil
}

// GetEvent returns a stored event, or ok=false once its TTL has lapsed.
func (l *EventLog) GetEvent(roomID, eventID string) (GameEvent, bool) {
	room, ok := l.store.room(roomID)
	if !ok {
		return GameEvent{}, false
	}
	now := l.store.now().UnixMilli()
	room.mu.RLock()
	defer room.mu.RUnlock()
	rec, ok := room.events[eventID]
	if !ok || rec.expiresAt <= now {
		return GameEvent{}, false
	}
	return rec.event, true
}

// RecentEvents returns up to limit unexpired events from the room log,
// oldest first.
func (l *EventLog) RecentEvents(roomID string, limit int) []GameEvent {
	room, ok := l.store.room(roomID)
	if !ok {
		return nil
	}
	now := l.store.now().UnixMilli()
	room.mu.RLock()
	defer room.mu.RUnlock()
	var out []GameEvent
	for i := len(room.eventLog) - 1; i >= 0 && len(out) < limit; i-- {
		rec, ok := room.events[room.eventLog[i]]
		if !ok || rec.expiresAt <= now {
			continue
		}
		out = append(out, rec.event)
	}
	// reverse to oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// appendEvent stores the event record and appends its id to the room log.
func (s *Store) appendEvent(roomID string, event GameEvent) error {
	room, ok := s.room(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	expiresAt := s.now().UnixMilli() + s.opts.EventTTL.Milliseconds()
	room.mu.Lock()
	room.events[event.ID] = eventRecord{event: event, expiresAt: expiresAt}
	room.eventLog = append(room.eventLog, event.ID)
	room.mu.Unlock()
	return nil
}
