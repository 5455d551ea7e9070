// Package broadcast fans world events out to subscribers over NATS.
// Delivery is at-most-once by design: the event log is soft state and a
// missed message is superseded by the next push.
package broadcast

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/novacore/roomsync/internal/world"
)

// NatsBroadcaster implements world.Broadcaster on a NATS connection,
// optionally backed by an embedded server for single-process deployments.
type NatsBroadcaster struct {
	ns   *natsserver.Server // nil when connecting to an external broker
	conn *nats.Conn
	log  *zap.Logger
}

// Connect attaches to an external NATS broker.
func Connect(url string, log *zap.Logger) (*NatsBroadcaster, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	log.Info("connected to nats", zap.String("url", url))
	return &NatsBroadcaster{conn: conn, log: log}, nil
}

// StartEmbedded runs an in-process NATS server and connects to it.
func StartEmbedded(host string, port int, log *zap.Logger) (*NatsBroadcaster, error) {
	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   host,
		Port:   port,
		NoSigs: true, // the application owns signal handling
	})
	if err != nil {
		return nil, fmt.Errorf("embedded nats: %w", err)
	}
	ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded nats not ready for connections")
	}
	conn, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connect embedded nats: %w", err)
	}
	log.Info("embedded nats listening", zap.Stringer("addr", ns.Addr()))
	return &NatsBroadcaster{ns: ns, conn: conn, log: log}, nil
}

// Subject returns the per-room event subject.
func Subject(roomID string) string {
	return fmt.Sprintf("roomsync.rooms.%s.events", roomID)
}

// Broadcast publishes one event to the room's subject.
func (b *NatsBroadcaster) Broadcast(roomID string, event world.GameEvent) error {
	data, err := msgpack.Marshal(&event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	return b.conn.Publish(Subject(roomID), data)
}

// Subscribe delivers a room's events to handler until the returned
// unsubscribe function is called. Undecodable messages are dropped with a
// warning rather than stopping the subscription.
func (b *NatsBroadcaster) Subscribe(roomID string, handler func(world.GameEvent)) (func(), error) {
	sub, err := b.conn.Subscribe(Subject(roomID), func(msg *nats.Msg) {
		var event world.GameEvent
		if err := msgpack.Unmarshal(msg.Data, &event); err != nil {
			b.log.Warn("dropping undecodable event",
				zap.String("room", roomID), zap.Error(err))
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, err
	}
	return func() { sub.Unsubscribe() }, nil
}

// Close tears down the connection and, when embedded, the server.
func (b *NatsBroadcaster) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
	}
}
