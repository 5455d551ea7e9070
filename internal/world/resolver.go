package world

import "time"

// Last-writer-wins conflict policy for player-state writes.
//
// Player position/velocity is a continuously overwritten stream, not
// append-only history: dropping a single stale update is harmless, so a
// cheap timestamp comparison is sufficient. Accepted records are always
// stamped with the server clock, never the client-supplied time, which
// keeps persisted state in server order and stops clients from claiming
// future timestamps.

// acceptTimestamp decides whether an incoming client timestamp wins against
// the stored record's stamp. The comparison input is clamped to
// now + maxSkew so a far-future client clock cannot lock out later
// legitimate writes while real time catches up.
func acceptTimestamp(stored, client int64, now time.Time, maxSkew time.Duration) bool {
	if ceil := now.Add(maxSkew).UnixMilli(); client > ceil {
		client = ceil
	}
	return client >= stored
}
