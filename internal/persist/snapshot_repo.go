package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/novacore/roomsync/internal/world"
)

// SnapshotRepo persists room snapshot blobs to Postgres. It implements
// world.SnapshotStore; storage failures surface as retryable errors and
// are never fatal to the room.
type SnapshotRepo struct {
	db *DB
}

func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// Save upserts a snapshot blob. Re-saving the same id (two snapshots of one
// room in the same millisecond) keeps the latest blob.
func (r *SnapshotRepo) Save(ctx context.Context, roomID, snapshotID string, blob []byte) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO snapshots (snapshot_id, room_id, payload)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (snapshot_id) DO UPDATE SET room_id = $2, payload = $3`,
		snapshotID, roomID, blob,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Load returns a snapshot blob, or world.ErrSnapshotNotFound.
func (r *SnapshotRepo) Load(ctx context.Context, snapshotID string) ([]byte, error) {
	var blob []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT payload FROM snapshots WHERE snapshot_id = $1`, snapshotID,
	).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, world.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return blob, nil
}

// LatestForRoom returns the newest snapshot id for a room, or
// world.ErrSnapshotNotFound if the room has never been snapshotted.
func (r *SnapshotRepo) LatestForRoom(ctx context.Context, roomID string) (string, error) {
	var snapshotID string
	err := r.db.Pool.QueryRow(ctx,
		`SELECT snapshot_id FROM snapshots WHERE room_id = $1 ORDER BY created_at DESC LIMIT 1`,
		roomID,
	).Scan(&snapshotID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", world.ErrSnapshotNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select latest snapshot: %w", err)
	}
	return snapshotID, nil
}

// Prune deletes all but the newest keep snapshots per room.
func (r *SnapshotRepo) Prune(ctx context.Context, roomID string, keep int) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM snapshots
		 WHERE room_id = $1 AND snapshot_id NOT IN (
			SELECT snapshot_id FROM snapshots
			WHERE room_id = $1 ORDER BY created_at DESC LIMIT $2
		 )`,
		roomID, keep,
	)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}
