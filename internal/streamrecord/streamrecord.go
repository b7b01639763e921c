// Package streamrecord persists and queries relay stream records in
// Postgres: the external collaborator that records whether a room has an
// active stream (spec.md §6), grounded on
// the teacher's internal/database Repository.
package streamrecord

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/therealutkarshpriyadarshi/transcode/internal/cache"
	"github.com/therealutkarshpriyadarshi/transcode/internal/database"
)

// Record is one row of the stream_records table: one room's current or
// most recent RTMP relay session.
type Record struct {
	ID        string
	RoomID    string
	UserID    string
	Status    string // active|stopped
	StartedAt time.Time
	EndedAt   *time.Time
}

// Repository provides Postgres-backed stream record persistence.
type Repository struct {
	db *database.DB
}

// NewRepository wraps an existing database connection pool.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// CreateStream inserts a new active stream record for a room.
func (r *Repository) CreateStream(ctx context.Context, roomID, userID string) (*Record, error) {
	rec := &Record{
		ID:     uuid.New().String(),
		RoomID: roomID,
		UserID: userID,
		Status: "active",
	}

	query := `
		INSERT INTO stream_records (id, room_id, user_id, status)
		VALUES ($1, $2, $3, 'active')
		RETURNING started_at
	`
	err := r.db.Pool.QueryRow(ctx, query, rec.ID, rec.RoomID, rec.UserID).Scan(&rec.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream record: %w", err)
	}
	return rec, nil
}

// FindActiveByRoom reports whether a room currently has an active stream
// record. This is the only method session.StreamRecords requires.
func (r *Repository) FindActiveByRoom(ctx context.Context, roomID string) (bool, error) {
	var count int
	query := `SELECT count(*) FROM stream_records WHERE room_id = $1 AND status = 'active'`
	if err := r.db.Pool.QueryRow(ctx, query, roomID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to query active stream record: %w", err)
	}
	return count > 0, nil
}

// EndStream marks every active record for a room as stopped.
func (r *Repository) EndStream(ctx context.Context, roomID string) error {
	query := `
		UPDATE stream_records
		SET status = 'stopped', ended_at = now()
		WHERE room_id = $1 AND status = 'active'
	`
	if _, err := r.db.Pool.Exec(ctx, query, roomID); err != nil {
		return fmt.Errorf("failed to end stream record: %w", err)
	}
	return nil
}

const activeCacheTTL = 30 * time.Second

// CachedRepository wraps a Repository with a Redis-backed read cache for
// FindActiveByRoom, satisfying session.StreamRecords. The cache is
// write-through on CreateStream/EndStream and simply expires otherwise,
// since an active stream's status changes rarely.
type CachedRepository struct {
	repo  *Repository
	cache *cache.Cache
}

// NewCachedRepository wires a Repository to a Cache.
func NewCachedRepository(repo *Repository, c *cache.Cache) *CachedRepository {
	return &CachedRepository{repo: repo, cache: c}
}

// FindActiveByRoom checks the cache before falling back to Postgres.
func (c *CachedRepository) FindActiveByRoom(ctx context.Context, roomID string) (bool, error) {
	if active, ok, err := c.cache.IsRoomActiveCached(ctx, roomID); err == nil && ok {
		return active, nil
	}

	active, err := c.repo.FindActiveByRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	if active {
		_ = c.cache.SetRoomActive(ctx, roomID, activeCacheTTL)
	}
	return active, nil
}

// CreateStream creates the record and primes the cache.
func (c *CachedRepository) CreateStream(ctx context.Context, roomID, userID string) (*Record, error) {
	rec, err := c.repo.CreateStream(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	_ = c.cache.SetRoomActive(ctx, roomID, activeCacheTTL)
	return rec, nil
}

// EndStream ends the record and invalidates the cache entry.
func (c *CachedRepository) EndStream(ctx context.Context, roomID string) error {
	if err := c.repo.EndStream(ctx, roomID); err != nil {
		return err
	}
	return c.cache.ClearRoomActive(ctx, roomID)
}

// GetLatest returns the most recent record for a room, active or not.
func (r *Repository) GetLatest(ctx context.Context, roomID string) (*Record, error) {
	var rec Record
	query := `
		SELECT id, room_id, user_id, status, started_at, ended_at
		FROM stream_records
		WHERE room_id = $1
		ORDER BY started_at DESC
		LIMIT 1
	`
	err := r.db.Pool.QueryRow(ctx, query, roomID).Scan(
		&rec.ID, &rec.RoomID, &rec.UserID, &rec.Status, &rec.StartedAt, &rec.EndedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("no stream record for room %s", roomID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest stream record: %w", err)
	}
	return &rec, nil
}
