package activity

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/notedesk/project/internal/contracts"
)

var ErrUnsupportedAction = errors.New("unsupported activity action")

// Entry is a persisted activity event, served back as the owner's history.
type Entry struct {
	EventID    string    `json:"event_id"`
	OwnerID    string    `json:"-"`
	ActorName  string    `json:"actor_name"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	Title      string    `json:"title"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Repository interface {
	InsertEvent(ctx context.Context, event contracts.ActivityEvent, eventSeq uint64) error
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createActivityLogSQL = `
CREATE TABLE IF NOT EXISTS activity_log (
  event_id text PRIMARY KEY,
  owner_id text NOT NULL,
  actor_name text NOT NULL DEFAULT '',
  entity_type text NOT NULL,
  entity_id text NOT NULL,
  action text NOT NULL,
  title text NOT NULL DEFAULT '',
  shard_id integer NOT NULL,
  event_seq bigint NOT NULL DEFAULT 0,
  occurred_at timestamptz NOT NULL,
  inserted_at timestamptz NOT NULL DEFAULT now()
)`

const createActivityOwnerIndexSQL = `
CREATE INDEX IF NOT EXISTS activity_log_owner_occurred_idx
ON activity_log (owner_id, occurred_at DESC)`

const insertActivitySQL = `
INSERT INTO activity_log (event_id, owner_id, actor_name, entity_type, entity_id, action, title, shard_id, event_seq, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (event_id) DO NOTHING`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createActivityLogSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createActivityOwnerIndexSQL); err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) InsertEvent(ctx context.Context, event contracts.ActivityEvent, eventSeq uint64) error {
	_, err := r.Pool.Exec(ctx, insertActivitySQL,
		event.EventID,
		event.OwnerID,
		event.ActorName,
		event.EntityType,
		event.EntityID,
		event.Action,
		event.Title,
		event.ShardID,
		int64(eventSeq),
		event.OccurredAt,
	)
	return err
}

// ListRecent returns the owner's latest activity entries, newest first.
func (r *PostgresRepository) ListRecent(ctx context.Context, ownerID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.Pool.Query(ctx,
		`SELECT event_id, owner_id, actor_name, entity_type, entity_id, action, title, occurred_at
		 FROM activity_log
		 WHERE owner_id = $1
		 ORDER BY occurred_at DESC, event_id DESC
		 LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EventID, &e.OwnerID, &e.ActorName, &e.EntityType, &e.EntityID, &e.Action, &e.Title, &e.OccurredAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
