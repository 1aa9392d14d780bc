package note

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound covers both a missing record and one owned by another user.
var ErrNotFound = errors.New("note not found")

type Note struct {
	ID        string
	OwnerID   string
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Repository interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, n Note) error
	Find(ctx context.Context, ownerID, noteID string) (Note, error)
	Update(ctx context.Context, n Note) error
	Delete(ctx context.Context, ownerID, noteID string) error
	List(ctx context.Context, ownerID, search string) ([]Note, error)
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createNotesSQL = `
CREATE TABLE IF NOT EXISTS notes (
  id text PRIMARY KEY,
  owner_id text NOT NULL,
  title text NOT NULL DEFAULT '',
  content text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL
)`

const createNotesOwnerIndexSQL = `
CREATE INDEX IF NOT EXISTS notes_owner_created_idx
ON notes (owner_id, created_at DESC)`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createNotesSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createNotesOwnerIndexSQL); err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, n Note) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO notes (id, owner_id, title, content, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.OwnerID, n.Title, n.Content, n.CreatedAt, n.UpdatedAt,
	)
	return err
}

func (r *PostgresRepository) Find(ctx context.Context, ownerID, noteID string) (Note, error) {
	var n Note
	err := r.Pool.QueryRow(ctx,
		`SELECT id, owner_id, title, content, created_at, updated_at
		 FROM notes
		 WHERE id = $1 AND owner_id = $2`,
		noteID, ownerID,
	).Scan(&n.ID, &n.OwnerID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Note{}, ErrNotFound
		}
		return Note{}, err
	}
	return n, nil
}

func (r *PostgresRepository) Update(ctx context.Context, n Note) error {
	res, err := r.Pool.Exec(ctx,
		`UPDATE notes SET title = $3, content = $4, updated_at = $5
		 WHERE id = $1 AND owner_id = $2`,
		n.ID, n.OwnerID, n.Title, n.Content, n.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, ownerID, noteID string) error {
	res, err := r.Pool.Exec(ctx,
		`DELETE FROM notes WHERE id = $1 AND owner_id = $2`,
		noteID, ownerID,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, ownerID, search string) ([]Note, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT id, owner_id, title, content, created_at, updated_at
		 FROM notes
		 WHERE owner_id = $1
		   AND ($2 = '' OR title ILIKE '%' || $2 || '%' OR content ILIKE '%' || $2 || '%')
		 ORDER BY created_at DESC, id DESC`,
		ownerID, search,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := make([]Note, 0)
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notes, nil
}
