package todo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound covers both a missing record and one owned by another user.
// The two causes are deliberately indistinguishable.
var ErrNotFound = errors.New("todo not found")

type Todo struct {
	ID          string
	OwnerID     string
	Title       string
	DueDate     *time.Time
	Recurrence  Recurrence
	IsCompleted bool
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Repository interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, t Todo) error
	Find(ctx context.Context, ownerID, todoID string) (Todo, error)
	Update(ctx context.Context, t Todo) error
	Delete(ctx context.Context, ownerID, todoID string) error
	List(ctx context.Context, ownerID, search string) ([]Todo, error)
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createTodosSQL = `
CREATE TABLE IF NOT EXISTS todos (
  id text PRIMARY KEY,
  owner_id text NOT NULL,
  title text NOT NULL,
  due_date date,
  recurrence text,
  is_completed boolean NOT NULL DEFAULT false,
  completed_at timestamptz,
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL
)`

const createTodosOwnerIndexSQL = `
CREATE INDEX IF NOT EXISTS todos_owner_created_idx
ON todos (owner_id, created_at DESC)`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createTodosSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createTodosOwnerIndexSQL); err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, t Todo) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO todos (id, owner_id, title, due_date, recurrence, is_completed, completed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.OwnerID, t.Title, t.DueDate, recurrenceParam(t.Recurrence),
		t.IsCompleted, t.CompletedAt, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (r *PostgresRepository) Find(ctx context.Context, ownerID, todoID string) (Todo, error) {
	row := r.Pool.QueryRow(ctx,
		`SELECT id, owner_id, title, due_date, recurrence, is_completed, completed_at, created_at, updated_at
		 FROM todos
		 WHERE id = $1 AND owner_id = $2`,
		todoID, ownerID,
	)
	t, err := scanTodo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Todo{}, ErrNotFound
		}
		return Todo{}, err
	}
	return t, nil
}

func (r *PostgresRepository) Update(ctx context.Context, t Todo) error {
	res, err := r.Pool.Exec(ctx,
		`UPDATE todos
		 SET title = $3, due_date = $4, recurrence = $5, is_completed = $6, completed_at = $7, updated_at = $8
		 WHERE id = $1 AND owner_id = $2`,
		t.ID, t.OwnerID, t.Title, t.DueDate, recurrenceParam(t.Recurrence),
		t.IsCompleted, t.CompletedAt, t.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, ownerID, todoID string) error {
	res, err := r.Pool.Exec(ctx,
		`DELETE FROM todos WHERE id = $1 AND owner_id = $2`,
		todoID, ownerID,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, ownerID, search string) ([]Todo, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT id, owner_id, title, due_date, recurrence, is_completed, completed_at, created_at, updated_at
		 FROM todos
		 WHERE owner_id = $1
		   AND ($2 = '' OR title ILIKE '%' || $2 || '%')
		 ORDER BY created_at DESC, id DESC`,
		ownerID, search,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	todos := make([]Todo, 0)
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return todos, nil
}

func scanTodo(row pgx.Row) (Todo, error) {
	var t Todo
	var recurrence *string
	if err := row.Scan(
		&t.ID, &t.OwnerID, &t.Title, &t.DueDate, &recurrence,
		&t.IsCompleted, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return Todo{}, err
	}
	if recurrence != nil {
		t.Recurrence = Recurrence(*recurrence)
	}
	return t, nil
}

func recurrenceParam(r Recurrence) *string {
	if r == "" {
		return nil
	}
	s := string(r)
	return &s
}
