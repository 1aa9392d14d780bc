package todo

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nats-io/nuid"
	"github.com/notedesk/project/internal/app/activity"
	"github.com/notedesk/project/internal/contracts"
	"github.com/notedesk/project/internal/validate"
)

const maxTitleLen = 255

// Actor identifies the authenticated user a call is performed on behalf of.
// Every store access is scoped to Actor.OwnerID.
type Actor struct {
	OwnerID  string
	Username string
}

// Fields carries raw user input for create and update. DueDate is a
// YYYY-MM-DD string; empty strings mean absent.
type Fields struct {
	Title      string
	DueDate    string
	Recurrence string
}

type Service struct {
	Repo     Repository
	Activity *activity.Recorder
	Now      func() time.Time
	NewID    func() string
}

func NewService(repo Repository, recorder *activity.Recorder) *Service {
	return &Service{
		Repo:     repo,
		Activity: recorder,
		Now:      func() time.Time { return time.Now().UTC() },
		NewID:    nuid.Next,
	}
}

type parsedFields struct {
	title      string
	dueDate    *time.Time
	recurrence Recurrence
}

func parseFields(in Fields) (parsedFields, error) {
	var p parsedFields

	p.title = strings.TrimSpace(in.Title)
	if p.title == "" {
		return parsedFields{}, validate.Failed("title", "title is required")
	}
	if utf8.RuneCountInString(p.title) > maxTitleLen {
		return parsedFields{}, validate.Failed("title", "title must be at most 255 characters")
	}

	if raw := strings.TrimSpace(in.DueDate); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			return parsedFields{}, validate.Failed("due_date", "due date must be a valid date (YYYY-MM-DD)")
		}
		p.dueDate = &parsed
	}

	if raw := strings.TrimSpace(in.Recurrence); raw != "" {
		kind := Recurrence(raw)
		if !kind.Valid() {
			return parsedFields{}, validate.Failed("recurrence", "recurrence must be one of daily, weekly, monthly, yearly")
		}
		p.recurrence = kind
	}

	return p, nil
}

func (s *Service) Create(ctx context.Context, actor Actor, in Fields) (Todo, error) {
	p, err := parseFields(in)
	if err != nil {
		return Todo{}, err
	}

	now := s.Now()
	t := Todo{
		ID:         s.NewID(),
		OwnerID:    actor.OwnerID,
		Title:      p.title,
		DueDate:    p.dueDate,
		Recurrence: p.recurrence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Repo.Create(ctx, t); err != nil {
		return Todo{}, err
	}
	s.record(actor, t.ID, contracts.ActionCreated, t.Title)
	return t, nil
}

func (s *Service) Update(ctx context.Context, actor Actor, todoID string, in Fields) (Todo, error) {
	p, err := parseFields(in)
	if err != nil {
		return Todo{}, err
	}

	t, err := s.Repo.Find(ctx, actor.OwnerID, todoID)
	if err != nil {
		return Todo{}, err
	}

	t.Title = p.title
	t.DueDate = p.dueDate
	t.Recurrence = p.recurrence
	t.UpdatedAt = s.Now()
	if err := s.Repo.Update(ctx, t); err != nil {
		return Todo{}, err
	}
	s.record(actor, t.ID, contracts.ActionUpdated, t.Title)
	return t, nil
}

// ToggleCompletion flips a todo's completion state. When an incomplete todo
// with both a recurrence and a due date is completed, its successor is
// created first; a failure creating the successor aborts the whole toggle so
// a recurring series is never silently lost. A crash after the successor is
// created but before the original is marked complete duplicates work on
// retry rather than losing it. Toggling back to incomplete is a pure flip
// and never retracts an already-created successor.
func (s *Service) ToggleCompletion(ctx context.Context, actor Actor, todoID string) (Todo, error) {
	t, err := s.Repo.Find(ctx, actor.OwnerID, todoID)
	if err != nil {
		return Todo{}, err
	}

	completing := !t.IsCompleted
	if completing && t.Recurrence != "" && t.DueDate != nil {
		nextDue, err := NextDueDate(*t.DueDate, t.Recurrence)
		if err != nil {
			return Todo{}, err
		}
		now := s.Now()
		successor := Todo{
			ID:         s.NewID(),
			OwnerID:    actor.OwnerID,
			Title:      t.Title,
			DueDate:    &nextDue,
			Recurrence: t.Recurrence,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.Repo.Create(ctx, successor); err != nil {
			return Todo{}, err
		}
		successorsSpawnedTotal.Inc()
		s.record(actor, successor.ID, contracts.ActionSpawned, successor.Title)
	}

	t.IsCompleted = completing
	if completing {
		completedAt := s.Now()
		t.CompletedAt = &completedAt
	} else {
		t.CompletedAt = nil
	}
	t.UpdatedAt = s.Now()
	if err := s.Repo.Update(ctx, t); err != nil {
		return Todo{}, err
	}

	if completing {
		s.record(actor, t.ID, contracts.ActionCompleted, t.Title)
	} else {
		s.record(actor, t.ID, contracts.ActionReopened, t.Title)
	}
	return t, nil
}

func (s *Service) Delete(ctx context.Context, actor Actor, todoID string) error {
	if err := s.Repo.Delete(ctx, actor.OwnerID, todoID); err != nil {
		return err
	}
	s.record(actor, todoID, contracts.ActionDeleted, "")
	return nil
}

func (s *Service) Get(ctx context.Context, ownerID, todoID string) (Todo, error) {
	return s.Repo.Find(ctx, ownerID, todoID)
}

// List returns the owner's todos newest-first, filtered by a title
// substring when search is non-empty.
func (s *Service) List(ctx context.Context, ownerID, search string) ([]Todo, error) {
	return s.Repo.List(ctx, ownerID, strings.TrimSpace(search))
}

func (s *Service) record(actor Actor, todoID, action, title string) {
	s.Activity.Record(actor.OwnerID, actor.Username, contracts.EntityTodo, todoID, action, title)
}
