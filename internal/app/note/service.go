package note

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
type Actor struct {
	OwnerID  string
	Username string
}

// Fields carries raw user input for create and update. Both fields are
// optional free text.
type Fields struct {
	Title   string
	Content string
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

func validateFields(in Fields) error {
	if utf8.RuneCountInString(strings.TrimSpace(in.Title)) > maxTitleLen {
		return validate.Failed("title", "title must be at most 255 characters")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, actor Actor, in Fields) (Note, error) {
	if err := validateFields(in); err != nil {
		return Note{}, err
	}

	now := s.Now()
	n := Note{
		ID:        s.NewID(),
		OwnerID:   actor.OwnerID,
		Title:     strings.TrimSpace(in.Title),
		Content:   in.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Repo.Create(ctx, n); err != nil {
		return Note{}, err
	}
	s.record(actor, n.ID, contracts.ActionCreated, n.Title)
	return n, nil
}

func (s *Service) Update(ctx context.Context, actor Actor, noteID string, in Fields) (Note, error) {
	if err := validateFields(in); err != nil {
		return Note{}, err
	}

	n, err := s.Repo.Find(ctx, actor.OwnerID, noteID)
	if err != nil {
		return Note{}, err
	}

	n.Title = strings.TrimSpace(in.Title)
	n.Content = in.Content
	n.UpdatedAt = s.Now()
	if err := s.Repo.Update(ctx, n); err != nil {
		return Note{}, err
	}
	s.record(actor, n.ID, contracts.ActionUpdated, n.Title)
	return n, nil
}

func (s *Service) Delete(ctx context.Context, actor Actor, noteID string) error {
	if err := s.Repo.Delete(ctx, actor.OwnerID, noteID); err != nil {
		return err
	}
	s.record(actor, noteID, contracts.ActionDeleted, "")
	return nil
}

func (s *Service) Get(ctx context.Context, ownerID, noteID string) (Note, error) {
	return s.Repo.Find(ctx, ownerID, noteID)
}

// List returns the owner's notes newest-first; a non-empty search matches a
// substring of either title or content.
func (s *Service) List(ctx context.Context, ownerID, search string) ([]Note, error) {
	return s.Repo.List(ctx, ownerID, strings.TrimSpace(search))
}

func (s *Service) record(actor Actor, noteID, action, title string) {
	s.Activity.Record(actor.OwnerID, actor.Username, contracts.EntityNote, noteID, action, title)
}
