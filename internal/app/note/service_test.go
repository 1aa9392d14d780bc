package note

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/notedesk/project/internal/validate"
)

type fakeRepo struct {
	notes map[string]Note
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{notes: map[string]Note{}}
}

func (f *fakeRepo) EnsureSchema(ctx context.Context) error { return nil }

func (f *fakeRepo) Create(ctx context.Context, n Note) error {
	f.notes[n.ID] = n
	return nil
}

func (f *fakeRepo) Find(ctx context.Context, ownerID, noteID string) (Note, error) {
	n, ok := f.notes[noteID]
	if !ok || n.OwnerID != ownerID {
		return Note{}, ErrNotFound
	}
	return n, nil
}

func (f *fakeRepo) Update(ctx context.Context, n Note) error {
	existing, ok := f.notes[n.ID]
	if !ok || existing.OwnerID != n.OwnerID {
		return ErrNotFound
	}
	f.notes[n.ID] = n
	return nil
}

func (f *fakeRepo) Delete(ctx context.Context, ownerID, noteID string) error {
	n, ok := f.notes[noteID]
	if !ok || n.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(f.notes, noteID)
	return nil
}

func (f *fakeRepo) List(ctx context.Context, ownerID, search string) ([]Note, error) {
	result := make([]Note, 0)
	lowered := strings.ToLower(search)
	for _, n := range f.notes {
		if n.OwnerID != ownerID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(n.Title), lowered) &&
			!strings.Contains(strings.ToLower(n.Content), lowered) {
			continue
		}
		result = append(result, n)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

func newTestService(repo *fakeRepo) *Service {
	svc := NewService(repo, nil)
	svc.Now = func() time.Time { return time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC) }
	next := 0
	svc.NewID = func() string {
		next++
		return "note-" + strconv.Itoa(next)
	}
	return svc
}

func alice() Actor { return Actor{OwnerID: "u1", Username: "alice"} }

func TestCreate_EmptyFieldsAllowed(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	created, err := svc.Create(context.Background(), alice(), Fields{})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created.Title != "" || created.Content != "" {
		t.Fatalf("unexpected note: %+v", created)
	}
	if _, ok := repo.notes[created.ID]; !ok {
		t.Fatal("note not persisted")
	}
}

func TestCreate_OverlongTitleRejected(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	_, err := svc.Create(context.Background(), alice(), Fields{Title: strings.Repeat("x", 256)})
	var verr *validate.Error
	if !errors.As(err, &verr) || verr.Field != "title" {
		t.Fatalf("expected title validation error, got %v", err)
	}
	if len(repo.notes) != 0 {
		t.Fatal("validation failure must not write")
	}
}

func TestUpdate_ForeignOwnerIsNotFound(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	repo.notes["n1"] = Note{ID: "n1", OwnerID: "someone-else", Title: "Private"}

	if _, err := svc.Update(context.Background(), alice(), "n1", Fields{Title: "Stolen"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if repo.notes["n1"].Title != "Private" {
		t.Fatal("foreign note must be untouched")
	}
}

func TestUpdate_ChangesFields(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	repo.notes["n1"] = Note{ID: "n1", OwnerID: "u1", Title: "Old", Content: "old body"}

	updated, err := svc.Update(context.Background(), alice(), "n1", Fields{Title: " New ", Content: "new body"})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if updated.Title != "New" || updated.Content != "new body" {
		t.Fatalf("unexpected note: %+v", updated)
	}
}

func TestList_SearchMatchesContent(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	repo.notes["n1"] = Note{ID: "n1", OwnerID: "u1", Title: "Groceries", Content: "buy milk", CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	repo.notes["n2"] = Note{ID: "n2", OwnerID: "u1", Title: "Milk notes", Content: "", CreatedAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)}
	repo.notes["n3"] = Note{ID: "n3", OwnerID: "u1", Title: "Other", Content: "nothing here", CreatedAt: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)}

	notes, err := svc.List(context.Background(), "u1", "milk")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(notes))
	}
	if notes[0].ID != "n2" || notes[1].ID != "n1" {
		t.Fatalf("expected newest-first order, got %v", []string{notes[0].ID, notes[1].ID})
	}
}

func TestDelete_RemovesOwnNote(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	repo.notes["n1"] = Note{ID: "n1", OwnerID: "u1", Title: "Temp"}

	if err := svc.Delete(context.Background(), alice(), "n1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if len(repo.notes) != 0 {
		t.Fatal("note not deleted")
	}
}
