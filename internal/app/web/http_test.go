package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/notedesk/project/internal/app/identity"
	"github.com/notedesk/project/internal/app/note"
	"github.com/notedesk/project/internal/app/todo"
	platformauth "github.com/notedesk/project/internal/platform/auth"
)

type fakeIdentityRepo struct {
	users         map[string]identity.User
	refreshByHash map[string]identity.RefreshToken
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{
		users:         map[string]identity.User{},
		refreshByHash: map[string]identity.RefreshToken{},
	}
}

func (f *fakeIdentityRepo) EnsureSchema(ctx context.Context) error { return nil }
func (f *fakeIdentityRepo) CreateUser(ctx context.Context, user identity.User) error {
	for _, u := range f.users {
		if u.Username == user.Username {
			return errors.New("duplicate")
		}
	}
	f.users[user.ID] = user
	return nil
}
func (f *fakeIdentityRepo) FindUserByUsername(ctx context.Context, username string) (identity.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return identity.User{}, identity.ErrNotFound
}
func (f *fakeIdentityRepo) FindUserByID(ctx context.Context, userID string) (identity.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	return u, nil
}
func (f *fakeIdentityRepo) CreateRefreshToken(ctx context.Context, token identity.RefreshToken) error {
	f.refreshByHash[token.TokenHash] = token
	return nil
}
func (f *fakeIdentityRepo) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (identity.RefreshToken, error) {
	rt, ok := f.refreshByHash[tokenHash]
	if !ok || rt.RevokedAt != nil {
		return identity.RefreshToken{}, identity.ErrNotFound
	}
	return rt, nil
}
func (f *fakeIdentityRepo) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	now := time.Now().UTC()
	for hash, rt := range f.refreshByHash {
		if rt.TokenID == tokenID {
			rt.RevokedAt = &now
			f.refreshByHash[hash] = rt
		}
	}
	return nil
}

type fakeTodoRepo struct {
	items []todo.Todo
}

func (f *fakeTodoRepo) EnsureSchema(ctx context.Context) error { return nil }
func (f *fakeTodoRepo) Create(ctx context.Context, t todo.Todo) error {
	f.items = append(f.items, t)
	return nil
}
func (f *fakeTodoRepo) Find(ctx context.Context, ownerID, todoID string) (todo.Todo, error) {
	for _, t := range f.items {
		if t.ID == todoID && t.OwnerID == ownerID {
			return t, nil
		}
	}
	return todo.Todo{}, todo.ErrNotFound
}
func (f *fakeTodoRepo) Update(ctx context.Context, t todo.Todo) error {
	for i, existing := range f.items {
		if existing.ID == t.ID && existing.OwnerID == t.OwnerID {
			f.items[i] = t
			return nil
		}
	}
	return todo.ErrNotFound
}
func (f *fakeTodoRepo) Delete(ctx context.Context, ownerID, todoID string) error {
	for i, t := range f.items {
		if t.ID == todoID && t.OwnerID == ownerID {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return todo.ErrNotFound
}
func (f *fakeTodoRepo) List(ctx context.Context, ownerID, search string) ([]todo.Todo, error) {
	out := []todo.Todo{}
	for i := len(f.items) - 1; i >= 0; i-- {
		t := f.items[i]
		if t.OwnerID != ownerID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(t.Title), strings.ToLower(search)) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

type fakeNoteRepo struct {
	items []note.Note
}

func (f *fakeNoteRepo) EnsureSchema(ctx context.Context) error { return nil }
func (f *fakeNoteRepo) Create(ctx context.Context, n note.Note) error {
	f.items = append(f.items, n)
	return nil
}
func (f *fakeNoteRepo) Find(ctx context.Context, ownerID, noteID string) (note.Note, error) {
	for _, n := range f.items {
		if n.ID == noteID && n.OwnerID == ownerID {
			return n, nil
		}
	}
	return note.Note{}, note.ErrNotFound
}
func (f *fakeNoteRepo) Update(ctx context.Context, n note.Note) error {
	for i, existing := range f.items {
		if existing.ID == n.ID && existing.OwnerID == n.OwnerID {
			f.items[i] = n
			return nil
		}
	}
	return note.ErrNotFound
}
func (f *fakeNoteRepo) Delete(ctx context.Context, ownerID, noteID string) error {
	for i, n := range f.items {
		if n.ID == noteID && n.OwnerID == ownerID {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return note.ErrNotFound
}
func (f *fakeNoteRepo) List(ctx context.Context, ownerID, search string) ([]note.Note, error) {
	out := []note.Note{}
	lowered := strings.ToLower(search)
	for i := len(f.items) - 1; i >= 0; i-- {
		n := f.items[i]
		if n.OwnerID != ownerID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(n.Title), lowered) &&
			!strings.Contains(strings.ToLower(n.Content), lowered) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func newHandlerForTests() (*Handler, *identity.Service) {
	repo := newFakeIdentityRepo()
	repo.users["u1"] = identity.User{ID: "u1", Username: "alice", PasswordHash: "$2a$10$Qdv1fOD2vEUCA6cQbjHqUecFp4Pw1nJ7l/SXxPxq8np5xpoE2mR9a"} // password123

	mgr := platformauth.NewManager("secret", time.Hour)
	mgr.Now = func() time.Time { return time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC) }
	identitySvc := identity.NewService(repo, mgr)
	identitySvc.NewID = func() string { return "id-1" }

	todoSvc := todo.NewService(&fakeTodoRepo{}, nil)
	noteSvc := note.NewService(&fakeNoteRepo{}, nil)

	handler := NewHandler(identitySvc, todoSvc, noteSvc, nil, nil, "http://localhost:8080")
	return handler, identitySvc
}

func signTestToken(t *testing.T, identitySvc *identity.Service) string {
	t.Helper()
	token, err := identitySvc.AuthToken.Sign("u1", "alice")
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func doJSON(handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestListTodos_Unauthorized(t *testing.T) {
	handler, _ := newHandlerForTests()

	rr := doJSON(handler.Router(), http.MethodGet, "/api/v1/todos", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAuthRegisterLoginRefreshLogout(t *testing.T) {
	handler, _ := newHandlerForTests()
	router := handler.Router()

	rr := doJSON(router, http.MethodPost, "/api/v1/auth/register", "", `{"username":"bob","password":"password123"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var reg identity.AuthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &reg); err != nil {
		t.Fatalf("invalid register response: %v", err)
	}

	rr = doJSON(router, http.MethodPost, "/api/v1/auth/login", "", `{"username":"bob","password":"password123"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(router, http.MethodPost, "/api/v1/auth/refresh", "", `{"refresh_token":"`+reg.RefreshToken+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var refreshed identity.AuthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &refreshed); err != nil {
		t.Fatalf("invalid refresh response: %v", err)
	}

	rr = doJSON(router, http.MethodPost, "/api/v1/auth/logout", "", `{"refresh_token":"`+refreshed.RefreshToken+`"}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	handler, _ := newHandlerForTests()

	rr := doJSON(handler.Router(), http.MethodPost, "/api/v1/auth/register", "", `{"username":"alice","password":"password123"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestCreateTodo_ValidationError(t *testing.T) {
	handler, identitySvc := newHandlerForTests()
	token := signTestToken(t, identitySvc)

	rr := doJSON(handler.Router(), http.MethodPost, "/api/v1/todos", token, `{"title":"","recurrence":"daily"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp["field"] != "title" {
		t.Fatalf("expected title field, got %q", resp["field"])
	}
}

func TestToggleRecurringTodoSplitsLists(t *testing.T) {
	handler, identitySvc := newHandlerForTests()
	token := signTestToken(t, identitySvc)
	router := handler.Router()

	rr := doJSON(router, http.MethodPost, "/api/v1/todos", token, `{"title":"Water plants","due_date":"2026-03-01","recurrence":"weekly"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var created todoResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("invalid create response: %v", err)
	}

	rr = doJSON(router, http.MethodPost, "/api/v1/todos/"+created.ID+"/toggle", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var toggled todoResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &toggled); err != nil {
		t.Fatalf("invalid toggle response: %v", err)
	}
	if !toggled.IsCompleted || toggled.CompletedAt == nil {
		t.Fatalf("expected completed todo, got %+v", toggled)
	}

	rr = doJSON(router, http.MethodGet, "/api/v1/todos", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var list todoListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("invalid list response: %v", err)
	}
	if len(list.Completed) != 1 || list.Completed[0].ID != created.ID {
		t.Fatalf("expected the completed original, got %+v", list.Completed)
	}
	if len(list.Active) != 1 {
		t.Fatalf("expected one spawned successor, got %+v", list.Active)
	}
	successor := list.Active[0]
	if successor.ID == created.ID {
		t.Fatalf("successor must be a new todo")
	}
	if successor.DueDate != "2026-03-08" || successor.Recurrence != "weekly" || successor.IsCompleted {
		t.Fatalf("unexpected successor: %+v", successor)
	}
}

func TestGetTodo_NotFound(t *testing.T) {
	handler, identitySvc := newHandlerForTests()
	token := signTestToken(t, identitySvc)

	rr := doJSON(handler.Router(), http.MethodGet, "/api/v1/todos/missing", token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestDeleteAbsentTodoIsNoOp(t *testing.T) {
	handler, identitySvc := newHandlerForTests()
	token := signTestToken(t, identitySvc)

	rr := doJSON(handler.Router(), http.MethodDelete, "/api/v1/todos/missing", token, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestNoteSearchMatchesContent(t *testing.T) {
	handler, identitySvc := newHandlerForTests()
	token := signTestToken(t, identitySvc)
	router := handler.Router()

	rr := doJSON(router, http.MethodPost, "/api/v1/notes", token, `{"title":"Groceries","content":"oat milk and bread"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doJSON(router, http.MethodPost, "/api/v1/notes", token, `{"title":"Meeting","content":"quarterly planning"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(router, http.MethodGet, "/api/v1/notes?search=milk", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Notes []noteResponse `json:"notes"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid list response: %v", err)
	}
	if len(resp.Notes) != 1 || resp.Notes[0].Title != "Groceries" {
		t.Fatalf("expected the groceries note, got %+v", resp.Notes)
	}
}

func TestNoteUpdateAndDelete(t *testing.T) {
	handler, identitySvc := newHandlerForTests()
	token := signTestToken(t, identitySvc)
	router := handler.Router()

	rr := doJSON(router, http.MethodPost, "/api/v1/notes", token, `{"title":"Draft","content":"v1"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var created noteResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("invalid create response: %v", err)
	}

	rr = doJSON(router, http.MethodPut, "/api/v1/notes/"+created.ID, token, `{"title":"Draft","content":"v2"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var updated noteResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &updated); err != nil {
		t.Fatalf("invalid update response: %v", err)
	}
	if updated.Content != "v2" {
		t.Fatalf("expected updated content, got %q", updated.Content)
	}

	rr = doJSON(router, http.MethodDelete, "/api/v1/notes/"+created.ID, token, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(router, http.MethodGet, "/api/v1/notes/"+created.ID, token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestOptions_HasCORSHeaders(t *testing.T) {
	handler, _ := newHandlerForTests()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/todos", nil)
	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:8080" {
		t.Fatalf("unexpected CORS origin: %q", got)
	}
}
