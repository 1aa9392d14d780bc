package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/notedesk/project/internal/app/activity"
	"github.com/notedesk/project/internal/app/identity"
	"github.com/notedesk/project/internal/app/note"
	"github.com/notedesk/project/internal/app/todo"
	platformauth "github.com/notedesk/project/internal/platform/auth"
	"github.com/notedesk/project/internal/validate"
)

// ActivityReader serves the caller's recent activity history.
type ActivityReader interface {
	ListRecent(ctx context.Context, ownerID string, limit int) ([]activity.Entry, error)
}

type Handler struct {
	Identity      *identity.Service
	Todos         *todo.Service
	Notes         *note.Service
	Activity      ActivityReader
	Events        *StreamHub
	AllowedOrigin string
}

func NewHandler(identitySvc *identity.Service, todoSvc *todo.Service, noteSvc *note.Service, activityReader ActivityReader, events *StreamHub, allowedOrigin string) *Handler {
	return &Handler{
		Identity:      identitySvc,
		Todos:         todoSvc,
		Notes:         noteSvc,
		Activity:      activityReader,
		Events:        events,
		AllowedOrigin: allowedOrigin,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.corsMiddleware)
	r.Use(requestMetricsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/api/v1/auth/register", h.handleRegister)
	r.Post("/api/v1/auth/login", h.handleLogin)
	r.Post("/api/v1/auth/refresh", h.handleRefresh)
	r.Post("/api/v1/auth/logout", h.handleLogout)

	r.Group(func(authR chi.Router) {
		authR.Use(h.authMiddleware)

		authR.Get("/api/v1/notes", h.handleListNotes)
		authR.Post("/api/v1/notes", h.handleCreateNote)
		authR.Get("/api/v1/notes/{noteID}", h.handleGetNote)
		authR.Put("/api/v1/notes/{noteID}", h.handleUpdateNote)
		authR.Delete("/api/v1/notes/{noteID}", h.handleDeleteNote)

		authR.Get("/api/v1/todos", h.handleListTodos)
		authR.Post("/api/v1/todos", h.handleCreateTodo)
		authR.Get("/api/v1/todos/{todoID}", h.handleGetTodo)
		authR.Put("/api/v1/todos/{todoID}", h.handleUpdateTodo)
		authR.Delete("/api/v1/todos/{todoID}", h.handleDeleteTodo)
		authR.Post("/api/v1/todos/{todoID}/toggle", h.handleToggleTodo)

		authR.Get("/api/v1/activity", h.handleListActivity)
	})

	// The SSE endpoint does its own token handling (query param fallback
	// for EventSource clients).
	r.Get("/api/v1/events", h.handleEvents)

	return r
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type noteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type todoRequest struct {
	Title      string `json:"title"`
	DueDate    string `json:"due_date"`
	Recurrence string `json:"recurrence"`
}

type noteResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type todoResponse struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	DueDate     string     `json:"due_date,omitempty"`
	Recurrence  string     `json:"recurrence,omitempty"`
	IsCompleted bool       `json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type todoListResponse struct {
	Active    []todoResponse `json:"active"`
	Completed []todoResponse `json:"completed"`
}

func toNoteResponse(n note.Note) noteResponse {
	return noteResponse{
		ID:        n.ID,
		Title:     n.Title,
		Content:   n.Content,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func toTodoResponse(t todo.Todo) todoResponse {
	resp := todoResponse{
		ID:          t.ID,
		Title:       t.Title,
		Recurrence:  string(t.Recurrence),
		IsCompleted: t.IsCompleted,
		CompletedAt: t.CompletedAt,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.DueDate != nil {
		resp.DueDate = t.DueDate.Format("2006-01-02")
	}
	return resp
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Identity.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidUsername), errors.Is(err, identity.ErrInvalidPassword):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			if strings.Contains(strings.ToLower(err.Error()), "duplicate") {
				h.writeError(w, http.StatusConflict, "username already exists")
				return
			}
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Identity.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Identity.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrRefreshTokenMissing):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, identity.ErrInvalidRefreshToken):
			h.writeError(w, http.StatusUnauthorized, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := h.Identity.Logout(r.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, identity.ErrRefreshTokenMissing) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListNotes(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	notes, err := h.Notes.List(r.Context(), claims.Subject, r.URL.Query().Get("search"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]noteResponse, 0, len(notes))
	for _, n := range notes {
		out = append(out, toNoteResponse(n))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"notes": out})
}

func (h *Handler) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	created, err := h.Notes.Create(r.Context(), h.noteActor(r), note.Fields{Title: req.Title, Content: req.Content})
	if err != nil {
		h.writeNoteError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toNoteResponse(created))
}

func (h *Handler) handleGetNote(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	found, err := h.Notes.Get(r.Context(), claims.Subject, chi.URLParam(r, "noteID"))
	if err != nil {
		h.writeNoteError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toNoteResponse(found))
}

func (h *Handler) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	updated, err := h.Notes.Update(r.Context(), h.noteActor(r), chi.URLParam(r, "noteID"), note.Fields{Title: req.Title, Content: req.Content})
	if err != nil {
		h.writeNoteError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toNoteResponse(updated))
}

func (h *Handler) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	err := h.Notes.Delete(r.Context(), h.noteActor(r), chi.URLParam(r, "noteID"))
	if err != nil && !errors.Is(err, note.ErrNotFound) {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Deleting an absent note reads as "nothing happened".
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListTodos(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	todos, err := h.Todos.List(r.Context(), claims.Subject, r.URL.Query().Get("search"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := todoListResponse{Active: []todoResponse{}, Completed: []todoResponse{}}
	for _, t := range todos {
		if t.IsCompleted {
			resp.Completed = append(resp.Completed, toTodoResponse(t))
		} else {
			resp.Active = append(resp.Active, toTodoResponse(t))
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateTodo(w http.ResponseWriter, r *http.Request) {
	var req todoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	created, err := h.Todos.Create(r.Context(), h.todoActor(r), todo.Fields{Title: req.Title, DueDate: req.DueDate, Recurrence: req.Recurrence})
	if err != nil {
		h.writeTodoError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toTodoResponse(created))
}

func (h *Handler) handleGetTodo(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	found, err := h.Todos.Get(r.Context(), claims.Subject, chi.URLParam(r, "todoID"))
	if err != nil {
		h.writeTodoError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTodoResponse(found))
}

func (h *Handler) handleUpdateTodo(w http.ResponseWriter, r *http.Request) {
	var req todoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	updated, err := h.Todos.Update(r.Context(), h.todoActor(r), chi.URLParam(r, "todoID"), todo.Fields{Title: req.Title, DueDate: req.DueDate, Recurrence: req.Recurrence})
	if err != nil {
		h.writeTodoError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTodoResponse(updated))
}

func (h *Handler) handleDeleteTodo(w http.ResponseWriter, r *http.Request) {
	err := h.Todos.Delete(r.Context(), h.todoActor(r), chi.URLParam(r, "todoID"))
	if err != nil && !errors.Is(err, todo.ErrNotFound) {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleToggleTodo(w http.ResponseWriter, r *http.Request) {
	updated, err := h.Todos.ToggleCompletion(r.Context(), h.todoActor(r), chi.URLParam(r, "todoID"))
	if err != nil {
		h.writeTodoError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTodoResponse(updated))
}

func (h *Handler) handleListActivity(w http.ResponseWriter, r *http.Request) {
	if h.Activity == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"activity": []activity.Entry{}})
		return
	}
	claims := claimsFromContext(r.Context())
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	entries, err := h.Activity.ListRecent(r.Context(), claims.Subject, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
}

func (h *Handler) writeNoteError(w http.ResponseWriter, err error) {
	var verr *validate.Error
	switch {
	case errors.As(err, &verr):
		h.writeValidationError(w, verr)
	case errors.Is(err, note.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "note not found")
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) writeTodoError(w http.ResponseWriter, err error) {
	var verr *validate.Error
	switch {
	case errors.As(err, &verr):
		h.writeValidationError(w, verr)
	case errors.Is(err, todo.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "todo not found")
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) writeValidationError(w http.ResponseWriter, verr *validate.Error) {
	h.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
		"error": verr.Message,
		"field": verr.Field,
	})
}

func (h *Handler) todoActor(r *http.Request) todo.Actor {
	claims := claimsFromContext(r.Context())
	return todo.Actor{OwnerID: claims.Subject, Username: claims.Username}
}

func (h *Handler) noteActor(r *http.Request) note.Actor {
	claims := claimsFromContext(r.Context())
	return note.Actor{OwnerID: claims.Subject, Username: claims.Username}
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOriginForRequest(r.Header.Get("Origin")))
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
		if requestHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOriginForRequest(requestOrigin string) string {
	allowed := strings.TrimSpace(h.AllowedOrigin)
	if allowed == "" || allowed == "*" {
		return "*"
	}

	origin := strings.TrimSpace(requestOrigin)
	if origin == "" {
		return allowed
	}
	if origin == allowed || isEquivalentLoopbackOrigin(origin, allowed) {
		return origin
	}
	return allowed
}

func isEquivalentLoopbackOrigin(originA, originB string) bool {
	a, err := url.Parse(originA)
	if err != nil {
		return false
	}
	b, err := url.Parse(originB)
	if err != nil {
		return false
	}
	if !isLoopbackHost(a.Hostname()) || !isLoopbackHost(b.Hostname()) {
		return false
	}
	if a.Port() != b.Port() {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme)
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

type claimsContextKey struct{}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := platformauth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Identity.AuthToken.Parse(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithClaims(r.Context(), claims)))
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func contextWithClaims(ctx context.Context, claims platformauth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func claimsFromContext(ctx context.Context) platformauth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(platformauth.Claims)
	return claims
}
