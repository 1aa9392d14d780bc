package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/notedesk/project/internal/platform/env"
	"github.com/notedesk/project/internal/platform/metrics"
)

type config struct {
	WebBase                 string
	Users                   int
	SetupConcurrency        int
	StartupWait             time.Duration
	Duration                time.Duration
	RampUp                  time.Duration
	ActionsPerUserPerSecond float64
	RequestTimeout          time.Duration
	MetricsAddr             string
	Password                string
	EnableSSE               bool
}

type authResponse struct {
	AccessToken string `json:"access_token"`
}

type todoResponse struct {
	ID string `json:"id"`
}

type noteResponse struct {
	ID string `json:"id"`
}

type simulatedUser struct {
	Index       int
	Username    string
	Password    string
	ClientIP    string
	AccessToken string

	mu    sync.Mutex
	todos []string
	notes []string
}

type runner struct {
	cfg       config
	runID     string
	apiClient *http.Client
	sseClient *http.Client

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
	activeVUs       atomic.Int64
	activeSSE       atomic.Int64
}

var (
	requestsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "notedesk_loadgen_requests_total",
		Help: "Total HTTP requests sent by load generator.",
	}, []string{"endpoint", "method", "status", "outcome"})

	actionsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "notedesk_loadgen_actions_total",
		Help: "User actions executed by load generator.",
	}, []string{"action", "outcome"})

	virtualUsersGauge = metrics.NewGauge(metrics.Opts{
		Name: "notedesk_loadgen_virtual_users",
		Help: "Current number of active virtual users sending actions.",
	})

	sseConnectedUsersGauge = metrics.NewGauge(metrics.Opts{
		Name: "notedesk_loadgen_sse_connected_users",
		Help: "Current number of load-generated users with active SSE connections.",
	})
)

func init() {
	metrics.Default.MustRegister(requestsTotal, actionsTotal, virtualUsersGauge, sseConnectedUsersGauge)
}

func main() {
	cfg := loadConfig()
	if cfg.Users <= 0 {
		log.Fatal("LOADGEN_USERS must be > 0")
	}
	if cfg.SetupConcurrency <= 0 {
		log.Fatal("LOADGEN_SETUP_CONCURRENCY must be > 0")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr)

	transport := &http.Transport{
		MaxIdleConns:        cfg.Users * 4,
		MaxIdleConnsPerHost: cfg.Users * 4,
		IdleConnTimeout:     90 * time.Second,
	}

	r := &runner{
		cfg:   cfg,
		runID: strconv.FormatInt(time.Now().UTC().UnixNano(), 10),
		apiClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		sseClient: &http.Client{
			Transport: transport,
		},
	}

	if err := r.waitForHTTPStatus(ctx, cfg.WebBase+"/readyz", http.StatusOK, cfg.StartupWait); err != nil {
		log.Fatalf("webapp not ready: %v", err)
	}

	users := r.setupUsers(ctx)
	if len(users) == 0 {
		log.Fatal("failed to initialize any users")
	}
	log.Printf("load generator initialized: users=%d duration=%s sse=%v rate_per_user=%.2f req/s",
		len(users), cfg.Duration.String(), cfg.EnableSSE, cfg.ActionsPerUserPerSecond)

	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for idx := range users {
		user := users[idx]
		wg.Add(1)
		go func(u *simulatedUser) {
			defer wg.Done()
			r.runUser(ctx, u)
		}(user)
	}

	<-ctx.Done()
	wg.Wait()

	log.Printf("load test complete: success_requests=%d error_requests=%d",
		r.requestsSuccess.Load(), r.requestsError.Load())
}

func loadConfig() config {
	return config{
		WebBase:                 trimRightSlash(env.String("LOADGEN_WEB_BASE", "http://webapp:8080")),
		Users:                   env.Int("LOADGEN_USERS", 100),
		SetupConcurrency:        env.Int("LOADGEN_SETUP_CONCURRENCY", 25),
		StartupWait:             env.Duration("LOADGEN_STARTUP_WAIT", 2*time.Minute),
		Duration:                env.Duration("LOADGEN_DURATION", 10*time.Minute),
		RampUp:                  env.Duration("LOADGEN_RAMP_UP", 30*time.Second),
		ActionsPerUserPerSecond: floatEnv("LOADGEN_ACTIONS_PER_USER_PER_SECOND", 0.3),
		RequestTimeout:          env.Duration("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:             env.String("LOADGEN_METRICS_ADDR", ":9099"),
		Password:                env.String("LOADGEN_PASSWORD", "load-test-pass-123"),
		EnableSSE:               env.Bool("LOADGEN_ENABLE_SSE", true),
	}
}

func (r *runner) waitForHTTPStatus(ctx context.Context, requestURL string, expectedStatus int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			lastErr = err
			time.Sleep(1200 * time.Millisecond)
			continue
		}
		resp, err := r.apiClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(1200 * time.Millisecond)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode == expectedStatus {
			return nil
		}
		lastErr = fmt.Errorf("status=%d", resp.StatusCode)
		time.Sleep(1200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

func (r *runner) setupUsers(ctx context.Context) []*simulatedUser {
	type setupResult struct {
		user *simulatedUser
		err  error
	}

	sem := make(chan struct{}, r.cfg.SetupConcurrency)
	results := make(chan setupResult, r.cfg.Users)
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Users; i++ {
		idx := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			user, err := r.setupSingleUser(ctx, idx)
			results <- setupResult{user: user, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	users := make([]*simulatedUser, 0, r.cfg.Users)
	failures := 0
	for result := range results {
		if result.err != nil {
			failures++
			log.Printf("user setup failed: %v", result.err)
			continue
		}
		users = append(users, result.user)
	}
	log.Printf("user setup complete: success=%d failed=%d", len(users), failures)
	return users
}

func (r *runner) setupSingleUser(ctx context.Context, idx int) (*simulatedUser, error) {
	user := &simulatedUser{
		Index:    idx,
		Username: fmt.Sprintf("load-%s-%04d", r.runID, idx),
		Password: r.cfg.Password,
		ClientIP: fmt.Sprintf("10.0.%d.%d", 1+(idx/250), 1+(idx%250)),
	}

	var auth authResponse
	status, err := r.requestJSON(ctx, user, "register", http.MethodPost, r.cfg.WebBase+"/api/v1/auth/register", map[string]string{
		"username": user.Username,
		"password": user.Password,
	}, nil, &auth, http.StatusCreated, http.StatusConflict)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", user.Username, err)
	}

	if status == http.StatusConflict {
		auth = authResponse{}
		if _, err := r.requestJSON(ctx, user, "login", http.MethodPost, r.cfg.WebBase+"/api/v1/auth/login", map[string]string{
			"username": user.Username,
			"password": user.Password,
		}, nil, &auth, http.StatusOK); err != nil {
			return nil, fmt.Errorf("login %s: %w", user.Username, err)
		}
	}

	if strings.TrimSpace(auth.AccessToken) == "" {
		return nil, fmt.Errorf("empty access token for %s", user.Username)
	}
	user.AccessToken = auth.AccessToken

	return user, nil
}

func (r *runner) runUser(ctx context.Context, user *simulatedUser) {
	if r.cfg.RampUp > 0 {
		delay := time.Duration((float64(r.cfg.RampUp) / float64(maxInt(r.cfg.Users, 1))) * float64(user.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	if r.cfg.EnableSSE {
		go r.runSSELoop(ctx, user)
	}

	virtualUsersGauge.Inc()
	r.activeVUs.Add(1)
	defer virtualUsersGauge.Dec()
	defer r.activeVUs.Add(-1)

	interval := time.Second
	if r.cfg.ActionsPerUserPerSecond > 0 {
		interval = time.Duration(float64(time.Second) / r.cfg.ActionsPerUserPerSecond)
		if interval < 25*time.Millisecond {
			interval = 25 * time.Millisecond
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(user.Index*7)))
	initialJitter := time.Duration(rng.Int63n(int64(interval)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(initialJitter):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAction(ctx, user, rng)
		}
	}
}

func (r *runner) runAction(ctx context.Context, user *simulatedUser, rng *rand.Rand) {
	todoID, hasTodo := user.randomTodo(rng)

	choice := rng.Float64()
	switch {
	case !hasTodo || choice < 0.40:
		r.createTodo(ctx, user, rng)
	case choice < 0.60:
		r.toggleTodo(ctx, user, todoID)
	case choice < 0.72:
		r.createNote(ctx, user, rng)
	case choice < 0.84:
		r.listTodos(ctx, user, rng)
	case choice < 0.94:
		r.listNotes(ctx, user, rng)
	default:
		r.deleteTodo(ctx, user, todoID)
	}
}

func (r *runner) createTodo(ctx context.Context, user *simulatedUser, rng *rand.Rand) {
	payload := map[string]string{
		"title": fmt.Sprintf("Load Todo %d", rng.Intn(1_000_000)),
	}
	// A third of created todos are recurring to exercise successor spawning.
	if rng.Float64() < 0.33 {
		payload["due_date"] = time.Now().UTC().AddDate(0, 0, rng.Intn(30)).Format("2006-01-02")
		payload["recurrence"] = []string{"daily", "weekly", "monthly", "yearly"}[rng.Intn(4)]
	}

	var resp todoResponse
	_, err := r.requestJSON(ctx, user, "todo_create", http.MethodPost, r.cfg.WebBase+"/api/v1/todos", payload, &user.AccessToken, &resp, http.StatusCreated)
	if err != nil {
		actionsTotal.WithLabelValues("create_todo", "error").Inc()
		return
	}
	user.addTodo(resp.ID)
	actionsTotal.WithLabelValues("create_todo", "success").Inc()
}

func (r *runner) toggleTodo(ctx context.Context, user *simulatedUser, todoID string) {
	if strings.TrimSpace(todoID) == "" {
		actionsTotal.WithLabelValues("toggle_todo", "error").Inc()
		return
	}

	_, err := r.requestJSON(ctx, user, "todo_toggle", http.MethodPost, r.cfg.WebBase+"/api/v1/todos/"+url.PathEscape(todoID)+"/toggle", nil, &user.AccessToken, nil, http.StatusOK)
	if err != nil {
		actionsTotal.WithLabelValues("toggle_todo", "error").Inc()
		return
	}
	actionsTotal.WithLabelValues("toggle_todo", "success").Inc()
}

func (r *runner) createNote(ctx context.Context, user *simulatedUser, rng *rand.Rand) {
	var resp noteResponse
	_, err := r.requestJSON(ctx, user, "note_create", http.MethodPost, r.cfg.WebBase+"/api/v1/notes", map[string]string{
		"title":   fmt.Sprintf("Load Note %d", rng.Intn(1_000_000)),
		"content": fmt.Sprintf("generated content %d", rng.Intn(1_000_000)),
	}, &user.AccessToken, &resp, http.StatusCreated)
	if err != nil {
		actionsTotal.WithLabelValues("create_note", "error").Inc()
		return
	}
	user.addNote(resp.ID)
	actionsTotal.WithLabelValues("create_note", "success").Inc()
}

func (r *runner) listTodos(ctx context.Context, user *simulatedUser, rng *rand.Rand) {
	requestURL := r.cfg.WebBase + "/api/v1/todos"
	if rng.Float64() < 0.5 {
		requestURL += "?search=" + url.QueryEscape("Load")
	}
	_, err := r.requestJSON(ctx, user, "todo_list", http.MethodGet, requestURL, nil, &user.AccessToken, nil, http.StatusOK)
	if err != nil {
		actionsTotal.WithLabelValues("list_todos", "error").Inc()
		return
	}
	actionsTotal.WithLabelValues("list_todos", "success").Inc()
}

func (r *runner) listNotes(ctx context.Context, user *simulatedUser, rng *rand.Rand) {
	requestURL := r.cfg.WebBase + "/api/v1/notes"
	if rng.Float64() < 0.5 {
		requestURL += "?search=" + url.QueryEscape("content")
	}
	_, err := r.requestJSON(ctx, user, "note_list", http.MethodGet, requestURL, nil, &user.AccessToken, nil, http.StatusOK)
	if err != nil {
		actionsTotal.WithLabelValues("list_notes", "error").Inc()
		return
	}
	actionsTotal.WithLabelValues("list_notes", "success").Inc()
}

func (r *runner) deleteTodo(ctx context.Context, user *simulatedUser, todoID string) {
	if strings.TrimSpace(todoID) == "" {
		actionsTotal.WithLabelValues("delete_todo", "error").Inc()
		return
	}

	_, err := r.requestJSON(ctx, user, "todo_delete", http.MethodDelete, r.cfg.WebBase+"/api/v1/todos/"+url.PathEscape(todoID), nil, &user.AccessToken, nil, http.StatusNoContent)
	if err != nil {
		actionsTotal.WithLabelValues("delete_todo", "error").Inc()
		return
	}
	user.removeTodo(todoID)
	actionsTotal.WithLabelValues("delete_todo", "success").Inc()
}

func (r *runner) runSSELoop(ctx context.Context, user *simulatedUser) {
	for {
		if ctx.Err() != nil {
			return
		}
		err := r.connectAndReadSSE(ctx, user)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("sse reconnect user=%s err=%v", user.Username, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(1200 * time.Millisecond):
		}
	}
}

func (r *runner) connectAndReadSSE(ctx context.Context, user *simulatedUser) error {
	sseURL := r.cfg.WebBase + "/api/v1/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sseURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+user.AccessToken)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Forwarded-For", user.ClientIP)

	resp, err := r.sseClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues("events_stream_open", http.MethodGet, "0", "error").Inc()
		r.requestsError.Add(1)
		return err
	}
	defer resp.Body.Close()

	statusText := strconv.Itoa(resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		requestsTotal.WithLabelValues("events_stream_open", http.MethodGet, statusText, "error").Inc()
		r.requestsError.Add(1)
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected SSE status: %d", resp.StatusCode)
	}

	requestsTotal.WithLabelValues("events_stream_open", http.MethodGet, statusText, "success").Inc()
	r.requestsSuccess.Add(1)

	sseConnectedUsersGauge.Inc()
	r.activeSSE.Add(1)
	defer sseConnectedUsersGauge.Dec()
	defer r.activeSSE.Add(-1)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	return nil
}

func (r *runner) requestJSON(
	ctx context.Context,
	user *simulatedUser,
	endpoint, method, requestURL string,
	payload any,
	bearerToken *string,
	out any,
	expectedStatuses ...int,
) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Forwarded-For", user.ClientIP)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearerToken != nil && strings.TrimSpace(*bearerToken) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(*bearerToken))
	}

	resp, err := r.apiClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, method, "0", "error").Inc()
		r.requestsError.Add(1)
		return 0, err
	}
	defer resp.Body.Close()

	responseBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		requestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(resp.StatusCode), "error").Inc()
		r.requestsError.Add(1)
		return resp.StatusCode, readErr
	}

	statusText := strconv.Itoa(resp.StatusCode)
	if isExpectedStatus(resp.StatusCode, expectedStatuses) {
		requestsTotal.WithLabelValues(endpoint, method, statusText, "success").Inc()
		r.requestsSuccess.Add(1)
		if out != nil && len(responseBody) > 0 {
			if err := json.Unmarshal(responseBody, out); err != nil {
				return resp.StatusCode, err
			}
		}
		return resp.StatusCode, nil
	}

	requestsTotal.WithLabelValues(endpoint, method, statusText, "error").Inc()
	r.requestsError.Add(1)
	return resp.StatusCode, fmt.Errorf("unexpected status=%d body=%s", resp.StatusCode, truncate(string(responseBody), 240))
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("progress: success_requests=%d error_requests=%d active_vus=%d active_sse=%d",
				r.requestsSuccess.Load(),
				r.requestsError.Load(),
				r.activeVUs.Load(),
				r.activeSSE.Load(),
			)
		}
	}
}

func runMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("load generator metrics endpoint listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("load generator metrics server failed: %v", err)
	}
}

func (u *simulatedUser) addTodo(todoID string) {
	if strings.TrimSpace(todoID) == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.todos = append(u.todos, todoID)
}

func (u *simulatedUser) addNote(noteID string) {
	if strings.TrimSpace(noteID) == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notes = append(u.notes, noteID)
}

func (u *simulatedUser) randomTodo(rng *rand.Rand) (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.todos) == 0 {
		return "", false
	}
	return u.todos[rng.Intn(len(u.todos))], true
}

func (u *simulatedUser) removeTodo(todoID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for idx, existing := range u.todos {
		if existing != todoID {
			continue
		}
		u.todos[idx] = u.todos[len(u.todos)-1]
		u.todos = u.todos[:len(u.todos)-1]
		return
	}
}

func trimRightSlash(v string) string {
	return strings.TrimRight(strings.TrimSpace(v), "/")
}

func isExpectedStatus(status int, expected []int) bool {
	for _, candidate := range expected {
		if status == candidate {
			return true
		}
	}
	return false
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max] + "..."
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func floatEnv(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
