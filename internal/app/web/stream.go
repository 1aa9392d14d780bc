package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/notedesk/project/internal/platform/auth"
	"github.com/notedesk/project/internal/sharding"
)

// EventSource delivers raw event payloads published for a subject. The
// returned func tears the subscription down.
type EventSource interface {
	Subscribe(subject string, handler func(payload []byte)) (func(), error)
}

// NATSSource adapts a core NATS connection to EventSource.
type NATSSource struct {
	Conn *nats.Conn
}

func (s NATSSource) Subscribe(subject string, handler func(payload []byte)) (func(), error) {
	sub, err := s.Conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// StreamHub fans activity events out to the SSE connections of each user.
// One upstream subscription is held per user with at least one listener.
type StreamHub struct {
	source EventSource

	mu      sync.Mutex
	byOwner map[string]*ownerStream
	leases  map[string]streamLease
}

type streamLease struct {
	id     string
	cancel context.CancelFunc
}

type ownerStream struct {
	mu          sync.Mutex
	unsubscribe func()
	subscribers map[uint64]chan []byte
	nextID      uint64
}

func NewStreamHub(source EventSource) *StreamHub {
	return &StreamHub{
		source:  source,
		byOwner: map[string]*ownerStream{},
		leases:  map[string]streamLease{},
	}
}

// Subscribe registers a listener for one user's activity events.
func (h *StreamHub) Subscribe(ownerID string) (<-chan []byte, func(), error) {
	h.mu.Lock()
	stream, ok := h.byOwner[ownerID]
	if !ok {
		stream = &ownerStream{subscribers: map[uint64]chan []byte{}}
		h.byOwner[ownerID] = stream
	}
	h.mu.Unlock()

	subID, ch, err := stream.addSubscriber(h.source, sharding.GetSubject(ownerID))
	if err != nil {
		return nil, nil, err
	}

	release := func() {
		if !stream.removeSubscriber(subID) {
			return
		}
		h.mu.Lock()
		if current, ok := h.byOwner[ownerID]; ok && current == stream {
			delete(h.byOwner, ownerID)
		}
		h.mu.Unlock()
	}
	return ch, release, nil
}

// ReplaceLease makes streamID the user's only live SSE connection and
// returns the cancel func of the one it displaced, if any.
func (h *StreamHub) ReplaceLease(ownerID, streamID string, cancel context.CancelFunc) context.CancelFunc {
	h.mu.Lock()
	defer h.mu.Unlock()

	var prev context.CancelFunc
	if current, ok := h.leases[ownerID]; ok {
		prev = current.cancel
	}
	h.leases[ownerID] = streamLease{id: streamID, cancel: cancel}
	return prev
}

func (h *StreamHub) ReleaseLease(ownerID, streamID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.leases[ownerID]
	if !ok || current.id != streamID {
		return
	}
	delete(h.leases, ownerID)
}

func (s *ownerStream) addSubscriber(source EventSource, subject string) (uint64, chan []byte, error) {
	ch := make(chan []byte, 64)

	s.mu.Lock()
	s.nextID++
	subID := s.nextID
	s.subscribers[subID] = ch
	needSubscription := s.unsubscribe == nil
	s.mu.Unlock()

	if needSubscription {
		unsubscribe, err := source.Subscribe(subject, s.broadcast)
		if err != nil {
			s.mu.Lock()
			delete(s.subscribers, subID)
			s.mu.Unlock()
			return 0, nil, err
		}
		s.mu.Lock()
		if s.unsubscribe != nil {
			s.mu.Unlock()
			unsubscribe()
		} else {
			s.unsubscribe = unsubscribe
			s.mu.Unlock()
		}
	}

	return subID, ch, nil
}

func (s *ownerStream) removeSubscriber(subID uint64) bool {
	var (
		empty       bool
		unsubscribe func()
	)
	s.mu.Lock()
	delete(s.subscribers, subID)
	if len(s.subscribers) == 0 {
		empty = true
		unsubscribe = s.unsubscribe
		s.unsubscribe = nil
	}
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return empty
}

func (s *ownerStream) broadcast(payload []byte) {
	s.mu.Lock()
	subs := make([]chan []byte, 0, len(s.subscribers))
	for _, ch := range s.subscribers {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- payload:
		default:
		}
	}
}

const streamKeepaliveInterval = 25 * time.Second

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		h.writeError(w, http.StatusServiceUnavailable, "event streaming unavailable")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// EventSource cannot set headers, so accept the token as a query
	// parameter as well.
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		h.writeError(w, http.StatusUnauthorized, "token is required")
		return
	}
	claims, err := h.Identity.AuthToken.Parse(token)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	eventCh, release, err := h.Events.Subscribe(claims.Subject)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "stream subscription failed")
		return
	}
	defer release()

	streamCtx, cancelStream := context.WithCancel(r.Context())
	defer cancelStream()
	streamID := fmt.Sprintf("%d", time.Now().UnixNano())
	if cancelPrev := h.Events.ReplaceLease(claims.Subject, streamID, cancelStream); cancelPrev != nil {
		cancelPrev()
	}
	defer h.Events.ReleaseLease(claims.Subject, streamID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(streamKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-streamCtx.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case payload := <-eventCh:
			fmt.Fprintf(w, "event: activity\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
