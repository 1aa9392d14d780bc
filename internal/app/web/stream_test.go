package web

import (
	"context"
	"testing"

	"github.com/notedesk/project/internal/sharding"
)

type fakeEventSource struct {
	handlers      map[string]func([]byte)
	unsubscribed  []string
	subscribeErrs map[string]error
}

func newFakeEventSource() *fakeEventSource {
	return &fakeEventSource{handlers: map[string]func([]byte){}}
}

func (f *fakeEventSource) Subscribe(subject string, handler func(payload []byte)) (func(), error) {
	if err := f.subscribeErrs[subject]; err != nil {
		return nil, err
	}
	f.handlers[subject] = handler
	return func() {
		f.unsubscribed = append(f.unsubscribed, subject)
		delete(f.handlers, subject)
	}, nil
}

func (f *fakeEventSource) publish(subject string, payload []byte) {
	if handler, ok := f.handlers[subject]; ok {
		handler(payload)
	}
}

func TestStreamHubDeliversOwnEventsOnly(t *testing.T) {
	source := newFakeEventSource()
	hub := NewStreamHub(source)

	aliceCh, releaseAlice, err := hub.Subscribe("alice")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer releaseAlice()

	bobCh, releaseBob, err := hub.Subscribe("bob")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer releaseBob()

	source.publish(sharding.GetSubject("alice"), []byte(`{"action":"created"}`))

	select {
	case got := <-aliceCh:
		if string(got) != `{"action":"created"}` {
			t.Fatalf("unexpected payload: %s", got)
		}
	default:
		t.Fatal("expected alice to receive her event")
	}
	select {
	case got := <-bobCh:
		t.Fatalf("bob received a foreign event: %s", got)
	default:
	}
}

func TestStreamHubSharesOneUpstreamSubscription(t *testing.T) {
	source := newFakeEventSource()
	hub := NewStreamHub(source)

	first, releaseFirst, err := hub.Subscribe("alice")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	second, releaseSecond, err := hub.Subscribe("alice")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if len(source.handlers) != 1 {
		t.Fatalf("expected one upstream subscription, got %d", len(source.handlers))
	}

	source.publish(sharding.GetSubject("alice"), []byte(`{}`))
	for _, ch := range []<-chan []byte{first, second} {
		select {
		case <-ch:
		default:
			t.Fatal("expected both listeners to receive the event")
		}
	}

	releaseFirst()
	if len(source.unsubscribed) != 0 {
		t.Fatal("upstream subscription torn down while a listener remains")
	}
	releaseSecond()
	if len(source.unsubscribed) != 1 {
		t.Fatalf("expected upstream teardown after last release, got %v", source.unsubscribed)
	}
}

func TestStreamHubReplaceLeaseCancelsPrevious(t *testing.T) {
	hub := NewStreamHub(newFakeEventSource())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	if prev := hub.ReplaceLease("alice", "s1", cancelFirst); prev != nil {
		t.Fatal("expected no previous lease")
	}

	_, cancelSecond := context.WithCancel(context.Background())
	defer cancelSecond()
	prev := hub.ReplaceLease("alice", "s2", cancelSecond)
	if prev == nil {
		t.Fatal("expected the displaced lease's cancel func")
	}
	prev()
	if firstCtx.Err() == nil {
		t.Fatal("expected the first stream to be cancelled")
	}

	// Releasing a stale lease must not drop the live one.
	hub.ReleaseLease("alice", "s1")
	if got := hub.ReplaceLease("alice", "s3", func() {}); got == nil {
		t.Fatal("live lease was dropped by a stale release")
	}
}
