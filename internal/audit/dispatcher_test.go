package audit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

// memStore collects appended events; fail makes Append error until
// cleared.
type memStore struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (s *memStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("backend down")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *memStore) Query(context.Context, Query) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out, nil
}

func (s *memStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type memAlerter struct {
	mu    sync.Mutex
	calls int
}

func (a *memAlerter) Notify(context.Context, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
}

func (a *memAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatcherPersistsAndObserves(t *testing.T) {
	store := &memStore{}
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, store, sink, nil)
	defer d.Close()

	d.Emit(context.Background(), Event{ID: "e1", EventType: "login_success"})

	select {
	case got := <-sink.Events():
		if got.ID != "e1" {
			t.Fatalf("sink saw wrong event: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sink never observed the event")
	}
	waitFor(t, "store append", func() bool { return store.count() == 1 })
}

func TestDispatcherDisabledReturnsNil(t *testing.T) {
	if d := NewDispatcher(Config{Enabled: false}, &memStore{}, nil, nil); d != nil {
		t.Fatal("disabled config must yield a nil dispatcher")
	}
	// Nil receivers are safe no-ops.
	var d *Dispatcher
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reports drops")
	}
}

func TestDispatcherRetriesAfterStoreFailure(t *testing.T) {
	store := &memStore{}
	store.setFail(true)
	alerter := &memAlerter{}
	d := NewDispatcher(Config{
		Enabled:       true,
		BufferSize:    16,
		RetryBuffer:   16,
		RetryInterval: 10 * time.Millisecond,
	}, store, nil, alerter)
	defer d.Close()

	d.Emit(context.Background(), Event{ID: "e1"})
	d.Emit(context.Background(), Event{ID: "e2"})

	waitFor(t, "alerter notification", func() bool { return alerter.count() >= 2 })
	if store.count() != 0 {
		t.Fatal("nothing may persist while the backend is down")
	}

	store.setFail(false)
	waitFor(t, "retry flush", func() bool { return store.count() == 2 })
	if d.Dropped() != 0 {
		t.Fatalf("no events may be dropped within the retry buffer, got %d", d.Dropped())
	}
}

func TestDispatcherRetryBufferBounded(t *testing.T) {
	store := &memStore{}
	store.setFail(true)
	d := NewDispatcher(Config{
		Enabled:       true,
		BufferSize:    16,
		RetryBuffer:   2,
		RetryInterval: time.Hour, // keep retries parked
	}, store, nil, nil)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{ID: strconv.Itoa(i)})
	}
	waitFor(t, "drops recorded", func() bool { return d.Dropped() >= 3 })

	// Close flushes what remains once the backend recovers.
	store.setFail(false)
	d.Close()
	if store.count() != 2 {
		t.Fatalf("expected the 2 newest parked events to persist, got %d", store.count())
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	block := make(chan struct{})
	store := &memStore{}
	// A sink that blocks keeps the run goroutine busy so the channel
	// fills up.
	sink := blockingSink{release: block}
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, store, sink, nil)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{ID: strconv.Itoa(i)})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops under backpressure")
	}

	close(block)
	d.Close()
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Emit(context.Context, Event) {
	<-s.release
}

func TestDispatcherBlockingEmitCountsAbandonedEvents(t *testing.T) {
	block := make(chan struct{})
	store := &memStore{}
	sink := blockingSink{release: block}
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 1,
	}, store, sink, nil)

	// First event occupies the run goroutine in the sink, second fills
	// the channel buffer.
	d.Emit(context.Background(), Event{ID: "busy"})
	d.Emit(context.Background(), Event{ID: "buffered"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Emit(ctx, Event{ID: "abandoned"})

	if d.Dropped() != 1 {
		t.Fatalf("an event abandoned under backpressure must count as dropped, got %d", d.Dropped())
	}

	close(block)
	d.Close()
	if store.count() != 2 {
		t.Fatalf("expected the 2 queued events to persist, got %d", store.count())
	}
}

func TestDispatcherCloseDrains(t *testing.T) {
	store := &memStore{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 64}, store, nil, nil)

	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), Event{ID: strconv.Itoa(i)})
	}
	d.Close()

	if store.count() != 20 {
		t.Fatalf("expected Close to drain all 20 events, got %d", store.count())
	}
	// Emit after Close is a no-op.
	d.Emit(context.Background(), Event{ID: "late"})
	if store.count() != 20 {
		t.Fatal("events must not land after Close")
	}
}
