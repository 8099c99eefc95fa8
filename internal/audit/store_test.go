package audit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "")
}

func seedEvents(t *testing.T, store *RedisStore, base time.Time) {
	t.Helper()
	events := []Event{
		{ID: "e1", Timestamp: base, EventType: "login_failure", UserID: "u1", Error: "invalid_credentials"},
		{ID: "e2", Timestamp: base.Add(time.Second), EventType: "login_success", UserID: "u1", Success: true},
		{ID: "e3", Timestamp: base.Add(2 * time.Second), EventType: "session_issued", UserID: "u1", Success: true},
		{ID: "e4", Timestamp: base.Add(3 * time.Second), EventType: "login_success", UserID: "u2", Success: true},
	}
	for _, event := range events {
		if err := store.Append(context.Background(), event); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
}

func TestQueryNewestFirst(t *testing.T) {
	store := newTestRedisStore(t)
	base := time.Now().Add(-time.Minute).UTC()
	seedEvents(t, store, base)

	events, err := store.Query(context.Background(), Query{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.After(events[i-1].Timestamp) {
			t.Fatalf("expected newest-first ordering, got %v before %v",
				events[i-1].Timestamp, events[i].Timestamp)
		}
	}
}

func TestQueryFilters(t *testing.T) {
	store := newTestRedisStore(t)
	base := time.Now().Add(-time.Minute).UTC()
	seedEvents(t, store, base)

	byUser, err := store.Query(context.Background(), Query{UserID: "u2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byUser) != 1 || byUser[0].ID != "e4" {
		t.Fatalf("expected only u2's event, got %+v", byUser)
	}

	byKind, err := store.Query(context.Background(), Query{EventTypes: []string{"login_success"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(byKind) != 2 {
		t.Fatalf("expected 2 login_success events, got %d", len(byKind))
	}

	byRange, err := store.Query(context.Background(), Query{
		From: base.Add(time.Second),
		To:   base.Add(2 * time.Second),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(byRange) != 2 {
		t.Fatalf("expected 2 events in range, got %d", len(byRange))
	}

	limited, err := store.Query(context.Background(), Query{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[0].ID != "e4" {
		t.Fatalf("expected the 2 newest events, got %+v", limited)
	}

	combined, err := store.Query(context.Background(), Query{
		UserID:     "u1",
		EventTypes: []string{"login_success", "session_issued"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(combined) != 2 {
		t.Fatalf("expected 2 combined matches, got %d", len(combined))
	}
}

func TestAppendPreservesFields(t *testing.T) {
	store := newTestRedisStore(t)

	in := Event{
		ID:        "e9",
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		EventType: "otp_failure",
		UserID:    "u1",
		IP:        "203.0.113.9",
		UserAgent: "test-agent",
		Channel:   "email",
		Error:     "otp_mismatch",
		Metadata:  map[string]string{"challenge_id": "c1"},
	}
	if err := store.Append(context.Background(), in); err != nil {
		t.Fatal(err)
	}

	events, err := store.Query(context.Background(), Query{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if got.ID != in.ID || got.EventType != in.EventType || got.IP != in.IP ||
		got.UserAgent != in.UserAgent || got.Channel != in.Channel ||
		got.Error != in.Error || got.Metadata["challenge_id"] != "c1" {
		t.Fatalf("field mismatch: put %+v, got %+v", in, got)
	}
	if !got.Timestamp.Equal(in.Timestamp) {
		t.Fatalf("timestamp mismatch: %v vs %v", in.Timestamp, got.Timestamp)
	}
}
