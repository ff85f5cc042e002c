package streammanager_test

import (
	"context"
	"testing"
	"time"

	"convostore/internal/sqlitestore"
	"convostore/storeconfig"
	"convostore/stream"
	"convostore/streammanager"
)

func openTestManager(t *testing.T) (*streammanager.Manager, *stream.Store) {
	t.Helper()
	cfg, err := storeconfig.New(storeconfig.WithDBPath(":memory:"))
	if err != nil {
		t.Fatalf("storeconfig.New() error = %v", err)
	}
	db, err := sqlitestore.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("sqlitestore.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	streams := stream.New(db)
	return streammanager.New(streams, cfg, nil), streams
}

type sliceSource struct {
	items []string
	i     int
}

func (s *sliceSource) Next(ctx context.Context) (any, bool, error) {
	if s.i >= len(s.items) {
		return nil, false, nil
	}
	v := s.items[s.i]
	s.i++
	return v, true, nil
}

// TestRegisterPersistWatch exercises the §8 scenario: register a
// stream, persist a chunk source into it while concurrently watching,
// and confirm the watcher sees every chunk in order and closes cleanly
// on completion.
func TestRegisterPersistWatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mgr, _ := openTestManager(t)
	const streamID = "s1"

	if _, err := mgr.Register(ctx, streamID); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	source := &sliceSource{items: []string{"a", "b", "c"}}
	persistErr := make(chan error, 1)
	go func() { persistErr <- mgr.Persist(ctx, source, streamID, streammanager.PersistOptions{}) }()

	events, err := mgr.Watch(ctx, streamID, streammanager.WatchOptions{})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	var got []string
	for ev := range events {
		if ev.Err != nil {
			t.Fatalf("watch event error = %v", ev.Err)
		}
		got = append(got, ev.Data.(string))
	}
	if err := <-persistErr; err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("watch chunks = %v, want [a b c]", got)
	}
}

// TestRegisterIsIdempotent mirrors §8's producer-retry scenario: a
// second Register call for the same id must not reset an in-flight or
// completed stream.
func TestRegisterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mgr, streams := openTestManager(t)
	const streamID = "s1"

	if _, err := mgr.Register(ctx, streamID); err != nil {
		t.Fatalf("Register() first call error = %v", err)
	}
	if _, err := streams.UpdateStreamStatus(ctx, streamID, stream.StatusCompleted, stream.StatusUpdate{}); err != nil {
		t.Fatalf("UpdateStreamStatus() error = %v", err)
	}

	result, err := mgr.Register(ctx, streamID)
	if err != nil {
		t.Fatalf("Register() second call error = %v", err)
	}
	if result.Created {
		t.Errorf("Register() second call Created = true, want false")
	}
	if result.Stream.Status != stream.StatusCompleted {
		t.Errorf("Register() second call Status = %q, want %q", result.Stream.Status, stream.StatusCompleted)
	}
}

// TestReopenRequiresTerminalStatus covers the complete→reopen→reopen-
// fails scenario from §8: a terminal stream may be reopened once, but
// reopening the same (now-queued) stream again must fail.
func TestReopenRequiresTerminalStatus(t *testing.T) {
	ctx := context.Background()
	mgr, streams := openTestManager(t)
	const streamID = "s1"

	if _, err := mgr.Register(ctx, streamID); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := streams.UpdateStreamStatus(ctx, streamID, stream.StatusCompleted, stream.StatusUpdate{}); err != nil {
		t.Fatalf("UpdateStreamStatus() error = %v", err)
	}

	if _, err := mgr.Reopen(ctx, streamID); err != nil {
		t.Fatalf("Reopen() first call error = %v", err)
	}
	if _, err := mgr.Reopen(ctx, streamID); err == nil {
		t.Fatal("Reopen() second call error = nil, want an error since the stream is no longer terminal")
	}
}
