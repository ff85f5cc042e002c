package search_test

import (
	"context"
	"testing"

	"convostore/graph"
	"convostore/internal/sqlitestore"
	"convostore/search"
	"convostore/storeconfig"
)

func openTestIndex(t *testing.T) (*search.Index, *graph.Store) {
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

	idx := search.New(db)
	return idx, graph.New(db, idx)
}

func seedChat(t *testing.T, store *graph.Store, chatID string, messages ...graph.Message) {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateChat(ctx, graph.Chat{ID: chatID}); err != nil {
		t.Fatalf("CreateChat(%q) error = %v", chatID, err)
	}
	for _, m := range messages {
		m.ChatID = chatID
		if err := store.AddMessage(ctx, m); err != nil {
			t.Fatalf("AddMessage(%q) error = %v", m.ID, err)
		}
	}
}

func messageIDs(results []search.SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Message.ID
	}
	return ids
}

func TestSearchMessagesPhraseMatch(t *testing.T) {
	ctx := context.Background()
	idx, store := openTestIndex(t)
	seedChat(t, store, "chat-1",
		graph.Message{ID: "m1", Name: "user", Data: "the quick brown fox jumps"},
		graph.Message{ID: "m2", Name: "user", Data: "a brown quick dog sits"},
	)

	results, err := idx.SearchMessages(ctx, "chat-1", `"quick brown"`, search.QueryOptions{})
	if err != nil {
		t.Fatalf("SearchMessages() error = %v", err)
	}
	ids := messageIDs(results)
	if len(ids) != 1 || ids[0] != "m1" {
		t.Fatalf("SearchMessages(phrase) = %v, want [m1]", ids)
	}
}

func TestSearchMessagesNegation(t *testing.T) {
	ctx := context.Background()
	idx, store := openTestIndex(t)
	seedChat(t, store, "chat-1",
		graph.Message{ID: "m1", Name: "user", Data: "python is a great programming language"},
		graph.Message{ID: "m2", Name: "user", Data: "python snakes are reptiles"},
	)

	results, err := idx.SearchMessages(ctx, "chat-1", "python NOT snake", search.QueryOptions{})
	if err != nil {
		t.Fatalf("SearchMessages() error = %v", err)
	}
	ids := messageIDs(results)
	if len(ids) != 1 || ids[0] != "m1" {
		t.Fatalf("SearchMessages(negation) = %v, want [m1]", ids)
	}
}

func TestSearchMessagesPrefixWildcard(t *testing.T) {
	ctx := context.Background()
	idx, store := openTestIndex(t)
	seedChat(t, store, "chat-1",
		graph.Message{ID: "m1", Name: "user", Data: "programming in go is fun"},
	)

	results, err := idx.SearchMessages(ctx, "chat-1", "program*", search.QueryOptions{})
	if err != nil {
		t.Fatalf("SearchMessages() error = %v", err)
	}
	ids := messageIDs(results)
	if len(ids) != 1 || ids[0] != "m1" {
		t.Fatalf("SearchMessages(prefix) = %v, want [m1]", ids)
	}
}

func TestSearchMessagesRoleFilter(t *testing.T) {
	ctx := context.Background()
	idx, store := openTestIndex(t)
	seedChat(t, store, "chat-1",
		graph.Message{ID: "m1", Name: "user", Data: "tell me about golang"},
		graph.Message{ID: "m2", Name: "assistant", Data: "golang is a compiled language"},
	)

	results, err := idx.SearchMessages(ctx, "chat-1", "golang", search.QueryOptions{Roles: []string{"assistant"}})
	if err != nil {
		t.Fatalf("SearchMessages() error = %v", err)
	}
	ids := messageIDs(results)
	if len(ids) != 1 || ids[0] != "m2" {
		t.Fatalf("SearchMessages(role filter) = %v, want [m2]", ids)
	}
}

func TestSearchMessagesCrossChatIsolation(t *testing.T) {
	ctx := context.Background()
	idx, store := openTestIndex(t)
	seedChat(t, store, "chat-1", graph.Message{ID: "m1", Name: "user", Data: "shared keyword elephant"})
	seedChat(t, store, "chat-2", graph.Message{ID: "m2", Name: "user", Data: "shared keyword elephant"})

	results, err := idx.SearchMessages(ctx, "chat-1", "elephant", search.QueryOptions{})
	if err != nil {
		t.Fatalf("SearchMessages() error = %v", err)
	}
	ids := messageIDs(results)
	if len(ids) != 1 || ids[0] != "m1" {
		t.Fatalf("SearchMessages(chat-1) = %v, want only [m1], not chat-2's message", ids)
	}

	results2, err := idx.SearchMessages(ctx, "chat-2", "elephant", search.QueryOptions{})
	if err != nil {
		t.Fatalf("SearchMessages() error = %v", err)
	}
	ids2 := messageIDs(results2)
	if len(ids2) != 1 || ids2[0] != "m2" {
		t.Fatalf("SearchMessages(chat-2) = %v, want only [m2], not chat-1's message", ids2)
	}
}

func TestSearchMessagesPorterStemmingEquivalence(t *testing.T) {
	ctx := context.Background()
	idx, store := openTestIndex(t)
	seedChat(t, store, "chat-1", graph.Message{ID: "m1", Name: "user", Data: "she is learning to code"})

	for _, query := range []string{"learn", "learns", "learning"} {
		results, err := idx.SearchMessages(ctx, "chat-1", query, search.QueryOptions{})
		if err != nil {
			t.Fatalf("SearchMessages(%q) error = %v", query, err)
		}
		ids := messageIDs(results)
		if len(ids) != 1 || ids[0] != "m1" {
			t.Fatalf("SearchMessages(%q) = %v, want [m1] (porter stemming should equate learn/learns/learning)", query, ids)
		}
	}
}

func TestSearchMessagesEmptyQueryIsRejected(t *testing.T) {
	ctx := context.Background()
	idx, store := openTestIndex(t)
	seedChat(t, store, "chat-1", graph.Message{ID: "m1", Name: "user", Data: "hello world"})

	if _, err := idx.SearchMessages(ctx, "chat-1", "   ", search.QueryOptions{}); err == nil {
		t.Fatal("SearchMessages(blank query) error = nil, want a validation error")
	}
}
