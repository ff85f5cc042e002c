package graph_test

import (
	"context"
	"testing"

	"convostore/graph"
	"convostore/internal/sqlitestore"
	"convostore/search"
	"convostore/storeconfig"
)

func openTestStore(t *testing.T) *sqlitestore.Store {
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
	return db
}

// TestChatMessageBranchChain exercises the §8 scenario: create a chat,
// append a root message and a child, move the active branch's head,
// and replay the chain root-first.
func TestChatMessageBranchChain(t *testing.T) {
	ctx := context.Background()
	db := openTestStore(t)
	idx := search.New(db)
	store := graph.New(db, idx)

	chat := graph.Chat{ID: "chat-1", UserID: "alice", Title: "first chat"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	branch, err := store.GetActiveBranch(ctx, chat.ID)
	if err != nil {
		t.Fatalf("GetActiveBranch() error = %v", err)
	}
	if branch == nil {
		t.Fatal("GetActiveBranch() = nil, want the auto-created main branch")
	}

	root := graph.Message{ID: "m1", ChatID: chat.ID, Name: "user", Data: "hello"}
	if err := store.AddMessage(ctx, root); err != nil {
		t.Fatalf("AddMessage(root) error = %v", err)
	}
	child := graph.Message{ID: "m2", ChatID: chat.ID, ParentID: root.ID, Name: "assistant", Data: "hi there"}
	if err := store.AddMessage(ctx, child); err != nil {
		t.Fatalf("AddMessage(child) error = %v", err)
	}

	if err := store.UpdateBranchHead(ctx, branch.ID, child.ID); err != nil {
		t.Fatalf("UpdateBranchHead() error = %v", err)
	}

	chain, err := store.GetMessageChain(ctx, child.ID)
	if err != nil {
		t.Fatalf("GetMessageChain() error = %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("GetMessageChain() len = %d, want 2", len(chain))
	}
	if chain[0].ID != root.ID || chain[1].ID != child.ID {
		t.Errorf("GetMessageChain() = [%s, %s], want root-first [%s, %s]", chain[0].ID, chain[1].ID, root.ID, child.ID)
	}

	messages, err := store.GetMessages(ctx, chat.ID)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("GetMessages() len = %d, want 2", len(messages))
	}
}

func TestAddMessageRejectsSelfParent(t *testing.T) {
	ctx := context.Background()
	db := openTestStore(t)
	store := graph.New(db, nil)

	if err := store.CreateChat(ctx, graph.Chat{ID: "chat-1"}); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	err := store.AddMessage(ctx, graph.Message{ID: "m1", ChatID: "chat-1", ParentID: "m1", Name: "user", Data: "x"})
	if err == nil {
		t.Fatal("AddMessage(self-parent) error = nil, want a conflict error")
	}
}

func TestCreateChatConflictsOnDuplicateID(t *testing.T) {
	ctx := context.Background()
	db := openTestStore(t)
	store := graph.New(db, nil)

	if err := store.CreateChat(ctx, graph.Chat{ID: "chat-1"}); err != nil {
		t.Fatalf("CreateChat() first call error = %v", err)
	}
	if err := store.CreateChat(ctx, graph.Chat{ID: "chat-1"}); err == nil {
		t.Fatal("CreateChat() second call error = nil, want a conflict error")
	}
}

func TestSearchMessagesFindsIndexedContent(t *testing.T) {
	ctx := context.Background()
	db := openTestStore(t)
	idx := search.New(db)
	store := graph.New(db, idx)

	if err := store.CreateChat(ctx, graph.Chat{ID: "chat-1"}); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	msg := graph.Message{ID: "m1", ChatID: "chat-1", Name: "user", Data: "I want to learn Python programming"}
	if err := store.AddMessage(ctx, msg); err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}

	results, err := idx.SearchMessages(ctx, "chat-1", "python", search.QueryOptions{Limit: 10})
	if err != nil {
		t.Fatalf("SearchMessages() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("SearchMessages() len = %d, want 1", len(results))
	}
	if results[0].Message.ID != msg.ID {
		t.Errorf("SearchMessages() hit id = %q, want %q", results[0].Message.ID, msg.ID)
	}
}
