// Command convostore-demo wires the store together end to end — open,
// create a chat, append a streamed reply, watch it back — as a smoke
// test for the library. It is not a CLI surface for the store itself
// (the spec's Non-goals explicitly exclude one); it exists so the
// packages above can be exercised without a host application.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"convostore/graph"
	"convostore/internal/obslog"
	"convostore/internal/sqlitestore"
	"convostore/search"
	"convostore/storeconfig"
	"convostore/storemaint"
	"convostore/storemetrics"
	"convostore/stream"
	"convostore/streammanager"
)

type sliceSource struct {
	items []string
	i     int
}

func (s *sliceSource) Next(ctx context.Context) (any, bool, error) {
	if s.i >= len(s.items) {
		return nil, false, nil
	}
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	v := s.items[s.i]
	s.i++
	return v, true, nil
}

func run(ctx context.Context) error {
	logCfg := storeconfig.DefaultLogConfig()
	logCfg.Dir = os.TempDir() + "/convostore-demo"
	logCfg.MirrorStderr = true

	cfg, err := storeconfig.New(storeconfig.WithDBPath(":memory:"), storeconfig.WithLog(logCfg))
	if err != nil {
		return fmt.Errorf("build config: %w", err)
	}

	log, cleanup, err := obslog.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer cleanup()

	db, err := sqlitestore.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	searchIndex := search.New(db)
	graphStore := graph.New(db, searchIndex)
	streamStore := stream.New(db)

	registry := prometheus.NewRegistry()
	metrics := storemetrics.New("convostore", registry)
	manager := streammanager.New(streamStore, cfg, metrics)

	maint := storemaint.New(db, streamStore, storemaint.DefaultConfig(), log)
	if err := maint.Start(ctx); err != nil {
		return fmt.Errorf("start maintenance scheduler: %w", err)
	}
	defer maint.Stop()

	chatID := "chat-1"
	if err := graphStore.CreateChat(ctx, graph.Chat{ID: chatID, UserID: "alice", Title: "Learning Go"}); err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	metrics.ObserveChatMutation("create")

	userMsg := graph.Message{ID: "m1", ChatID: chatID, Name: "user", Data: "I want to learn Python programming"}
	if err := graphStore.AddMessage(ctx, userMsg); err != nil {
		return fmt.Errorf("add user message: %w", err)
	}
	metrics.ObserveMessageUpsert()

	branch, err := graphStore.GetActiveBranch(ctx, chatID)
	if err != nil {
		return fmt.Errorf("get active branch: %w", err)
	}
	if err := graphStore.UpdateBranchHead(ctx, branch.ID, userMsg.ID); err != nil {
		return fmt.Errorf("update branch head: %w", err)
	}

	streamID := "stream-1"
	if _, err := manager.Register(ctx, streamID); err != nil {
		return fmt.Errorf("register stream: %w", err)
	}

	source := &sliceSource{items: []string{"Start ", "with ", "Python ", "libraries"}}
	persistErr := make(chan error, 1)
	go func() {
		persistErr <- manager.Persist(ctx, source, streamID, streammanager.PersistOptions{})
	}()

	events, err := manager.Watch(ctx, streamID, streammanager.WatchOptions{})
	if err != nil {
		return fmt.Errorf("watch stream: %w", err)
	}

	var reply string
	for ev := range events {
		if ev.Err != nil {
			return fmt.Errorf("watch event: %w", ev.Err)
		}
		if text, ok := ev.Data.(string); ok {
			reply += text
		}
	}
	if err := <-persistErr; err != nil {
		return fmt.Errorf("persist stream: %w", err)
	}

	asstMsg := graph.Message{ID: "m2", ChatID: chatID, ParentID: userMsg.ID, Name: "assistant", Data: reply}
	if err := graphStore.AddMessage(ctx, asstMsg); err != nil {
		return fmt.Errorf("add assistant message: %w", err)
	}
	metrics.ObserveMessageUpsert()
	if err := graphStore.UpdateBranchHead(ctx, branch.ID, asstMsg.ID); err != nil {
		return fmt.Errorf("update branch head: %w", err)
	}

	chain, err := graphStore.GetMessageChain(ctx, asstMsg.ID)
	if err != nil {
		return fmt.Errorf("get message chain: %w", err)
	}
	log.Info("replayed chain", "length", len(chain), "reply", reply)

	results, err := searchIndex.SearchMessages(ctx, chatID, "python", search.QueryOptions{Limit: 10})
	if err != nil {
		return fmt.Errorf("search messages: %w", err)
	}
	log.Info("search results", "count", len(results))

	return nil
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		slog.Error("convostore-demo failed", "error", err)
		os.Exit(1)
	}
}
