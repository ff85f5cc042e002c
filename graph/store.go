package graph

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/uptrace/bun"

	"convostore/internal/codec"
	"convostore/internal/errs"
	"convostore/internal/sqlitestore"
)

// SearchIndexer is the write-through hook GraphStore calls on every
// message upsert and chat delete, kept narrow (plain strings, no
// dependency on this package's types) so the search package never
// needs to import graph. Implementations run inside the caller's
// transaction.
type SearchIndexer interface {
	Index(ctx context.Context, tx bun.Tx, messageID, chatID, name, content string) error
	DeleteMessage(ctx context.Context, tx bun.Tx, messageID string) error
	DeleteChat(ctx context.Context, tx bun.Tx, chatID string) error
}

// noopIndexer is used when a Store is built without a SearchIndexer.
type noopIndexer struct{}

func (noopIndexer) Index(context.Context, bun.Tx, string, string, string, string) error { return nil }
func (noopIndexer) DeleteMessage(context.Context, bun.Tx, string) error                  { return nil }
func (noopIndexer) DeleteChat(context.Context, bun.Tx, string) error                     { return nil }

// Store is the GraphStore implementation over sqlitestore.
type Store struct {
	db      *sqlitestore.Store
	indexer SearchIndexer
}

// New builds a Store. indexer may be nil to skip search indexing
// (e.g. in tests that only exercise the graph).
func New(db *sqlitestore.Store, indexer SearchIndexer) *Store {
	if indexer == nil {
		indexer = noopIndexer{}
	}
	return &Store{db: db, indexer: indexer}
}

const mainBranchName = "main"

// CreateChat inserts chat and its main branch atomically. Fails if the
// chat id already exists.
func (s *Store) CreateChat(ctx context.Context, c Chat) error {
	model, err := chatModelFrom(c)
	if err != nil {
		return errs.Validation("encode chat metadata: %v", err)
	}
	return s.db.Write().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(model).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return errs.Conflict("chat %q already exists", c.ID)
			}
			return errs.Storage("insert chat", err)
		}
		branch := &branchModel{
			ID:       newID(),
			ChatID:   c.ID,
			Name:     mainBranchName,
			IsActive: true,
		}
		if _, err := tx.NewInsert().Model(branch).Exec(ctx); err != nil {
			return errs.Storage("insert main branch", err)
		}
		return nil
	})
}

// UpsertChat inserts the chat (and its main branch) if absent;
// otherwise returns the existing row unchanged with created=false.
func (s *Store) UpsertChat(ctx context.Context, c Chat) (Chat, bool, error) {
	var result Chat
	created := false
	err := s.db.Write().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var existing chatModel
		err := tx.NewSelect().Model(&existing).Where("id = ?", c.ID).Limit(1).Scan(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			model, encErr := chatModelFrom(c)
			if encErr != nil {
				return errs.Validation("encode chat metadata: %v", encErr)
			}
			if _, err := tx.NewInsert().Model(model).Exec(ctx); err != nil {
				return errs.Storage("insert chat", err)
			}
			branch := &branchModel{ID: newID(), ChatID: c.ID, Name: mainBranchName, IsActive: true}
			if _, err := tx.NewInsert().Model(branch).Exec(ctx); err != nil {
				return errs.Storage("insert main branch", err)
			}
			result, err = model.toDomain()
			if err != nil {
				return errs.Storage("decode chat", err)
			}
			created = true
			return nil
		case err != nil:
			return errs.Storage("select chat", err)
		default:
			var decErr error
			result, decErr = existing.toDomain()
			if decErr != nil {
				return errs.Storage("decode chat", decErr)
			}
			return nil
		}
	})
	if err != nil {
		return Chat{}, false, err
	}
	return result, created, nil
}

// GetChat returns the chat, or (nil, nil) if it does not exist.
func (s *Store) GetChat(ctx context.Context, id string) (*Chat, error) {
	var model chatModel
	err := s.db.Read().NewSelect().Model(&model).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storage("select chat", err)
	}
	c, err := model.toDomain()
	if err != nil {
		return nil, errs.Storage("decode chat", err)
	}
	return &c, nil
}

// ChatPatch carries the optional fields updateChat may set.
type ChatPatch struct {
	Title       *string
	Metadata    map[string]any
	HasMetadata bool
}

// UpdateChat sets only the provided fields and bumps updatedAt.
func (s *Store) UpdateChat(ctx context.Context, id string, patch ChatPatch) (Chat, error) {
	var result Chat
	err := s.db.Write().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().Model((*chatModel)(nil)).Where("id = ?", id).Set("updated_at = ?", nowMillis())
		if patch.Title != nil {
			q = q.Set("title = ?", *patch.Title)
		}
		if patch.HasMetadata {
			encoded, err := codec.Encode(patch.Metadata)
			if err != nil {
				return errs.Validation("encode chat metadata: %v", err)
			}
			q = q.Set("metadata = ?", encoded)
		}
		res, err := q.Exec(ctx)
		if err != nil {
			return errs.Storage("update chat", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.NotFound("chat %q", id)
		}
		var model chatModel
		if err := tx.NewSelect().Model(&model).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
			return errs.Storage("reselect chat", err)
		}
		result, err = model.toDomain()
		return err
	})
	if err != nil {
		return Chat{}, err
	}
	return result, nil
}

// ListChats returns chats ordered by updatedAt descending with derived counts.
func (s *Store) ListChats(ctx context.Context, filter ListChatsFilter) ([]ChatInfo, error) {
	var models []chatModel
	q := s.db.Read().NewSelect().Model(&models)
	if filter.HasUser {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Metadata != nil {
		jsonVal, err := codec.Encode(filter.Metadata.Value)
		if err != nil {
			return nil, errs.Validation("encode metadata filter: %v", err)
		}
		q = q.Where("json_extract(metadata, ?) = json_extract(?, '$')", "$."+filter.Metadata.Key, jsonVal)
	}
	q = q.OrderExpr("updated_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, errs.Storage("list chats", err)
	}

	out := make([]ChatInfo, 0, len(models))
	for i := range models {
		c, err := models[i].toDomain()
		if err != nil {
			return nil, errs.Storage("decode chat", err)
		}
		msgCount, err := s.db.Read().NewSelect().Model((*messageModel)(nil)).Where("chat_id = ?", c.ID).Count(ctx)
		if err != nil {
			return nil, errs.Storage("count messages", err)
		}
		branchCount, err := s.db.Read().NewSelect().Model((*branchModel)(nil)).Where("chat_id = ?", c.ID).Count(ctx)
		if err != nil {
			return nil, errs.Storage("count branches", err)
		}
		out = append(out, ChatInfo{Chat: c, MessageCount: msgCount, BranchCount: branchCount})
	}
	return out, nil
}

// DeleteChat cascades to messages, branches, checkpoints, and search
// entries atomically. Returns true iff a row was deleted.
func (s *Store) DeleteChat(ctx context.Context, id string, filter DeleteChatFilter) (bool, error) {
	deleted := false
	err := s.db.Write().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewDelete().Model((*chatModel)(nil)).Where("id = ?", id)
		if filter.HasUser {
			q = q.Where("user_id = ?", filter.UserID)
		}
		res, err := q.Exec(ctx)
		if err != nil {
			return errs.Storage("delete chat", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return nil
		}
		deleted = true
		if _, err := tx.NewDelete().Model((*messageModel)(nil)).Where("chat_id = ?", id).Exec(ctx); err != nil {
			return errs.Storage("delete messages", err)
		}
		if _, err := tx.NewDelete().Model((*branchModel)(nil)).Where("chat_id = ?", id).Exec(ctx); err != nil {
			return errs.Storage("delete branches", err)
		}
		if _, err := tx.NewDelete().Model((*checkpointModel)(nil)).Where("chat_id = ?", id).Exec(ctx); err != nil {
			return errs.Storage("delete checkpoints", err)
		}
		if err := s.indexer.DeleteChat(ctx, tx, id); err != nil {
			return errs.Storage("delete search entries", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// AddMessage upserts by id. On conflict it updates parentId, name,
// type, data; createdAt and chatId are preserved. Rewrites the search
// entry. A changed parentId is not checked against the message's
// branch lineage, so an upsert can detach it from other branches.
func (s *Store) AddMessage(ctx context.Context, msg Message) error {
	if msg.ParentID == msg.ID && msg.ParentID != "" {
		return errs.Conflict("message %q cannot be its own parent", msg.ID)
	}
	model, err := messageModelFrom(msg)
	if err != nil {
		return errs.Validation("encode message data: %v", err)
	}
	content := codec.ContentOf(msg.Data)

	return s.db.Write().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(model).
			On("CONFLICT (id) DO UPDATE").
			Set("parent_id = EXCLUDED.parent_id").
			Set("name = EXCLUDED.name").
			Set("type = EXCLUDED.type").
			Set("data = EXCLUDED.data").
			Exec(ctx)
		if err != nil {
			return errs.Storage("upsert message", err)
		}
		if err := s.indexer.Index(ctx, tx, msg.ID, msg.ChatID, msg.Name, content); err != nil {
			return errs.Storage("index message", err)
		}
		return nil
	})
}

// GetMessage returns the message, or (nil, nil) if it does not exist.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	var model messageModel
	err := s.db.Read().NewSelect().Model(&model).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storage("select message", err)
	}
	msg, err := model.toDomain()
	if err != nil {
		return nil, errs.Storage("decode message", err)
	}
	return &msg, nil
}

// HasChildren reports whether any message references id as its parent.
func (s *Store) HasChildren(ctx context.Context, id string) (bool, error) {
	n, err := s.db.Read().NewSelect().Model((*messageModel)(nil)).Where("parent_id = ?", id).Limit(1).Count(ctx)
	if err != nil {
		return false, errs.Storage("check children", err)
	}
	return n > 0, nil
}

// GetMessageChain walks the parentId chain from headId to the root
// and returns results root-first. A single bulk fetch of every message
// in the head's chat backs an in-memory walk that stops the instant it
// revisits an id, defending against pathological parentId cycles.
func (s *Store) GetMessageChain(ctx context.Context, headID string) ([]Message, error) {
	head, err := s.GetMessage(ctx, headID)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, errs.NotFound("message %q", headID)
	}

	var models []messageModel
	if err := s.db.Read().NewSelect().Model(&models).Where("chat_id = ?", head.ChatID).Scan(ctx); err != nil {
		return nil, errs.Storage("select chat messages", err)
	}
	byID := make(map[string]messageModel, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}

	var reversed []Message
	visited := make(map[string]bool, len(models))
	currentID := headID
	for currentID != "" {
		if visited[currentID] {
			break
		}
		visited[currentID] = true
		m, ok := byID[currentID]
		if !ok {
			break
		}
		msg, err := m.toDomain()
		if err != nil {
			return nil, errs.Storage("decode message", err)
		}
		reversed = append(reversed, msg)
		currentID = m.ParentID
	}

	chain := make([]Message, len(reversed))
	for i, msg := range reversed {
		chain[len(reversed)-1-i] = msg
	}
	return chain, nil
}

// GetMessages resolves the active branch's head and returns its chain.
func (s *Store) GetMessages(ctx context.Context, chatID string) ([]Message, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, errs.NotFound("chat %q", chatID)
	}
	branch, err := s.GetActiveBranch(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if branch == nil || branch.HeadMessageID == "" {
		return []Message{}, nil
	}
	return s.GetMessageChain(ctx, branch.HeadMessageID)
}

// CreateBranch inserts a branch. Fails on (chatId, name) conflict.
func (s *Store) CreateBranch(ctx context.Context, b Branch) error {
	model := &branchModel{
		ID:            b.ID,
		ChatID:        b.ChatID,
		Name:          b.Name,
		HeadMessageID: b.HeadMessageID,
		IsActive:      b.IsActive,
	}
	_, err := s.db.Write().NewInsert().Model(model).Exec(ctx)
	if isUniqueViolation(err) {
		return errs.Conflict("branch %q already exists in chat %q", b.Name, b.ChatID)
	}
	if err != nil {
		return errs.Storage("insert branch", err)
	}
	return nil
}

// GetBranch looks up a branch by (chatId, name).
func (s *Store) GetBranch(ctx context.Context, chatID, name string) (*Branch, error) {
	var model branchModel
	err := s.db.Read().NewSelect().Model(&model).Where("chat_id = ? AND name = ?", chatID, name).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storage("select branch", err)
	}
	b := model.toDomain()
	return &b, nil
}

// GetActiveBranch returns the chat's active branch, if any.
func (s *Store) GetActiveBranch(ctx context.Context, chatID string) (*Branch, error) {
	var model branchModel
	err := s.db.Read().NewSelect().Model(&model).Where("chat_id = ? AND is_active = ?", chatID, true).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storage("select active branch", err)
	}
	b := model.toDomain()
	return &b, nil
}

// SetActiveBranch deactivates all branches of the chat then activates
// branchID, in one transaction.
func (s *Store) SetActiveBranch(ctx context.Context, chatID, branchID string) error {
	return s.db.Write().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().Model((*branchModel)(nil)).
			Set("is_active = ?", false).Where("chat_id = ?", chatID).Exec(ctx); err != nil {
			return errs.Storage("deactivate branches", err)
		}
		res, err := tx.NewUpdate().Model((*branchModel)(nil)).
			Set("is_active = ?", true).Where("id = ? AND chat_id = ?", branchID, chatID).Exec(ctx)
		if err != nil {
			return errs.Storage("activate branch", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.NotFound("branch %q in chat %q", branchID, chatID)
		}
		return nil
	})
}

// UpdateBranchHead sets a branch's headMessageId (empty clears it).
func (s *Store) UpdateBranchHead(ctx context.Context, branchID string, msgID string) error {
	res, err := s.db.Write().NewUpdate().Model((*branchModel)(nil)).
		Set("head_message_id = ?", nullIfEmpty(msgID)).Where("id = ?", branchID).Exec(ctx)
	if err != nil {
		return errs.Storage("update branch head", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("branch %q", branchID)
	}
	return nil
}

// ListBranches returns every branch of a chat with derived message counts.
func (s *Store) ListBranches(ctx context.Context, chatID string) ([]BranchInfo, error) {
	var models []branchModel
	if err := s.db.Read().NewSelect().Model(&models).Where("chat_id = ?", chatID).OrderExpr("created_at ASC").Scan(ctx); err != nil {
		return nil, errs.Storage("list branches", err)
	}
	out := make([]BranchInfo, 0, len(models))
	for _, m := range models {
		b := m.toDomain()
		count := 0
		if b.HeadMessageID != "" {
			chain, err := s.GetMessageChain(ctx, b.HeadMessageID)
			if err != nil && !errs.Is(err, errs.KindNotFound) {
				return nil, err
			}
			count = len(chain)
		}
		out = append(out, BranchInfo{Branch: b, MessageCount: count})
	}
	return out, nil
}

// CreateCheckpoint upserts by (chatId, name): messageId and createdAt
// are overwritten on conflict.
func (s *Store) CreateCheckpoint(ctx context.Context, cp Checkpoint) error {
	model := &checkpointModel{
		ID:        cp.ID,
		ChatID:    cp.ChatID,
		Name:      cp.Name,
		MessageID: cp.MessageID,
	}
	_, err := s.db.Write().NewInsert().
		Model(model).
		On("CONFLICT (chat_id, name) DO UPDATE").
		Set("message_id = EXCLUDED.message_id").
		Set("created_at = EXCLUDED.created_at").
		Exec(ctx)
	if err != nil {
		return errs.Storage("upsert checkpoint", err)
	}
	return nil
}

// GetCheckpoint looks up a checkpoint by (chatId, name).
func (s *Store) GetCheckpoint(ctx context.Context, chatID, name string) (*Checkpoint, error) {
	var model checkpointModel
	err := s.db.Read().NewSelect().Model(&model).Where("chat_id = ? AND name = ?", chatID, name).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storage("select checkpoint", err)
	}
	cp := model.toDomain()
	return &cp, nil
}

// ListCheckpoints returns every checkpoint of a chat.
func (s *Store) ListCheckpoints(ctx context.Context, chatID string) ([]Checkpoint, error) {
	var models []checkpointModel
	if err := s.db.Read().NewSelect().Model(&models).Where("chat_id = ?", chatID).OrderExpr("created_at ASC").Scan(ctx); err != nil {
		return nil, errs.Storage("list checkpoints", err)
	}
	out := make([]Checkpoint, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

// DeleteCheckpoint removes a checkpoint by (chatId, name).
func (s *Store) DeleteCheckpoint(ctx context.Context, chatID, name string) error {
	_, err := s.db.Write().NewDelete().Model((*checkpointModel)(nil)).
		Where("chat_id = ? AND name = ?", chatID, name).Exec(ctx)
	if err != nil {
		return errs.Storage("delete checkpoint", err)
	}
	return nil
}

// GetGraph returns every message (content-truncated), branch, and
// checkpoint of a chat, ordered by createdAt ascending.
func (s *Store) GetGraph(ctx context.Context, chatID string) (*Graph, error) {
	var msgModels []messageModel
	if err := s.db.Read().NewSelect().Model(&msgModels).Where("chat_id = ?", chatID).OrderExpr("created_at ASC").Scan(ctx); err != nil {
		return nil, errs.Storage("list messages", err)
	}
	nodes := make([]GraphNode, 0, len(msgModels))
	for _, m := range msgModels {
		msg, err := m.toDomain()
		if err != nil {
			return nil, errs.Storage("decode message", err)
		}
		nodes = append(nodes, GraphNode{
			ID:             msg.ID,
			ChatID:         msg.ChatID,
			ParentID:       msg.ParentID,
			Name:           msg.Name,
			Type:           msg.Type,
			ContentPreview: truncatePreview(codec.ContentOf(msg.Data)),
			CreatedAt:      msg.CreatedAt,
		})
	}

	var branchModels []branchModel
	if err := s.db.Read().NewSelect().Model(&branchModels).Where("chat_id = ?", chatID).OrderExpr("created_at ASC").Scan(ctx); err != nil {
		return nil, errs.Storage("list branches", err)
	}
	branches := make([]Branch, 0, len(branchModels))
	for _, m := range branchModels {
		branches = append(branches, m.toDomain())
	}

	checkpoints, err := s.ListCheckpoints(ctx, chatID)
	if err != nil {
		return nil, err
	}

	return &Graph{ChatID: chatID, Nodes: nodes, Branches: branches, Checkpoints: checkpoints}, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToUpper(err.Error()), "UNIQUE CONSTRAINT")
}
