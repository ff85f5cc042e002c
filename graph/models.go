package graph

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"convostore/internal/codec"
)

type chatModel struct {
	bun.BaseModel `bun:"table:chats,alias:c"`

	ID        string `bun:"id,pk"`
	UserID    string `bun:"user_id,notnull"`
	Title     string `bun:"title"`
	Metadata  string `bun:"metadata"`
	CreatedAt int64  `bun:"created_at,notnull"`
	UpdatedAt int64  `bun:"updated_at,notnull"`
}

var _ bun.BeforeInsertHook = (*chatModel)(nil)

func (m *chatModel) BeforeInsert(ctx context.Context, q *bun.InsertQuery) error {
	now := nowMillis()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	if m.UpdatedAt == 0 {
		m.UpdatedAt = now
	}
	return nil
}

func (m *chatModel) toDomain() (Chat, error) {
	var meta map[string]any
	if m.Metadata != "" {
		decoded, err := codec.Decode(m.Metadata)
		if err != nil {
			return Chat{}, err
		}
		if asMap, ok := decoded.(map[string]any); ok {
			meta = asMap
		}
	}
	return Chat{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		Metadata:  meta,
		CreatedAt: millisToTime(m.CreatedAt),
		UpdatedAt: millisToTime(m.UpdatedAt),
	}, nil
}

func chatModelFrom(c Chat) (*chatModel, error) {
	metaStr := ""
	if c.Metadata != nil {
		encoded, err := codec.Encode(c.Metadata)
		if err != nil {
			return nil, err
		}
		metaStr = encoded
	}
	return &chatModel{
		ID:        c.ID,
		UserID:    c.UserID,
		Title:     c.Title,
		Metadata:  metaStr,
		CreatedAt: timeToMillis(c.CreatedAt),
		UpdatedAt: timeToMillis(c.UpdatedAt),
	}, nil
}

type messageModel struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID        string `bun:"id,pk"`
	ChatID    string `bun:"chat_id,notnull"`
	ParentID  string `bun:"parent_id"`
	Name      string `bun:"name,notnull"`
	Type      string `bun:"type"`
	Data      string `bun:"data,notnull"`
	CreatedAt int64  `bun:"created_at,notnull"`
}

var _ bun.BeforeInsertHook = (*messageModel)(nil)

func (m *messageModel) BeforeInsert(ctx context.Context, q *bun.InsertQuery) error {
	if m.CreatedAt == 0 {
		m.CreatedAt = nowMillis()
	}
	return nil
}

func (m *messageModel) toDomain() (Message, error) {
	data, err := codec.Decode(m.Data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		ParentID:  m.ParentID,
		Name:      m.Name,
		Type:      m.Type,
		Data:      data,
		CreatedAt: millisToTime(m.CreatedAt),
	}, nil
}

func messageModelFrom(msg Message) (*messageModel, error) {
	raw, err := codec.Encode(msg.Data)
	if err != nil {
		return nil, err
	}
	return &messageModel{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		ParentID:  msg.ParentID,
		Name:      msg.Name,
		Type:      msg.Type,
		Data:      raw,
		CreatedAt: timeToMillis(msg.CreatedAt),
	}, nil
}

type branchModel struct {
	bun.BaseModel `bun:"table:branches,alias:b"`

	ID            string `bun:"id,pk"`
	ChatID        string `bun:"chat_id,notnull"`
	Name          string `bun:"name,notnull"`
	HeadMessageID string `bun:"head_message_id"`
	IsActive      bool   `bun:"is_active,notnull"`
	CreatedAt     int64  `bun:"created_at,notnull"`
}

var _ bun.BeforeInsertHook = (*branchModel)(nil)

func (m *branchModel) BeforeInsert(ctx context.Context, q *bun.InsertQuery) error {
	if m.CreatedAt == 0 {
		m.CreatedAt = nowMillis()
	}
	return nil
}

func (m *branchModel) toDomain() Branch {
	return Branch{
		ID:            m.ID,
		ChatID:        m.ChatID,
		Name:          m.Name,
		HeadMessageID: m.HeadMessageID,
		IsActive:      m.IsActive,
		CreatedAt:     millisToTime(m.CreatedAt),
	}
}

type checkpointModel struct {
	bun.BaseModel `bun:"table:checkpoints,alias:cp"`

	ID        string `bun:"id,pk"`
	ChatID    string `bun:"chat_id,notnull"`
	Name      string `bun:"name,notnull"`
	MessageID string `bun:"message_id,notnull"`
	CreatedAt int64  `bun:"created_at,notnull"`
}

var _ bun.BeforeInsertHook = (*checkpointModel)(nil)

func (m *checkpointModel) BeforeInsert(ctx context.Context, q *bun.InsertQuery) error {
	if m.CreatedAt == 0 {
		m.CreatedAt = nowMillis()
	}
	return nil
}

func (m *checkpointModel) toDomain() Checkpoint {
	return Checkpoint{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Name:      m.Name,
		MessageID: m.MessageID,
		CreatedAt: millisToTime(m.CreatedAt),
	}
}

// DecodeMessageRow builds a Message from raw column values. It exists
// so other packages (search) that select from the messages table
// directly — e.g. to join FTS hits back to full rows — can reuse this
// package's JSON decode logic without reaching into unexported model
// types.
func DecodeMessageRow(id, chatID, parentID, name, typ, data string, createdAtMillis int64) (Message, error) {
	m := messageModel{
		ID:        id,
		ChatID:    chatID,
		ParentID:  parentID,
		Name:      name,
		Type:      typ,
		Data:      data,
		CreatedAt: createdAtMillis,
	}
	return m.toDomain()
}

func nowMillis() int64 {
	return timeToMillis(time.Now())
}

func timeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UTC().UnixMilli()
	}
	return t.UnixMilli()
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
