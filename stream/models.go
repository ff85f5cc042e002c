package stream

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"convostore/internal/codec"
)

type streamModel struct {
	bun.BaseModel `bun:"table:streams,alias:s"`

	ID                string        `bun:"id,pk"`
	Status            string        `bun:"status,notnull"`
	CreatedAt         int64         `bun:"created_at,notnull"`
	StartedAt         sql.NullInt64 `bun:"started_at"`
	FinishedAt        sql.NullInt64 `bun:"finished_at"`
	CancelRequestedAt sql.NullInt64 `bun:"cancel_requested_at"`
	Error             sql.NullString `bun:"error"`
}

var _ bun.BeforeInsertHook = (*streamModel)(nil)

func (m *streamModel) BeforeInsert(ctx context.Context, q *bun.InsertQuery) error {
	if m.CreatedAt == 0 {
		m.CreatedAt = nowMillis()
	}
	return nil
}

func (m *streamModel) toDomain() Stream {
	s := Stream{
		ID:        m.ID,
		Status:    Status(m.Status),
		CreatedAt: millisToTime(m.CreatedAt),
	}
	if m.StartedAt.Valid {
		t := millisToTime(m.StartedAt.Int64)
		s.StartedAt = &t
	}
	if m.FinishedAt.Valid {
		t := millisToTime(m.FinishedAt.Int64)
		s.FinishedAt = &t
	}
	if m.CancelRequestedAt.Valid {
		t := millisToTime(m.CancelRequestedAt.Int64)
		s.CancelRequestedAt = &t
	}
	if m.Error.Valid {
		s.Error = m.Error.String
	}
	return s
}

func streamModelFrom(s Stream) *streamModel {
	m := &streamModel{
		ID:        s.ID,
		Status:    string(s.Status),
		CreatedAt: timeToMillis(s.CreatedAt),
	}
	if s.StartedAt != nil {
		m.StartedAt = sql.NullInt64{Int64: timeToMillis(*s.StartedAt), Valid: true}
	}
	if s.FinishedAt != nil {
		m.FinishedAt = sql.NullInt64{Int64: timeToMillis(*s.FinishedAt), Valid: true}
	}
	if s.CancelRequestedAt != nil {
		m.CancelRequestedAt = sql.NullInt64{Int64: timeToMillis(*s.CancelRequestedAt), Valid: true}
	}
	if s.Error != "" {
		m.Error = sql.NullString{String: s.Error, Valid: true}
	}
	return m
}

type chunkModel struct {
	bun.BaseModel `bun:"table:stream_chunks"`

	StreamID  string `bun:"stream_id,notnull"`
	Seq       int64  `bun:"seq,notnull"`
	Data      string `bun:"data,notnull"`
	CreatedAt int64  `bun:"created_at,notnull"`
}

var _ bun.BeforeInsertHook = (*chunkModel)(nil)

func (m *chunkModel) BeforeInsert(ctx context.Context, q *bun.InsertQuery) error {
	if m.CreatedAt == 0 {
		m.CreatedAt = nowMillis()
	}
	return nil
}

func (m *chunkModel) toDomain() (Chunk, error) {
	data, err := codec.Decode(m.Data)
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{
		StreamID:  m.StreamID,
		Seq:       m.Seq,
		Data:      data,
		CreatedAt: millisToTime(m.CreatedAt),
	}, nil
}

func chunkModelFrom(c Chunk) (*chunkModel, error) {
	raw, err := codec.Encode(c.Data)
	if err != nil {
		return nil, err
	}
	return &chunkModel{
		StreamID:  c.StreamID,
		Seq:       c.Seq,
		Data:      raw,
		CreatedAt: timeToMillis(c.CreatedAt),
	}, nil
}

func nowMillis() int64 { return timeToMillis(time.Now()) }

func timeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UTC().UnixMilli()
	}
	return t.UnixMilli()
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
