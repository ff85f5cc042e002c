package stream

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"convostore/internal/errs"
	"convostore/internal/sqlitestore"
)

// Store is the StreamStore implementation over sqlitestore.
type Store struct {
	db *sqlitestore.Store
}

// New builds a Store.
func New(db *sqlitestore.Store) *Store {
	return &Store{db: db}
}

// CreateStream inserts a stream row. Fails on id conflict.
func (s *Store) CreateStream(ctx context.Context, st Stream) error {
	model := streamModelFrom(st)
	_, err := s.db.Write().NewInsert().Model(model).Exec(ctx)
	if isUniqueViolation(err) {
		return errs.Conflict("stream %q already exists", st.ID)
	}
	if err != nil {
		return errs.Storage("insert stream", err)
	}
	return nil
}

// UpsertStream inserts st if absent; otherwise returns the existing
// row unchanged with created=false. This is the idempotency primitive
// producers rely on after a crash-and-retry.
func (s *Store) UpsertStream(ctx context.Context, st Stream) (Stream, bool, error) {
	var result Stream
	created := false
	err := s.db.Write().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var existing streamModel
		err := tx.NewSelect().Model(&existing).Where("id = ?", st.ID).Limit(1).Scan(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			model := streamModelFrom(st)
			if _, err := tx.NewInsert().Model(model).Exec(ctx); err != nil {
				return errs.Storage("insert stream", err)
			}
			result = model.toDomain()
			created = true
			return nil
		case err != nil:
			return errs.Storage("select stream", err)
		default:
			result = existing.toDomain()
			return nil
		}
	})
	if err != nil {
		return Stream{}, false, err
	}
	return result, created, nil
}

// GetStream returns the stream, or (nil, nil) if it does not exist.
func (s *Store) GetStream(ctx context.Context, id string) (*Stream, error) {
	var model streamModel
	err := s.db.Read().NewSelect().Model(&model).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storage("select stream", err)
	}
	st := model.toDomain()
	return &st, nil
}

// GetStreamStatus is a narrow read used by polling loops so they don't
// pay for decoding the whole row every tick.
func (s *Store) GetStreamStatus(ctx context.Context, id string) (Status, error) {
	var status string
	err := s.db.Read().NewSelect().Model((*streamModel)(nil)).Column("status").Where("id = ?", id).Limit(1).Scan(ctx, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errs.NotFound("stream %q", id)
	}
	if err != nil {
		return "", errs.Storage("select stream status", err)
	}
	return Status(status), nil
}

// UpdateStreamStatus centralizes every status transition: entering
// running sets startedAt if unset; entering a terminal status sets
// finishedAt (failed also writes error, cancelled also sets
// cancelRequestedAt). Terminal statuses are absorbing; only reopen may
// move a stream out of one.
func (s *Store) UpdateStreamStatus(ctx context.Context, id string, newStatus Status, update StatusUpdate) (Stream, error) {
	var result Stream
	err := s.db.Write().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var model streamModel
		if err := tx.NewSelect().Model(&model).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errs.NotFound("stream %q", id)
			}
			return errs.Storage("select stream", err)
		}
		current := Status(model.Status)
		if current.IsTerminal() {
			result = model.toDomain()
			return nil
		}

		now := time.Now().UTC()
		q := tx.NewUpdate().Model((*streamModel)(nil)).Where("id = ?", id).Set("status = ?", string(newStatus))
		if newStatus == StatusRunning && !model.StartedAt.Valid {
			q = q.Set("started_at = ?", timeToMillis(now))
		}
		if newStatus.IsTerminal() {
			q = q.Set("finished_at = ?", timeToMillis(now))
			if newStatus == StatusFailed {
				q = q.Set("error = ?", update.Error)
			}
			if newStatus == StatusCancelled {
				q = q.Set("cancel_requested_at = ?", timeToMillis(now))
			}
		}
		if _, err := q.Exec(ctx); err != nil {
			return errs.Storage("update stream status", err)
		}
		if err := tx.NewSelect().Model(&model).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
			return errs.Storage("reselect stream", err)
		}
		result = model.toDomain()
		return nil
	})
	if err != nil {
		return Stream{}, err
	}
	return result, nil
}

// AppendChunks batch-inserts chunks preserving input order. An empty
// batch is a no-op.
func (s *Store) AppendChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	models := make([]*chunkModel, 0, len(chunks))
	for _, c := range chunks {
		m, err := chunkModelFrom(c)
		if err != nil {
			return errs.Validation("encode chunk data: %v", err)
		}
		models = append(models, m)
	}
	_, err := s.db.Write().NewInsert().Model(&models).Exec(ctx)
	if isUniqueViolation(err) {
		return errs.Conflict("duplicate chunk seq in stream")
	}
	if err != nil {
		return errs.Storage("append chunks", err)
	}
	return nil
}

// GetChunks returns chunks with seq >= fromSeq in ascending seq order.
// limit > 0 caps the result; limit == 0 returns an empty slice (the
// documented boundary behavior); limit < 0 means unlimited.
func (s *Store) GetChunks(ctx context.Context, streamID string, fromSeq int64, limit int) ([]Chunk, error) {
	var models []chunkModel
	q := s.db.Read().NewSelect().Model(&models).
		Where("stream_id = ? AND seq >= ?", streamID, fromSeq).
		OrderExpr("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	} else if limit == 0 {
		return []Chunk{}, nil
	}
	if err := q.Scan(ctx); err != nil {
		return nil, errs.Storage("select chunks", err)
	}
	out := make([]Chunk, 0, len(models))
	for _, m := range models {
		c, err := m.toDomain()
		if err != nil {
			return nil, errs.Storage("decode chunk", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// DeleteStream removes the stream and cascades to its chunks.
func (s *Store) DeleteStream(ctx context.Context, id string) error {
	_, err := s.db.Write().NewDelete().Model((*streamModel)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return errs.Storage("delete stream", err)
	}
	return nil
}

// ReopenStream atomically transitions a terminal stream back to
// queued, clearing startedAt/finishedAt/cancelRequestedAt/error and
// deleting all of its chunks. Fails with Conflict for a queued/running
// stream, NotFound for an unknown id.
func (s *Store) ReopenStream(ctx context.Context, id string) (Stream, error) {
	var result Stream
	err := s.db.Write().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var model streamModel
		if err := tx.NewSelect().Model(&model).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errs.NotFound("stream %q", id)
			}
			return errs.Storage("select stream", err)
		}
		if !Status(model.Status).IsTerminal() {
			return errs.Conflict("stream %q is not in a terminal state (status=%s)", id, model.Status)
		}
		if _, err := tx.NewUpdate().Model((*streamModel)(nil)).Where("id = ?", id).
			Set("status = ?", string(StatusQueued)).
			Set("started_at = NULL").
			Set("finished_at = NULL").
			Set("cancel_requested_at = NULL").
			Set("error = NULL").
			Exec(ctx); err != nil {
			return errs.Storage("reopen stream", err)
		}
		if _, err := tx.NewDelete().Model((*chunkModel)(nil)).Where("stream_id = ?", id).Exec(ctx); err != nil {
			return errs.Storage("delete chunks on reopen", err)
		}
		if err := tx.NewSelect().Model(&model).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
			return errs.Storage("reselect stream", err)
		}
		result = model.toDomain()
		return nil
	})
	if err != nil {
		return Stream{}, err
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToUpper(err.Error()), "UNIQUE CONSTRAINT")
}
