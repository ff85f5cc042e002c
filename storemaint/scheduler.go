// Package storemaint runs periodic housekeeping over the store: it
// reopens streams that were left stuck in running after a producer
// crashed mid-write without ever observing cancellation, and vacuums
// orphaned stream_chunks rows whose parent stream no longer exists.
// Grounded on mercator-hq-jupiter's pkg/evidence/retention.Scheduler
// (robfig/cron/v3, context-bound Start/Stop, slog component logger),
// the closest analog in the pack to a store maintenance job.
package storemaint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"convostore/internal/sqlitestore"
	"convostore/stream"
)

// Config controls when maintenance runs and what counts as "stuck".
type Config struct {
	// Schedule is a standard 5-field cron expression. Empty disables
	// the scheduler.
	Schedule string
	// StuckRunningAfter is how long a stream may sit in `running`
	// with no new chunks before a sweep reopens it back to `queued`.
	StuckRunningAfter time.Duration
}

// DefaultConfig runs a sweep every 10 minutes, reopening streams stuck
// running for more than 30 minutes.
func DefaultConfig() Config {
	return Config{Schedule: "*/10 * * * *", StuckRunningAfter: 30 * time.Minute}
}

// Scheduler periodically sweeps the store for stuck streams.
type Scheduler struct {
	db     *sqlitestore.Store
	store  *stream.Store
	cfg    Config
	cron   *cron.Cron
	log    *slog.Logger
	mu     sync.Mutex
	active bool
}

// New builds a Scheduler.
func New(db *sqlitestore.Store, store *stream.Store, cfg Config, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{db: db, store: store, cfg: cfg, cron: cron.New(), log: log.With("component", "storemaint")}
}

// Start registers the sweep job and begins running it on cfg.Schedule.
// It stops automatically when ctx is cancelled. A blank Schedule is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Schedule == "" {
		s.log.Info("maintenance schedule not configured, skipping")
		return nil
	}
	if _, err := cron.ParseStandard(s.cfg.Schedule); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", s.cfg.Schedule, err)
	}

	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		s.runSweep(ctx)
	}); err != nil {
		return fmt.Errorf("schedule maintenance sweep: %w", err)
	}

	s.cron.Start()
	s.active = true
	s.log.Info("maintenance scheduler started", "schedule", s.cfg.Schedule, "stuck_after", s.cfg.StuckRunningAfter)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the scheduler; safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.cron.Stop()
	s.active = false
	s.log.Info("maintenance scheduler stopped")
}

func (s *Scheduler) runSweep(ctx context.Context) {
	reopened, err := s.reopenStuckStreams(ctx)
	if err != nil {
		s.log.Error("stuck-stream sweep failed", "error", err)
		return
	}
	if reopened > 0 {
		s.log.Info("reopened stuck streams", "count", reopened)
	}
	if err := s.vacuumOrphanChunks(ctx); err != nil {
		s.log.Error("orphan chunk vacuum failed", "error", err)
	}
}

// stuckStreamError is the error recorded on a stuck stream when a
// sweep marks it failed before reopening it.
const stuckStreamError = "stuck in running; reopened by maintenance sweep"

// reopenStuckStreams finds streams in `running` whose most recent
// chunk (or creation, if none) is older than StuckRunningAfter and
// reopens them back to `queued` so a new producer attempt can resume.
func (s *Scheduler) reopenStuckStreams(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.StuckRunningAfter).UTC().UnixMilli()

	var ids []string
	err := s.db.Read().NewRaw(`
		SELECT s.id FROM streams s
		WHERE s.status = 'running'
		  AND COALESCE(
		        (SELECT MAX(c.created_at) FROM stream_chunks c WHERE c.stream_id = s.id),
		        s.started_at,
		        s.created_at
		      ) < ?
	`, cutoff).Scan(ctx, &ids)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		// ReopenStream only accepts terminal streams, so the stuck stream
		// is first marked failed; a stream that reached another terminal
		// state in the meantime is left alone.
		st, err := s.store.UpdateStreamStatus(ctx, id, stream.StatusFailed, stream.StatusUpdate{Error: stuckStreamError})
		if err != nil {
			s.log.Warn("failed to mark stuck stream failed", "stream_id", id, "error", err)
			continue
		}
		if st.Status != stream.StatusFailed || st.Error != stuckStreamError {
			continue
		}
		if _, err := s.store.ReopenStream(ctx, id); err != nil {
			s.log.Warn("failed to reopen stuck stream", "stream_id", id, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

// vacuumOrphanChunks removes stream_chunks rows whose parent stream no
// longer exists. Foreign-key cascade normally keeps this empty; this
// is a defensive sweep for rows written before foreign_keys was
// enabled on a connection, or restored from a partial backup.
func (s *Scheduler) vacuumOrphanChunks(ctx context.Context) error {
	_, err := s.db.Write().NewDelete().
		Table("stream_chunks").
		Where("stream_id NOT IN (SELECT id FROM streams)").
		Exec(ctx)
	return err
}
