package streammanager

import (
	"context"
	"sync"
	"time"

	"convostore/internal/errs"
	"convostore/storeconfig"
	"convostore/stream"
)

// Manager is the StreamManager: register/persist/watch/cancel/cleanup
// over a StreamStore, coordinating the drain loop and cancellation
// probe that §4.E.2 requires.
type Manager struct {
	streams   *stream.Store
	cfg       storeconfig.Config
	telemetry TelemetrySink
}

// New builds a Manager over streams, using cfg's polling/batching
// defaults. A nil sink discards telemetry events.
func New(streams *stream.Store, cfg storeconfig.Config, sink TelemetrySink) *Manager {
	if sink == nil {
		sink = noopSink{}
	}
	return &Manager{streams: streams, cfg: cfg, telemetry: sink}
}

// Register calls upsertStream with a fresh queued record. Idempotent;
// never resets a terminal stream.
func (m *Manager) Register(ctx context.Context, streamID string) (RegisterResult, error) {
	st, created, err := m.streams.UpsertStream(ctx, stream.Stream{
		ID:        streamID,
		Status:    stream.StatusQueued,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return RegisterResult{}, err
	}
	return RegisterResult{Stream: st, Created: created}, nil
}

// Cancel transitions the stream to cancelled. No-op if already terminal.
func (m *Manager) Cancel(ctx context.Context, streamID string) error {
	status, err := m.streams.GetStreamStatus(ctx, streamID)
	if err != nil {
		return err
	}
	if status.IsTerminal() {
		return nil
	}
	_, err = m.streams.UpdateStreamStatus(ctx, streamID, stream.StatusCancelled, stream.StatusUpdate{})
	return err
}

// Cleanup deletes the stream and its chunks.
func (m *Manager) Cleanup(ctx context.Context, streamID string) error {
	return m.streams.DeleteStream(ctx, streamID)
}

// Reopen delegates to StreamStore.reopenStream.
func (m *Manager) Reopen(ctx context.Context, streamID string) (RegisterResult, error) {
	st, err := m.streams.ReopenStream(ctx, streamID)
	if err != nil {
		return RegisterResult{}, err
	}
	return RegisterResult{Stream: st, Created: true}, nil
}

// Persist drains source into the log, coordinating the drain loop
// with a concurrent cancellation probe per §4.E.2. It returns nil on
// normal completion or observed cancellation; it returns the
// producer's error (wrapped) on source/flush failure.
func (m *Manager) Persist(ctx context.Context, source ChunkSource, streamID string, opts PersistOptions) error {
	status, err := m.streams.GetStreamStatus(ctx, streamID)
	if err != nil {
		return err
	}
	if status.IsTerminal() {
		return nil
	}
	if _, err := m.streams.UpdateStreamStatus(ctx, streamID, stream.StatusRunning, stream.StatusUpdate{}); err != nil {
		return err
	}

	done := make(chan struct{})
	cancelled := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.cancelProbe(ctx, streamID, done, cancelled, opts.CancelOverride)
	}()

	drainErr := m.drainLoop(ctx, source, streamID, opts.BatchOverride, cancelled)
	close(done)
	wg.Wait()

	if drainErr != nil {
		m.streams.UpdateStreamStatus(context.Background(), streamID, stream.StatusFailed, stream.StatusUpdate{Error: drainErr.Error()})
		return drainErr
	}

	select {
	case <-cancelled:
		// The probe observed the cancellation; Cancel already set the
		// stream's status, and persist must not overwrite it.
		return nil
	default:
	}

	if _, err := m.streams.UpdateStreamStatus(ctx, streamID, stream.StatusCompleted, stream.StatusUpdate{}); err != nil {
		return err
	}
	return nil
}

func (m *Manager) drainLoop(ctx context.Context, source ChunkSource, streamID string, override *BatchStrategy, cancelled <-chan struct{}) error {
	strategy, maxSize, maxInterval := m.cfg.PersistBatch.Strategy, m.cfg.PersistBatch.MaxSize, m.cfg.PersistBatch.MaxInterval
	if override != nil {
		strategy = override.Strategy
		maxSize = override.MaxSize
		maxInterval = time.Duration(override.MaxInterval) * time.Millisecond
	}

	var pending []stream.Chunk
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := m.streams.AppendChunks(ctx, pending); err != nil {
			return errs.Storage("flush stream chunks", err)
		}
		pending = pending[:0]
		return nil
	}

	seq := int64(0)
	lastFlush := time.Now()

	for {
		select {
		case <-cancelled:
			return flush()
		default:
		}

		data, ok, err := source.Next(ctx)
		if err != nil {
			if ferr := flush(); ferr != nil {
				return ferr
			}
			return errs.ProducerFailure(err)
		}
		if !ok {
			return flush()
		}

		pending = append(pending, stream.Chunk{StreamID: streamID, Seq: seq, Data: data, CreatedAt: time.Now().UTC()})
		seq++

		full := maxSize > 0 && len(pending) >= maxSize
		stale := maxInterval > 0 && time.Since(lastFlush) >= maxInterval
		if strategy == "immediate" || full || stale {
			if err := flush(); err != nil {
				return err
			}
			lastFlush = time.Now()
		}
	}
}

// cancelProbe polls getStreamStatus on the adaptive schedule until it
// observes a terminal status (closing `cancelled` if that status is
// cancelled) or until `done` closes, signalling the drain loop has
// already exited and no further polling is useful.
func (m *Manager) cancelProbe(ctx context.Context, streamID string, done <-chan struct{}, cancelled chan<- struct{}, override *PollOverride) {
	cfg := m.cfg.CancelPoll
	if override != nil {
		cfg = applyOverride(cfg, override)
	}
	ps := newPollState(cfg)
	minInterval := m.cfg.CancelPollMinInterval

	for {
		delay := ps.nextDelay()
		if delay < minInterval {
			delay = minInterval
		}
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		status, err := m.streams.GetStreamStatus(ctx, streamID)
		if err != nil {
			continue
		}
		if status == stream.StatusCancelled {
			close(cancelled)
			return
		}
		if status.IsTerminal() {
			return
		}
	}
}

// Watch returns a lazy channel of chunk payloads per §4.E.3. The
// channel is closed when the stream reaches a terminal state with no
// further chunks, or is deleted mid-watch. Cancelling ctx detaches the
// reader without mutating the stream.
func (m *Manager) Watch(ctx context.Context, streamID string, opts WatchOptions) (<-chan Event, error) {
	if _, err := m.streams.GetStreamStatus(ctx, streamID); err != nil {
		return nil, err
	}

	out := make(chan Event)
	go m.watchLoop(ctx, streamID, opts, out)
	return out, nil
}

func (m *Manager) watchLoop(ctx context.Context, streamID string, opts WatchOptions, out chan<- Event) {
	defer close(out)

	cfg := m.cfg.WatchPoll
	if opts.PollOverride != nil {
		cfg = applyOverride(cfg, opts.PollOverride)
	}
	pageSize := m.cfg.ChunkPageSize
	if opts.ChunkPageSize > 0 {
		pageSize = opts.ChunkPageSize
	}
	statusCheckEvery := m.cfg.StatusCheckEvery
	if opts.StatusCheckEvery > 0 {
		statusCheckEvery = opts.StatusCheckEvery
	}

	ps := newPollState(cfg)
	fromSeq := int64(0)
	iteration := 0

	for {
		chunks, err := m.streams.GetChunks(ctx, streamID, fromSeq, pageSize)
		if err != nil {
			if errs.Is(err, errs.KindNotFound) {
				return
			}
			sendEvent(ctx, out, Event{Err: err})
			return
		}

		if len(chunks) > 0 {
			for _, c := range chunks {
				if !sendEvent(ctx, out, Event{Data: c.Data}) {
					return
				}
				fromSeq = c.Seq + 1
			}
			ps.onActivity()
			m.telemetry.Observe(TelemetryEvent{Type: "watch:chunks"})
			if len(chunks) == pageSize {
				continue
			}
		}

		iteration++
		checkStatus := len(chunks) == 0 || iteration%max(statusCheckEvery, 1) == 0
		if checkStatus {
			status, err := m.streams.GetStreamStatus(ctx, streamID)
			if err != nil {
				if errs.Is(err, errs.KindNotFound) {
					return
				}
				sendEvent(ctx, out, Event{Err: err})
				return
			}
			if status.IsTerminal() {
				more, err := m.streams.GetChunks(ctx, streamID, fromSeq, 1)
				if err != nil || len(more) == 0 {
					return
				}
				continue
			}
		}

		delay := ps.nextDelay()
		m.telemetry.Observe(TelemetryEvent{Type: "watch:empty", DelayMs: delay.Milliseconds()})
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func sendEvent(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func applyOverride(cfg storeconfig.PollConfig, override *PollOverride) storeconfig.PollConfig {
	if override.MinMs > 0 {
		cfg.MinMs = override.MinMs
	}
	if override.MaxMs > 0 {
		cfg.MaxMs = override.MaxMs
	}
	if override.Multiplier > 0 {
		cfg.Multiplier = override.Multiplier
	}
	if override.JitterRatio > 0 {
		cfg.JitterRatio = override.JitterRatio
	}
	return cfg
}
