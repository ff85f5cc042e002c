// Package streammanager wraps StreamStore with the producer/consumer
// surface host applications actually call: persisting a live source
// into the log, watching the log back out, and cancelling/cleaning up.
// It is grounded on the teacher's chat/service.go activeGeneration
// pattern (a context.CancelFunc held alongside a running goroutine,
// looked up from a sync.Map by id) generalized from one LLM-specific
// streaming loop into a generic chunk-source persistence pipeline, and
// on retrieval/service.go's use of sync.WaitGroup for the two
// concurrent responsibilities persist() must coordinate.
package streammanager

import (
	"math/rand"
	"time"

	"convostore/storeconfig"
)

// pollState is the pure adaptive-polling state machine described in
// §4.F: a delay that resets to min on activity and grows by
// multiplier (capped at max) on idleness, with bounded additive
// jitter. It holds no I/O; watch and the persist cancel-probe each own
// one instance and call nextDelay directly on their own goroutine.
type pollState struct {
	cfg     storeconfig.PollConfig
	current time.Duration
}

func newPollState(cfg storeconfig.PollConfig) *pollState {
	return &pollState{cfg: cfg, current: time.Duration(cfg.MinMs) * time.Millisecond}
}

// onActivity resets the schedule to the minimum interval, called after
// a non-empty page (watch) or whenever there's no need to wait longer.
func (p *pollState) onActivity() {
	p.current = time.Duration(p.cfg.MinMs) * time.Millisecond
}

// nextDelay returns the delay to sleep before the next poll, then
// grows the schedule geometrically (capped at maxMs) for the
// following call — callers that observed activity should call
// onActivity instead of relying on nextDelay to shrink the interval.
func (p *pollState) nextDelay() time.Duration {
	minD := time.Duration(p.cfg.MinMs) * time.Millisecond
	maxD := time.Duration(p.cfg.MaxMs) * time.Millisecond

	delay := p.current
	if delay < minD {
		delay = minD
	}
	if delay > maxD {
		delay = maxD
	}

	jittered := applyJitter(delay, p.cfg.JitterRatio, maxD)

	grown := time.Duration(float64(p.current) * p.cfg.Multiplier)
	if grown > maxD {
		grown = maxD
	}
	if grown < minD {
		grown = minD
	}
	p.current = grown

	return jittered
}

// applyJitter adds random additive jitter in [0, delay*jitterRatio],
// never exceeding cap even at maximum jitter.
func applyJitter(delay time.Duration, jitterRatio float64, cap time.Duration) time.Duration {
	if jitterRatio <= 0 {
		return delay
	}
	maxJitter := float64(delay) * jitterRatio
	jittered := delay + time.Duration(rand.Float64()*maxJitter)
	if jittered > cap {
		return cap
	}
	return jittered
}
