// Package stagnation implements the run loop's domain-specific circuit
// breaker (§4.5): a ring buffer over recent iteration outcomes that trips
// the loop to a stopped state to prevent wasted work. This is distinct from
// the generic request-level breaker in internal/errs, which guards a single
// upstream dependency rather than the loop's overall forward progress.
package stagnation

import "sync"

// Outcome is one iteration's recorded result.
type Outcome struct {
	TaskID        string
	Success       bool
	ErrorCategory string // empty on success
	Closed        bool   // whether the task transitioned to closed this iteration
}

// TripReason names which condition halted the loop, empty if none.
type TripReason string

const (
	NoTrip         TripReason = ""
	TripSameTask   TripReason = "same_task_failures"
	TripCrossTask  TripReason = "cross_task_non_retryable"
	TripNoProgress TripReason = "no_progress"
)

var nonRetryableCategories = map[string]bool{
	"harness_missing": true,
	"auth":            true,
}

// Config tunes the trip thresholds; zero values take the defaults from §4.5.
type Config struct {
	RingSize             int // N, default 5
	SameTaskFailures     int // K, default 3
	CrossTaskFailures    int // K, default 3
	NoProgressIterations int // M, default 10
}

func DefaultConfig() Config {
	return Config{RingSize: 5, SameTaskFailures: 3, CrossTaskFailures: 3, NoProgressIterations: 10}
}

// Breaker observes iteration outcomes and decides when the loop should halt.
type Breaker struct {
	mu     sync.Mutex
	cfg    Config
	ring   []Outcome
	sinceClose int // iterations since the last successful close
}

func NewBreaker(cfg Config) *Breaker {
	if cfg.RingSize <= 0 {
		cfg.RingSize = DefaultConfig().RingSize
	}
	if cfg.SameTaskFailures <= 0 {
		cfg.SameTaskFailures = DefaultConfig().SameTaskFailures
	}
	if cfg.CrossTaskFailures <= 0 {
		cfg.CrossTaskFailures = DefaultConfig().CrossTaskFailures
	}
	if cfg.NoProgressIterations <= 0 {
		cfg.NoProgressIterations = DefaultConfig().NoProgressIterations
	}
	return &Breaker{cfg: cfg}
}

// Record folds one iteration's outcome into the ring and resets the
// no-progress counter on any successful close.
func (b *Breaker) Record(o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring = append(b.ring, o)
	if len(b.ring) > b.cfg.RingSize {
		b.ring = b.ring[len(b.ring)-b.cfg.RingSize:]
	}
	if o.Closed {
		b.sinceClose = 0
	} else {
		b.sinceClose++
	}
}

// Check evaluates the current state and returns the first tripped reason.
func (b *Breaker) Check() TripReason {
	b.mu.Lock()
	defer b.mu.Unlock()

	if reason := b.checkSameTaskLocked(); reason != NoTrip {
		return reason
	}
	if reason := b.checkCrossTaskLocked(); reason != NoTrip {
		return reason
	}
	if b.sinceClose >= b.cfg.NoProgressIterations {
		return TripNoProgress
	}
	return NoTrip
}

func (b *Breaker) checkSameTaskLocked() TripReason {
	n := b.cfg.SameTaskFailures
	if len(b.ring) < n {
		return NoTrip
	}
	tail := b.ring[len(b.ring)-n:]
	taskID := tail[0].TaskID
	for _, o := range tail {
		if o.Success || o.TaskID != taskID {
			return NoTrip
		}
	}
	return TripSameTask
}

func (b *Breaker) checkCrossTaskLocked() TripReason {
	n := b.cfg.CrossTaskFailures
	if len(b.ring) < n {
		return NoTrip
	}
	tail := b.ring[len(b.ring)-n:]
	for _, o := range tail {
		if o.Success || !nonRetryableCategories[o.ErrorCategory] {
			return NoTrip
		}
	}
	return TripCrossTask
}
