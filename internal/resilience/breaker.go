// Package resilience guards slow or flaky dependencies with a three-state
// circuit breaker so a sick backend degrades the pipeline instead of
// stalling it.
//
// The knowledge-base retriever is the main customer: a tripped breaker makes
// retrieval fail fast and generation proceeds with an empty context rather
// than holding a turn hostage to database timeouts.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned without invoking the guarded call while the breaker
// is open.
var ErrOpen = errors.New("resilience: breaker open")

// BreakerState is the breaker's operating mode.
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects every call with ErrOpen until the reset timeout
	// elapses.
	BreakerOpen

	// BreakerHalfOpen lets a bounded number of probe calls through to test
	// whether the dependency has recovered.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a Breaker. Zero values take defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// FailureThreshold is how many consecutive failures trip the breaker.
	// Default 5.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default 30s.
	ResetTimeout time.Duration

	// ProbeQuota is how many successful half-open probes close the breaker
	// again. Default 2. Any half-open failure re-opens immediately.
	ProbeQuota int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.ProbeQuota <= 0 {
		c.ProbeQuota = 2
	}
	return c
}

// Breaker is a three-state circuit breaker. Safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig
	log *slog.Logger
	now func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probes   int
	probeOK  int
}

// NewBreaker returns a closed Breaker.
func NewBreaker(cfg BreakerConfig, log *slog.Logger) *Breaker {
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{
		cfg: cfg.withDefaults(),
		log: log.With("breaker", cfg.Name),
		now: time.Now,
	}
}

// Do invokes fn when the breaker permits it and feeds the outcome back into
// the breaker state. When the breaker is open, fn is not called and Do
// returns ErrOpen.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	callErr := fn()
	b.observe(callErr, probe)
	return callErr
}

// State reports the current state, accounting for an elapsed reset timeout.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toClosed()
}

// admit decides whether a call may proceed. The probe flag marks calls made
// in the half-open state.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return false, nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrOpen
		}
		b.state = BreakerHalfOpen
		b.probes = 0
		b.probeOK = 0
		b.log.Info("breaker half-open, probing")
		fallthrough
	default: // half-open
		if b.probes >= b.cfg.ProbeQuota {
			return false, ErrOpen
		}
		b.probes++
		return true, nil
	}
}

// observe records a call outcome.
func (b *Breaker) observe(callErr error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if callErr != nil {
		if probe {
			b.toOpen()
			b.log.Warn("breaker re-opened, probe failed", "error", callErr)
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.toOpen()
			b.log.Warn("breaker opened", "failures", b.failures, "error", callErr)
		}
		return
	}

	if probe {
		b.probeOK++
		if b.probeOK >= b.cfg.ProbeQuota {
			b.toClosed()
			b.log.Info("breaker closed, dependency recovered")
		}
		return
	}
	b.failures = 0
}

func (b *Breaker) toOpen() {
	b.state = BreakerOpen
	b.openedAt = b.now()
}

func (b *Breaker) toClosed() {
	b.state = BreakerClosed
	b.failures = 0
	b.probes = 0
	b.probeOK = 0
}
