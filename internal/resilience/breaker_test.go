package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

// testBreaker returns a breaker with a controllable clock.
func testBreaker(cfg BreakerConfig) (*Breaker, *time.Time) {
	b := NewBreaker(cfg, nil)
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }
	return b, &now
}

func fail(b *Breaker) error { return b.Do(func() error { return errBackend }) }
func ok(b *Breaker) error   { return b.Do(func() error { return nil }) }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	b, _ := testBreaker(BreakerConfig{FailureThreshold: 3})

	for range 2 {
		if err := fail(b); !errors.Is(err, errBackend) {
			t.Fatalf("Do = %v, want backend error", err)
		}
	}
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state = %v before threshold, want closed", got)
	}

	fail(b)
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}
	if err := ok(b); !errors.Is(err, ErrOpen) {
		t.Errorf("Do while open = %v, want ErrOpen", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	b, _ := testBreaker(BreakerConfig{FailureThreshold: 2})

	fail(b)
	ok(b)
	fail(b)
	if got := b.State(); got != BreakerClosed {
		t.Errorf("state = %v, want closed after interleaved success", got)
	}
}

func TestBreaker_HalfOpenProbesClose(t *testing.T) {
	t.Parallel()
	b, now := testBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second, ProbeQuota: 2})

	fail(b)
	if err := ok(b); !errors.Is(err, ErrOpen) {
		t.Fatalf("Do while open = %v, want ErrOpen", err)
	}

	*now = now.Add(11 * time.Second)
	if got := b.State(); got != BreakerHalfOpen {
		t.Fatalf("state after reset timeout = %v, want half-open", got)
	}

	if err := ok(b); err != nil {
		t.Fatalf("first probe = %v", err)
	}
	if got := b.State(); got != BreakerHalfOpen {
		t.Fatalf("state after one probe = %v, want half-open", got)
	}
	if err := ok(b); err != nil {
		t.Fatalf("second probe = %v", err)
	}
	if got := b.State(); got != BreakerClosed {
		t.Errorf("state after probe quota = %v, want closed", got)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	b, now := testBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second, ProbeQuota: 2})

	fail(b)
	*now = now.Add(11 * time.Second)
	if err := fail(b); !errors.Is(err, errBackend) {
		t.Fatalf("probe = %v, want backend error", err)
	}
	if got := b.State(); got != BreakerOpen {
		t.Errorf("state after failed probe = %v, want open", got)
	}
	// The open window restarts from the failed probe.
	if err := ok(b); !errors.Is(err, ErrOpen) {
		t.Errorf("Do = %v, want ErrOpen", err)
	}
}

func TestBreaker_ProbeQuotaLimitsConcurrentProbes(t *testing.T) {
	t.Parallel()
	b, now := testBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second, ProbeQuota: 1})

	fail(b)
	*now = now.Add(2 * time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	go b.Do(func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	// The single probe slot is taken; further calls shed immediately.
	if err := ok(b); !errors.Is(err, ErrOpen) {
		t.Errorf("Do during in-flight probe = %v, want ErrOpen", err)
	}
	close(release)
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b, _ := testBreaker(BreakerConfig{FailureThreshold: 1})

	fail(b)
	b.Reset()
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state after Reset = %v, want closed", got)
	}
	if err := ok(b); err != nil {
		t.Errorf("Do after Reset = %v", err)
	}
}

func TestBreakerState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state BreakerState
		want  string
	}{
		{BreakerClosed, "closed"},
		{BreakerOpen, "open"},
		{BreakerHalfOpen, "half-open"},
		{BreakerState(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
