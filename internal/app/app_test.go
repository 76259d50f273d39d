package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mynah-ai/mynah/internal/config"
	"github.com/mynah-ai/mynah/internal/health"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) (*App, *Manager) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Server.OpsAddr = "127.0.0.1:0"
	cfg.Server.ShutdownGrace = config.Duration(200 * time.Millisecond)
	if mutate != nil {
		mutate(cfg)
	}
	m := NewManager(cfg, nil, testAgents(t), testProviders(), Memory{}, nil, nil)
	return New(cfg, m, []health.Checker{}, nil), m
}

func TestApp_RunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	a, _ := newTestApp(t, nil)

	var mu sync.Mutex
	var order []string
	a.AddCloser(func() error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "first")
		return nil
	})
	a.AddCloser(func() error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "second")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Errorf("closer order = %v, want reverse registration order", order)
	}
}

func TestApp_ShutdownForcesLingeringSessions(t *testing.T) {
	t.Parallel()
	a, m := newTestApp(t, func(cfg *config.Config) {
		cfg.Server.ShutdownGrace = config.Duration(100 * time.Millisecond)
	})

	if _, err := m.Open(context.Background(), "concierge"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return; sessions were not forced closed")
	}
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after shutdown", m.ActiveCount())
	}
}

func TestApp_ShutdownIsIdempotent(t *testing.T) {
	t.Parallel()
	a, _ := newTestApp(t, nil)
	calls := 0
	a.AddCloser(func() error { calls++; return nil })

	a.Shutdown()
	a.Shutdown()
	if calls != 1 {
		t.Errorf("closer ran %d times, want 1", calls)
	}
}
