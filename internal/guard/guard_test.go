package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "remindbot/pkg/logx"
)

type fakeConsumer struct {
	mu    sync.Mutex
	calls []string

	stopErr    error
	dropErr    error
	restartErr error

	restartTimeout time.Duration
}

func (c *fakeConsumer) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "stop")
	return c.stopErr
}

func (c *fakeConsumer) DropPendingUpdates(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "drop")
	return c.dropErr
}

func (c *fakeConsumer) Restart(_ context.Context, pollTimeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "restart")
	c.restartTimeout = pollTimeout
	return c.restartErr
}

func fastConfig() Config {
	return Config{
		SettleDelay:         time.Millisecond,
		ClearDelay:          time.Millisecond,
		RecoveryPollTimeout: 30 * time.Second,
		MaxRecoveries:       3,
	}
}

func TestRecoverRunsFullSequence(t *testing.T) {
	t.Parallel()
	c := &fakeConsumer{}
	g := New(fastConfig(), c, logx.Nop())

	if err := g.Recover(context.Background(), errors.New("conflict")); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	want := []string{"stop", "drop", "restart"}
	if len(c.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", c.calls, want)
	}
	for i := range want {
		if c.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", c.calls, want)
		}
	}
	if c.restartTimeout != 30*time.Second {
		t.Fatalf("restart poll timeout = %v, want 30s", c.restartTimeout)
	}
	if g.State() != StateNormal {
		t.Fatalf("state after recovery = %v, want normal", g.State())
	}
}

func TestRecoverToleratesStopAndDropErrors(t *testing.T) {
	t.Parallel()
	c := &fakeConsumer{
		stopErr: errors.New("already stopped"),
		dropErr: errors.New("api down"),
	}
	g := New(fastConfig(), c, logx.Nop())

	if err := g.Recover(context.Background(), errors.New("conflict")); err != nil {
		t.Fatalf("Recover should survive stop/drop errors: %v", err)
	}
	if len(c.calls) != 3 || c.calls[2] != "restart" {
		t.Fatalf("restart not reached: %v", c.calls)
	}
}

func TestRecoverFailsWhenRestartFails(t *testing.T) {
	t.Parallel()
	c := &fakeConsumer{restartErr: errors.New("token revoked")}
	g := New(fastConfig(), c, logx.Nop())

	if err := g.Recover(context.Background(), errors.New("conflict")); err == nil {
		t.Fatal("expected error when restart fails")
	}
}

func TestRecoveryExhaustion(t *testing.T) {
	t.Parallel()
	c := &fakeConsumer{}
	cfg := fastConfig()
	cfg.MaxRecoveries = 2
	g := New(cfg, c, logx.Nop())
	cause := errors.New("conflict")

	for i := 0; i < 2; i++ {
		if err := g.Recover(context.Background(), cause); err != nil {
			t.Fatalf("recovery %d: %v", i+1, err)
		}
	}
	if err := g.Recover(context.Background(), cause); err == nil {
		t.Fatal("expected exhaustion error after max recoveries")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	g := New(fastConfig(), &fakeConsumer{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	conflicts := make(chan error)
	go func() { done <- g.Run(ctx, conflicts) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestRunRecoversOnConflict(t *testing.T) {
	t.Parallel()
	c := &fakeConsumer{}
	g := New(fastConfig(), c, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conflicts := make(chan error, 1)
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx, conflicts) }()

	conflicts <- errors.New("Conflict: terminated by other getUpdates request")

	deadline := time.After(time.Second)
	for {
		c.mu.Lock()
		n := len(c.calls)
		c.mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("recovery did not complete, calls: %v", c.calls)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
