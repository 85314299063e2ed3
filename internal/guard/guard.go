// Package guard recovers the update consumer from Telegram getUpdates
// conflicts. Two instances polling the same token poison each other;
// the guard assumes the peer is a stale leftover, tears the consumer
// down, clears pending updates, and restarts polling with a longer
// timeout so the surviving instance wins the race.
package guard

import (
	"context"
	"fmt"
	"time"

	logx "remindbot/pkg/logx"
)

// Consumer is the slice of the transport adapter the guard drives.
type Consumer interface {
	Stop(ctx context.Context) error
	DropPendingUpdates(ctx context.Context) error
	Restart(ctx context.Context, pollTimeout time.Duration) error
}

type State int32

const (
	StateNormal State = iota
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

type Config struct {
	// SettleDelay is the pause after stopping the consumer, letting the
	// conflicting peer's long poll expire.
	SettleDelay time.Duration
	// ClearDelay is the pause after dropping pending updates, before
	// polling resumes.
	ClearDelay time.Duration
	// RecoveryPollTimeout is the long-poll timeout used after recovery.
	RecoveryPollTimeout time.Duration
	// MaxRecoveries bounds recovery attempts per process lifetime;
	// beyond it the guard gives up and reports a fatal error.
	MaxRecoveries int
}

func (c Config) withDefaults() Config {
	if c.SettleDelay <= 0 {
		c.SettleDelay = 5 * time.Second
	}
	if c.ClearDelay <= 0 {
		c.ClearDelay = 3 * time.Second
	}
	if c.RecoveryPollTimeout <= 0 {
		c.RecoveryPollTimeout = 30 * time.Second
	}
	if c.MaxRecoveries <= 0 {
		c.MaxRecoveries = 5
	}
	return c
}

type Guard struct {
	cfg      Config
	consumer Consumer
	log      logx.Logger

	state      State
	recoveries int
}

func New(cfg Config, consumer Consumer, log logx.Logger) *Guard {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Guard{cfg: cfg.withDefaults(), consumer: consumer, log: log}
}

func (g *Guard) State() State    { return g.state }
func (g *Guard) Recoveries() int { return g.recoveries }

// Run consumes conflict reports until ctx is done. A non-nil return
// other than ctx.Err() means recovery is exhausted and the process
// should shut down.
func (g *Guard) Run(ctx context.Context, conflicts <-chan error) error {
	g.log.Info("instance-conflict guard started",
		logx.Int("max_recoveries", g.cfg.MaxRecoveries))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-conflicts:
			if !ok {
				return nil
			}
			if rerr := g.Recover(ctx, err); rerr != nil {
				return rerr
			}
		}
	}
}

// Recover runs one recovery cycle: stop, settle, drop pending updates,
// clear, restart with the recovery poll timeout.
func (g *Guard) Recover(ctx context.Context, cause error) error {
	if g.state == StateRecovering {
		g.log.Debug("conflict reported during recovery, ignored")
		return nil
	}

	g.recoveries++
	if g.recoveries > g.cfg.MaxRecoveries {
		g.log.Error("conflict recovery exhausted, another instance is likely running",
			logx.Int("attempts", g.recoveries-1), logx.Err(cause))
		return fmt.Errorf("getUpdates conflict persists after %d recoveries: %w",
			g.cfg.MaxRecoveries, cause)
	}

	g.state = StateRecovering
	defer func() { g.state = StateNormal }()

	g.log.Warn("getUpdates conflict detected, starting recovery",
		logx.Int("attempt", g.recoveries),
		logx.Int("max", g.cfg.MaxRecoveries),
		logx.Err(cause))

	if err := g.consumer.Stop(ctx); err != nil {
		g.log.Warn("consumer stop during recovery", logx.Err(err))
	}
	if err := sleep(ctx, g.cfg.SettleDelay); err != nil {
		return err
	}

	if err := g.consumer.DropPendingUpdates(ctx); err != nil {
		g.log.Warn("pending updates not dropped", logx.Err(err))
	} else {
		g.log.Info("pending updates dropped")
	}
	if err := sleep(ctx, g.cfg.ClearDelay); err != nil {
		return err
	}

	if err := g.consumer.Restart(ctx, g.cfg.RecoveryPollTimeout); err != nil {
		g.log.Error("consumer restart failed", logx.Err(err))
		return fmt.Errorf("restart after conflict recovery: %w", err)
	}

	g.log.Info("conflict recovery completed, polling resumed",
		logx.Duration("poll_timeout", g.cfg.RecoveryPollTimeout))
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
