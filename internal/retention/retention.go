// Package retention prunes expired message records on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/JushBJJ/Wormhole/common/logger"
	"github.com/JushBJJ/Wormhole/internal/metrics"
)

var ErrInvalidCron = errors.New("invalid cron expression")

// errorBackoff is the wait after the schedule cannot produce a next tick.
const errorBackoff = 30 * time.Second

// MessagePruner deletes records created before cutoff and reports how many went.
type MessagePruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type Config struct {
	Cron   string
	Period time.Duration
}

type Pruner struct {
	messages MessagePruner
	cfg      Config
	now      func() time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(messages MessagePruner, cfg Config) (*Pruner, error) {
	if !gronx.IsValid(cfg.Cron) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCron, cfg.Cron)
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("retention period must be positive, got %s", cfg.Period)
	}
	return &Pruner{
		messages:  messages,
		cfg:       cfg,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}, nil
}

func (p *Pruner) WithClock(now func() time.Time) *Pruner {
	p.now = now
	return p
}

// Run prunes on every cron tick. Blocks until ctx is done or Stop is called.
func (p *Pruner) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "wormhole.retention"})
	defer close(p.stoppedCh)

	slog.InfoContext(ctx, "retention started", "cron", p.cfg.Cron, "period", p.cfg.Period)

	for {
		wait := errorBackoff
		next, err := gronx.NextTickAfter(p.cfg.Cron, p.now(), false)
		if err != nil {
			slog.ErrorContext(ctx, "failed to compute next retention tick", "error", err)
		} else {
			wait = max(next.Sub(p.now()), time.Second)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.stopCh:
			timer.Stop()
			slog.InfoContext(ctx, "retention stopping")
			return
		case <-timer.C:
			if err == nil {
				if _, err := p.PruneOnce(ctx); err != nil {
					slog.ErrorContext(ctx, "retention cycle error", "error", err)
				}
			}
		}
	}
}

func (p *Pruner) Stop() {
	close(p.stopCh)
	<-p.stoppedCh
}

// PruneOnce removes records older than the retention period.
func (p *Pruner) PruneOnce(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.cfg.Period)
	start := time.Now()

	n, err := p.messages.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning messages before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	metrics.RecordsPruned.Add(float64(n))

	slog.InfoContext(ctx, "message records pruned",
		"count", n,
		"cutoff", cutoff,
		"duration_ms", time.Since(start).Milliseconds())
	return n, nil
}
