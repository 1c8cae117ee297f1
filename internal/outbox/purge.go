package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Purger deletes sent events older than the retention window on a cron
// schedule.
type Purger struct {
	logger    *zap.Logger
	store     Store
	retention time.Duration
	now       func() time.Time
}

func NewPurger(logger *zap.Logger, store Store, retention time.Duration) *Purger {
	return &Purger{logger: logger, store: store, retention: retention, now: time.Now}
}

func (p *Purger) Purge(ctx context.Context) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PurgeSent(ctx, cutoff)
	if err != nil {
		p.logger.Error("outbox purge failed", zap.Error(err))
		return
	}
	if n > 0 {
		p.logger.Info("outbox purged", zap.Int64("rows", n), zap.Time("cutoff", cutoff))
	}
}

// Run schedules Purge and blocks until ctx is done.
func (p *Purger) Run(ctx context.Context, schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { p.Purge(ctx) }); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
