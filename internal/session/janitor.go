package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Janitor periodically removes expired sessions from a Purger.
type Janitor struct {
	purger   Purger
	interval time.Duration
	now      func() time.Time
	log      *zap.Logger
}

func NewJanitor(p Purger, interval time.Duration, log *zap.Logger) *Janitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Janitor{purger: p, interval: interval, now: time.Now, log: log}
}

// Run blocks until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	t := time.NewTicker(j.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	n, err := j.purger.PurgeExpired(ctx, j.now())
	if err != nil {
		j.log.Warn("purge expired sessions", zap.Error(err))
		return
	}
	if n > 0 {
		j.log.Debug("purged expired sessions", zap.Int64("count", n))
	}
}
