package voice

import (
	"context"
	"time"

	"go.uber.org/zap"

	"VoiceForge/pkg/logger"
	"VoiceForge/pkg/scheduler"
)

// Sweeper periodically fails clone jobs stuck in Pending, releasing their rate-limit slot.
type Sweeper struct {
	cron *scheduler.Cron
}

func NewSweeper(lc *Lifecycle, schedule string) (*Sweeper, error) {
	lg := logger.Named("voice.sweeper")
	cr := scheduler.NewCron(time.UTC, lg)
	_, err := cr.AddWithCtx(schedule, func(ctx context.Context) {
		n, err := lc.SweepStalePending(ctx)
		if err != nil {
			lg.Error("sweep stale clone jobs", zap.Error(err))
			return
		}
		if n > 0 {
			lg.Info("swept stale clone jobs", zap.Int64("count", n))
		}
	})
	if err != nil {
		return nil, err
	}
	return &Sweeper{cron: cr}, nil
}

func (s *Sweeper) Start() { s.cron.Start() }

func (s *Sweeper) Stop() { s.cron.Stop() }
