package investigation

import (
	"context"
	"time"
)

// PollConfig controls the background pending-alert loop.
type PollConfig struct {
	Interval     time.Duration
	BatchSize    int
	ErrorBackoff time.Duration
}

// Poll processes a batch of pending alerts every Interval until ctx is
// cancelled. After a failed batch it waits ErrorBackoff instead.
func (s *Service) Poll(ctx context.Context, pc PollConfig) {
	if pc.Interval <= 0 {
		return
	}
	if pc.ErrorBackoff <= 0 {
		pc.ErrorBackoff = 2 * pc.Interval
	}

	s.logger.Info(ctx, "pending alert poller started",
		"interval", pc.Interval.String(),
		"batch_size", pc.BatchSize,
	)

	wait := pc.Interval
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(context.WithoutCancel(ctx), "pending alert poller stopped")
			return
		case <-time.After(wait):
		}

		results, err := s.ProcessPending(ctx, pc.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.logger.Error(ctx, err, "pending alert batch failed")
			wait = pc.ErrorBackoff
			continue
		}
		if len(results) > 0 {
			s.logger.Info(ctx, "pending alert batch processed", "count", len(results))
		}
		wait = pc.Interval
	}
}
