package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SweepResult contains the outcome of one maintenance pass.
type SweepResult struct {
	QueueAttempted int
	QueueSucceeded int
	ProgressPurged int
}

// Sweep retries pending queued commits and drops expired progress snapshots.
func (s *Server) Sweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}

	if s.queue != nil {
		attempted, succeeded, err := s.queue.ProcessPending(ctx)
		if err != nil {
			return nil, fmt.Errorf("process pending commits: %w", err)
		}
		result.QueueAttempted = attempted
		result.QueueSucceeded = succeeded
	}

	if s.state != nil {
		n, err := s.state.PurgeExpiredProgress(time.Now())
		if err != nil {
			return nil, fmt.Errorf("purge progress: %w", err)
		}
		result.ProgressPurged = n
	}

	s.limiter.sweep()

	if result.QueueAttempted > 0 || result.ProgressPurged > 0 {
		s.logger.Info("sweep complete",
			zap.Int("attempted", result.QueueAttempted),
			zap.Int("succeeded", result.QueueSucceeded),
			zap.Int("purged", result.ProgressPurged),
		)
	}

	return result, nil
}

// runSweeper calls Sweep every interval until ctx is done. Failures are
// logged and retried on the next tick.
func (s *Server) runSweeper(ctx context.Context) error {
	if s.opts.SweepInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// runRefresher keeps the token service session alive.
func (s *Server) runRefresher(ctx context.Context) error {
	if s.refresher == nil || s.opts.RefreshInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			refreshed, err := s.refresher.RefreshIfDue(ctx)
			if err != nil {
				s.logger.Warn("token refresh failed", zap.Error(err))
				continue
			}
			if refreshed {
				s.logger.Info("token refreshed")
			}
		}
	}
}
