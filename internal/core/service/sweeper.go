package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/elidria/stock-reserve/internal/core/domain"
)

// DefaultSweepInterval matches the original five-minute cleanup schedule.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically deletes expired, unconfirmed reservations.
type Sweeper struct {
	svc      *ReservationService
	interval time.Duration
	log      *zap.Logger
}

func NewSweeper(svc *ReservationService, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{svc: svc, interval: interval, log: log}
}

// Run blocks until ctx is cancelled, sweeping once per interval. Overlapping
// triggers are serialized by the global cleanup lock; losing that race is not
// an error.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.svc.CleanupExpired(ctx)
			switch {
			case errors.Is(err, domain.ErrSweepBusy):
				s.log.Debug("sweep skipped, another sweep in progress")
			case err != nil:
				s.log.Error("cleanup sweep failed", zap.Error(err))
			case deleted > 0:
				s.log.Info("cleanup sweep done", zap.Int64("deleted", deleted))
			}
		}
	}
}
