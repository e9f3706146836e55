package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/dreamsaver/internal/lock"
)

const draftSweepLock = "draft-sweep"

// RunDraftSweeper периодически удаляет просроченные черновики до отмены ctx.
// Среди нескольких экземпляров сервиса проход выполняет только тот, кто взял блокировку.
func (s *Service) RunDraftSweeper(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.DraftSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepDrafts(ctx)
		}
	}
}

func (s *Service) sweepDrafts(ctx context.Context) {
	if s.locker != nil {
		lk, err := s.locker.Acquire(ctx, draftSweepLock, s.opts.DraftSweepInterval)
		if err != nil {
			if !errors.Is(err, lock.ErrNotAcquired) {
				s.logger.Warn("acquire draft sweep lock", zap.Error(err))
			}
			return
		}
		defer func() {
			if err := lk.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release draft sweep lock", zap.Error(err))
			}
		}()
	}

	n, err := s.ExpireStaleDrafts(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("expire stale drafts", zap.Error(err))
		}
		return
	}
	if n > 0 {
		s.logger.Info("stale drafts expired", zap.Int64("count", n))
	}
}
