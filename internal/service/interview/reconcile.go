package interview

import (
	"context"
	"time"

	"intervue/internal/events"
	"intervue/internal/logger"
	"intervue/internal/models"
)

const (
	DefaultReconcileInterval = time.Minute
	DefaultStaleAfter        = 5 * time.Minute
	reconcileBatch           = 50
)

// StartReconciler repairs sessions whose resources diverged from the record
// every interval until ctx is done.
func (s *Service) StartReconciler(ctx context.Context, interval, staleAfter time.Duration) {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	go s.reconcileLoop(ctx, interval, staleAfter)
}

func (s *Service) reconcileLoop(ctx context.Context, interval, staleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.ReconcileOnce(ctx, staleAfter); err != nil {
				logger.Logger.WithError(err).Error("reconcile sessions failed")
			} else if n > 0 {
				logger.Logger.WithField("repaired", n).Info("reconciled sessions")
			}
		}
	}
}

// ReconcileOnce runs one repair pass and reports how many sessions it fixed.
// Sessions stuck provisioning longer than staleAfter are torn down and
// removed; sessions pending teardown are torn down and completed.
func (s *Service) ReconcileOnce(ctx context.Context, staleAfter time.Duration) (int, error) {
	repaired := 0

	stale, err := s.store.ListByResourceState(ctx, models.ResourcesProvisioning, s.now().Add(-staleAfter), reconcileBatch)
	if err != nil {
		return repaired, err
	}
	for _, session := range stale {
		log := sessionLog(session).WithField("step", "reconcile_provisioning")
		if err := s.teardown(ctx, session); err != nil {
			log.WithError(err).Warn("teardown failed, will retry")
			continue
		}
		if err := s.store.Delete(ctx, session.ID); err != nil {
			log.WithError(err).Warn("delete stale session failed")
			continue
		}
		s.cache.Invalidate(ctx, session.ID)
		log.Info("removed half-provisioned session")
		repaired++
	}

	pending, err := s.store.ListByResourceState(ctx, models.ResourcesTeardownPending, s.now(), reconcileBatch)
	if err != nil {
		return repaired, err
	}
	for _, session := range pending {
		log := sessionLog(session).WithField("step", "reconcile_teardown")
		if err := s.teardown(ctx, session); err != nil {
			log.WithError(err).Warn("teardown failed, will retry")
			continue
		}
		ok, err := s.store.Complete(ctx, session.ID)
		if err != nil {
			log.WithError(err).Warn("complete session failed")
			continue
		}
		s.cache.Invalidate(ctx, session.ID)
		if !ok {
			continue
		}
		log.Info("completed session after pending teardown")
		s.publish(ctx, events.SessionEnded, s.reload(ctx, session))
		repaired++
	}
	return repaired, nil
}
