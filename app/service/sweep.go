package service

import (
	"context"
	"time"

	"github.com/PixelMoon99/storefront-payments/app/entity"
)

// RunSweepPendingBatch fails transactions stuck in pending beyond the
// configured timeout. The conditional transition means a webhook that
// settles the transaction mid-sweep always wins.
func (s *PaymentService) RunSweepPendingBatch(ctx context.Context) error {
	now := time.Now().UTC()
	cutoff := now.Add(-s.paymentsCfg.PendingTimeout)

	items, err := s.txRepo.ListStalePending(ctx, cutoff, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, tx := range items {
		if tx == nil {
			continue
		}

		claimed, err := s.txRepo.MarkFailed(ctx, tx.ID, now)
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if !claimed {
			continue
		}

		oldStatus := tx.Status
		if err := s.auditRepo.Create(ctx, &entity.TransactionEvent{
			TransactionID: tx.ID,
			EventType:     "payment_expired",
			OldStatus:     &oldStatus,
			NewStatus:     entity.StatusFailed,
			CreatedAt:     now,
		}); err != nil {
			s.logger.WithError(err).WithField("transaction_id", tx.ID).Warn("Audit event write failed")
		}
	}

	return firstErr
}
