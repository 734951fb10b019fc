package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/PixelMoon99/storefront-payments/app/entity"
	"github.com/PixelMoon99/storefront-payments/app/gateway"
	"github.com/PixelMoon99/storefront-payments/app/repository"
	"github.com/PixelMoon99/storefront-payments/app/types"
)

// CreateTopUp opens a pending transaction and a hosted charge with the
// requested gateway. The transaction row is created first and the
// gateway references attached once the charge exists, so a charge
// failure leaves a resumable pending row. Idempotent on order
// reference: a replay returns the existing transaction, retrying the
// charge when the earlier attempt never got one.
func (s *PaymentService) CreateTopUp(ctx context.Context, req *types.CreateTopUpRequest) (*entity.Transaction, error) {
	orderRef := req.OrderRef
	if orderRef == "" {
		orderRef = uuid.NewString()
	}

	gw, err := s.gateways.Get(req.Gateway)
	if err != nil {
		if errors.Is(err, gateway.ErrGatewayNotSupported) {
			return nil, ErrGatewayUnsupported
		}
		return nil, err
	}

	now := time.Now().UTC()

	tx, err := s.txRepo.FindByOrderRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if tx != nil && (tx.PayURL != nil || entity.TerminalStatus(tx.Status)) {
		return tx, nil
	}

	if tx == nil {
		userID := req.UserId
		tx = &entity.Transaction{
			OrderRef:    orderRef,
			UserID:      &userID,
			Gateway:     gw.Name(),
			AmountCents: req.AmountCents,
			FeeCents:    req.FeeCents,
			Currency:    req.Currency,
			Status:      entity.StatusPending,
			Raw:         cloneRaw(req.Raw),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.txRepo.Create(ctx, tx); err != nil {
			if errors.Is(err, repository.ErrTransactionAlreadyExists) {
				return nil, ErrTransactionExists
			}
			return nil, err
		}

		if err := s.auditRepo.Create(ctx, &entity.TransactionEvent{
			TransactionID: tx.ID,
			EventType:     "topup_created",
			NewStatus:     tx.Status,
			CreatedAt:     now,
		}); err != nil {
			s.logger.WithError(err).WithField("transaction_id", tx.ID).Warn("Audit event write failed")
		}
	}

	charge, err := gw.CreateCharge(ctx, &gateway.ChargeInput{
		OrderRef:    orderRef,
		AmountCents: tx.AmountCents,
		Currency:    tx.Currency,
		Description: req.Description,
		CallbackURL: s.callbackURL,
		SuccessURL:  req.SuccessUrl,
	})
	if err != nil {
		// The pending row stays; a replay retries the charge and the
		// sweep job expires it if the client never comes back.
		return nil, err
	}

	tx.GatewayInvoiceID = charge.InvoiceID
	tx.PayURL = charge.PayURL
	tx.UpdatedAt = now
	if err := s.txRepo.UpdateGatewayRefs(ctx, tx); err != nil {
		return nil, err
	}

	return tx, nil
}

func (s *PaymentService) GetTopUp(ctx context.Context, id uint64) (*entity.Transaction, error) {
	tx, err := s.txRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

func cloneRaw(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
