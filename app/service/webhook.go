package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/PixelMoon99/storefront-payments/app/entity"
	"github.com/PixelMoon99/storefront-payments/app/gateway"
	"github.com/PixelMoon99/storefront-payments/app/metrics"
	"github.com/PixelMoon99/storefront-payments/app/repository"
	"github.com/google/uuid"
)

const (
	webhookStatusAccepted int32 = 10
	webhookStatusRejected int32 = 20
)

// DeliveryIDHeader is the optional gateway-supplied delivery id,
// preferred over payload-embedded ids as the idempotency key.
const DeliveryIDHeader = "X-Webhook-Delivery-Id"

type WebhookOutcome string

const (
	OutcomeProcessed WebhookOutcome = "processed"
	OutcomeDuplicate WebhookOutcome = "duplicate"
	OutcomeUnmatched WebhookOutcome = "unmatched"
	OutcomeIgnored   WebhookOutcome = "ignored"
)

type WebhookResult struct {
	Gateway       string
	Outcome       WebhookOutcome
	TransactionID uint64
}

// HandleGatewayWebhook runs the full ingestion pipeline over one raw
// delivery: gateway identification, signature verification,
// idempotency check, normalization, and ledger reconciliation. The
// durable webhook record is written after the ledger step so a
// pre-mutation failure never blocks the gateway's retry; replays of
// an acknowledged event are stopped by the (gateway, event_key)
// unique index, with the terminal-state claim as the keyless
// backstop.
func (s *PaymentService) HandleGatewayWebhook(ctx context.Context, rawBody []byte, headers http.Header) (*WebhookResult, error) {
	if len(rawBody) == 0 {
		return nil, ErrInvalidRequest
	}

	gw, signature, ok := s.gateways.Identify(headers)
	if !ok {
		return nil, ErrUnknownGateway
	}

	now := time.Now().UTC()
	result := &WebhookResult{Gateway: gw.Name()}

	// Verification comes first: an unauthenticated caller must never
	// learn whether an event key was already processed.
	if !gw.VerifySignature(rawBody, signature) {
		s.recordRejectedEvent(ctx, gw.Name(), signature, rawBody, now)
		return nil, ErrSignatureRejected
	}

	eventKey := deliveryEventKey(headers, gw, rawBody)
	if eventKey != "" {
		if s.dedup != nil && !s.dedup.FirstSeen(ctx, gw.Name(), eventKey) {
			result.Outcome = OutcomeDuplicate
			s.countOutcome(result)
			return result, nil
		}
		seen, err := s.webhookRepo.Exists(ctx, gw.Name(), eventKey)
		if err != nil {
			s.releaseDedup(ctx, gw.Name(), eventKey)
			return nil, err
		}
		if seen {
			result.Outcome = OutcomeDuplicate
			s.countOutcome(result)
			return result, nil
		}
	}

	notification := gw.Normalize(rawBody)

	outcome, tx, err := s.reconcile(ctx, notification, rawBody, now)
	if err != nil {
		s.releaseDedup(ctx, gw.Name(), eventKey)
		return nil, err
	}
	result.Outcome = outcome
	if tx != nil {
		result.TransactionID = tx.ID
	}

	event := &entity.WebhookEvent{
		Gateway:     gw.Name(),
		Signature:   signature,
		PayloadJSON: string(rawBody),
		Status:      webhookStatusAccepted,
		ReceivedAt:  now,
	}
	if eventKey != "" {
		event.EventKey = &eventKey
	}
	if tx != nil {
		txID := tx.ID
		event.TransactionID = &txID
	}
	if err := s.webhookRepo.Create(ctx, event); err != nil {
		if errors.Is(err, repository.ErrWebhookEventExists) {
			result.Outcome = OutcomeDuplicate
			s.countOutcome(result)
			return result, nil
		}
		// The ledger step already ran, so release the fast-path claim
		// and let the retry write the durable record. The retry cannot
		// double-apply: the terminal-state claim is already spent.
		s.releaseDedup(ctx, gw.Name(), eventKey)
		return nil, err
	}

	s.countOutcome(result)
	return result, nil
}

func (s *PaymentService) reconcile(ctx context.Context, notification *gateway.Notification, rawBody []byte, now time.Time) (WebhookOutcome, *entity.Transaction, error) {
	tx, err := s.lookupTransaction(ctx, notification)
	if err != nil {
		return "", nil, err
	}
	if tx == nil {
		standalone, err := s.recordUnsolicited(ctx, notification, rawBody, now)
		if err != nil {
			return "", nil, err
		}
		return OutcomeUnmatched, standalone, nil
	}

	switch notification.State {
	case gateway.StateFinished:
		return s.settle(ctx, tx, notification, rawBody, now)
	case gateway.StateFailed:
		claimed, err := s.txRepo.MarkFailed(ctx, tx.ID, now)
		if err != nil {
			return "", nil, err
		}
		if !claimed {
			return OutcomeIgnored, tx, nil
		}
		oldStatus := tx.Status
		tx.Status = entity.StatusFailed
		s.audit(ctx, tx.ID, "payment_failed", &oldStatus, entity.StatusFailed, notification, rawBody, now)
		return OutcomeProcessed, tx, nil
	default:
		// Non-terminal states are recorded for audit only.
		s.audit(ctx, tx.ID, "payment_"+string(notification.State), nil, tx.Status, notification, rawBody, now)
		return OutcomeIgnored, tx, nil
	}
}

// settle applies the paired ledger mutation. The conditional claim is
// won by exactly one handler; only that handler credits the wallet.
func (s *PaymentService) settle(ctx context.Context, tx *entity.Transaction, notification *gateway.Notification, rawBody []byte, now time.Time) (WebhookOutcome, *entity.Transaction, error) {
	claimed, err := s.txRepo.MarkPaid(ctx, tx.ID, now)
	if err != nil {
		return "", nil, err
	}
	if !claimed {
		return OutcomeIgnored, tx, nil
	}

	oldStatus := tx.Status
	tx.Status = entity.StatusPaid
	tx.PaidAt = &now

	if tx.UserID != nil {
		if err := s.walletRepo.Credit(ctx, *tx.UserID, tx.AmountCents, now); err != nil {
			s.logger.WithError(err).WithField("transaction_id", tx.ID).Error("Wallet credit failed after paid claim")
			s.audit(ctx, tx.ID, "wallet_credit_failed", &oldStatus, entity.StatusPaid, notification, rawBody, now)
			return "", nil, err
		}
		metrics.WalletCreditsTotal.WithLabelValues(tx.Gateway).Inc()
	}

	s.audit(ctx, tx.ID, "payment_confirmed", &oldStatus, entity.StatusPaid, notification, rawBody, now)

	if s.dispatcher != nil {
		s.dispatcher.PaymentConfirmed(tx)
	}

	return OutcomeProcessed, tx, nil
}

// lookupTransaction resolves the matching transaction with a fixed
// precedence: the gateway invoice id stored at charge creation, then
// the order reference carried in the payload.
func (s *PaymentService) lookupTransaction(ctx context.Context, notification *gateway.Notification) (*entity.Transaction, error) {
	if notification.InvoiceID != "" {
		tx, err := s.txRepo.FindByGatewayInvoiceID(ctx, notification.Gateway, notification.InvoiceID)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			return tx, nil
		}
	}
	if notification.OrderRef != "" {
		tx, err := s.txRepo.FindByOrderRef(ctx, notification.OrderRef)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			return tx, nil
		}
	}
	return nil, nil
}

// recordUnsolicited persists an audit-only transaction for an event
// that matches nothing. No user, no credit.
func (s *PaymentService) recordUnsolicited(ctx context.Context, notification *gateway.Notification, rawBody []byte, now time.Time) (*entity.Transaction, error) {
	orderRef := notification.OrderRef
	if orderRef == "" {
		orderRef = "unsolicited-" + uuid.NewString()
	}

	raw := map[string]string{}
	if notification.EventID != "" {
		raw["gateway_event_id"] = notification.EventID
	}
	raw["payload"] = truncate(string(rawBody), 4096)

	tx := &entity.Transaction{
		OrderRef:    orderRef,
		Gateway:     notification.Gateway,
		AmountCents: notification.AmountCents,
		Currency:    notification.Currency,
		Status:      entity.StatusWebhookReceived,
		Raw:         raw,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if notification.InvoiceID != "" {
		invoiceID := notification.InvoiceID
		tx.GatewayInvoiceID = &invoiceID
	}

	if err := s.txRepo.Create(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *PaymentService) audit(ctx context.Context, txID uint64, eventType string, oldStatus *int32, newStatus int32, notification *gateway.Notification, rawBody []byte, now time.Time) {
	event := &entity.TransactionEvent{
		TransactionID: txID,
		EventType:     eventType,
		OldStatus:     oldStatus,
		NewStatus:     newStatus,
		CreatedAt:     now,
	}
	if notification.EventID != "" {
		eventID := notification.EventID
		event.GatewayEventID = &eventID
	}
	payloadJSON := string(rawBody)
	event.PayloadJSON = &payloadJSON

	if err := s.auditRepo.Create(ctx, event); err != nil {
		s.logger.WithError(err).WithField("transaction_id", txID).Warn("Audit event write failed")
	}
}

func (s *PaymentService) recordRejectedEvent(ctx context.Context, gatewayName, signature string, rawBody []byte, now time.Time) {
	reason := "signature verification failed"
	// Rejected events carry no event key so a legitimate retry after a
	// secret fix is not misread as a duplicate.
	event := &entity.WebhookEvent{
		Gateway:     gatewayName,
		Signature:   signature,
		PayloadJSON: string(rawBody),
		Status:      webhookStatusRejected,
		Error:       &reason,
		ReceivedAt:  now,
	}
	if err := s.webhookRepo.Create(ctx, event); err != nil {
		s.logger.WithError(err).WithField("gateway", gatewayName).Warn("Rejected webhook record failed")
	}
}

func (s *PaymentService) releaseDedup(ctx context.Context, gatewayName, eventKey string) {
	if s.dedup != nil && eventKey != "" {
		s.dedup.Forget(ctx, gatewayName, eventKey)
	}
}

func (s *PaymentService) countOutcome(result *WebhookResult) {
	metrics.WebhooksTotal.WithLabelValues(result.Gateway, string(result.Outcome)).Inc()
}

func deliveryEventKey(headers http.Header, gw gateway.Gateway, rawBody []byte) string {
	if key := strings.TrimSpace(headers.Get(DeliveryIDHeader)); key != "" {
		return key
	}
	return gw.EventKey(rawBody)
}
