package repository

import (
	"context"
	"errors"

	"github.com/PixelMoon99/storefront-payments/app/entity"
)

// ErrWebhookEventExists signals that the (gateway, event_key) unique
// index rejected the insert: the notification was already processed.
var ErrWebhookEventExists = errors.New("webhook event already recorded")

type WebhookEventRepository struct {
	db DBTX
}

func NewWebhookEventRepository(db DBTX) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Create(ctx context.Context, event *entity.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (
			gateway, event_key, transaction_id, signature, payload_json, status, error, received_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		event.Gateway,
		nullableStringValue(event.EventKey),
		nullableUint64Value(event.TransactionID),
		event.Signature,
		event.PayloadJSON,
		event.Status,
		nullableStringValue(event.Error),
		event.ReceivedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrWebhookEventExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = uint64(id)

	return nil
}

func (r *WebhookEventRepository) Exists(ctx context.Context, gateway, eventKey string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM webhook_events WHERE gateway = ? AND event_key = ?
		)
	`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, gateway, eventKey).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
