package entity

import "time"

// WebhookEvent is the durable record of one gateway notification.
// (Gateway, EventKey) is unique when EventKey is non-null; rejected
// events are stored with a null key so a legitimate retry of the same
// delivery is not blocked by the forensic record.
type WebhookEvent struct {
	ID uint64

	Gateway  string
	EventKey *string

	TransactionID *uint64

	Signature   string
	PayloadJSON string

	Status int32
	Error  *string

	ReceivedAt time.Time
}
