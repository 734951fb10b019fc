package entity

import "time"

type TransactionEvent struct {
	ID uint64

	TransactionID uint64

	EventType string

	OldStatus *int32
	NewStatus int32

	GatewayEventID *string
	PayloadJSON    *string

	CreatedAt time.Time
}
