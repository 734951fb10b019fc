package entity

import "time"

const (
	StatusPending         int32 = 1
	StatusWebhookReceived int32 = 5
	StatusPaid            int32 = 10
	StatusFailed          int32 = 20
	StatusRefunded        int32 = 30
)

// TerminalStatus reports whether a transaction status is absorbing.
// Paid and failed transactions are never transitioned again.
func TerminalStatus(status int32) bool {
	return status == StatusPaid || status == StatusFailed || status == StatusRefunded
}

type Transaction struct {
	ID uint64

	OrderRef string
	UserID   *uint64

	Gateway string

	AmountCents int64
	FeeCents    int64
	Currency    string

	Status int32

	GatewayInvoiceID *string
	PayURL           *string

	Raw map[string]string

	PaidAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
