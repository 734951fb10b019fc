package gateway

import "context"

type PaymentState string

const (
	StateFinished      PaymentState = "finished"
	StatePending       PaymentState = "pending"
	StateFailed        PaymentState = "failed"
	StatePartiallyPaid PaymentState = "partially_paid"
	StateUnknown       PaymentState = "unknown"
)

// Notification is the canonical, gateway-agnostic view of a webhook
// payload. It is derived transiently and never persisted.
type Notification struct {
	Gateway   string
	EventID   string
	OrderRef  string
	InvoiceID string

	State PaymentState

	AmountCents int64
	Currency    string
}

type ChargeInput struct {
	OrderRef    string
	AmountCents int64
	Currency    string
	Description string
	CallbackURL string
	SuccessURL  string
}

type ChargeOutput struct {
	InvoiceID *string
	PayURL    *string
}

// Gateway is one payment-processor variant: its identifying headers,
// its signature scheme, its payload shape, and its outbound charge
// API. Adding a processor means implementing this and registering it.
type Gateway interface {
	Name() string

	// SignatureHeaders lists the header names (aliases included, in
	// preference order) this gateway uses to carry its signature.
	SignatureHeaders() []string

	// VerifySignature checks the header-supplied signature against the
	// raw, unparsed request body. Any malformed signature is a plain
	// verification failure, never a distinct error path.
	VerifySignature(rawBody []byte, signature string) bool

	// EventKey extracts the payload-embedded idempotency key, or ""
	// when the payload carries none.
	EventKey(rawBody []byte) string

	// Normalize maps the raw payload to the canonical notification.
	// It never fails: malformed input yields StateUnknown.
	Normalize(rawBody []byte) *Notification

	CreateCharge(ctx context.Context, input *ChargeInput) (*ChargeOutput, error)
}
