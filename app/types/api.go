package types

import (
	"errors"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type WebhookAckResponse struct {
	Message string `json:"message"`
	Outcome string `json:"outcome"`
}

type Transaction struct {
	Id               uint64            `json:"id"`
	OrderRef         string            `json:"order_ref"`
	UserId           uint64            `json:"user_id,omitempty"`
	Gateway          string            `json:"gateway"`
	AmountCents      int64             `json:"amount_cents"`
	FeeCents         int64             `json:"fee_cents"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	GatewayInvoiceId string            `json:"gateway_invoice_id,omitempty"`
	PayUrl           string            `json:"pay_url,omitempty"`
	Raw              map[string]string `json:"raw,omitempty"`
	PaidAt           string            `json:"paid_at,omitempty"`
	CreatedAt        string            `json:"created_at"`
	UpdatedAt        string            `json:"updated_at"`
}

type TransactionEnvelopeResponse struct {
	Transaction *Transaction `json:"transaction"`
}

type CreateTopUpRequest struct {
	UserId      uint64            `json:"user_id"`
	OrderRef    string            `json:"order_ref"`
	Gateway     string            `json:"gateway"`
	AmountCents int64             `json:"amount_cents"`
	FeeCents    int64             `json:"fee_cents"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	SuccessUrl  string            `json:"success_url"`
	Raw         map[string]string `json:"raw"`
}

func NewCreateTopUpRequestFromContext(ctx echo.Context) (*CreateTopUpRequest, error) {
	var body CreateTopUpRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.OrderRef = strings.TrimSpace(body.OrderRef)
	body.Gateway = strings.ToLower(strings.TrimSpace(body.Gateway))
	body.Currency = strings.ToUpper(strings.TrimSpace(body.Currency))
	body.Description = strings.TrimSpace(body.Description)
	body.SuccessUrl = strings.TrimSpace(body.SuccessUrl)

	return &body, nil
}

func (r *CreateTopUpRequest) Validate() error {
	if r.UserId == 0 {
		return errors.New("user_id is required")
	}
	if r.Gateway == "" {
		return errors.New("gateway is required")
	}
	if r.AmountCents <= 0 {
		return errors.New("amount_cents must be > 0")
	}
	if r.FeeCents < 0 {
		return errors.New("fee_cents must be >= 0")
	}
	if len(r.Currency) < 3 {
		return errors.New("currency is required")
	}
	return nil
}

type GetTopUpRequest struct {
	Id uint64
}

func NewGetTopUpRequestFromContext(ctx echo.Context) (*GetTopUpRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &GetTopUpRequest{Id: id}, nil
}

func (r *GetTopUpRequest) Validate() error {
	if r.Id == 0 {
		return errors.New("invalid transaction id")
	}
	return nil
}
