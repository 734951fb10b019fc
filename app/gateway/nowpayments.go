package gateway

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const NowPaymentsName = "nowpayments"

type NowPaymentsConfig struct {
	APIKey      string
	IPNSecret   string
	BaseURL     string
	HTTPTimeout time.Duration
}

// NowPaymentsGateway verifies IPN callbacks with HMAC-SHA512 over the
// raw body and creates hosted invoices through the NowPayments API.
type NowPaymentsGateway struct {
	cfg    NowPaymentsConfig
	client *http.Client
	fields fieldMap
}

func NewNowPaymentsGateway(cfg NowPaymentsConfig) *NowPaymentsGateway {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.nowpayments.io"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &NowPaymentsGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		fields: fieldMap{
			eventIDFields:  []string{"payment_id"},
			orderRefFields: []string{"order_id"},
			invoiceFields:  []string{"invoice_id"},
			statusField:    "payment_status",
			amountField:    "price_amount",
			currencyField:  "price_currency",
			statusMap: map[string]PaymentState{
				"finished":       StateFinished,
				"confirmed":      StateFinished,
				"partially_paid": StatePartiallyPaid,
				"waiting":        StatePending,
				"confirming":     StatePending,
				"sending":        StatePending,
				"failed":         StateFailed,
				"expired":        StateFailed,
				"refunded":       StateFailed,
			},
		},
	}
}

func (g *NowPaymentsGateway) Name() string {
	return NowPaymentsName
}

func (g *NowPaymentsGateway) SignatureHeaders() []string {
	return []string{"x-nowpayments-sig", "x-nowpayments-signature"}
}

func (g *NowPaymentsGateway) VerifySignature(rawBody []byte, signature string) bool {
	return verifyHexHMAC(sha512.New, g.cfg.IPNSecret, rawBody, signature)
}

func (g *NowPaymentsGateway) EventKey(rawBody []byte) string {
	return eventKeyFromPayload(rawBody, g.fields)
}

func (g *NowPaymentsGateway) Normalize(rawBody []byte) *Notification {
	return normalizePayload(g.Name(), rawBody, g.fields)
}

func (g *NowPaymentsGateway) CreateCharge(ctx context.Context, input *ChargeInput) (*ChargeOutput, error) {
	if strings.TrimSpace(g.cfg.APIKey) == "" {
		return nil, errors.New("nowpayments api key is not configured")
	}

	request := map[string]string{
		"price_amount":      formatAmount(input.AmountCents),
		"price_currency":    strings.ToLower(input.Currency),
		"order_id":          input.OrderRef,
		"order_description": strings.TrimSpace(input.Description),
		"ipn_callback_url":  input.CallbackURL,
		"success_url":       input.SuccessURL,
	}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v1/invoice", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("nowpayments invoice creation failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var payload struct {
		ID         json.Number `json:"id"`
		InvoiceURL string      `json:"invoice_url"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, err
	}

	result := &ChargeOutput{}
	if s := strings.TrimSpace(payload.ID.String()); s != "" {
		result.InvoiceID = &s
	}
	if s := strings.TrimSpace(payload.InvoiceURL); s != "" {
		result.PayURL = &s
	}

	return result, nil
}
