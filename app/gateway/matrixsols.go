package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const MatrixSolsName = "matrixsols"

type MatrixSolsConfig struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
	HTTPTimeout   time.Duration
}

// MatrixSolsGateway verifies webhooks with HMAC-SHA256 over the raw
// body and creates charges through the MatrixSols REST API.
type MatrixSolsGateway struct {
	cfg    MatrixSolsConfig
	client *http.Client
	fields fieldMap
}

func NewMatrixSolsGateway(cfg MatrixSolsConfig) *MatrixSolsGateway {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	return &MatrixSolsGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		fields: fieldMap{
			eventIDFields:  []string{"id", "event_id"},
			orderRefFields: []string{"reference", "order_id"},
			invoiceFields:  []string{"charge_id"},
			statusField:    "status",
			amountField:    "amount",
			currencyField:  "currency",
			statusMap: map[string]PaymentState{
				"success":    StateFinished,
				"finished":   StateFinished,
				"completed":  StateFinished,
				"pending":    StatePending,
				"processing": StatePending,
				"failed":     StateFailed,
				"cancelled":  StateFailed,
				"expired":    StateFailed,
			},
		},
	}
}

func (g *MatrixSolsGateway) Name() string {
	return MatrixSolsName
}

func (g *MatrixSolsGateway) SignatureHeaders() []string {
	return []string{"x-matrixsols-signature", "x-signature"}
}

func (g *MatrixSolsGateway) VerifySignature(rawBody []byte, signature string) bool {
	return verifyHexHMAC(sha256.New, g.cfg.WebhookSecret, rawBody, signature)
}

func (g *MatrixSolsGateway) EventKey(rawBody []byte) string {
	return eventKeyFromPayload(rawBody, g.fields)
}

func (g *MatrixSolsGateway) Normalize(rawBody []byte) *Notification {
	return normalizePayload(g.Name(), rawBody, g.fields)
}

func (g *MatrixSolsGateway) CreateCharge(ctx context.Context, input *ChargeInput) (*ChargeOutput, error) {
	if strings.TrimSpace(g.cfg.APIKey) == "" {
		return nil, errors.New("matrixsols api key is not configured")
	}
	if g.cfg.BaseURL == "" {
		return nil, errors.New("matrixsols base url is not configured")
	}

	request := map[string]string{
		"reference":    input.OrderRef,
		"amount":       formatAmount(input.AmountCents),
		"currency":     strings.ToUpper(input.Currency),
		"description":  strings.TrimSpace(input.Description),
		"callback_url": input.CallbackURL,
		"success_url":  input.SuccessURL,
	}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/api/charges", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
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
		return nil, fmt.Errorf("matrixsols charge creation failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var payload struct {
		ChargeID   string `json:"charge_id"`
		PaymentURL string `json:"payment_url"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, err
	}

	result := &ChargeOutput{}
	if s := strings.TrimSpace(payload.ChargeID); s != "" {
		result.InvoiceID = &s
	}
	if s := strings.TrimSpace(payload.PaymentURL); s != "" {
		result.PayURL = &s
	}

	return result, nil
}
