package gateway

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// fieldMap is one gateway's payload mapping table. Normalization for
// every gateway funnels through the same table-driven walk, so a new
// processor contributes a table, not logic.
type fieldMap struct {
	eventIDFields  []string
	orderRefFields []string
	invoiceFields  []string
	statusField    string
	amountField    string
	currencyField  string
	statusMap      map[string]PaymentState
}

func normalizePayload(gatewayName string, rawBody []byte, m fieldMap) *Notification {
	notification := &Notification{
		Gateway: gatewayName,
		State:   StateUnknown,
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return notification
	}

	notification.EventID = firstString(payload, m.eventIDFields...)
	notification.OrderRef = firstString(payload, m.orderRefFields...)
	notification.InvoiceID = firstString(payload, m.invoiceFields...)
	notification.Currency = strings.ToUpper(firstString(payload, m.currencyField))
	notification.AmountCents = amountCents(payload[m.amountField])

	status := strings.ToLower(firstString(payload, m.statusField))
	if status != "" {
		if state, ok := m.statusMap[status]; ok {
			notification.State = state
		}
	}

	return notification
}

func eventKeyFromPayload(rawBody []byte, m fieldMap) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return ""
	}

	fields := make([]string, 0, len(m.eventIDFields)+len(m.invoiceFields))
	fields = append(fields, m.eventIDFields...)
	fields = append(fields, m.invoiceFields...)
	return firstString(payload, fields...)
}

func firstString(payload map[string]interface{}, fields ...string) string {
	for _, field := range fields {
		if field == "" {
			continue
		}
		value, ok := payload[field]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		case float64:
			if v == math.Trunc(v) {
				return strconv.FormatInt(int64(v), 10)
			}
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func amountCents(value interface{}) int64 {
	switch v := value.(type) {
	case float64:
		return int64(math.Round(v * 100))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return int64(math.Round(f * 100))
	default:
		return 0
	}
}

func formatAmount(amountCents int64) string {
	return strconv.FormatFloat(float64(amountCents)/100, 'f', 2, 64)
}
