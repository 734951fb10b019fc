package mapper

import (
	"time"

	"github.com/PixelMoon99/storefront-payments/app/entity"
	"github.com/PixelMoon99/storefront-payments/app/types"
)

func TransactionToAPI(item *entity.Transaction) *types.Transaction {
	if item == nil {
		return nil
	}

	result := &types.Transaction{
		Id:               item.ID,
		OrderRef:         item.OrderRef,
		Gateway:          item.Gateway,
		AmountCents:      item.AmountCents,
		FeeCents:         item.FeeCents,
		Currency:         item.Currency,
		Status:           StatusToAPI(item.Status),
		GatewayInvoiceId: derefString(item.GatewayInvoiceID),
		PayUrl:           derefString(item.PayURL),
		Raw:              cloneRaw(item.Raw),
		CreatedAt:        item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        item.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if item.UserID != nil {
		result.UserId = *item.UserID
	}
	if item.PaidAt != nil {
		result.PaidAt = item.PaidAt.UTC().Format(time.RFC3339)
	}

	return result
}

func StatusToAPI(status int32) string {
	switch status {
	case entity.StatusPending:
		return "pending"
	case entity.StatusWebhookReceived:
		return "webhook_received"
	case entity.StatusPaid:
		return "paid"
	case entity.StatusFailed:
		return "failed"
	case entity.StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func cloneRaw(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
