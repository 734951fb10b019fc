package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PixelMoon99/storefront-payments/app/entity"
	"github.com/PixelMoon99/storefront-payments/app/factory"
	"github.com/PixelMoon99/storefront-payments/app/gateway"
	"github.com/PixelMoon99/storefront-payments/config"
)

const defaultBatchSize = int32(100)

type transactionRepository interface {
	Create(ctx context.Context, tx *entity.Transaction) error
	FindByID(ctx context.Context, id uint64) (*entity.Transaction, error)
	FindByOrderRef(ctx context.Context, orderRef string) (*entity.Transaction, error)
	FindByGatewayInvoiceID(ctx context.Context, gatewayName, invoiceID string) (*entity.Transaction, error)
	MarkPaid(ctx context.Context, id uint64, paidAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uint64, now time.Time) (bool, error)
	UpdateGatewayRefs(ctx context.Context, tx *entity.Transaction) error
	ListStalePending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Transaction, error)
}

type webhookEventRepository interface {
	Create(ctx context.Context, event *entity.WebhookEvent) error
	Exists(ctx context.Context, gatewayName, eventKey string) (bool, error)
}

type transactionEventRepository interface {
	Create(ctx context.Context, event *entity.TransactionEvent) error
}

type walletRepository interface {
	Credit(ctx context.Context, userID uint64, amountCents int64, now time.Time) error
}

type DedupCache interface {
	FirstSeen(ctx context.Context, gatewayName, eventKey string) bool
	Forget(ctx context.Context, gatewayName, eventKey string)
}

type confirmationDispatcher interface {
	PaymentConfirmed(tx *entity.Transaction)
}

type PaymentService struct {
	txRepo      transactionRepository
	webhookRepo webhookEventRepository
	auditRepo   transactionEventRepository
	walletRepo  walletRepository
	gateways    *gateway.Registry
	dedup       DedupCache
	dispatcher  confirmationDispatcher
	paymentsCfg config.PaymentsConfig
	callbackURL string
	logger      logrus.FieldLogger
}

func NewPaymentService(
	txRepo transactionRepository,
	webhookRepo webhookEventRepository,
	auditRepo transactionEventRepository,
	walletRepo walletRepository,
	gateways *gateway.Registry,
	dedup DedupCache,
	dispatcher confirmationDispatcher,
	paymentsCfg config.PaymentsConfig,
	callbackBaseURL string,
) *PaymentService {
	callbackURL := ""
	if base := strings.TrimRight(strings.TrimSpace(callbackBaseURL), "/"); base != "" {
		callbackURL = base + "/webhooks/gateways"
	}

	return &PaymentService{
		txRepo:      txRepo,
		webhookRepo: webhookRepo,
		auditRepo:   auditRepo,
		walletRepo:  walletRepo,
		gateways:    gateways,
		dedup:       dedup,
		dispatcher:  dispatcher,
		paymentsCfg: paymentsCfg,
		callbackURL: callbackURL,
		logger:      factory.NewModuleLogger("payment-service"),
	}
}

func (s *PaymentService) batchSize() int32 {
	if s.paymentsCfg.JobBatchSize > 0 {
		return s.paymentsCfg.JobBatchSize
	}
	return defaultBatchSize
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
