package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"hash"
	"net/http"
	"testing"
	"time"

	"github.com/PixelMoon99/storefront-payments/app/entity"
	"github.com/PixelMoon99/storefront-payments/app/gateway"
	"github.com/PixelMoon99/storefront-payments/app/repository"
	"github.com/PixelMoon99/storefront-payments/config"
)

const (
	testNowPaymentsSecret = "np-ipn-secret"
	testMatrixSolsSecret  = "ms-webhook-secret"
)

type serviceTxRepo struct {
	items  map[uint64]*entity.Transaction
	nextID uint64
}

func newServiceTxRepo() *serviceTxRepo {
	return &serviceTxRepo{items: map[uint64]*entity.Transaction{}, nextID: 1}
}

func (r *serviceTxRepo) Create(_ context.Context, tx *entity.Transaction) error {
	for _, item := range r.items {
		if item.OrderRef == tx.OrderRef {
			return repository.ErrTransactionAlreadyExists
		}
	}
	id := r.nextID
	r.nextID++
	copyItem := *tx
	copyItem.ID = id
	r.items[id] = &copyItem
	tx.ID = id
	return nil
}

func (r *serviceTxRepo) FindByID(_ context.Context, id uint64) (*entity.Transaction, error) {
	item, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *serviceTxRepo) FindByOrderRef(_ context.Context, orderRef string) (*entity.Transaction, error) {
	for _, item := range r.items {
		if item.OrderRef == orderRef {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *serviceTxRepo) FindByGatewayInvoiceID(_ context.Context, gatewayName, invoiceID string) (*entity.Transaction, error) {
	for _, item := range r.items {
		if item.Gateway == gatewayName && item.GatewayInvoiceID != nil && *item.GatewayInvoiceID == invoiceID {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *serviceTxRepo) MarkPaid(_ context.Context, id uint64, paidAt time.Time) (bool, error) {
	item, ok := r.items[id]
	if !ok {
		return false, nil
	}
	if item.Status == entity.StatusPaid || item.Status == entity.StatusFailed {
		return false, nil
	}
	item.Status = entity.StatusPaid
	at := paidAt
	item.PaidAt = &at
	item.UpdatedAt = paidAt
	return true, nil
}

func (r *serviceTxRepo) MarkFailed(_ context.Context, id uint64, now time.Time) (bool, error) {
	item, ok := r.items[id]
	if !ok {
		return false, nil
	}
	if item.Status == entity.StatusPaid || item.Status == entity.StatusFailed {
		return false, nil
	}
	item.Status = entity.StatusFailed
	item.UpdatedAt = now
	return true, nil
}

func (r *serviceTxRepo) UpdateGatewayRefs(_ context.Context, tx *entity.Transaction) error {
	item, ok := r.items[tx.ID]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	item.GatewayInvoiceID = tx.GatewayInvoiceID
	item.PayURL = tx.PayURL
	item.UpdatedAt = tx.UpdatedAt
	return nil
}

func (r *serviceTxRepo) ListStalePending(_ context.Context, cutoff time.Time, limit int32) ([]*entity.Transaction, error) {
	items := make([]*entity.Transaction, 0)
	for _, item := range r.items {
		if item.Status == entity.StatusPending && !item.CreatedAt.After(cutoff) {
			copyItem := *item
			items = append(items, &copyItem)
		}
		if limit > 0 && int32(len(items)) >= limit {
			break
		}
	}
	return items, nil
}

type serviceWebhookRepo struct {
	events    []*entity.WebhookEvent
	createErr error
}

func (r *serviceWebhookRepo) Create(_ context.Context, event *entity.WebhookEvent) error {
	if r.createErr != nil {
		return r.createErr
	}
	if event.EventKey != nil {
		for _, existing := range r.events {
			if existing.EventKey != nil && existing.Gateway == event.Gateway && *existing.EventKey == *event.EventKey {
				return repository.ErrWebhookEventExists
			}
		}
	}
	copyEvent := *event
	copyEvent.ID = uint64(len(r.events) + 1)
	r.events = append(r.events, &copyEvent)
	event.ID = copyEvent.ID
	return nil
}

func (r *serviceWebhookRepo) Exists(_ context.Context, gatewayName, eventKey string) (bool, error) {
	for _, existing := range r.events {
		if existing.Gateway == gatewayName && existing.EventKey != nil && *existing.EventKey == eventKey {
			return true, nil
		}
	}
	return false, nil
}

type serviceAuditRepo struct {
	events []*entity.TransactionEvent
}

func (r *serviceAuditRepo) Create(_ context.Context, event *entity.TransactionEvent) error {
	copyEvent := *event
	r.events = append(r.events, &copyEvent)
	return nil
}

type serviceWalletRepo struct {
	balances  map[uint64]int64
	creditErr error
	credits   int
}

func newServiceWalletRepo() *serviceWalletRepo {
	return &serviceWalletRepo{balances: map[uint64]int64{}}
}

func (r *serviceWalletRepo) Credit(_ context.Context, userID uint64, amountCents int64, _ time.Time) error {
	if r.creditErr != nil {
		return r.creditErr
	}
	r.balances[userID] += amountCents
	r.credits++
	return nil
}

type serviceDedup struct {
	seen    map[string]bool
	forgets int
}

func (c *serviceDedup) FirstSeen(_ context.Context, gatewayName, eventKey string) bool {
	if c.seen == nil {
		c.seen = map[string]bool{}
	}
	key := gatewayName + ":" + eventKey
	if c.seen[key] {
		return false
	}
	c.seen[key] = true
	return true
}

func (c *serviceDedup) Forget(_ context.Context, gatewayName, eventKey string) {
	delete(c.seen, gatewayName+":"+eventKey)
	c.forgets++
}

type serviceDispatcher struct {
	confirmed []uint64
}

func (d *serviceDispatcher) PaymentConfirmed(tx *entity.Transaction) {
	d.confirmed = append(d.confirmed, tx.ID)
}

type serviceFixture struct {
	svc        *PaymentService
	txRepo     *serviceTxRepo
	webhooks   *serviceWebhookRepo
	audit      *serviceAuditRepo
	wallet     *serviceWalletRepo
	dispatcher *serviceDispatcher
}

func newServiceFixture() *serviceFixture {
	txRepo := newServiceTxRepo()
	webhooks := &serviceWebhookRepo{}
	audit := &serviceAuditRepo{}
	wallet := newServiceWalletRepo()
	dispatcher := &serviceDispatcher{}

	registry := gateway.NewRegistry(
		gateway.NewNowPaymentsGateway(gateway.NowPaymentsConfig{IPNSecret: testNowPaymentsSecret}),
		gateway.NewMatrixSolsGateway(gateway.MatrixSolsConfig{WebhookSecret: testMatrixSolsSecret}),
	)

	svc := NewPaymentService(
		txRepo,
		webhooks,
		audit,
		wallet,
		registry,
		nil,
		dispatcher,
		config.PaymentsConfig{PendingTimeout: time.Hour, JobBatchSize: 100},
		"https://payments.example.com",
	)

	return &serviceFixture{
		svc:        svc,
		txRepo:     txRepo,
		webhooks:   webhooks,
		audit:      audit,
		wallet:     wallet,
		dispatcher: dispatcher,
	}
}

func (f *serviceFixture) seedPending(orderRef string, userID uint64, amountCents int64) *entity.Transaction {
	now := time.Now().UTC().Add(-time.Minute)
	uid := userID
	tx := &entity.Transaction{
		OrderRef:    orderRef,
		UserID:      &uid,
		Gateway:     gateway.NowPaymentsName,
		AmountCents: amountCents,
		Currency:    "USDT",
		Status:      entity.StatusPending,
		Raw:         map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_ = f.txRepo.Create(context.Background(), tx)
	return tx
}

func signedHeaders(headerName string, newHash func() hash.Hash, secret string, body []byte) http.Header {
	mac := hmac.New(newHash, []byte(secret))
	_, _ = mac.Write(body)
	headers := http.Header{}
	headers.Set(headerName, hex.EncodeToString(mac.Sum(nil)))
	return headers
}

func nowPaymentsHeaders(body []byte) http.Header {
	return signedHeaders("x-nowpayments-sig", sha512.New, testNowPaymentsSecret, body)
}

func matrixSolsHeaders(body []byte) http.Header {
	return signedHeaders("x-matrixsols-signature", sha256.New, testMatrixSolsSecret, body)
}

func TestHandleGatewayWebhookFinished(t *testing.T) {
	f := newServiceFixture()
	tx := f.seedPending("ord-1", 7, 10000)

	body := []byte(`{"payment_id":4521,"payment_status":"finished","order_id":"ord-1","price_amount":100.00,"price_currency":"usdt"}`)
	result, err := f.svc.HandleGatewayWebhook(context.Background(), body, nowPaymentsHeaders(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeProcessed {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}
	if result.TransactionID != tx.ID {
		t.Fatalf("unexpected transaction id: %d", result.TransactionID)
	}

	stored := f.txRepo.items[tx.ID]
	if stored.Status != entity.StatusPaid {
		t.Fatalf("expected paid status, got %d", stored.Status)
	}
	if stored.PaidAt == nil {
		t.Fatal("expected paid_at to be stamped")
	}
	if got := f.wallet.balances[7]; got != 10000 {
		t.Fatalf("expected wallet credit of 10000, got %d", got)
	}
	if len(f.dispatcher.confirmed) != 1 {
		t.Fatalf("expected one confirmation dispatch, got %d", len(f.dispatcher.confirmed))
	}
	if len(f.webhooks.events) != 1 {
		t.Fatalf("expected one webhook event record, got %d", len(f.webhooks.events))
	}
	if f.webhooks.events[0].EventKey == nil || *f.webhooks.events[0].EventKey != "4521" {
		t.Fatal("expected payload payment_id as event key")
	}
}

func TestHandleGatewayWebhookDuplicateDelivery(t *testing.T) {
	f := newServiceFixture()
	tx := f.seedPending("ord-1", 7, 10000)

	body := []byte(`{"payment_id":4521,"payment_status":"finished","order_id":"ord-1","price_amount":100.00,"price_currency":"usdt"}`)

	first, err := f.svc.HandleGatewayWebhook(context.Background(), body, nowPaymentsHeaders(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.svc.HandleGatewayWebhook(context.Background(), body, nowPaymentsHeaders(body))
	if err != nil {
		t.Fatalf("unexpected error on duplicate: %v", err)
	}

	if first.Outcome != OutcomeProcessed || second.Outcome != OutcomeDuplicate {
		t.Fatalf("unexpected outcomes: %s, %s", first.Outcome, second.Outcome)
	}
	if got := f.wallet.balances[7]; got != 10000 {
		t.Fatalf("expected a single credit of 10000, got %d", got)
	}
	if f.wallet.credits != 1 {
		t.Fatalf("expected exactly one credit, got %d", f.wallet.credits)
	}
	if len(f.webhooks.events) != 1 {
		t.Fatalf("expected one webhook event record, got %d", len(f.webhooks.events))
	}
	if f.txRepo.items[tx.ID].Status != entity.StatusPaid {
		t.Fatal("expected transaction to stay paid")
	}
}

func TestHandleGatewayWebhookReplayNTimes(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("ord-1", 7, 10000)

	body := []byte(`{"payment_id":4521,"payment_status":"finished","order_id":"ord-1","price_amount":100.00,"price_currency":"usdt"}`)
	for i := 0; i < 5; i++ {
		if _, err := f.svc.HandleGatewayWebhook(context.Background(), body, nowPaymentsHeaders(body)); err != nil {
			t.Fatalf("replay %d: unexpected error: %v", i, err)
		}
	}

	if f.wallet.credits != 1 {
		t.Fatalf("expected exactly one credit after replays, got %d", f.wallet.credits)
	}
}

func TestHandleGatewayWebhookTamperedSignature(t *testing.T) {
	f := newServiceFixture()
	tx := f.seedPending("ord-1", 7, 10000)

	body := []byte(`{"payment_id":4521,"payment_status":"finished","order_id":"ord-1","price_amount":100.00,"price_currency":"usdt"}`)
	headers := http.Header{}
	headers.Set("x-nowpayments-sig", "deadbeef")

	_, err := f.svc.HandleGatewayWebhook(context.Background(), body, headers)
	if !errors.Is(err, ErrSignatureRejected) {
		t.Fatalf("expected ErrSignatureRejected, got %v", err)
	}

	if f.txRepo.items[tx.ID].Status != entity.StatusPending {
		t.Fatal("expected transaction to remain pending")
	}
	if f.wallet.credits != 0 {
		t.Fatal("expected no wallet credit")
	}
	if len(f.webhooks.events) != 1 {
		t.Fatalf("expected a rejected webhook event record, got %d", len(f.webhooks.events))
	}
	rejected := f.webhooks.events[0]
	if rejected.Status != webhookStatusRejected {
		t.Fatalf("expected rejected status, got %d", rejected.Status)
	}
	if rejected.EventKey != nil {
		t.Fatal("expected rejected event to carry no event key")
	}
}

func TestHandleGatewayWebhookRejectedThenValidRetry(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("ord-1", 7, 10000)

	body := []byte(`{"payment_id":4521,"payment_status":"finished","order_id":"ord-1","price_amount":100.00,"price_currency":"usdt"}`)

	headers := http.Header{}
	headers.Set("x-nowpayments-sig", "deadbeef")
	if _, err := f.svc.HandleGatewayWebhook(context.Background(), body, headers); !errors.Is(err, ErrSignatureRejected) {
		t.Fatalf("expected ErrSignatureRejected, got %v", err)
	}

	result, err := f.svc.HandleGatewayWebhook(context.Background(), body, nowPaymentsHeaders(body))
	if err != nil {
		t.Fatalf("unexpected error on valid retry: %v", err)
	}
	if result.Outcome != OutcomeProcessed {
		t.Fatalf("expected retry to process, got %s", result.Outcome)
	}
	if f.wallet.credits != 1 {
		t.Fatalf("expected one credit, got %d", f.wallet.credits)
	}
}

func TestHandleGatewayWebhookUnmatched(t *testing.T) {
	f := newServiceFixture()

	body := []byte(`{"payment_id":999,"payment_status":"finished","order_id":"no-such-order","price_amount":55.00,"price_currency":"usdt"}`)
	result, err := f.svc.HandleGatewayWebhook(context.Background(), body, nowPaymentsHeaders(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeUnmatched {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}

	stored := f.txRepo.items[result.TransactionID]
	if stored == nil {
		t.Fatal("expected a standalone transaction record")
	}
	if stored.Status != entity.StatusWebhookReceived {
		t.Fatalf("expected webhook_received status, got %d", stored.Status)
	}
	if stored.UserID != nil {
		t.Fatal("expected no user on unsolicited transaction")
	}
	if f.wallet.credits != 0 {
		t.Fatal("expected no wallet mutation for unsolicited event")
	}
}

func TestHandleGatewayWebhookUnknownGateway(t *testing.T) {
	f := newServiceFixture()

	headers := http.Header{}
	headers.Set("X-Unknown-Signature", "abc")

	_, err := f.svc.HandleGatewayWebhook(context.Background(), []byte(`{}`), headers)
	if !errors.Is(err, ErrUnknownGateway) {
		t.Fatalf("expected ErrUnknownGateway, got %v", err)
	}
}

func TestHandleGatewayWebhookFailureDoesNotDowngradePaid(t *testing.T) {
	f := newServiceFixture()
	tx := f.seedPending("ord-1", 7, 10000)

	paid := []byte(`{"payment_id":1,"payment_status":"finished","order_id":"ord-1","price_amount":100.00,"price_currency":"usdt"}`)
	if _, err := f.svc.HandleGatewayWebhook(context.Background(), paid, nowPaymentsHeaders(paid)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failed := []byte(`{"payment_id":2,"payment_status":"failed","order_id":"ord-1","price_amount":100.00,"price_currency":"usdt"}`)
	result, err := f.svc.HandleGatewayWebhook(context.Background(), failed, nowPaymentsHeaders(failed))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeIgnored {
		t.Fatalf("expected failure after paid to be ignored, got %s", result.Outcome)
	}
	if f.txRepo.items[tx.ID].Status != entity.StatusPaid {
		t.Fatal("expected paid status to be preserved")
	}
}

func TestHandleGatewayWebhookFailedTransition(t *testing.T) {
	f := newServiceFixture()
	tx := f.seedPending("ord-1", 7, 10000)

	body := []byte(`{"payment_id":1,"payment_status":"failed","order_id":"ord-1","price_amount":100.00,"price_currency":"usdt"}`)
	result, err := f.svc.HandleGatewayWebhook(context.Background(), body, nowPaymentsHeaders(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeProcessed {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}
	if f.txRepo.items[tx.ID].Status != entity.StatusFailed {
		t.Fatal("expected failed status")
	}
	if f.wallet.credits != 0 {
		t.Fatal("expected no credit on failure")
	}
}

func TestHandleGatewayWebhookNonTerminalIgnored(t *testing.T) {
	f := newServiceFixture()
	tx := f.seedPending("ord-1", 7, 10000)

	body := []byte(`{"payment_id":1,"payment_status":"confirming","order_id":"ord-1","price_amount":100.00,"price_currency":"usdt"}`)
	result, err := f.svc.HandleGatewayWebhook(context.Background(), body, nowPaymentsHeaders(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeIgnored {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}
	if f.txRepo.items[tx.ID].Status != entity.StatusPending {
		t.Fatal("expected pending status to be preserved")
	}
	if len(f.webhooks.events) != 1 {
		t.Fatal("expected the event to be recorded for audit")
	}
}

func TestHandleGatewayWebhookTwoGatewaysSameUser(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("ord-np", 7, 10000)

	uid := uint64(7)
	now := time.Now().UTC().Add(-time.Minute)
	msTx := &entity.Transaction{
		OrderRef:    "ord-ms",
		UserID:      &uid,
		Gateway:     gateway.MatrixSolsName,
		AmountCents: 2500,
		Currency:    "USD",
		Status:      entity.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_ = f.txRepo.Create(context.Background(), msTx)

	npBody := []byte(`{"payment_id":1,"payment_status":"finished","order_id":"ord-np","price_amount":100.00,"price_currency":"usdt"}`)
	if _, err := f.svc.HandleGatewayWebhook(context.Background(), npBody, nowPaymentsHeaders(npBody)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msBody := []byte(`{"id":"evt-9","reference":"ord-ms","status":"success","amount":"25.00","currency":"USD"}`)
	if _, err := f.svc.HandleGatewayWebhook(context.Background(), msBody, matrixSolsHeaders(msBody)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := f.wallet.balances[7]; got != 12500 {
		t.Fatalf("expected both credits to apply, got %d", got)
	}
	if f.wallet.credits != 2 {
		t.Fatalf("expected two independent credits, got %d", f.wallet.credits)
	}
}

func TestHandleGatewayWebhookInvoiceLookupPrecedence(t *testing.T) {
	f := newServiceFixture()
	tx := f.seedPending("ord-1", 7, 10000)
	invoiceID := "inv-42"
	f.txRepo.items[tx.ID].GatewayInvoiceID = &invoiceID

	// order_id is something the gateway made up; the invoice id stored
	// at charge creation must win.
	body := []byte(`{"payment_id":1,"invoice_id":"inv-42","payment_status":"finished","order_id":"gateway-side-ref","price_amount":100.00,"price_currency":"usdt"}`)
	result, err := f.svc.HandleGatewayWebhook(context.Background(), body, nowPaymentsHeaders(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeProcessed || result.TransactionID != tx.ID {
		t.Fatalf("expected invoice-id match on tx %d, got outcome=%s tx=%d", tx.ID, result.Outcome, result.TransactionID)
	}
}

func TestHandleGatewayWebhookKeylessGuardedByClaim(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("ord-1", 7, 10000)

	// No payment_id, no invoice_id, no delivery header: dedup cannot
	// key the event, so only the terminal claim protects the wallet.
	body := []byte(`{"payment_status":"finished","order_id":"ord-1","price_amount":100.00,"price_currency":"usdt"}`)

	first, err := f.svc.HandleGatewayWebhook(context.Background(), body, nowPaymentsHeaders(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.svc.HandleGatewayWebhook(context.Background(), body, nowPaymentsHeaders(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Outcome != OutcomeProcessed || second.Outcome != OutcomeIgnored {
		t.Fatalf("unexpected outcomes: %s, %s", first.Outcome, second.Outcome)
	}
	if f.wallet.credits != 1 {
		t.Fatalf("expected one credit, got %d", f.wallet.credits)
	}
}

func TestHandleGatewayWebhookDeliveryHeaderPreferred(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("ord-1", 7, 10000)

	body := []byte(`{"payment_id":4521,"payment_status":"finished","order_id":"ord-1","price_amount":100.00,"price_currency":"usdt"}`)
	headers := nowPaymentsHeaders(body)
	headers.Set(DeliveryIDHeader, "delivery-abc")

	if _, err := f.svc.HandleGatewayWebhook(context.Background(), body, headers); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.webhooks.events[0].EventKey == nil || *f.webhooks.events[0].EventKey != "delivery-abc" {
		t.Fatal("expected delivery header to be preferred as idempotency key")
	}
}

func TestHandleGatewayWebhookEmptyBody(t *testing.T) {
	f := newServiceFixture()

	_, err := f.svc.HandleGatewayWebhook(context.Background(), nil, http.Header{})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestHandleGatewayWebhookEventRecordFailureReleasesClaim(t *testing.T) {
	f := newServiceFixture()
	dedup := &serviceDedup{}
	f.svc.dedup = dedup
	f.seedPending("ord-1", 7, 10000)
	f.webhooks.createErr = errors.New("storage unavailable")

	body := []byte(`{"payment_id":4521,"payment_status":"finished","order_id":"ord-1","price_amount":100.00,"price_currency":"usdt"}`)

	if _, err := f.svc.HandleGatewayWebhook(context.Background(), body, nowPaymentsHeaders(body)); err == nil {
		t.Fatal("expected the event record failure to surface")
	}
	if dedup.forgets != 1 {
		t.Fatalf("expected the dedup claim to be released, got %d forgets", dedup.forgets)
	}

	// The gateway retries. The ledger claim is already spent, but the
	// durable webhook record must be written this time instead of the
	// retry being swallowed as a duplicate.
	f.webhooks.createErr = nil
	result, err := f.svc.HandleGatewayWebhook(context.Background(), body, nowPaymentsHeaders(body))
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if result.Outcome != OutcomeIgnored {
		t.Fatalf("unexpected retry outcome: %s", result.Outcome)
	}
	if len(f.webhooks.events) != 1 {
		t.Fatalf("expected the retry to record the webhook event, got %d", len(f.webhooks.events))
	}
	if f.wallet.credits != 1 {
		t.Fatalf("expected exactly one credit, got %d", f.wallet.credits)
	}
}

func TestHandleGatewayWebhookBadSignatureOnKnownEvent(t *testing.T) {
	f := newServiceFixture()
	dedup := &serviceDedup{}
	f.svc.dedup = dedup
	f.seedPending("ord-1", 7, 10000)

	body := []byte(`{"payment_id":4521,"payment_status":"finished","order_id":"ord-1","price_amount":100.00,"price_currency":"usdt"}`)
	if _, err := f.svc.HandleGatewayWebhook(context.Background(), body, nowPaymentsHeaders(body)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// An unsigned replay of a processed event must be rejected, not
	// acknowledged as a duplicate: that acknowledgment would tell an
	// unauthenticated caller the event exists.
	headers := http.Header{}
	headers.Set("x-nowpayments-sig", "deadbeef")
	if _, err := f.svc.HandleGatewayWebhook(context.Background(), body, headers); !errors.Is(err, ErrSignatureRejected) {
		t.Fatalf("expected ErrSignatureRejected, got %v", err)
	}

	if len(f.webhooks.events) != 2 {
		t.Fatalf("expected a rejected event record alongside the accepted one, got %d", len(f.webhooks.events))
	}
	if f.webhooks.events[1].Status != webhookStatusRejected {
		t.Fatalf("expected rejected status, got %d", f.webhooks.events[1].Status)
	}
}

func TestHandleGatewayWebhookCreditFailureSurfaces(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("ord-1", 7, 10000)
	f.wallet.creditErr = errors.New("storage unavailable")

	body := []byte(`{"payment_id":1,"payment_status":"finished","order_id":"ord-1","price_amount":100.00,"price_currency":"usdt"}`)
	if _, err := f.svc.HandleGatewayWebhook(context.Background(), body, nowPaymentsHeaders(body)); err == nil {
		t.Fatal("expected credit failure to surface")
	}

	foundAudit := false
	for _, event := range f.audit.events {
		if event.EventType == "wallet_credit_failed" {
			foundAudit = true
		}
	}
	if !foundAudit {
		t.Fatal("expected wallet_credit_failed audit event")
	}
}
