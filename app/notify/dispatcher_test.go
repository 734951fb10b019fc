package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/PixelMoon99/storefront-payments/app/entity"
	"github.com/PixelMoon99/storefront-payments/app/types"
)

type fakeProducer struct {
	messages []*sarama.ProducerMessage
	sendErr  error
}

func (p *fakeProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	if p.sendErr != nil {
		return 0, 0, p.sendErr
	}
	p.messages = append(p.messages, msg)
	return 0, int64(len(p.messages)), nil
}

func testTransaction() *entity.Transaction {
	uid := uint64(7)
	now := time.Now().UTC()
	return &entity.Transaction{
		ID:          42,
		OrderRef:    "ord-1",
		UserID:      &uid,
		Gateway:     "nowpayments",
		AmountCents: 10000,
		Currency:    "USDT",
		Status:      entity.StatusPaid,
		PaidAt:      &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestDispatchPostsSignedCallback(t *testing.T) {
	var gotBody []byte
	var gotSignature string
	var gotContentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-Storefront-Signature")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	producer := &fakeProducer{}
	d := NewDispatcher(Config{
		StorefrontCallbackURL: server.URL,
		CallbackSecret:        "callback-secret",
	}, producer)

	d.dispatch(context.Background(), testTransaction())

	if gotContentType != "application/json" {
		t.Fatalf("unexpected content type: %s", gotContentType)
	}

	var payload types.Transaction
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unexpected callback body: %v", err)
	}
	if payload.OrderRef != "ord-1" || payload.Status != "paid" {
		t.Fatalf("unexpected callback payload: %+v", payload)
	}

	mac := hmac.New(sha256.New, []byte("callback-secret"))
	_, _ = mac.Write(gotBody)
	if gotSignature != hex.EncodeToString(mac.Sum(nil)) {
		t.Fatal("expected callback signature over the exact body bytes")
	}

	if len(producer.messages) != 1 {
		t.Fatalf("expected one published event, got %d", len(producer.messages))
	}
}

func TestDispatchPublishesConfirmedEvent(t *testing.T) {
	producer := &fakeProducer{}
	d := NewDispatcher(Config{KafkaTopic: "payments.events"}, producer)

	d.dispatch(context.Background(), testTransaction())

	if len(producer.messages) != 1 {
		t.Fatalf("expected one published event, got %d", len(producer.messages))
	}
	msg := producer.messages[0]
	if msg.Topic != "payments.events" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}

	key, err := msg.Key.Encode()
	if err != nil {
		t.Fatalf("unexpected key: %v", err)
	}
	if string(key) != "ord-1" {
		t.Fatalf("expected order ref as partition key, got %s", string(key))
	}

	value, err := msg.Value.Encode()
	if err != nil {
		t.Fatalf("unexpected value: %v", err)
	}
	var event struct {
		EventType   string             `json:"event_type"`
		Transaction *types.Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(value, &event); err != nil {
		t.Fatalf("unexpected event body: %v", err)
	}
	if event.EventType != "payment_confirmed" {
		t.Fatalf("unexpected event type: %s", event.EventType)
	}
	if event.Transaction == nil || event.Transaction.Id != 42 {
		t.Fatal("expected the confirmed transaction in the event")
	}
}

func TestDispatchCallbackFailureStillPublishes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	producer := &fakeProducer{}
	d := NewDispatcher(Config{StorefrontCallbackURL: server.URL}, producer)

	d.dispatch(context.Background(), testTransaction())

	if len(producer.messages) != 1 {
		t.Fatalf("expected publish despite callback failure, got %d messages", len(producer.messages))
	}
}

func TestDispatchWithoutProducerOrCallback(t *testing.T) {
	d := NewDispatcher(Config{}, nil)
	// Nothing configured: dispatch must be a no-op, not a panic.
	d.dispatch(context.Background(), testTransaction())
}

func TestNewDispatcherDefaults(t *testing.T) {
	d := NewDispatcher(Config{}, nil)
	if d.cfg.KafkaTopic != "payment.confirmed" {
		t.Fatalf("unexpected default topic: %s", d.cfg.KafkaTopic)
	}
	if d.client.Timeout != 10*time.Second {
		t.Fatalf("unexpected default timeout: %s", d.client.Timeout)
	}
}
