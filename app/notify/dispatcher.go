package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/PixelMoon99/storefront-payments/app/entity"
	"github.com/PixelMoon99/storefront-payments/app/factory"
	"github.com/PixelMoon99/storefront-payments/app/mapper"
)

type Config struct {
	StorefrontCallbackURL string
	CallbackSecret        string
	KafkaTopic            string
	HTTPTimeout           time.Duration
}

// EventProducer is the slice of sarama.SyncProducer the dispatcher
// needs.
type EventProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
}

// Dispatcher delivers payment confirmations to the storefront and the
// event bus. Both deliveries are best-effort: the reconciliation path
// never waits on them and never sees their errors.
type Dispatcher struct {
	cfg      Config
	client   *http.Client
	producer EventProducer
	logger   logrus.FieldLogger
}

func NewDispatcher(cfg Config, producer EventProducer) *Dispatcher {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.KafkaTopic) == "" {
		cfg.KafkaTopic = "payment.confirmed"
	}

	return &Dispatcher{
		cfg:      cfg,
		client:   &http.Client{Timeout: timeout},
		producer: producer,
		logger:   factory.NewModuleLogger("dispatcher"),
	}
}

// PaymentConfirmed fires the confirmation as a detached task. The
// caller has already committed the ledger mutation and must not be
// delayed or failed by anything that happens here.
func (d *Dispatcher) PaymentConfirmed(tx *entity.Transaction) {
	item := *tx
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		d.dispatch(ctx, &item)
	}()
}

func (d *Dispatcher) dispatch(ctx context.Context, tx *entity.Transaction) {
	if err := d.postStorefrontCallback(ctx, tx); err != nil {
		d.logger.WithError(err).WithField("transaction_id", tx.ID).Warn("Storefront confirmation callback failed")
	}
	if err := d.publishEvent(tx); err != nil {
		d.logger.WithError(err).WithField("transaction_id", tx.ID).Warn("Payment confirmed event publish failed")
	}
}

func (d *Dispatcher) postStorefrontCallback(ctx context.Context, tx *entity.Transaction) error {
	callbackURL := strings.TrimSpace(d.cfg.StorefrontCallbackURL)
	if callbackURL == "" {
		return nil
	}

	body, err := json.Marshal(mapper.TransactionToAPI(tx))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.CallbackSecret != "" {
		mac := hmac.New(sha256.New, []byte(d.cfg.CallbackSecret))
		_, _ = mac.Write(body)
		req.Header.Set("X-Storefront-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback endpoint returned status=%d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) publishEvent(tx *entity.Transaction) error {
	if d.producer == nil {
		return nil
	}

	event := map[string]interface{}{
		"event_type":  "payment_confirmed",
		"transaction": mapper.TransactionToAPI(tx),
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, _, err = d.producer.SendMessage(&sarama.ProducerMessage{
		Topic: d.cfg.KafkaTopic,
		Key:   sarama.StringEncoder(tx.OrderRef),
		Value: sarama.ByteEncoder(body),
	})
	return err
}
