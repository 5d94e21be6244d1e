// Package notification delivers customer-facing payment messages. Delivery is
// best effort; billing state never depends on it.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// PaymentReceipt describes a settled invoice for the outbound message.
type PaymentReceipt struct {
	InvoiceNumber string    `json:"invoice_number"`
	CustomerName  string    `json:"customer_name"`
	Phone         string    `json:"phone"`
	Email         string    `json:"email"`
	Amount        int64     `json:"amount"`
	PaidAt        time.Time `json:"paid_at"`
	NextDueDate   time.Time `json:"next_due_date"`
}

// Notifier sends a payment receipt to the customer.
type Notifier interface {
	SendPaymentReceipt(ctx context.Context, receipt PaymentReceipt) error
}

type httpNotifier struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// NewHTTP posts receipts to a webhook endpoint (a WhatsApp gateway in the
// usual deployment).
func NewHTTP(url string, timeout time.Duration, log *zap.Logger) Notifier {
	return &httpNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log.Named("notification"),
	}
}

func (n *httpNotifier) SendPaymentReceipt(ctx context.Context, receipt PaymentReceipt) error {
	body, err := json.Marshal(receipt)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

type noopNotifier struct{}

// NewNoop returns a Notifier that drops every message. Used when no endpoint
// is configured.
func NewNoop() Notifier { return noopNotifier{} }

func (noopNotifier) SendPaymentReceipt(ctx context.Context, receipt PaymentReceipt) error {
	_ = ctx
	_ = receipt
	return nil
}
