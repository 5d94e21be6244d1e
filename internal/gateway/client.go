// Package gateway talks to the external payment gateway and serializes all
// outbound invoice-creation calls through a throttled queue.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wispbill/wispbill/internal/config"
	"go.uber.org/zap"
)

var (
	ErrGatewayUnavailable = errors.New("payment_gateway_unavailable")
	ErrGatewayRejected    = errors.New("payment_gateway_rejected")
)

// InvoiceRequest is one invoice-creation call to the gateway. GatewayKey is
// the brand's account credential.
type InvoiceRequest struct {
	GatewayKey    string
	ExternalID    string
	Amount        int64
	TaxAmount     int64
	Description   string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
}

// LinkResult is what the gateway returns for a created invoice.
type LinkResult struct {
	GatewayRef string
	PaymentURL string
	ExpiresAt  *time.Time
}

// Client creates payable invoices at the gateway.
type Client interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*LinkResult, error)
}

type httpClient struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewClient builds the HTTP gateway client.
func NewClient(cfg config.Config, log *zap.Logger) Client {
	return &httpClient{
		baseURL: cfg.GatewayBaseURL,
		http:    &http.Client{Timeout: cfg.GatewayTimeout},
		log:     log.Named("gateway.client"),
	}
}

type createInvoiceBody struct {
	ExternalID  string            `json:"external_id"`
	Amount      int64             `json:"amount"`
	Description string            `json:"description"`
	Customer    invoiceCustomer   `json:"customer"`
	Fees        []invoiceFeeLine  `json:"fees,omitempty"`
}

type invoiceCustomer struct {
	GivenNames   string `json:"given_names"`
	Email        string `json:"email,omitempty"`
	MobileNumber string `json:"mobile_number,omitempty"`
}

type invoiceFeeLine struct {
	Type  string `json:"type"`
	Value int64  `json:"value"`
}

type createInvoiceResponse struct {
	ID         string     `json:"id"`
	InvoiceURL string     `json:"invoice_url"`
	ExpiryDate *time.Time `json:"expiry_date"`
}

func (c *httpClient) CreateInvoice(ctx context.Context, req InvoiceRequest) (*LinkResult, error) {
	body := createInvoiceBody{
		ExternalID:  req.ExternalID,
		Amount:      req.Amount,
		Description: req.Description,
		Customer: invoiceCustomer{
			GivenNames:   req.CustomerName,
			Email:        req.CustomerEmail,
			MobileNumber: req.CustomerPhone,
		},
	}
	if req.TaxAmount > 0 {
		body.Fees = append(body.Fees, invoiceFeeLine{Type: "tax", Value: req.TaxAmount})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/invoices", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(req.GatewayKey, "")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.log.Warn("gateway rejected invoice creation",
			zap.String("external_id", req.ExternalID),
			zap.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: status %d", ErrGatewayRejected, resp.StatusCode)
	}

	var parsed createInvoiceResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}
	if parsed.ID == "" || parsed.InvoiceURL == "" {
		return nil, fmt.Errorf("%w: incomplete response", ErrGatewayRejected)
	}

	return &LinkResult{
		GatewayRef: parsed.ID,
		PaymentURL: parsed.InvoiceURL,
		ExpiresAt:  parsed.ExpiryDate,
	}, nil
}
