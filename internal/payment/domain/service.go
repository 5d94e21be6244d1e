// Package domain defines the payment event processor contract. Every path
// that settles or expires an invoice, manual action, gateway webhook or the
// overdue sweep, funnels through this single surface.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/wispbill/wispbill/internal/invoice/domain"
)

var (
	ErrWebhookUnauthorized = errors.New("webhook_token_mismatch")
	ErrMalformedWebhook    = errors.New("malformed_webhook_payload")
)

// Payment sources, recorded in metrics and the invoice metadata.
const (
	SourceManual  = "manual"
	SourceWebhook = "webhook"
	SourceSweep   = "sweep"
)

// MarkPaidRequest settles one invoice. PaidAmount and PaidAt default to the
// invoice amount and the current time when nil.
type MarkPaidRequest struct {
	InvoiceID  snowflake.ID
	PaidAmount *int64
	PaidAt     *time.Time
	Source     string
}

// ExpireResult reports what the expiry actually changed.
type ExpireResult struct {
	Expired   bool
	Suspended bool
}

// WebhookEvent is the parsed gateway callback body.
type WebhookEvent struct {
	ExternalID string     `json:"external_id"`
	Status     string     `json:"status"`
	PaidAmount *int64     `json:"paid_amount"`
	PaidAt     *time.Time `json:"paid_at"`
}

// Service applies terminal invoice transitions and their subscription
// side effects.
type Service interface {
	// MarkPaid is idempotent: an already paid invoice is a successful no-op.
	MarkPaid(ctx context.Context, req MarkPaidRequest) (*invoicedomain.Invoice, error)
	// Expire moves an unpaid invoice to EXPIRED and suspends its subscription
	// when it is not suspended already.
	Expire(ctx context.Context, invoiceID snowflake.ID) (ExpireResult, error)
	// ProcessWebhook authenticates and applies one gateway callback.
	ProcessWebhook(ctx context.Context, token string, event WebhookEvent) error
}
