// Package domain defines the billing engine contract.
package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/wispbill/wispbill/internal/invoice/domain"
)

// Service turns subscription state into payable invoices.
type Service interface {
	// GenerateInvoice creates the invoice for the subscription's current
	// billing period and obtains a payment link for it. The invoice row and
	// the gateway link are committed together or not at all.
	GenerateInvoice(ctx context.Context, subscriptionID snowflake.ID) (*invoicedomain.Invoice, error)
}
