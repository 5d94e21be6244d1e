// Package domain contains persistence models for invoices.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/wispbill/wispbill/internal/subscription/domain"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states. PAID and EXPIRED are
// terminal; no transition leaves them.
type InvoiceStatus string

const (
	InvoiceStatusUnpaid  InvoiceStatus = "UNPAID"
	InvoiceStatusPaid    InvoiceStatus = "PAID"
	InvoiceStatusExpired InvoiceStatus = "EXPIRED"
)

var (
	ErrInvoiceNotFound        = errors.New("invoice_not_found")
	ErrDuplicateInvoicePeriod = errors.New("duplicate_invoice_period")
	ErrInvoiceTerminal        = errors.New("invoice_in_terminal_state")
)

// Invoice is one billing period's payable charge. Number is the immutable
// human-facing identity; once Status is PAID the charge fields never change.
// PeriodCount records how many calendar months the charge covers (a combined
// catch-up invoice covers two), so later transitions never have to re-derive
// intent from the amount.
type Invoice struct {
	ID             snowflake.ID                   `gorm:"primaryKey"`
	Number         string                         `gorm:"type:text;not null;uniqueIndex"`
	SubscriptionID snowflake.ID                   `gorm:"not null;index;uniqueIndex:ux_invoice_period,priority:1"`
	CustomerID     snowflake.ID                   `gorm:"not null;index"`
	Status         InvoiceStatus                  `gorm:"type:text;not null;default:'UNPAID'"`
	BillingMode    subscriptiondomain.BillingMode `gorm:"type:text;not null"`
	PeriodCount    int                            `gorm:"not null;default:1"`
	Amount         int64                          `gorm:"not null"`
	DueDate        time.Time                      `gorm:"not null;index;uniqueIndex:ux_invoice_period,priority:2"`
	GatewayRef     string                         `gorm:"type:text"`
	PaymentURL     string                         `gorm:"type:text"`
	PaidAmount     *int64                         `gorm:""`
	PaidAt         *time.Time                     `gorm:""`
	Metadata       datatypes.JSONMap              `gorm:"type:jsonb"`
	CreatedAt      time.Time                      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time                      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }
