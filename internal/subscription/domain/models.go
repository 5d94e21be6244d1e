// Package domain contains persistence models for subscriptions.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusSuspended SubscriptionStatus = "SUSPENDED"
	SubscriptionStatusStopped   SubscriptionStatus = "STOPPED"
)

// BillingMode selects how the next invoice amount is derived.
type BillingMode string

const (
	// BillingModeAutomatic bills the package's full standard price each month.
	BillingModeAutomatic BillingMode = "AUTOMATIC"
	// BillingModeProrate bills the partial first period; after it is paid the
	// subscription flips to BillingModeAutomatic.
	BillingModeProrate BillingMode = "PRORATE"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrSubscriptionStopped  = errors.New("subscription_stopped")
	ErrDueDateRegression    = errors.New("next_due_date_regression")
)

// Subscription links a customer to a package and carries the billing cursor.
// NextDueDate only ever moves forward.
type Subscription struct {
	ID               snowflake.ID       `gorm:"primaryKey"`
	CustomerID       snowflake.ID       `gorm:"not null;index"`
	PackageID        snowflake.ID       `gorm:"not null;index"`
	Status           SubscriptionStatus `gorm:"type:text;not null"`
	BillingMode      BillingMode        `gorm:"type:text;not null"`
	BasePrice        int64              `gorm:"not null"`
	NextDueDate      time.Time          `gorm:"not null;index"`
	LastInvoicedDate *time.Time         `gorm:""`
	CreatedAt        time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
