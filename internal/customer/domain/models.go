// Package domain contains persistence models for customers and their
// network access credentials.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrCustomerNotFound      = errors.New("customer_not_found")
	ErrTechnicalDataNotFound = errors.New("technical_data_not_found")
)

// Customer is a subscriber identity with brand affiliation.
type Customer struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	BrandID   snowflake.ID `gorm:"not null;index"`
	Name      string       `gorm:"type:text;not null"`
	Email     string       `gorm:"type:text"`
	Phone     string       `gorm:"type:text"`
	Address   string       `gorm:"type:text"`
	Location  string       `gorm:"type:text"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Customer) TableName() string { return "customers" }

// TechnicalData is the customer's PPPoE credential set. SyncPending marks a
// known divergence between this row and the remote access server.
type TechnicalData struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	CustomerID     snowflake.ID `gorm:"not null;uniqueIndex"`
	DeviceID       snowflake.ID `gorm:"not null;index"`
	Login          string       `gorm:"type:text;not null"`
	Password       string       `gorm:"type:text;not null"`
	AssignedIP     string       `gorm:"type:text"`
	ServiceProfile string       `gorm:"type:text;not null"`
	SyncPending    bool         `gorm:"not null;default:false"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TechnicalData) TableName() string { return "technical_data" }
