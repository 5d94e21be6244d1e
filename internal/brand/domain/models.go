// Package domain contains persistence models for brands and service packages.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrBrandNotFound   = errors.New("brand_not_found")
	ErrPackageNotFound = errors.New("package_not_found")
	ErrTaxNotFound     = errors.New("brand_tax_not_found")
)

// Brand is a reseller identity customers and packages belong to.
type Brand struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null;uniqueIndex"`
	Slug      string       `gorm:"type:text;not null;uniqueIndex"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Brand) TableName() string { return "brands" }

// BrandTax carries the per-brand tax rate and payment gateway account binding.
type BrandTax struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	BrandID      snowflake.ID `gorm:"not null;uniqueIndex"`
	TaxPercent   float64      `gorm:"not null"`
	GatewayKey   string       `gorm:"type:text;not null"`
	WebhookToken string       `gorm:"type:text;not null"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BrandTax) TableName() string { return "brand_taxes" }

// Package is a speed tier with its base monthly price in minor currency units.
type Package struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	BrandID   snowflake.ID `gorm:"not null;index"`
	Name      string       `gorm:"type:text;not null"`
	SpeedMbps int          `gorm:"not null"`
	Profile   string       `gorm:"type:text;not null"`
	BasePrice int64        `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Package) TableName() string { return "packages" }
