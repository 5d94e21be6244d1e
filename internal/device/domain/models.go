// Package domain contains the network access server model and the cipher
// protecting its stored credential.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrDeviceNotFound = errors.New("device_not_found")

	// ErrCredentialDecrypt indicates a stored device credential cannot be
	// decrypted with the configured secret. This is a deployment fault and
	// must stop the operation instead of proceeding with bad data.
	ErrCredentialDecrypt = errors.New("device_credential_decrypt_failed")

	ErrEncryptionKeyMissing = errors.New("device_credential_secret_missing")
)

// NetworkDevice holds connection parameters for a remote access server.
// The password is stored AES-GCM encrypted; see Cipher.
type NetworkDevice struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	Name              string       `gorm:"type:text;not null;uniqueIndex"`
	Host              string       `gorm:"type:text;not null"`
	Port              int          `gorm:"not null;default:8728"`
	Username          string       `gorm:"type:text;not null"`
	EncryptedPassword string       `gorm:"type:text;not null"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (NetworkDevice) TableName() string { return "network_devices" }
