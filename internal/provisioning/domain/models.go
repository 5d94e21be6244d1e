// Package domain defines the provisioning synchronizer contract and its
// reconciliation queue.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	// ErrSecretNotFound means neither the previous nor the current login
	// exists on the device; the remote system must not be silently left
	// unmanaged.
	ErrSecretNotFound = errors.New("remote_secret_not_found")

	ErrDeviceUnreachable = errors.New("device_unreachable")
)

// Service pushes a subscription's status into the remote access server.
type Service interface {
	// Sync reconciles the device credential with the subscription state.
	// previousLogin handles in-place renames; pass the current login when no
	// rename happened.
	Sync(ctx context.Context, subscriptionID snowflake.ID, previousLogin string) error
	// Dispatch schedules Sync on the bounded worker pool and returns
	// immediately; failures surface through SyncPending and the task queue.
	Dispatch(subscriptionID snowflake.ID, previousLogin string)
	// RetryPending re-runs open sync tasks, up to limit.
	RetryPending(ctx context.Context, limit int) (int, error)
}

// SyncTask is one deferred reconciliation. A row stays open (ResolvedAt null)
// until a sync for its subscription succeeds.
type SyncTask struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	SubscriptionID snowflake.ID `gorm:"not null;index"`
	// PreviousLogin preserves a rename that never reached the device, so a
	// retry can still locate the old secret.
	PreviousLogin string     `gorm:"type:text"`
	Reason        string     `gorm:"type:text;not null"`
	Attempts      int        `gorm:"not null;default:0"`
	LastError     string     `gorm:"type:text"`
	ResolvedAt    *time.Time `gorm:"index"`
	CreatedAt     time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SyncTask) TableName() string { return "sync_tasks" }
