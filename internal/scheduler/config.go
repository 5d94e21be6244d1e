package scheduler

import (
	"time"

	appconfig "github.com/wispbill/wispbill/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval     time.Duration
	GracePeriodDays int
	SweepBatchSize  int
	SyncRetryLimit  int
	JobTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:     time.Hour,
		GracePeriodDays: 5,
		SweepBatchSize:  100,
		SyncRetryLimit:  10,
		JobTimeout:      5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.GracePeriodDays <= 0 {
		c.GracePeriodDays = defaults.GracePeriodDays
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = defaults.SweepBatchSize
	}
	if c.SyncRetryLimit <= 0 {
		c.SyncRetryLimit = defaults.SyncRetryLimit
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

// ProvideConfig maps application configuration onto the scheduler's own.
func ProvideConfig(cfg appconfig.Config) Config {
	return Config{
		RunInterval:     cfg.SchedulerInterval,
		GracePeriodDays: cfg.GracePeriodDays,
		SweepBatchSize:  cfg.SweepBatchSize,
		SyncRetryLimit:  cfg.SyncRetryLimit,
	}.withDefaults()
}
