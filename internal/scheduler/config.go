package scheduler

import (
	"time"

	"github.com/smallbiznis/instructorledger/internal/config"
)

// Config controls the scheduler loop. Batch sizes live in the ledger policy.
type Config struct {
	RunInterval time.Duration
	EnabledJobs []string
	LockTTL     time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		LockTTL:     5 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.Scheduler.RunInterval,
		EnabledJobs: cfg.Scheduler.EnabledJobs,
		LockTTL:     cfg.Scheduler.LockTTL,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	// the lock must outlive one full run
	if c.LockTTL < c.RunInterval {
		c.LockTTL = c.RunInterval
	}
	return c
}
