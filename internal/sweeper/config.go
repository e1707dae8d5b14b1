package sweeper

import (
	"time"
)

// Config controls the recovery sweep interval and the age at which a
// PROCESSING transaction counts as abandoned.
type Config struct {
	RunInterval    time.Duration
	StaleThreshold time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    time.Minute,
		StaleThreshold: 15 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = defaults.StaleThreshold
	}
	return c
}

func ProvideConfig() Config {
	return DefaultConfig()
}
