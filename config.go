package statsbeam

import (
	"errors"
	"time"

	"github.com/mongodb/grip"
)

var validLogLevels = []string{"debug", "info", "notice", "warning", "error"}

// Configuration holds the process-wide defaults new metric producers are
// built against. Per-metric overrides (bucket size, dimension limits,
// max pull delay) live on the individual metric config entities and take
// precedence over these defaults.
type Configuration struct {
	NumQueueWorkers int

	DefaultBucketSize      time.Duration
	DefaultMinBucketSize   time.Duration
	DimensionSoftLimit     int
	DimensionHardLimit     int
	MaxPullDelay           time.Duration
	MaxDropEventsPerBucket int

	// LogLevel selects the minimum grip logging level; empty defaults to
	// "info". UseSystemLogger routes grip's sender through the host's
	// system logger (systemd on linux) instead of stderr.
	LogLevel        string
	UseSystemLogger bool
}

func (c *Configuration) Validate() error {
	catcher := grip.NewBasicCatcher()

	if c.NumQueueWorkers < 1 {
		catcher.Add(errors.New("must specify a valid number of background job workers"))
	}
	if c.DefaultBucketSize <= 0 {
		catcher.Add(errors.New("must specify a positive default bucket size"))
	}
	if c.DefaultMinBucketSize < 0 {
		catcher.Add(errors.New("min bucket size cannot be negative"))
	}
	if c.DefaultMinBucketSize > c.DefaultBucketSize {
		catcher.Add(errors.New("min bucket size cannot exceed the default bucket size"))
	}

	if c.DimensionSoftLimit <= 0 {
		c.DimensionSoftLimit = DefaultDimensionSoftLimit
	}
	if c.DimensionHardLimit <= 0 {
		c.DimensionHardLimit = DefaultDimensionHardLimit
	}
	if c.DimensionHardLimit < c.DimensionSoftLimit {
		catcher.Add(errors.New("dimension hard limit cannot be below the soft limit"))
	}
	if c.MaxPullDelay <= 0 {
		c.MaxPullDelay = DefaultMaxPullDelay
	}
	if c.MaxDropEventsPerBucket <= 0 {
		c.MaxDropEventsPerBucket = MaxDropEventsPerBucket
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	} else if !isValidLogLevel(c.LogLevel) {
		catcher.Add(errors.New("log level must be one of debug, info, notice, warning, error"))
	}

	return catcher.Resolve()
}

func isValidLogLevel(level string) bool {
	for _, l := range validLogLevels {
		if l == level {
			return true
		}
	}
	return false
}
