package pacegate

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Option is a functional option for configuring a Limiter.
type Option func(*Limiter) error

// WithConfig sets the full configuration.
func WithConfig(config *Config) Option {
	return func(l *Limiter) error {
		if config == nil {
			return fmt.Errorf("%w: config cannot be nil", ErrInvalidConfig)
		}
		if err := config.Validate(); err != nil {
			return err
		}
		l.config = config
		return nil
	}
}

// WithConfigFile loads configuration from a YAML file.
func WithConfigFile(path string) Option {
	return func(l *Limiter) error {
		config, err := LoadConfigFromFile(path)
		if err != nil {
			return err
		}
		l.config = config
		return nil
	}
}

// WithGroupConfig overrides the configuration of a single group.
func WithGroupConfig(group Group, gc GroupConfig) Option {
	return func(l *Limiter) error {
		if !group.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownGroup, group)
		}
		if err := gc.Validate(); err != nil {
			return fmt.Errorf("%w: group %s: %v", ErrInvalidConfig, group, err)
		}
		l.config.Groups[group] = gc
		return nil
	}
}

// WithLogger sets the structured logger used for diagnostics. The
// limiter never logs on the hot path above Debug.
func WithLogger(log *zap.Logger) Option {
	return func(l *Limiter) error {
		if log == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfig)
		}
		l.log = log
		return nil
	}
}

// WithClock sets the time source. Intended for tests.
func WithClock(clock Clock) Option {
	return func(l *Limiter) error {
		if clock == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfig)
		}
		l.clock = clock
		return nil
	}
}

// WithWaiterTimeout bounds how long a single Acquire may stay suspended.
func WithWaiterTimeout(timeout time.Duration) Option {
	return func(l *Limiter) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: waiter timeout must be positive", ErrInvalidConfig)
		}
		l.config.WaiterTimeout = Duration(timeout)
		return nil
	}
}

// WithNotifierTick sets the wake-scan cadence of the notifier tasks.
// Mostly useful to tighten tests.
func WithNotifierTick(tick time.Duration) Option {
	return func(l *Limiter) error {
		if tick <= 0 {
			return fmt.Errorf("%w: notifier tick must be positive", ErrInvalidConfig)
		}
		l.config.NotifierTick = Duration(tick)
		return nil
	}
}

// WithHealthCheckInterval sets the supervisor's inspection cadence.
func WithHealthCheckInterval(interval time.Duration) Option {
	return func(l *Limiter) error {
		if interval <= 0 {
			return fmt.Errorf("%w: health check interval must be positive", ErrInvalidConfig)
		}
		l.config.HealthCheckInterval = Duration(interval)
		return nil
	}
}
