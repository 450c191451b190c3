package pacegate

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNegativeRate is returned when a group's base rate is not positive.
	ErrNegativeRate = errors.New("base rate must be positive")

	// ErrNegativeBurst is returned when a group's burst capacity is not positive.
	ErrNegativeBurst = errors.New("burst capacity must be positive")

	// ErrInvalidSecondaryLimit is returned when a per-minute limit is
	// declared without a burst capacity (or vice versa).
	ErrInvalidSecondaryLimit = errors.New("secondary limit requires both requests_per_minute and rpm_burst_capacity")

	// ErrInvalidThrottleConfig is returned when adaptive-throttle
	// parameters are out of range.
	ErrInvalidThrottleConfig = errors.New("invalid adaptive throttle configuration")

	// ErrUnknownGroup is returned when a caller names a group the
	// limiter was not configured with. This is a configuration error
	// and should surface at startup, not be retried.
	ErrUnknownGroup = errors.New("unknown rate limit group")

	// ErrAcquireTimeout is returned when an admission attempt waited
	// longer than the configured waiter timeout. It is soft: the caller
	// may retry.
	ErrAcquireTimeout = errors.New("rate limit acquire timed out")

	// ErrClosed is returned once the limiter has been shut down.
	ErrClosed = errors.New("limiter closed")
)
