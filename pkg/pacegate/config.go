package pacegate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" or "1.5m"
// decode directly into configs and encode back in the same form.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML decodes either a Go duration string or a bare number of
// seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%w: bad duration %q: %v", ErrInvalidConfig, raw, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("%w: bad duration node at line %d", ErrInvalidConfig, value.Line)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalYAML encodes the duration in Go string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config holds the full limiter configuration: process-wide tuning plus
// one GroupConfig per rate-limit group.
type Config struct {
	// SafetyFactor scales every base rate down slightly so that clock
	// slop on either side never trips the provider's real limit. This
	// is policy, not algorithm; 1.0 disables it.
	SafetyFactor float64 `yaml:"safety_factor"`

	// WaiterTimeout bounds a single Acquire suspension end to end.
	WaiterTimeout Duration `yaml:"waiter_timeout"`

	// NotifierTick is the wake-scan cadence of each group's notifier task.
	NotifierTick Duration `yaml:"notifier_tick"`

	// HealthCheckInterval is the supervisor's inspection cadence.
	HealthCheckInterval Duration `yaml:"health_check_interval"`

	// RestartInterval throttles notifier restarts per group.
	RestartInterval Duration `yaml:"restart_interval"`

	// MaxConsecutiveErrors is the error count at which a notifier task
	// gives up and escalates to the supervisor.
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`

	// RecoveryTick is the cadence of the ratio recovery loop.
	RecoveryTick Duration `yaml:"recovery_tick"`

	Groups map[Group]GroupConfig `yaml:"groups"`
}

// DefaultConfig returns the configuration shipped with the library:
// group rates modeled on a typical exchange's published limits, with a
// dual-limited websocket group (5 req/s and 100 req/min).
func DefaultConfig() *Config {
	throttleDefaults := func(c GroupConfig) GroupConfig {
		c.ErrorThreshold = 1 // zero tolerance: a single 429 reduces the ratio
		c.ErrorWindow = Duration(time.Minute)
		c.ReductionRatio = 0.5
		c.MinRatio = 0.1
		c.RecoveryDelay = Duration(30 * time.Second)
		c.RecoveryStep = 0.1
		c.PreventiveWindow = Duration(5 * time.Second)
		c.MaxPreventiveDelay = Duration(time.Second)
		return c
	}

	return &Config{
		SafetyFactor:         0.98,
		WaiterTimeout:        Duration(10 * time.Second),
		NotifierTick:         Duration(10 * time.Millisecond),
		HealthCheckInterval:  Duration(time.Second),
		RestartInterval:      Duration(30 * time.Second),
		MaxConsecutiveErrors: 5,
		RecoveryTick:         Duration(time.Second),
		Groups: map[Group]GroupConfig{
			GroupPublicRead: throttleDefaults(GroupConfig{
				BaseRPS:       10,
				BurstCapacity: 10,
			}),
			GroupPrivateDefault: throttleDefaults(GroupConfig{
				BaseRPS:       30,
				BurstCapacity: 30,
			}),
			GroupPrivateOrder: throttleDefaults(GroupConfig{
				BaseRPS:       8,
				BurstCapacity: 8,
			}),
			GroupPrivateBulkCancel: throttleDefaults(GroupConfig{
				BaseRPS:       0.5,
				BurstCapacity: 1,
			}),
			GroupWebSocket: throttleDefaults(GroupConfig{
				BaseRPS:           5,
				BurstCapacity:     5,
				RequestsPerMinute: 100,
				RPMBurstCapacity:  10,
			}),
		},
	}
}

// LoadConfigFromFile loads configuration from a YAML file. Values not
// present in the file keep their defaults; group entries in the file
// replace the default entry for that group wholesale.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if c.SafetyFactor <= 0 || c.SafetyFactor > 1 {
		return fmt.Errorf("%w: safety_factor must be in (0, 1]", ErrInvalidConfig)
	}
	if c.WaiterTimeout <= 0 {
		return fmt.Errorf("%w: waiter_timeout must be positive", ErrInvalidConfig)
	}
	if c.NotifierTick <= 0 {
		return fmt.Errorf("%w: notifier_tick must be positive", ErrInvalidConfig)
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("%w: health_check_interval must be positive", ErrInvalidConfig)
	}
	if c.RestartInterval < 0 {
		return fmt.Errorf("%w: restart_interval cannot be negative", ErrInvalidConfig)
	}
	if c.MaxConsecutiveErrors < 1 {
		return fmt.Errorf("%w: max_consecutive_errors must be at least 1", ErrInvalidConfig)
	}
	if c.RecoveryTick <= 0 {
		return fmt.Errorf("%w: recovery_tick must be positive", ErrInvalidConfig)
	}
	if len(c.Groups) == 0 {
		return fmt.Errorf("%w: no groups configured", ErrInvalidConfig)
	}
	for group, gc := range c.Groups {
		if !group.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownGroup, group)
		}
		if err := gc.Validate(); err != nil {
			return fmt.Errorf("%w: group %s: %v", ErrInvalidConfig, group, err)
		}
	}
	return nil
}

// GroupConfig returns the configuration for one group.
func (c *Config) GroupConfig(group Group) (GroupConfig, error) {
	gc, ok := c.Groups[group]
	if !ok {
		return GroupConfig{}, fmt.Errorf("%w: %q", ErrUnknownGroup, group)
	}
	return gc, nil
}
