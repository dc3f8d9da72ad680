// Package config holds server configuration with walship-style layering:
// defaults, then a TOML file, then ROSTER_* environment variables, then
// explicitly-set command line flags.
package config

import (
	"fmt"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr string
	DataDir  string
	LogLevel string
	Seed     bool

	ApplyTimeout       time.Duration
	MaxConflictRetries int
	MaxStoreRetries    int
	BackoffBase        time.Duration
	BackoffMax         time.Duration

	ChangelogFlushInterval  time.Duration
	ChangelogEnqueueTimeout time.Duration
	ChangelogBufferBytes    int
}

// Default returns a Config with default values.
func Default() Config {
	return Config{
		HTTPAddr:                "127.0.0.1:8080",
		DataDir:                 "./data",
		LogLevel:                "info",
		Seed:                    true,
		ApplyTimeout:            2 * time.Second,
		MaxConflictRetries:      5,
		MaxStoreRetries:         3,
		BackoffBase:             5 * time.Millisecond,
		BackoffMax:              100 * time.Millisecond,
		ChangelogFlushInterval:  time.Second,
		ChangelogEnqueueTimeout: 500 * time.Millisecond,
		ChangelogBufferBytes:    4 << 20,
	}
}

// Validate checks bounds and rejects values the server cannot run with.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http addr must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	if c.ApplyTimeout <= 0 {
		return fmt.Errorf("apply timeout must be positive, got %s", c.ApplyTimeout)
	}
	if c.MaxConflictRetries <= 0 {
		return fmt.Errorf("max conflict retries must be positive, got %d", c.MaxConflictRetries)
	}
	if c.MaxStoreRetries <= 0 {
		return fmt.Errorf("max store retries must be positive, got %d", c.MaxStoreRetries)
	}
	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("backoff bounds invalid: base %s, max %s", c.BackoffBase, c.BackoffMax)
	}
	return nil
}

// configSetter applies values while respecting flags the user set
// explicitly (those always win over file and env values).
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) configSetter {
	if changed == nil {
		changed = map[string]bool{}
	}
	return configSetter{changed: changed}
}

func (s configSetter) setString(flag, val string, dst *string) {
	if val == "" || s.changed[flag] {
		return
	}
	*dst = val
}

func (s configSetter) setDuration(flag, val string, dst *time.Duration) error {
	if val == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("%s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s configSetter) setIntFromString(flag, val string, dst *int) error {
	if val == "" || s.changed[flag] {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: %w", flag, err)
	}
	*dst = n
	return nil
}

func (s configSetter) setInt(flag string, val int, dst *int) {
	if val == 0 || s.changed[flag] {
		return
	}
	*dst = val
}

func (s configSetter) setBoolFromString(flag, val string, dst *bool) {
	if val == "" || s.changed[flag] {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return
	}
	*dst = b
}

func (s configSetter) setBoolPtr(flag string, val *bool, dst *bool) {
	if val == nil || s.changed[flag] {
		return
	}
	*dst = *val
}
