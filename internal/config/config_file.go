package config

import (
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors Config but uses strings for durations to make TOML friendly.
type fileConfig struct {
	HTTPAddr string `toml:"http_addr"`
	DataDir  string `toml:"data_dir"`
	LogLevel string `toml:"log_level"`
	Seed     *bool  `toml:"seed"`

	ApplyTimeout       string `toml:"apply_timeout"`
	MaxConflictRetries int    `toml:"max_conflict_retries"`
	MaxStoreRetries    int    `toml:"max_store_retries"`
	BackoffBase        string `toml:"backoff_base"`
	BackoffMax         string `toml:"backoff_max"`

	ChangelogFlushInterval  string `toml:"changelog_flush_interval"`
	ChangelogEnqueueTimeout string `toml:"changelog_enqueue_timeout"`
	ChangelogBufferBytes    int    `toml:"changelog_buffer_bytes"`
}

// LoadFileConfig reads and parses a TOML config file.
func LoadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc fileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("addr", fc.HTTPAddr, &cfg.HTTPAddr)
	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setBoolPtr("seed", fc.Seed, &cfg.Seed)

	if err := s.setDuration("apply-timeout", fc.ApplyTimeout, &cfg.ApplyTimeout); err != nil {
		return err
	}
	s.setInt("max-conflict-retries", fc.MaxConflictRetries, &cfg.MaxConflictRetries)
	s.setInt("max-store-retries", fc.MaxStoreRetries, &cfg.MaxStoreRetries)
	if err := s.setDuration("backoff-base", fc.BackoffBase, &cfg.BackoffBase); err != nil {
		return err
	}
	if err := s.setDuration("backoff-max", fc.BackoffMax, &cfg.BackoffMax); err != nil {
		return err
	}

	if err := s.setDuration("changelog-flush-interval", fc.ChangelogFlushInterval, &cfg.ChangelogFlushInterval); err != nil {
		return err
	}
	if err := s.setDuration("changelog-enqueue-timeout", fc.ChangelogEnqueueTimeout, &cfg.ChangelogEnqueueTimeout); err != nil {
		return err
	}
	s.setInt("changelog-buffer-bytes", fc.ChangelogBufferBytes, &cfg.ChangelogBufferBytes)

	return nil
}
