package config

import "os"

// ApplyEnvConfig applies configuration from environment variables (ROSTER_*).
// It respects flags that have been explicitly set (changed map).
// Returns an error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("addr", os.Getenv("ROSTER_HTTP_ADDR"), &cfg.HTTPAddr)
	s.setString("data-dir", os.Getenv("ROSTER_DATA_DIR"), &cfg.DataDir)
	s.setString("log-level", os.Getenv("ROSTER_LOG_LEVEL"), &cfg.LogLevel)
	s.setBoolFromString("seed", os.Getenv("ROSTER_SEED"), &cfg.Seed)

	if err := s.setDuration("apply-timeout", os.Getenv("ROSTER_APPLY_TIMEOUT"), &cfg.ApplyTimeout); err != nil {
		return err
	}
	if err := s.setIntFromString("max-conflict-retries", os.Getenv("ROSTER_MAX_CONFLICT_RETRIES"), &cfg.MaxConflictRetries); err != nil {
		return err
	}
	if err := s.setIntFromString("max-store-retries", os.Getenv("ROSTER_MAX_STORE_RETRIES"), &cfg.MaxStoreRetries); err != nil {
		return err
	}
	if err := s.setDuration("backoff-base", os.Getenv("ROSTER_BACKOFF_BASE"), &cfg.BackoffBase); err != nil {
		return err
	}
	if err := s.setDuration("backoff-max", os.Getenv("ROSTER_BACKOFF_MAX"), &cfg.BackoffMax); err != nil {
		return err
	}

	if err := s.setDuration("changelog-flush-interval", os.Getenv("ROSTER_CHANGELOG_FLUSH_INTERVAL"), &cfg.ChangelogFlushInterval); err != nil {
		return err
	}
	if err := s.setDuration("changelog-enqueue-timeout", os.Getenv("ROSTER_CHANGELOG_ENQUEUE_TIMEOUT"), &cfg.ChangelogEnqueueTimeout); err != nil {
		return err
	}
	if err := s.setIntFromString("changelog-buffer-bytes", os.Getenv("ROSTER_CHANGELOG_BUFFER_BYTES"), &cfg.ChangelogBufferBytes); err != nil {
		return err
	}

	return nil
}
