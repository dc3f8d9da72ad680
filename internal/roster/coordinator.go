package roster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"schoolroster/internal/model"
	"schoolroster/internal/storage"
)

const (
	defaultMaxConflictRetries = 5
	defaultMaxStoreRetries    = 3
	defaultBackoffBase        = 5 * time.Millisecond
	defaultBackoffMax         = 100 * time.Millisecond
)

// Config bounds the coordinator's retry behavior. Zero values fall back to
// the defaults above.
type Config struct {
	// MaxConflictRetries is how many times a version-mismatched write is
	// re-attempted with a fresh read before giving up with ErrConflict.
	MaxConflictRetries int

	// MaxStoreRetries is how many times a transiently failing store call is
	// re-attempted before giving up with ErrStoreUnavailable.
	MaxStoreRetries int

	// BackoffBase and BackoffMax bound the jittered exponential delay
	// between attempts.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConflictRetries <= 0 {
		c.MaxConflictRetries = defaultMaxConflictRetries
	}
	if c.MaxStoreRetries <= 0 {
		c.MaxStoreRetries = defaultMaxStoreRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = defaultBackoffMax
	}
	return c
}

/*
Coordinator turns a patch set into one atomic roster replacement:
- Atomicity: the whole roster is swapped in a single conditional write, so a
  reader never observes half a batch.
- No lost updates: the write commits only if the version read at the start
  is still current; a concurrent writer forces a fresh read and re-plan.
- Isolation between parents: contention is scoped to one school's version
  field; there are no in-process locks, so independent schools never block
  each other and the design holds across multiple service instances.
*/
type Coordinator struct {
	store  storage.Store
	cfg    Config
	logger zerolog.Logger
}

func NewCoordinator(store storage.Store, cfg Config, logger zerolog.Logger) *Coordinator {
	return &Coordinator{store: store, cfg: cfg.withDefaults(), logger: logger}
}

// Apply applies every entry of patch to the school's roster as one unit.
// Successive successful applies to the same school are linearized by the
// version counter. Failures map onto the package's terminal error kinds;
// on any failure the stored roster and version are unchanged.
func (c *Coordinator) Apply(ctx context.Context, schoolID string, patch model.PatchSet) (model.ApplyResult, error) {
	if err := validate(schoolID, patch); err != nil {
		return model.ApplyResult{}, err
	}

	bo := newBackoff(c.cfg.BackoffBase, c.cfg.BackoffMax)
	conflicts := 0
	storeFailures := 0

	for {
		if ctx.Err() != nil {
			return model.ApplyResult{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}

		snap, err := c.store.ReadStudents(ctx, schoolID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return model.ApplyResult{}, fmt.Errorf("%w: %q", ErrNotFound, schoolID)
		case err != nil:
			storeFailures++
			if storeFailures > c.cfg.MaxStoreRetries {
				return model.ApplyResult{}, fmt.Errorf("%w: read: %v", ErrStoreUnavailable, err)
			}
			c.logger.Warn().Err(err).Str("school_id", schoolID).Int("attempt", storeFailures).Msg("transient read failure, backing off")
			if err := bo.Sleep(ctx); err != nil {
				return model.ApplyResult{}, fmt.Errorf("%w: %v", ErrTimeout, err)
			}
			continue
		}

		plan := Plan(snap.Students, patch)

		newVersion, err := c.store.ConditionalWriteStudents(ctx, schoolID, plan.Students, snap.Version)
		switch {
		case err == nil:
			c.logger.Debug().
				Str("school_id", schoolID).
				Int("applied", plan.Applied).
				Int("skipped", len(plan.SkippedKeys)).
				Uint64("version", newVersion).
				Msg("patch set committed")
			return model.ApplyResult{
				Applied:     plan.Applied,
				SkippedKeys: plan.SkippedKeys,
				NewVersion:  newVersion,
			}, nil

		case errors.Is(err, storage.ErrVersionMismatch):
			conflicts++
			if conflicts > c.cfg.MaxConflictRetries {
				return model.ApplyResult{}, fmt.Errorf("%w after %d attempts on %q", ErrConflict, conflicts, schoolID)
			}
			c.logger.Debug().Str("school_id", schoolID).Uint64("read_version", snap.Version).Int("attempt", conflicts).Msg("version raced, retrying")
			if err := bo.Sleep(ctx); err != nil {
				return model.ApplyResult{}, fmt.Errorf("%w: %v", ErrTimeout, err)
			}

		case errors.Is(err, storage.ErrNotFound):
			return model.ApplyResult{}, fmt.Errorf("%w: %q", ErrNotFound, schoolID)

		default:
			storeFailures++
			if storeFailures > c.cfg.MaxStoreRetries {
				return model.ApplyResult{}, fmt.Errorf("%w: write: %v", ErrStoreUnavailable, err)
			}
			c.logger.Warn().Err(err).Str("school_id", schoolID).Int("attempt", storeFailures).Msg("transient write failure, backing off")
			if err := bo.Sleep(ctx); err != nil {
				return model.ApplyResult{}, fmt.Errorf("%w: %v", ErrTimeout, err)
			}
		}
	}
}

// validate rejects malformed input before anything reaches the store.
func validate(schoolID string, patch model.PatchSet) error {
	if schoolID == "" {
		return fmt.Errorf("%w: empty school id", ErrInvalidInput)
	}
	for i, entry := range patch {
		if entry.Key == "" {
			return fmt.Errorf("%w: entry %d has empty student key", ErrInvalidInput, i)
		}
	}
	return nil
}
