package storage

import (
	"context"
	"errors"

	"schoolroster/internal/model"
)

var (
	// ErrNotFound means no school exists under the given id.
	ErrNotFound = errors.New("storage: school not found")

	// ErrVersionMismatch means the conditional write lost a race: the stored
	// version no longer equals the expected one. The caller re-reads and
	// retries.
	ErrVersionMismatch = errors.New("storage: version mismatch")

	// ErrUnavailable means a transient infrastructure failure (I/O error,
	// changelog backpressure). Safe to retry.
	ErrUnavailable = errors.New("storage: unavailable")
)

// Snapshot is one consistent read of a school's roster and the version it
// was taken at.
type Snapshot struct {
	Students []model.Student
	Version  uint64
}

// Store is the adapter the update coordinator runs against. Reads and
// conditional writes are whole-roster operations; the version check is the
// only concurrency primitive the engine relies on, so any implementation
// backed by a shared database keeps the design correct across service
// instances.
type Store interface {
	// ReadStudents returns the current roster and version for a school.
	ReadStudents(ctx context.Context, schoolID string) (Snapshot, error)

	// ConditionalWriteStudents replaces the roster and bumps the version by
	// one, but only if the stored version still equals expectedVersion.
	// Returns the new version on success, ErrVersionMismatch when another
	// writer got there first.
	ConditionalWriteStudents(ctx context.Context, schoolID string, students []model.Student, expectedVersion uint64) (uint64, error)
}
