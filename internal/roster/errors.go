package roster

import "errors"

// Terminal failure kinds surfaced by Coordinator.Apply. Transient store
// conditions (version races, timeouts on a single call) are retried inside
// the coordinator and never reach callers in raw form.
var (
	// ErrNotFound means the school does not exist. Not retried.
	ErrNotFound = errors.New("school not found")

	// ErrConflict means the optimistic retry budget was exhausted by
	// concurrent writers. The caller may resubmit the whole batch.
	ErrConflict = errors.New("write conflict: retries exhausted")

	// ErrTimeout means the caller's deadline expired mid-retry. The store
	// write is all-or-nothing, so no partial batch is left behind.
	ErrTimeout = errors.New("apply deadline exceeded")

	// ErrStoreUnavailable means the store kept failing transiently past the
	// retry budget.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidInput means the patch set is malformed. Nothing was sent to
	// the store.
	ErrInvalidInput = errors.New("invalid patch set")
)
