package interfaces

import "context"

// -----------------------------------------------------------------------------
// ISnapshotRelay tells other instances that the snapshot changed.
// -----------------------------------------------------------------------------

type ISnapshotRelay interface {
	// Publish announces a new snapshot version. Errors are informational;
	// callers log and continue.
	Publish(ctx context.Context, version int64) error

	// Run consumes announcements from other instances until ctx ends,
	// calling onChange for each one.
	Run(ctx context.Context, onChange func(version int64)) error

	Close() error
}
