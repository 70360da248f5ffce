package analysis

import (
	"context"

	"vote-spin/src/analysis/core"
	"vote-spin/src/interfaces"
	"vote-spin/src/logger"
	"vote-spin/src/models"
)

// SnapshotAggregator derives the per-entity state and the leader from the
// event log. It holds no state of its own, so every call reflects all writes
// committed before it.
type SnapshotAggregator struct {
	Store  interfaces.IStateStore
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewSnapshotAggregator(store interfaces.IStateStore, log *logger.Logger) *SnapshotAggregator {
	return &SnapshotAggregator{
		Store:  store,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

// ComputeSnapshot reads the newest event per entity and reduces it again so
// the result is ordered and versioned the same way for every backend.
func (a *SnapshotAggregator) ComputeSnapshot(ctx context.Context) (models.MSnapshot, error) {
	events, err := a.Store.LatestEvents(ctx)
	if err != nil {
		return models.MSnapshot{}, err
	}
	snap := core.BuildSnapshot(events)
	a.Logger.Debug("Computed snapshot with %d entities (version %d)", len(snap.Entries), snap.Version)
	return snap, nil
}

// -----------------------------------------------------------------------------

// CurrentLeader returns the leading entity, or ok=false when nobody is at 1.
func (a *SnapshotAggregator) CurrentLeader(ctx context.Context) (string, bool, error) {
	snap, err := a.ComputeSnapshot(ctx)
	if err != nil {
		return "", false, err
	}
	leader, ok := core.Leader(snap)
	return leader, ok, nil
}
