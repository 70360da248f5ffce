package interfaces

import (
	"context"
	"time"

	"vote-spin/src/models"
)

// -----------------------------------------------------------------------------
// IStateStore defines the durable event log and command queue.
// -----------------------------------------------------------------------------

type IStateStore interface {

	// Initialize opens the connection and creates the schema if missing.
	Initialize(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// AppendEvent stores a vote event and returns it with id and timestamp.
	AppendEvent(ctx context.Context, event models.MVoteEvent) (models.MVoteEvent, error)

	// -----------------------------------------------------------------------------

	// EnqueueCommand stores an unclaimed command and returns it with its id.
	EnqueueCommand(ctx context.Context, cmd models.MCommand) (models.MCommand, error)

	// -----------------------------------------------------------------------------

	// AppendEventWithCommand stores both rows in one transaction; neither is
	// visible if either insert fails.
	AppendEventWithCommand(ctx context.Context, event models.MVoteEvent, cmd models.MCommand) (models.MVoteEvent, models.MCommand, error)

	// -----------------------------------------------------------------------------

	// ResetAll appends a zero event per entity and a reset command per queue
	// in one transaction and returns the marker timestamp.
	ResetAll(ctx context.Context, entities []string, queues []string) (time.Time, error)

	// -----------------------------------------------------------------------------

	// ClaimNextCommand atomically marks the lowest unclaimed command with
	// id > afterID on the queue as claimed and returns it. Returns nil when
	// nothing is pending.
	ClaimNextCommand(ctx context.Context, queue string, afterID int64) (*models.MCommand, error)

	// -----------------------------------------------------------------------------

	// ListCommandsAfter returns up to limit commands with id > afterID in id
	// order without claiming them.
	ListCommandsAfter(ctx context.Context, queue string, afterID int64, limit int) ([]models.MCommand, error)

	// -----------------------------------------------------------------------------

	// LatestEvents returns the newest event of every entity.
	LatestEvents(ctx context.Context) ([]models.MVoteEvent, error)

	// -----------------------------------------------------------------------------

	// ListEntities returns every entity id present in the log.
	ListEntities(ctx context.Context) ([]string, error)

	// -----------------------------------------------------------------------------

	// LastReset returns the newest reset marker time, or the zero time.
	LastReset(ctx context.Context) (time.Time, error)

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
