package interfaces

import "vote-spin/src/models"

// -----------------------------------------------------------------------------
// IBroadcaster pushes snapshots to the live subscribers of this process.
// -----------------------------------------------------------------------------

type IBroadcaster interface {
	// Broadcast never fails; unreachable subscribers are dropped.
	Broadcast(snapshot models.MSnapshot)

	// Count returns the number of registered subscribers.
	Count() int
}
