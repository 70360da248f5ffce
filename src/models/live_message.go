package models

const EventSnapshotUpdate = "snapshot_update"

// MLiveMessage is what the hub hands to a subscriber. A message with
// Heartbeat set carries no data.
type MLiveMessage struct {
	Event     string
	Data      []byte
	Version   int64
	Heartbeat bool
}
