package models

import "time"

// MSnapshotEntry is the latest known value of one entity.
type MSnapshotEntry struct {
	EntityID  string    `json:"entity_id"`
	Value     int       `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
	EventID   int64     `json:"-"`
}

// MSnapshot holds one entry per entity, sorted by entity id. Version is the
// highest event id that contributed to it.
type MSnapshot struct {
	Entries []MSnapshotEntry `json:"rows"`
	Version int64            `json:"version"`
}

// MSnapshotValue is the live-stream wire projection of an entry.
type MSnapshotValue struct {
	EntityID string `json:"entity_id"`
	Value    int    `json:"value"`
}

// Values projects the snapshot onto its wire form.
func (s MSnapshot) Values() []MSnapshotValue {
	out := make([]MSnapshotValue, 0, len(s.Entries))
	for _, e := range s.Entries {
		out = append(out, MSnapshotValue{EntityID: e.EntityID, Value: e.Value})
	}
	return out
}

// Get returns the entry for an entity.
func (s MSnapshot) Get(entityID string) (MSnapshotEntry, bool) {
	for _, e := range s.Entries {
		if e.EntityID == entityID {
			return e, true
		}
	}
	return MSnapshotEntry{}, false
}
