package core

import (
	"sort"

	"vote-spin/src/models"
)

// -----------------------------------------------------------------------------

// BuildSnapshot reduces events to the newest event per entity, on the
// (CreatedAt, ID) key. The result is sorted by entity id and does not depend
// on input order.
func BuildSnapshot(events []models.MVoteEvent) models.MSnapshot {
	latest := make(map[string]models.MVoteEvent, len(events))
	var version int64

	for _, e := range events {
		if e.ID > version {
			version = e.ID
		}
		cur, ok := latest[e.EntityID]
		if !ok || e.After(cur) {
			latest[e.EntityID] = e
		}
	}

	entries := make([]models.MSnapshotEntry, 0, len(latest))
	for _, e := range latest {
		entries = append(entries, models.MSnapshotEntry{
			EntityID:  e.EntityID,
			Value:     e.Value,
			UpdatedAt: e.CreatedAt,
			EventID:   e.ID,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].EntityID < entries[j].EntityID
	})

	return models.MSnapshot{Entries: entries, Version: version}
}

// -----------------------------------------------------------------------------

// Leader returns the entity whose value is 1 with the newest UpdatedAt. Equal
// timestamps go to the higher event id. ok is false when no entity is at 1.
func Leader(s models.MSnapshot) (string, bool) {
	var best *models.MSnapshotEntry
	for i := range s.Entries {
		e := &s.Entries[i]
		if e.Value != 1 {
			continue
		}
		if best == nil ||
			e.UpdatedAt.After(best.UpdatedAt) ||
			(e.UpdatedAt.Equal(best.UpdatedAt) && e.EventID > best.EventID) {
			best = e
		}
	}
	if best == nil {
		return "", false
	}
	return best.EntityID, true
}
