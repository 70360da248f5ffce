package storage

import (
	"testing"
	"time"

	"vote-spin/src/helpers"
	"vote-spin/src/models"

	"github.com/stretchr/testify/assert"
)

func TestMergeEntities(t *testing.T) {
	got := mergeEntities([]string{"player2", "player1", ""}, []string{"player3", "player1"})
	assert.Equal(t, []string{"player1", "player2", "player3"}, got)
	assert.Nil(t, mergeEntities(nil, nil))
}

func TestCheckClaim(t *testing.T) {
	ours := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	theirs := ours.Add(-time.Minute)

	assert.NoError(t, checkClaim(&models.MCommand{ID: 1, ClaimedAt: &ours}, ours))
	assert.True(t, helpers.IsConsistencyViolation(checkClaim(&models.MCommand{ID: 1, ClaimedAt: &theirs}, ours)))
	assert.True(t, helpers.IsConsistencyViolation(checkClaim(&models.MCommand{ID: 1}, ours)))
}

func TestDecodeActionRejectsGarbage(t *testing.T) {
	_, err := decodeAction("{not json")
	assert.True(t, helpers.IsConsistencyViolation(err))

	a, err := decodeAction(`{"type":"spin","light":true}`)
	assert.NoError(t, err)
	assert.Equal(t, models.ActionSpin, a.Type)
	assert.True(t, *a.Light)
}

func TestStampTruncatesToMicroseconds(t *testing.T) {
	in := time.Date(2026, 1, 1, 0, 0, 0, 123456789, time.FixedZone("X", 3600))
	out := stamp(in)
	assert.Equal(t, 123456000, out.Nanosecond())
	assert.Equal(t, time.UTC, out.Location())
}
