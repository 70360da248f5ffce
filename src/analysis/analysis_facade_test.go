package analysis

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"vote-spin/src/logger"
	"vote-spin/src/models"
	"vote-spin/src/storage"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAggregator(t *testing.T) (*SnapshotAggregator, *storage.AsyncSQLiteDB, *clockwork.FakeClock) {
	t.Helper()

	cfg := &models.MConfig{
		Name:    "vote-spin-test",
		Storage: models.MStorageConfig{DBType: "sqlite", DBPath: filepath.Join(t.TempDir(), "agg.db")},
	}
	log := logger.NewLoggerWithWriter(io.Discard, "ERROR", "Analysis")
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	db, err := storage.NewAsyncSQLiteDB(cfg, log, clock)
	require.NoError(t, err)
	require.NoError(t, db.Initialize(context.Background()))
	t.Cleanup(func() { _ = db.Close() })

	return NewSnapshotAggregator(db, log), db, clock
}

func vote(t *testing.T, db *storage.AsyncSQLiteDB, entity string, value int) {
	t.Helper()
	_, err := db.AppendEvent(context.Background(), models.MVoteEvent{EntityID: entity, Value: value, Source: models.SourceWeb})
	require.NoError(t, err)
}

func TestSnapshotAggregator_ReadYourWrites(t *testing.T) {
	agg, db, _ := newAggregator(t)
	ctx := context.Background()

	vote(t, db, "player3", 1)

	snap, err := agg.ComputeSnapshot(ctx)
	require.NoError(t, err)
	e, ok := snap.Get("player3")
	require.True(t, ok)
	assert.Equal(t, 1, e.Value)
}

func TestSnapshotAggregator_Idempotent(t *testing.T) {
	agg, db, clock := newAggregator(t)
	ctx := context.Background()

	vote(t, db, "player1", 1)
	clock.Advance(time.Second)
	vote(t, db, "player2", 0)

	first, err := agg.ComputeSnapshot(ctx)
	require.NoError(t, err)
	second, err := agg.ComputeSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSnapshotAggregator_LeaderScenario(t *testing.T) {
	agg, db, clock := newAggregator(t)
	ctx := context.Background()

	_, ok, err := agg.CurrentLeader(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	vote(t, db, "player1", 1)
	clock.Advance(time.Second)
	vote(t, db, "player2", 1)

	leader, ok, err := agg.CurrentLeader(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "player2", leader)

	clock.Advance(time.Second)
	vote(t, db, "player1", 1)

	leader, ok, err = agg.CurrentLeader(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "player1", leader)
}

func TestSnapshotAggregator_DoubleResetAllZero(t *testing.T) {
	agg, db, clock := newAggregator(t)
	ctx := context.Background()

	vote(t, db, "player1", 1)
	vote(t, db, "player4", 1)
	clock.Advance(time.Second)

	entities := []string{"player1", "player2", "player3", "player4"}
	_, err := db.ResetAll(ctx, entities, []string{"hardware"})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = db.ResetAll(ctx, entities, []string{"hardware"})
	require.NoError(t, err)

	snap, err := agg.ComputeSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 4)
	for _, e := range snap.Entries {
		assert.Equal(t, 0, e.Value, e.EntityID)
	}

	_, ok, err := agg.CurrentLeader(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
