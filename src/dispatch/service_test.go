package dispatch

import (
	"context"
	"testing"
	"time"

	"vote-spin/src/helpers"
	"vote-spin/src/interfaces"
	"vote-spin/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_SubmitVoteBroadcastsAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event, err := f.service.SubmitVote(ctx, "player2", 1, "")
	require.NoError(t, err)
	assert.Equal(t, models.SourceESP32, event.Source)

	snap, n := f.broadcaster.last()
	assert.Equal(t, 1, n)
	assert.Equal(t, event.ID, snap.Version)
	e, ok := snap.Get("player2")
	require.True(t, ok)
	assert.Equal(t, 1, e.Value)

	assert.Equal(t, []int64{event.ID}, f.relay.versions)
}

func TestService_SubmitVoteValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, tc := range []struct {
		entity string
		value  int
		source string
	}{
		{"", 1, "web"},
		{"player7", 1, "web"},
		{"player1", 2, "web"},
		{"player1", -1, "web"},
		{"player1", 1, models.SourceReset},
	} {
		_, err := f.service.SubmitVote(ctx, tc.entity, tc.value, tc.source)
		assert.True(t, helpers.IsValidation(err), "%+v: %v", tc, err)
	}

	_, n := f.broadcaster.last()
	assert.Zero(t, n)
}

func TestService_VoteAndSpinIsAtomicAndVisible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event, cmd, err := f.service.VoteAndSpin(ctx, "", "player4")
	require.NoError(t, err)
	assert.Equal(t, models.SourceWeb, event.Source)
	assert.Equal(t, 1, event.Value)
	require.NotNil(t, cmd.Action.Light)
	assert.True(t, *cmd.Action.Light)

	leader, ok, err := f.service.Leader(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "player4", leader)

	claimed, err := f.queue.Claim(ctx, "hardware", 0)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, cmd.ID, claimed.ID)
}

func TestService_SpinOnlyLeavesVotesAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd, err := f.service.SpinOnly(ctx, "", "player1")
	require.NoError(t, err)
	require.NotNil(t, cmd.Action.Light)
	assert.False(t, *cmd.Action.Light)

	snap, err := f.service.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Entries)
}

func TestService_ResetAllZeroesAndMarksEveryQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.SubmitVote(ctx, "player1", 1, "web")
	require.NoError(t, err)
	f.clock.Advance(time.Second)

	at, err := f.service.ResetAll(ctx)
	require.NoError(t, err)

	snap, _ := f.broadcaster.last()
	require.Len(t, snap.Entries, 4)
	for _, e := range snap.Entries {
		assert.Equal(t, 0, e.Value)
	}

	last, err := f.service.LastReset(ctx)
	require.NoError(t, err)
	assert.True(t, last.Equal(at))

	cmd, err := f.queue.Claim(ctx, "hardware", 0)
	require.NoError(t, err)
	require.NotNil(t, cmd)
	assert.True(t, cmd.IsReset())

	batch, err := f.queue.ReadBatch(ctx, "display", 0, 0)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.True(t, batch[0].IsReset())
}

// hangUpStore cancels the writer's context as soon as the write commits, the
// way a dropped HTTP connection does.
type hangUpStore struct {
	interfaces.IStateStore
	cancel context.CancelFunc
}

func (s *hangUpStore) AppendEvent(ctx context.Context, event models.MVoteEvent) (models.MVoteEvent, error) {
	stored, err := s.IStateStore.AppendEvent(ctx, event)
	s.cancel()
	return stored, err
}

func TestService_WriterHangUpStillBroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixtureWithStore(t, func(s interfaces.IStateStore) interfaces.IStateStore {
		return &hangUpStore{IStateStore: s, cancel: cancel}
	})

	event, err := f.service.SubmitVote(ctx, "player3", 1, "web")
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	snap, n := f.broadcaster.last()
	require.Equal(t, 1, n)
	assert.Equal(t, event.ID, snap.Version)
	assert.Equal(t, []int64{event.ID}, f.relay.versions)
}

func TestService_OpenEntitySetRejectsPaddedIDs(t *testing.T) {
	f := newFixture(t)
	f.cfg.Entities = nil
	ctx := context.Background()

	_, err := f.service.SubmitVote(ctx, "stage-left", 1, "web")
	require.NoError(t, err)

	for _, id := range []string{" stage-left", "stage-left ", "\tstage-left"} {
		_, err := f.service.SubmitVote(ctx, id, 1, "web")
		assert.True(t, helpers.IsValidation(err), "%q: %v", id, err)

		_, err = f.queue.Enqueue(ctx, "hardware", id, models.SpinAction(true))
		assert.True(t, helpers.IsValidation(err), "%q: %v", id, err)
	}

	entities, err := f.store.ListEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stage-left"}, entities)
}
