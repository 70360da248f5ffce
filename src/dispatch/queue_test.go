package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"vote-spin/src/helpers"
	"vote-spin/src/interfaces"
	"vote-spin/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_EnqueueThenClaimExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stored, err := f.queue.Enqueue(ctx, "", "player3", models.SpinAction(true))
	require.NoError(t, err)
	assert.Equal(t, "hardware", stored.Queue)

	cmd, err := f.queue.Claim(ctx, "hardware", 0)
	require.NoError(t, err)
	require.NotNil(t, cmd)
	assert.Equal(t, stored.ID, cmd.ID)
	assert.Equal(t, "player3", cmd.TargetID)
	require.NotNil(t, cmd.Action.Light)
	assert.True(t, *cmd.Action.Light)

	again, err := f.queue.Claim(ctx, "hardware", 0)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestQueue_EnqueueValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		queue  string
		target string
		action models.MAction
	}{
		{"unknown queue", "nope", "player1", models.SpinAction(true)},
		{"empty target", "", "", models.SpinAction(true)},
		{"unknown target", "", "player9", models.SpinAction(true)},
		{"spin without light", "", "player1", models.MAction{Type: models.ActionSpin}},
		{"reset via enqueue", "", "player1", models.ResetAction()},
		{"missing type", "", "player1", models.MAction{}},
		{"unknown type", "", "player1", models.MAction{Type: "dance"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.queue.Enqueue(ctx, tc.queue, tc.target, tc.action)
			require.Error(t, err)
			assert.True(t, helpers.IsValidation(err), "got %v", err)
		})
	}

	cmds, err := f.store.ListCommandsAfter(ctx, "hardware", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestQueue_ConcurrentClaimsMinOfCommandsAndPollers(t *testing.T) {
	for _, tc := range []struct{ commands, pollers int }{{3, 10}, {10, 3}, {5, 5}} {
		f := newFixture(t)
		ctx := context.Background()

		for i := 0; i < tc.commands; i++ {
			_, err := f.queue.Enqueue(ctx, "hardware", "player1", models.SpinAction(true))
			require.NoError(t, err)
		}

		var (
			mu  sync.Mutex
			ids = make(map[int64]int)
			wg  sync.WaitGroup
		)
		for i := 0; i < tc.pollers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				cmd, err := f.queue.Claim(ctx, "hardware", 0)
				assert.NoError(t, err)
				if cmd != nil {
					mu.Lock()
					ids[cmd.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		want := tc.commands
		if tc.pollers < want {
			want = tc.pollers
		}
		assert.Len(t, ids, want)
		for id, n := range ids {
			assert.Equal(t, 1, n, "command %d delivered %d times", id, n)
		}
	}
}

func TestQueue_PollUsesQueueMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, target := range []string{"player1", "player2", "player3"} {
		_, err := f.queue.Enqueue(ctx, "display", target, models.SpinAction(false))
		require.NoError(t, err)
		_, err = f.queue.Enqueue(ctx, "hardware", target, models.SpinAction(true))
		require.NoError(t, err)
	}

	batch, err := f.queue.Poll(ctx, "display", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, models.PollModeBatch, batch.Mode)
	require.Len(t, batch.Commands, 2)
	assert.Equal(t, batch.Commands[1].ID, batch.Next)
	for _, c := range batch.Commands {
		assert.Nil(t, c.ClaimedAt)
	}

	rest, err := f.queue.Poll(ctx, "display", batch.Next, 0)
	require.NoError(t, err)
	assert.Len(t, rest.Commands, 1)

	single, err := f.queue.Poll(ctx, "", 0, 50)
	require.NoError(t, err)
	assert.Equal(t, "hardware", single.Queue)
	assert.Equal(t, models.PollModeClaim, single.Mode)
	require.Len(t, single.Commands, 1)
	assert.NotNil(t, single.Commands[0].ClaimedAt)
	assert.Equal(t, "player1", single.Commands[0].TargetID)
}

func TestQueue_PollEmptyKeepsCursor(t *testing.T) {
	f := newFixture(t)

	res, err := f.queue.Poll(context.Background(), "hardware", 41, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Commands)
	assert.NotNil(t, res.Commands)
	assert.Equal(t, int64(41), res.Next)
}

func TestQueue_ReadBatchCapsLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.queue.ReadBatch(ctx, "display", 0, -1)
	assert.True(t, helpers.IsValidation(err))
	_, err = f.queue.ReadBatch(ctx, "display", -5, 10)
	assert.True(t, helpers.IsValidation(err))

	cmds, err := f.queue.ReadBatch(ctx, "display", 0, 10_000)
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestQueue_ModeFor(t *testing.T) {
	f := newFixture(t)

	mode, err := f.queue.ModeFor("display")
	require.NoError(t, err)
	assert.Equal(t, models.PollModeBatch, mode)

	mode, err = f.queue.ModeFor("")
	require.NoError(t, err)
	assert.Equal(t, models.PollModeClaim, mode)

	_, err = f.queue.ModeFor("missing")
	assert.True(t, helpers.IsValidation(err))
}

type flakyClaimStore struct {
	interfaces.IStateStore
	failures int32
	calls    atomic.Int32
}

func (s *flakyClaimStore) ClaimNextCommand(ctx context.Context, queue string, afterID int64) (*models.MCommand, error) {
	if s.calls.Add(1) <= s.failures {
		return nil, helpers.NewTransientStoreError("claim", errors.New("database is locked"))
	}
	return s.IStateStore.ClaimNextCommand(ctx, queue, afterID)
}

func TestQueue_ClaimRetriesTransientFailures(t *testing.T) {
	flaky := &flakyClaimStore{failures: 2}
	f := newFixtureWithStore(t, func(s interfaces.IStateStore) interfaces.IStateStore {
		flaky.IStateStore = s
		return flaky
	})
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, "hardware", "player2", models.SpinAction(true))
	require.NoError(t, err)

	cmd, err := f.queue.Claim(ctx, "hardware", 0)
	require.NoError(t, err)
	require.NotNil(t, cmd)
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestQueue_ClaimSurfacesTransientAfterRetries(t *testing.T) {
	flaky := &flakyClaimStore{failures: 100}
	f := newFixtureWithStore(t, func(s interfaces.IStateStore) interfaces.IStateStore {
		flaky.IStateStore = s
		return flaky
	})

	_, err := f.queue.Claim(context.Background(), "hardware", 0)
	require.Error(t, err)
	assert.True(t, helpers.IsTransient(err))
	assert.Equal(t, int32(f.cfg.Dispatch.ClaimRetries), flaky.calls.Load())
}
