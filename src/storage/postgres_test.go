package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"vote-spin/src/logger"
	"vote-spin/src/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Postgres tests run only when VOTESPIN_TEST_PG_DSN points at a scratch database.
func newTestPostgres(t *testing.T) (*PostgresDB, *clockwork.FakeClock) {
	t.Helper()

	dsn := os.Getenv("VOTESPIN_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("VOTESPIN_TEST_PG_DSN not set")
	}

	cfg := &models.MConfig{
		Name: fmt.Sprintf("vote_spin_test_%d", time.Now().UnixNano()),
		Storage: models.MStorageConfig{
			DBType:             "postgres",
			DBConnectionString: dsn,
		},
	}
	clock := clockwork.NewFakeClockAt(testEpoch)
	log := logger.NewLoggerWithWriter(io.Discard, "ERROR", "PostgresDB")

	db, err := NewPostgresDB(cfg, log, clock)
	require.NoError(t, err)
	require.NoError(t, db.Initialize(context.Background()))
	t.Cleanup(func() {
		_, _ = db.DB.Exec(fmt.Sprintf(`DROP SCHEMA IF EXISTS "%s" CASCADE`, db.Schema))
		_ = db.Close()
	})
	return db, clock
}

func TestNewPostgresDB_SanitisesSchemaName(t *testing.T) {
	db, err := NewPostgresDB(&models.MConfig{Name: "Vote-Spin Prod"}, nil, clockwork.NewRealClock())
	require.NoError(t, err)
	assert.Equal(t, "vote_spin_prod", db.Schema)

	_, err = NewPostgresDB(&models.MConfig{Name: ""}, nil, clockwork.NewRealClock())
	assert.Error(t, err)
}

func TestPostgres_LatestEventsAndLeaderInputs(t *testing.T) {
	db, clock := newTestPostgres(t)
	ctx := context.Background()

	_, err := db.AppendEvent(ctx, models.MVoteEvent{EntityID: "player1", Value: 1, Source: models.SourceWeb})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = db.AppendEvent(ctx, models.MVoteEvent{EntityID: "player2", Value: 1, Source: models.SourceWeb})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = db.AppendEvent(ctx, models.MVoteEvent{EntityID: "player1", Value: 1, Source: models.SourceWeb})
	require.NoError(t, err)

	events, err := db.LatestEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].CreatedAt.Equal(testEpoch.Add(2*time.Second)))
}

func TestPostgres_ConcurrentClaimsNeverDuplicate(t *testing.T) {
	db, _ := newTestPostgres(t)
	ctx := context.Background()

	const commands = 10
	const pollers = 20

	for i := 0; i < commands; i++ {
		_, err := db.EnqueueCommand(ctx, models.MCommand{Queue: "hardware", TargetID: "player1", Action: models.SpinAction(true)})
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
		wg   sync.WaitGroup
	)
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmd, err := db.ClaimNextCommand(ctx, "hardware", 0)
			assert.NoError(t, err)
			if cmd == nil {
				return
			}
			mu.Lock()
			seen[cmd.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Under SKIP LOCKED a poller may see nothing while rows remain, so drain the rest.
	for {
		cmd, err := db.ClaimNextCommand(ctx, "hardware", 0)
		require.NoError(t, err)
		if cmd == nil {
			break
		}
		seen[cmd.ID]++
	}

	assert.Len(t, seen, commands)
	for id, n := range seen {
		assert.Equal(t, 1, n, "command %d claimed %d times", id, n)
	}
}

func TestPostgres_ResetAndLastReset(t *testing.T) {
	db, _ := newTestPostgres(t)
	ctx := context.Background()

	at, err := db.ResetAll(ctx, []string{"player1", "player2"}, []string{"hardware"})
	require.NoError(t, err)

	last, err := db.LastReset(ctx)
	require.NoError(t, err)
	assert.True(t, last.Equal(at))

	events, err := db.LatestEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, 0, e.Value)
	}
}
