package dispatch

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vote-spin/src/analysis"
	"vote-spin/src/config"
	"vote-spin/src/interfaces"
	"vote-spin/src/logger"
	"vote-spin/src/models"
	"vote-spin/src/storage"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu        sync.Mutex
	snapshots []models.MSnapshot
}

func (b *recordingBroadcaster) Broadcast(s models.MSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots = append(b.snapshots, s)
}

func (b *recordingBroadcaster) Count() int { return 0 }

func (b *recordingBroadcaster) last() (models.MSnapshot, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.snapshots) == 0 {
		return models.MSnapshot{}, 0
	}
	return b.snapshots[len(b.snapshots)-1], len(b.snapshots)
}

type recordingRelay struct {
	mu       sync.Mutex
	versions []int64
}

func (r *recordingRelay) Publish(_ context.Context, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions = append(r.versions, version)
	return nil
}

func (r *recordingRelay) Run(ctx context.Context, _ func(int64)) error {
	<-ctx.Done()
	return nil
}

func (r *recordingRelay) Close() error { return nil }

type fixture struct {
	cfg         *config.Config
	store       *storage.AsyncSQLiteDB
	clock       *clockwork.FakeClock
	queue       *Queue
	service     *Service
	broadcaster *recordingBroadcaster
	relay       *recordingRelay
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{MConfig: &models.MConfig{
		Name:     "vote-spin-test",
		Host:     "127.0.0.1",
		Port:     8080,
		Entities: []string{"player1", "player2", "player3", "player4"},
		Storage:  models.MStorageConfig{DBType: "sqlite", DBPath: filepath.Join(t.TempDir(), "dispatch.db")},
		Dispatch: models.MDispatchConfig{
			DefaultQueue:   "hardware",
			ClaimBackoffMs: 1,
			Queues: []models.MQueueConfig{
				{Name: "hardware", Mode: models.PollModeClaim},
				{Name: "display", Mode: models.PollModeBatch},
			},
		},
	}}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, nil)
}

// newFixtureWithStore lets a test wrap the real store.
func newFixtureWithStore(t *testing.T, wrap func(interfaces.IStateStore) interfaces.IStateStore) *fixture {
	t.Helper()

	cfg := testConfig(t)
	log := logger.NewLoggerWithWriter(io.Discard, "ERROR", "Dispatch")
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	db, err := storage.NewAsyncSQLiteDB(cfg.MConfig, log, clock)
	require.NoError(t, err)
	require.NoError(t, db.Initialize(context.Background()))
	t.Cleanup(func() { _ = db.Close() })

	var store interfaces.IStateStore = db
	if wrap != nil {
		store = wrap(db)
	}

	b := &recordingBroadcaster{}
	r := &recordingRelay{}
	q := NewQueue(cfg, store, log)
	svc := NewService(cfg, store, q, analysis.NewSnapshotAggregator(store, log), b, r, log)

	return &fixture{cfg: cfg, store: db, clock: clock, queue: q, service: svc, broadcaster: b, relay: r}
}
