package dispatch

import (
	"context"
	"strings"
	"time"

	"vote-spin/src/analysis"
	"vote-spin/src/config"
	"vote-spin/src/helpers"
	"vote-spin/src/interfaces"
	"vote-spin/src/logger"
	"vote-spin/src/metrics"
	"vote-spin/src/models"
)

const announceTimeout = 5 * time.Second

// Service runs the state-changing operations shared by the HTTP and gRPC
// front ends: every write commits first, then the fresh snapshot is broadcast
// locally and announced to other instances.
type Service struct {
	Config      *config.Config
	Store       interfaces.IStateStore
	Queue       *Queue
	Aggregator  *analysis.SnapshotAggregator
	Broadcaster interfaces.IBroadcaster
	Relay       interfaces.ISnapshotRelay
	Logger      *logger.Logger
}

// -----------------------------------------------------------------------------

// NewService wires the service. relay may be nil when running a single instance.
func NewService(
	cfg *config.Config,
	store interfaces.IStateStore,
	queue *Queue,
	aggregator *analysis.SnapshotAggregator,
	broadcaster interfaces.IBroadcaster,
	relay interfaces.ISnapshotRelay,
	log *logger.Logger,
) *Service {
	return &Service{
		Config:      cfg,
		Store:       store,
		Queue:       queue,
		Aggregator:  aggregator,
		Broadcaster: broadcaster,
		Relay:       relay,
		Logger:      log,
	}
}

// -----------------------------------------------------------------------------

// BuildVote validates a raw vote. An empty source means the vote came from a
// hardware controller.
func (s *Service) BuildVote(entityID string, value int, source string) (models.MVoteEvent, error) {
	if err := validateEntity(s.Config, entityID); err != nil {
		return models.MVoteEvent{}, err
	}
	if value != 0 && value != 1 {
		return models.MVoteEvent{}, helpers.NewValidationError("value must be 0 or 1, got %d", value)
	}

	source = strings.TrimSpace(source)
	if source == "" {
		source = models.SourceESP32
	}
	if source == models.SourceReset {
		return models.MVoteEvent{}, helpers.NewValidationError("source %q is reserved", models.SourceReset)
	}
	if len(source) > MaxIDLength {
		return models.MVoteEvent{}, helpers.NewValidationError("source longer than %d characters", MaxIDLength)
	}

	return models.MVoteEvent{EntityID: entityID, Value: value, Source: source}, nil
}

// -----------------------------------------------------------------------------

// SubmitVote appends a vote event and broadcasts the new state.
func (s *Service) SubmitVote(ctx context.Context, entityID string, value int, source string) (models.MVoteEvent, error) {
	event, err := s.BuildVote(entityID, value, source)
	if err != nil {
		return models.MVoteEvent{}, err
	}

	stored, err := s.Store.AppendEvent(ctx, event)
	if err != nil {
		countStoreError(err)
		return models.MVoteEvent{}, err
	}
	metrics.VotesTotal.WithLabelValues(stored.Source).Inc()
	s.Logger.Info("Vote %d: %s=%d (%s)", stored.ID, stored.EntityID, stored.Value, stored.Source)

	s.Announce(ctx)
	return stored, nil
}

// -----------------------------------------------------------------------------

// VoteAndSpin records a web vote for the target and queues a lit spin for it in
// one transaction.
func (s *Service) VoteAndSpin(ctx context.Context, queue, targetID string) (models.MVoteEvent, models.MCommand, error) {
	event, err := s.BuildVote(targetID, 1, models.SourceWeb)
	if err != nil {
		return models.MVoteEvent{}, models.MCommand{}, err
	}
	cmd, err := s.Queue.Build(queue, targetID, models.SpinAction(true))
	if err != nil {
		return models.MVoteEvent{}, models.MCommand{}, err
	}

	storedEvent, storedCmd, err := s.Store.AppendEventWithCommand(ctx, event, cmd)
	if err != nil {
		countStoreError(err)
		return models.MVoteEvent{}, models.MCommand{}, err
	}
	metrics.VotesTotal.WithLabelValues(storedEvent.Source).Inc()
	metrics.CommandsEnqueued.WithLabelValues(storedCmd.Queue, storedCmd.Action.Type).Inc()
	s.Logger.Info("Vote %d and spin %d for %s on %s", storedEvent.ID, storedCmd.ID, targetID, storedCmd.Queue)

	s.Announce(ctx)
	return storedEvent, storedCmd, nil
}

// -----------------------------------------------------------------------------

// SpinOnly queues an unlit spin without touching the vote log.
func (s *Service) SpinOnly(ctx context.Context, queue, targetID string) (models.MCommand, error) {
	return s.Queue.Enqueue(ctx, queue, targetID, models.SpinAction(false))
}

// -----------------------------------------------------------------------------

// ResetAll zeroes every tracked entity and drops a reset marker on every
// configured queue, then broadcasts the zeroed state.
func (s *Service) ResetAll(ctx context.Context) (time.Time, error) {
	at, err := s.Store.ResetAll(ctx, s.Config.Entities, s.Config.QueueNames())
	if err != nil {
		countStoreError(err)
		return time.Time{}, err
	}
	metrics.ResetsTotal.Inc()
	s.Logger.Info("Reset committed at %s", at.Format(time.RFC3339Nano))

	s.Announce(ctx)
	return at, nil
}

// -----------------------------------------------------------------------------

func (s *Service) Snapshot(ctx context.Context) (models.MSnapshot, error) {
	snap, err := s.Aggregator.ComputeSnapshot(ctx)
	if err != nil {
		countStoreError(err)
	}
	return snap, err
}

// -----------------------------------------------------------------------------

func (s *Service) Leader(ctx context.Context) (string, bool, error) {
	return s.Aggregator.CurrentLeader(ctx)
}

// -----------------------------------------------------------------------------

func (s *Service) LastReset(ctx context.Context) (time.Time, error) {
	return s.Store.LastReset(ctx)
}

// -----------------------------------------------------------------------------

// Refresh recomputes the snapshot and broadcasts it to local subscribers only.
// It returns the broadcast version.
func (s *Service) Refresh(ctx context.Context) (int64, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	s.Broadcaster.Broadcast(snap)
	return snap.Version, nil
}

// -----------------------------------------------------------------------------

// Announce follows a committed write. The write already succeeded, so
// failures here are logged and never returned to the caller. It runs on a
// context detached from the writer's, since the writer may hang up right after
// the commit.
func (s *Service) Announce(parent context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), announceTimeout)
	defer cancel()

	version, err := s.Refresh(ctx)
	if err != nil {
		s.Logger.Warning("Snapshot broadcast skipped after write: %v", err)
		return
	}

	if s.Relay == nil {
		return
	}
	if err := s.Relay.Publish(ctx, version); err != nil {
		s.Logger.Warning("Relay publish of version %d failed: %v", version, err)
	}
}
