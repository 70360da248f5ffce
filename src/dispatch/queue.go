package dispatch

import (
	"context"
	"strings"

	"vote-spin/src/config"
	"vote-spin/src/helpers"
	"vote-spin/src/interfaces"
	"vote-spin/src/logger"
	"vote-spin/src/metrics"
	"vote-spin/src/models"
)

const MaxIDLength = 64

// PollResult is what a poller receives. Next is the cursor to send on the
// following poll.
type PollResult struct {
	Queue    string            `json:"queue"`
	Mode     string            `json:"mode"`
	Commands []models.MCommand `json:"commands"`
	Next     int64             `json:"next"`
}

// -----------------------------------------------------------------------------

// Queue is the command queue seen by web ingress and hardware pollers. Every
// named queue is served in exactly one poll mode.
type Queue struct {
	Config *config.Config
	Store  interfaces.IStateStore
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewQueue(cfg *config.Config, store interfaces.IStateStore, log *logger.Logger) *Queue {
	return &Queue{
		Config: cfg,
		Store:  store,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

// Resolve maps an empty name to the default queue and rejects unknown queues.
func (q *Queue) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return q.Config.Dispatch.DefaultQueue, nil
	}
	if _, ok := q.Config.QueueMode(name); !ok {
		return "", helpers.NewValidationError("unknown queue %q", name)
	}
	return name, nil
}

// -----------------------------------------------------------------------------

// ModeFor returns the poll mode of a configured queue.
func (q *Queue) ModeFor(name string) (string, error) {
	resolved, err := q.Resolve(name)
	if err != nil {
		return "", err
	}
	mode, _ := q.Config.QueueMode(resolved)
	return mode, nil
}

// -----------------------------------------------------------------------------

// ValidateTarget checks an entity id against the configured entity list.
func (q *Queue) ValidateTarget(targetID string) error {
	return validateEntity(q.Config, targetID)
}

func validateEntity(cfg *config.Config, id string) error {
	if id == "" {
		return helpers.NewValidationError("entity id is required")
	}
	if strings.TrimSpace(id) != id {
		return helpers.NewValidationError("entity id %q has surrounding whitespace", id)
	}
	if len(id) > MaxIDLength {
		return helpers.NewValidationError("entity id longer than %d characters", MaxIDLength)
	}
	if len(cfg.Entities) == 0 {
		return nil
	}
	for _, e := range cfg.Entities {
		if e == id {
			return nil
		}
	}
	return helpers.NewValidationError("unknown entity %q", id)
}

// -----------------------------------------------------------------------------

func validateAction(a models.MAction) error {
	switch a.Type {
	case models.ActionSpin:
		if a.Light == nil {
			return helpers.NewValidationError("spin action requires light")
		}
		return nil
	case models.ActionReset:
		return helpers.NewValidationError("reset commands are only written by reset-all")
	case "":
		return helpers.NewValidationError("action type is required")
	default:
		return helpers.NewValidationError("unsupported action %q", a.Type)
	}
}

// -----------------------------------------------------------------------------

// Build validates the inputs and returns the command to store. Nothing is
// written.
func (q *Queue) Build(queue, targetID string, action models.MAction) (models.MCommand, error) {
	name, err := q.Resolve(queue)
	if err != nil {
		return models.MCommand{}, err
	}
	if err := q.ValidateTarget(targetID); err != nil {
		return models.MCommand{}, err
	}
	if err := validateAction(action); err != nil {
		return models.MCommand{}, err
	}
	return models.MCommand{Queue: name, TargetID: targetID, Action: action}, nil
}

// -----------------------------------------------------------------------------

// Enqueue stores a pending command. It is visible to pollers once this returns.
func (q *Queue) Enqueue(ctx context.Context, queue, targetID string, action models.MAction) (models.MCommand, error) {
	cmd, err := q.Build(queue, targetID, action)
	if err != nil {
		return models.MCommand{}, err
	}

	stored, err := q.Store.EnqueueCommand(ctx, cmd)
	if err != nil {
		countStoreError(err)
		return models.MCommand{}, err
	}

	metrics.CommandsEnqueued.WithLabelValues(stored.Queue, stored.Action.Type).Inc()
	q.Logger.Debug("Enqueued command %d on %s for %s (%s)", stored.ID, stored.Queue, stored.TargetID, stored.Action.Type)
	return stored, nil
}

// -----------------------------------------------------------------------------

// Claim hands the oldest pending command with id > afterID to exactly one
// caller. A nil command means nothing is pending. Transient store failures are
// retried with backoff before surfacing.
func (q *Queue) Claim(ctx context.Context, queue string, afterID int64) (*models.MCommand, error) {
	name, err := q.Resolve(queue)
	if err != nil {
		return nil, err
	}
	if afterID < 0 {
		return nil, helpers.NewValidationError("cursor cannot be negative")
	}

	attempt := 0
	cmd, err := helpers.RetryWithBackoff(ctx, q.Logger, "claim "+name, q.Config.Dispatch.ClaimRetries, q.Config.ClaimBackoff(),
		func() (*models.MCommand, error) {
			if attempt > 0 {
				metrics.ClaimRetries.WithLabelValues(name).Inc()
			}
			attempt++
			return q.Store.ClaimNextCommand(ctx, name, afterID)
		})
	if err != nil {
		countStoreError(err)
		if helpers.IsConsistencyViolation(err) {
			q.Logger.Error("Claim on %s returned an inconsistent row: %v", name, err)
		}
		return nil, err
	}

	if cmd != nil {
		metrics.CommandsDelivered.WithLabelValues(name, models.PollModeClaim).Inc()
		q.Logger.Debug("Claimed command %d on %s", cmd.ID, name)
	}
	return cmd, nil
}

// -----------------------------------------------------------------------------

// ReadBatch returns up to limit commands with id > afterID without claiming
// them. A limit of zero uses the configured default; larger values are capped.
func (q *Queue) ReadBatch(ctx context.Context, queue string, afterID int64, limit int) ([]models.MCommand, error) {
	name, err := q.Resolve(queue)
	if err != nil {
		return nil, err
	}
	if afterID < 0 {
		return nil, helpers.NewValidationError("cursor cannot be negative")
	}
	if limit < 0 {
		return nil, helpers.NewValidationError("limit cannot be negative")
	}
	if limit == 0 {
		limit = q.Config.Dispatch.BatchLimit
	}
	if limit > config.MaxBatchLimit {
		limit = config.MaxBatchLimit
	}

	cmds, err := q.Store.ListCommandsAfter(ctx, name, afterID, limit)
	if err != nil {
		countStoreError(err)
		return nil, err
	}
	metrics.CommandsDelivered.WithLabelValues(name, models.PollModeBatch).Add(float64(len(cmds)))
	return cmds, nil
}

// -----------------------------------------------------------------------------

// Poll serves a poller in the mode its queue is configured for.
func (q *Queue) Poll(ctx context.Context, queue string, afterID int64, limit int) (PollResult, error) {
	name, err := q.Resolve(queue)
	if err != nil {
		return PollResult{}, err
	}
	mode, _ := q.Config.QueueMode(name)

	res := PollResult{Queue: name, Mode: mode, Commands: []models.MCommand{}, Next: afterID}

	switch mode {
	case models.PollModeBatch:
		cmds, err := q.ReadBatch(ctx, name, afterID, limit)
		if err != nil {
			return PollResult{}, err
		}
		if len(cmds) > 0 {
			res.Commands = cmds
			res.Next = cmds[len(cmds)-1].ID
		}
	default:
		cmd, err := q.Claim(ctx, name, afterID)
		if err != nil {
			return PollResult{}, err
		}
		if cmd != nil {
			res.Commands = append(res.Commands, *cmd)
			res.Next = cmd.ID
		}
	}
	return res, nil
}

// -----------------------------------------------------------------------------

func countStoreError(err error) {
	switch {
	case helpers.IsValidation(err):
		metrics.StoreErrors.WithLabelValues("validation").Inc()
	case helpers.IsTransient(err):
		metrics.StoreErrors.WithLabelValues("transient").Inc()
	case helpers.IsConsistencyViolation(err):
		metrics.StoreErrors.WithLabelValues("consistency").Inc()
	}
}
