package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"vote-spin/src/analysis/core"
	"vote-spin/src/helpers"
	"vote-spin/src/models"

	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

// -----------------------------------------------------------------------------
// Request bodies
// -----------------------------------------------------------------------------

// Hardware controllers send "player"; the web client sends entity_id/target_id.
type voteRequest struct {
	EntityID string `json:"entity_id"`
	Player   string `json:"player"`
	Value    *int   `json:"value"`
	Source   string `json:"source"`
}

type targetRequest struct {
	TargetID string `json:"target_id"`
	Player   string `json:"player"`
	Queue    string `json:"queue"`
}

type enqueueRequest struct {
	targetRequest
	Action *models.MAction `json:"action"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// -----------------------------------------------------------------------------
// Error mapping
// -----------------------------------------------------------------------------

func (s *HTTPServer) fail(c *gin.Context, err error) {
	status := helpers.HTTPStatus(err)
	switch {
	case helpers.IsTransient(err):
		s.Logger.Warning("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "temporarily unavailable", "retryable": true})
	case status >= http.StatusInternalServerError:
		s.Logger.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error"})
	default:
		c.JSON(status, gin.H{"error": err.Error()})
	}
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		s.fail(c, helpers.NewValidationError("invalid request body: %v", err))
		return false
	}
	return true
}

// -----------------------------------------------------------------------------
// Vote handlers
// -----------------------------------------------------------------------------

func (s *HTTPServer) submitVote(c *gin.Context) {
	var req voteRequest
	if !s.bind(c, &req) {
		return
	}
	if req.Value == nil {
		s.fail(c, helpers.NewValidationError("value is required"))
		return
	}

	event, err := s.Service.SubmitVote(c.Request.Context(), firstNonEmpty(req.EntityID, req.Player), *req.Value, req.Source)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": event.ID})
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) getSnapshot(c *gin.Context) {
	snap, err := s.Service.Snapshot(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	var current any
	if leader, ok := core.Leader(snap); ok {
		current = leader
	}
	c.JSON(http.StatusOK, gin.H{
		"rows":    snap.Entries,
		"current": current,
		"version": snap.Version,
	})
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) getLeader(c *gin.Context) {
	leader, ok, err := s.Service.Leader(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	var current any
	if ok {
		current = leader
	}
	c.JSON(http.StatusOK, gin.H{"current": current})
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) resetAll(c *gin.Context) {
	at, err := s.Service.ResetAll(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "reset_at": at.Unix()})
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) getLastReset(c *gin.Context) {
	at, err := s.Service.LastReset(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	var ts int64
	if !at.IsZero() {
		ts = at.Unix()
	}
	c.JSON(http.StatusOK, gin.H{"reset_at": ts, "resetAt": ts})
}

// -----------------------------------------------------------------------------
// Control handlers
// -----------------------------------------------------------------------------

func (s *HTTPServer) enqueueCommand(c *gin.Context) {
	var req enqueueRequest
	if !s.bind(c, &req) {
		return
	}
	if req.Action == nil {
		s.fail(c, helpers.NewValidationError("action is required"))
		return
	}

	cmd, err := s.Service.Queue.Enqueue(c.Request.Context(), req.Queue, firstNonEmpty(req.TargetID, req.Player), *req.Action)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "command": cmd})
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) spinOnly(c *gin.Context) {
	var req targetRequest
	if !s.bind(c, &req) {
		return
	}

	cmd, err := s.Service.SpinOnly(c.Request.Context(), req.Queue, firstNonEmpty(req.TargetID, req.Player))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "command": cmd})
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) voteAndSpin(c *gin.Context) {
	var req targetRequest
	if !s.bind(c, &req) {
		return
	}

	event, cmd, err := s.Service.VoteAndSpin(c.Request.Context(), req.Queue, firstNonEmpty(req.TargetID, req.Player))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "event_id": event.ID, "command": cmd})
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) pollCommands(c *gin.Context) {
	after, err := queryInt(c, "after")
	if err != nil {
		s.fail(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		s.fail(c, err)
		return
	}

	res, err := s.Service.Queue.Poll(c.Request.Context(), c.Query("queue"), after, int(limit))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// -----------------------------------------------------------------------------

// legacyRow is the command shape first-generation firmware parses.
type legacyRow struct {
	ID     int64  `json:"id"`
	Player string `json:"player"`
	LED    bool   `json:"led"`
	Action string `json:"action,omitempty"`
}

// pollLegacy serves dispatch.legacy_queue (or ?queue=) in that queue's mode and
// answers {rows:[{id, player, led}]}. Reset markers carry action "reset" and
// player "*".
func (s *HTTPServer) pollLegacy(c *gin.Context) {
	after, err := queryInt(c, "after")
	if err != nil {
		s.fail(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		s.fail(c, err)
		return
	}

	queue := firstNonEmpty(c.Query("queue"), s.Config.Dispatch.LegacyQueue)
	res, err := s.Service.Queue.Poll(c.Request.Context(), queue, after, int(limit))
	if err != nil {
		s.fail(c, err)
		return
	}

	rows := make([]legacyRow, 0, len(res.Commands))
	for _, cmd := range res.Commands {
		row := legacyRow{ID: cmd.ID, Player: cmd.TargetID}
		if cmd.Action.Light != nil {
			row.LED = *cmd.Action.Light
		}
		if cmd.IsReset() {
			row.Action = models.ActionReset
		}
		rows = append(rows, row)
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

// -----------------------------------------------------------------------------

func queryInt(c *gin.Context, key string) (int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, helpers.NewValidationError("%s must be an integer", key)
	}
	return v, nil
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

func (s *HTTPServer) getHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	connections := s.Hub.Count()
	if err := s.Service.Store.Ping(ctx); err != nil {
		s.Logger.Warning("Health check: store unreachable: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":      "degraded",
			"store":       "unreachable",
			"connections": connections,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"store":       "ok",
		"connections": connections,
	})
}
