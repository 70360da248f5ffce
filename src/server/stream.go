package server

import (
	"fmt"
	"io"
	"net/http"

	"vote-spin/src/helpers"
	"vote-spin/src/models"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// Server-Sent Events
// -----------------------------------------------------------------------------

func writeSSE(w io.Writer, msg models.MLiveMessage) error {
	if msg.Heartbeat {
		_, err := io.WriteString(w, ": ping\n\n")
		return err
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data)
	return err
}

// -----------------------------------------------------------------------------

// handleStream registers before reading the initial snapshot, so nothing
// committed after the read can be missed. Anything older that was already
// queued is dropped by the subscriber's version check.
func (s *HTTPServer) handleStream(c *gin.Context) {
	sub := s.Hub.NewSubscriber("sse")
	if !s.Hub.Register(sub) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}
	defer s.Hub.Unregister(sub)

	initial, err := s.initialMessage(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sub.Accept(initial)
	if err := writeSSE(c.Writer, initial); err != nil {
		s.Logger.Debug("%v", helpers.NewSubscriberWriteError(sub.ID, err))
		return
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-sub.Messages():
			if !ok {
				return false
			}
			if !sub.Accept(msg) {
				return true
			}
			if err := writeSSE(w, msg); err != nil {
				s.Logger.Debug("%v", helpers.NewSubscriberWriteError(sub.ID, err))
				return false
			}
			return true
		}
	})
}
