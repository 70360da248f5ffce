package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"vote-spin/src/logger"
	"vote-spin/src/metrics"
	"vote-spin/src/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// -----------------------------------------------------------------------------
// Subscriber
// -----------------------------------------------------------------------------

// Subscriber is one live connection. The hub owns the send channel and closes
// it on unregistration; the transport only reads from it.
type Subscriber struct {
	ID   string
	Kind string
	send chan models.MLiveMessage

	// lastVersion is touched only by the transport goroutine.
	lastVersion int64
}

// -----------------------------------------------------------------------------

func NewSubscriber(kind string, buffer int) *Subscriber {
	if buffer < 1 {
		buffer = 1
	}
	return &Subscriber{
		ID:   uuid.NewString(),
		Kind: kind,
		send: make(chan models.MLiveMessage, buffer),
	}
}

// -----------------------------------------------------------------------------

// Messages yields broadcasts and heartbeats until the hub drops the subscriber.
func (s *Subscriber) Messages() <-chan models.MLiveMessage {
	return s.send
}

// -----------------------------------------------------------------------------

// Accept reports whether msg should be written. Snapshots older than the last
// one written are skipped so a slow initial read cannot overwrite newer state.
func (s *Subscriber) Accept(msg models.MLiveMessage) bool {
	if msg.Heartbeat {
		return true
	}
	if msg.Version < s.lastVersion {
		return false
	}
	s.lastVersion = msg.Version
	return true
}

// -----------------------------------------------------------------------------
// Hub
// -----------------------------------------------------------------------------

// Hub fans snapshots out to every registered subscriber of this process.
// Sends never block: a subscriber whose buffer is full is dropped.
type Hub struct {
	Logger   *logger.Logger
	clock    clockwork.Clock
	interval time.Duration
	buffer   int

	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	stopped     bool
}

// -----------------------------------------------------------------------------

func NewHub(log *logger.Logger, clock clockwork.Clock, heartbeat time.Duration, buffer int) *Hub {
	return &Hub{
		Logger:      log,
		clock:       clock,
		interval:    heartbeat,
		buffer:      buffer,
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// -----------------------------------------------------------------------------

// NewSubscriber creates a subscriber sized to the hub's buffer. It is not
// registered yet.
func (h *Hub) NewSubscriber(kind string) *Subscriber {
	return NewSubscriber(kind, h.buffer)
}

// -----------------------------------------------------------------------------

func (h *Hub) HeartbeatInterval() time.Duration {
	return h.interval
}

// -----------------------------------------------------------------------------

// Register adds s to the registry. It returns false when the hub is stopped,
// in which case s is closed immediately.
func (h *Hub) Register(s *Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		close(s.send)
		return false
	}
	h.subscribers[s] = struct{}{}
	metrics.LiveSubscribers.Set(float64(len(h.subscribers)))
	h.Logger.Debug("Subscriber %s (%s) registered, %d live", s.ID, s.Kind, len(h.subscribers))
	return true
}

// -----------------------------------------------------------------------------

// Unregister removes s and closes its channel. Safe to call more than once.
func (h *Hub) Unregister(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.remove(s) {
		h.Logger.Debug("Subscriber %s (%s) unregistered, %d live", s.ID, s.Kind, len(h.subscribers))
	}
}

// remove must be called with mu held.
func (h *Hub) remove(s *Subscriber) bool {
	if _, ok := h.subscribers[s]; !ok {
		return false
	}
	delete(h.subscribers, s)
	close(s.send)
	metrics.LiveSubscribers.Set(float64(len(h.subscribers)))
	return true
}

// -----------------------------------------------------------------------------

// Broadcast delivers the snapshot to every subscriber without waiting on any
// of them. It never fails; subscribers that cannot take the message are
// dropped.
func (h *Hub) Broadcast(snapshot models.MSnapshot) {
	msg, err := snapshotMessage(snapshot)
	if err != nil {
		h.Logger.Error("Failed to encode snapshot version %d: %v", snapshot.Version, err)
		return
	}

	metrics.Broadcasts.Inc()
	h.fanOut(msg)
}

// snapshotMessage encodes the wire form once so every subscriber shares it.
func snapshotMessage(snapshot models.MSnapshot) (models.MLiveMessage, error) {
	data, err := json.Marshal(snapshot.Values())
	if err != nil {
		return models.MLiveMessage{}, err
	}
	return models.MLiveMessage{
		Event:   models.EventSnapshotUpdate,
		Data:    data,
		Version: snapshot.Version,
	}, nil
}

// -----------------------------------------------------------------------------

// Heartbeat sends a keep-alive to every subscriber.
func (h *Hub) Heartbeat() {
	metrics.Heartbeats.Inc()
	h.fanOut(models.MLiveMessage{Heartbeat: true})
}

// -----------------------------------------------------------------------------

func (h *Hub) fanOut(msg models.MLiveMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subscribers {
		select {
		case s.send <- msg:
		default:
			// Buffer full: the client is not keeping up.
			h.remove(s)
			metrics.SubscribersEvicted.Inc()
			h.Logger.Warning("Dropped slow subscriber %s (%s)", s.ID, s.Kind)
		}
	}
}

// -----------------------------------------------------------------------------

// Run sends heartbeats until ctx ends, then stops the hub.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	h.Logger.Info("Hub running (heartbeat every %s)", h.interval)
	for {
		select {
		case <-ctx.Done():
			h.Stop()
			return
		case <-ticker.Chan():
			h.Heartbeat()
		}
	}
}

// -----------------------------------------------------------------------------

// Stop closes every subscriber and refuses new registrations.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return
	}
	h.stopped = true
	for s := range h.subscribers {
		h.remove(s)
	}
	h.Logger.Info("Hub stopped")
}

// -----------------------------------------------------------------------------

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
