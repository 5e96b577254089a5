// Package hub fans out typed dashboard events to live WebSocket
// observers. Delivery is best-effort: a slow or dead observer is
// pruned during the broadcast that failed to reach it, and never
// blocks the message pipeline. This is a monitoring feed, not a
// transactional log.
package hub

import (
	"log/slog"
	"sync"
	"time"
)

// Event types pushed to the dashboard.
const (
	TypeConnection          = "connection"
	TypeIncomingMessage     = "incoming_message"
	TypeOutgoingMessage     = "outgoing_message"
	TypeAgentStatus         = "agent_status"
	TypeStats               = "stats"
	TypeConversationCleared = "conversation_cleared"
	TypePong                = "pong"
)

// Event is one typed dashboard notification. Only the fields relevant
// to the event type are populated.
type Event struct {
	Type        string         `json:"type"`
	Status      string         `json:"status,omitempty"`
	Message     string         `json:"message,omitempty"`
	Direction   string         `json:"direction,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	SenderName  string         `json:"sender_name,omitempty"`
	PatientName string         `json:"patient_name,omitempty"`
	MessageID   string         `json:"message_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

// conn is the subset of *websocket.Conn the hub writes through.
// Narrowed to an interface so tests can register failing observers.
type conn interface {
	WriteJSON(v any) error
	Close() error
}

// sendBuffer is the per-observer event queue depth. An observer that
// falls this far behind is considered dead and pruned.
const sendBuffer = 32

// Observer is one registered dashboard connection.
type Observer struct {
	conn conn
	send chan Event

	mu     sync.Mutex
	closed bool
}

// enqueue offers an event to the observer without blocking. Returns
// false when the observer's queue is full. Events offered after close
// are dropped silently; the observer is already gone.
func (o *Observer) enqueue(ev Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return true
	}
	select {
	case o.send <- ev:
		return true
	default:
		return false
	}
}

// close shuts the send queue exactly once; the writer goroutine closes
// the underlying connection when it drains out. The mutex keeps close
// and enqueue mutually exclusive so a concurrent broadcast can never
// send on the closed channel.
func (o *Observer) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.send)
}

// Hub maintains the set of live observers.
type Hub struct {
	mu        sync.Mutex
	observers map[*Observer]struct{}
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an empty hub.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		observers: make(map[*Observer]struct{}),
		logger:    logger,
		now:       time.Now,
	}
}

// Register adds a connection to the observer set and immediately
// queues the connection-acknowledged event for it.
func (h *Hub) Register(c conn) *Observer {
	o := &Observer{
		conn: c,
		send: make(chan Event, sendBuffer),
	}

	h.mu.Lock()
	h.observers[o] = struct{}{}
	total := len(h.observers)
	h.mu.Unlock()

	go o.writePump(h)

	o.enqueue(Event{
		Type:      TypeConnection,
		Status:    "connected",
		Message:   "Connected to Berenice dashboard",
		Timestamp: h.timestamp(),
	})

	h.logger.Info("dashboard observer connected", "total", total)
	return o
}

// Unregister removes an observer and releases its writer goroutine.
// Safe to call more than once for the same observer.
func (h *Hub) Unregister(o *Observer) {
	h.mu.Lock()
	_, present := h.observers[o]
	delete(h.observers, o)
	remaining := len(h.observers)
	h.mu.Unlock()

	o.close()

	if present {
		h.logger.Info("dashboard observer disconnected", "remaining", remaining)
	}
}

// writePump drains the observer's queue onto the wire. A write error
// means the connection is gone; the observer removes itself.
func (o *Observer) writePump(h *Hub) {
	for ev := range o.send {
		if err := o.conn.WriteJSON(ev); err != nil {
			h.logger.Debug("dashboard write failed, pruning observer", "error", err)
			h.Unregister(o)
			break
		}
	}
	o.conn.Close()
}

// Broadcast queues ev for every live observer. Observers whose queue
// is full are pruned as part of this call. Never blocks and never
// returns an error; with zero observers it is a no-op.
func (h *Hub) Broadcast(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = h.timestamp()
	}

	h.mu.Lock()
	targets := make([]*Observer, 0, len(h.observers))
	for o := range h.observers {
		targets = append(targets, o)
	}
	h.mu.Unlock()

	for _, o := range targets {
		if !o.enqueue(ev) {
			h.logger.Warn("dashboard observer too slow, pruning")
			h.Unregister(o)
		}
	}
}

// Count returns the number of live observers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

func (h *Hub) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}

// IncomingMessage broadcasts an inbound patient message.
func (h *Hub) IncomingMessage(phone, senderName, messageText, messageID string) {
	h.Broadcast(Event{
		Type:       TypeIncomingMessage,
		Direction:  "input",
		Phone:      phone,
		SenderName: senderName,
		Message:    messageText,
		MessageID:  messageID,
	})
}

// OutgoingMessage broadcasts a reply or operator message sent to a
// patient.
func (h *Hub) OutgoingMessage(phone, patientName, messageText, messageID string) {
	h.Broadcast(Event{
		Type:        TypeOutgoingMessage,
		Direction:   "output",
		Phone:       phone,
		PatientName: patientName,
		Message:     messageText,
		MessageID:   messageID,
	})
}

// AgentStatus broadcasts the generation status for one conversation.
func (h *Hub) AgentStatus(phone, status string) {
	h.Broadcast(Event{
		Type:   TypeAgentStatus,
		Phone:  phone,
		Status: status,
	})
}

// Stats broadcasts a system statistics snapshot.
func (h *Hub) Stats(data map[string]any) {
	h.Broadcast(Event{
		Type: TypeStats,
		Data: data,
	})
}

// ConversationCleared broadcasts removal of a conversation's in-memory
// state.
func (h *Hub) ConversationCleared(phone string) {
	h.Broadcast(Event{
		Type:  TypeConversationCleared,
		Phone: phone,
	})
}
