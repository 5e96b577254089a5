package hub

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeConn records written events; failAfter > 0 makes WriteJSON fail
// after that many successful writes; a non-nil block channel stalls
// every write until the channel is closed.
type fakeConn struct {
	mu        sync.Mutex
	events    []Event
	failAfter int
	writes    int
	closed    bool
	block     chan struct{}
}

func (c *fakeConn) WriteJSON(v any) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	if c.failAfter > 0 && c.writes > c.failAfter {
		return errors.New("connection reset")
	}
	if ev, ok := v.(Event); ok {
		c.events = append(c.events, ev)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBroadcastWithZeroObservers(t *testing.T) {
	h := New(slog.Default())
	// Must be a silent no-op.
	h.Broadcast(Event{Type: TypeStats})
	if h.Count() != 0 {
		t.Errorf("Count = %d, want 0", h.Count())
	}
}

func TestRegisterPushesConnectionEvent(t *testing.T) {
	h := New(slog.Default())
	c := &fakeConn{}
	o := h.Register(c)
	defer h.Unregister(o)

	waitFor(t, func() bool { return len(c.snapshot()) == 1 }, "connection event not delivered")
	ev := c.snapshot()[0]
	if ev.Type != TypeConnection || ev.Status != "connected" {
		t.Errorf("first event = %+v, want connection/connected", ev)
	}
	if ev.Timestamp == "" {
		t.Error("connection event missing timestamp")
	}
}

func TestBroadcastReachesAllObservers(t *testing.T) {
	h := New(slog.Default())
	c1, c2 := &fakeConn{}, &fakeConn{}
	o1 := h.Register(c1)
	o2 := h.Register(c2)
	defer h.Unregister(o1)
	defer h.Unregister(o2)

	h.IncomingMessage("5511999990000", "Maria", "Oi", "m1")

	for _, c := range []*fakeConn{c1, c2} {
		waitFor(t, func() bool { return len(c.snapshot()) == 2 }, "broadcast not delivered")
		ev := c.snapshot()[1]
		if ev.Type != TypeIncomingMessage || ev.Direction != "input" || ev.Phone != "5511999990000" {
			t.Errorf("event = %+v", ev)
		}
	}
}

func TestFailingObserverPrunedAfterOneBroadcast(t *testing.T) {
	h := New(slog.Default())
	c := &fakeConn{failAfter: 1} // connection event succeeds, next write fails
	h.Register(c)

	waitFor(t, func() bool { return h.Count() == 1 }, "observer not registered")

	h.AgentStatus("5511999990000", "thinking")

	waitFor(t, func() bool { return h.Count() == 0 }, "failing observer was not pruned")
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.closed
	}, "pruned observer connection not closed")
}

func TestSlowObserverPrunedDuringBroadcast(t *testing.T) {
	h := New(slog.Default())
	// The writer pump stalls on the first write (the connection event),
	// so every broadcast piles into the queue until it saturates.
	c := &fakeConn{block: make(chan struct{})}
	h.Register(c)
	defer close(c.block)

	for i := 0; i <= sendBuffer; i++ {
		h.Broadcast(Event{Type: TypeStats})
	}

	if h.Count() != 0 {
		t.Errorf("Count = %d after saturating broadcasts, want 0", h.Count())
	}
}

func TestBroadcastDuringChurnDoesNotPanic(t *testing.T) {
	h := New(slog.Default())

	done := make(chan struct{})
	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					h.Broadcast(Event{Type: TypeStats})
				}
			}
		}()
	}

	// Observers connect and disconnect while broadcasts are in flight.
	// Unregister closes the send queue; a broadcast racing it must drop
	// the event, not send on the closed channel.
	for range 200 {
		o := h.Register(&fakeConn{})
		h.Unregister(o)
	}

	close(done)
	wg.Wait()

	if h.Count() != 0 {
		t.Errorf("Count = %d after churn, want 0", h.Count())
	}
}

func TestEnqueueAfterCloseDropsEvent(t *testing.T) {
	h := New(slog.Default())
	o := h.Register(&fakeConn{})
	h.Unregister(o)

	// Must not panic and must not report the observer as slow.
	if !o.enqueue(Event{Type: TypeStats}) {
		t.Error("enqueue after close reported a full queue")
	}
}

func TestServeWSPingPong(t *testing.T) {
	h := New(slog.Default())
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	var connected Event
	if err := ws.ReadJSON(&connected); err != nil {
		t.Fatalf("read connection event: %v", err)
	}
	if connected.Type != TypeConnection {
		t.Errorf("first event type = %q", connected.Type)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong Event
	if err := ws.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != TypePong {
		t.Errorf("pong type = %q", pong.Type)
	}

	waitFor(t, func() bool { return h.Count() == 1 }, "observer count")
	ws.Close()
	waitFor(t, func() bool { return h.Count() == 0 }, "observer not removed on disconnect")
}
