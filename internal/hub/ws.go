package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// pongWait bounds how long an observer may stay silent before its read
// loop gives up. Dashboard clients send a "ping" text frame well
// inside this window.
const pongWait = 5 * time.Minute

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The dashboard is served from arbitrary origins during
	// development; there is no auth model on this feed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request to a dashboard observer connection
// and runs its read loop until the client disconnects. The only
// client-to-server protocol is a literal "ping" text frame, answered
// with a pong event.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("dashboard upgrade failed", "error", err)
		return
	}

	o := h.Register(ws)
	defer h.Unregister(o)

	for {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if string(data) == "ping" {
			o.enqueue(Event{Type: TypePong, Timestamp: h.timestamp()})
		}
	}
}
