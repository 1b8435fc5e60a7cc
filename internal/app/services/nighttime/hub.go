package nighttime

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/arbiterfabric/cogrt/infrastructure/logging"
	nightdom "github.com/arbiterfabric/cogrt/internal/app/domain/nighttime"
)

// hub fans ProgressEvents out to every connected websocket client. It is
// the orchestrator's feed contract toward an external dashboard — this
// repo implements the feed, not the dashboard.
type hub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]chan nightdom.ProgressEvent
	upgrader websocket.Upgrader
	log      *logging.Logger
}

func newHub(log *logging.Logger) *hub {
	return &hub{
		clients: make(map[*websocket.Conn]chan nightdom.ProgressEvent),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

func (h *hub) broadcast(ev nightdom.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			h.log.WithFields(map[string]interface{}{"remote": conn.RemoteAddr().String()}).
				Warn("nighttime: dropping progress event, client channel full")
		}
	}
}

// ServeWS upgrades the connection and streams every subsequent
// ProgressEvent to it as JSON until the client disconnects.
func (h *hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("nighttime: websocket upgrade failed")
		return
	}

	ch := make(chan nightdom.ProgressEvent, 32)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		close(ch)
		conn.Close()
	}()

	// The read loop exists only to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (h *hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
