package bus

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// peerStatus is the introspection view of one registered peer.
type peerStatus struct {
	Name     string    `json:"name"`
	LastSeen time.Time `json:"lastSeen"`
	Healthy  bool      `json:"healthy"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
}

// Router builds a thin chi mux exposing /bus/status (registry snapshot)
// and /healthz (process liveness). It is deliberately minimal: the bus has
// exactly one debug surface, not a full API.
func (b *Bus) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/bus/status", b.handleStatus)
	r.Get("/healthz", b.handleHealthz)
	return r
}

func (b *Bus) handleStatus(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	statuses := make([]peerStatus, 0, len(b.peers))
	for name, reg := range b.peers {
		statuses = append(statuses, peerStatus{
			Name:     name,
			LastSeen: reg.lastSeen,
			Healthy:  reg.healthy,
			Meta:     reg.meta,
		})
	}
	b.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"peers": statuses})
}

func (b *Bus) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok"})
}
