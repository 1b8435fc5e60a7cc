package nighttime

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Router exposes the orchestrator's operator-facing debug surface: a
// websocket upgrade streaming progress events, and a plain JSON snapshot
// of recent session history for clients that don't want a live feed.
func (o *Orchestrator) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/nighttime/stream", o.hub.ServeWS)
	r.Get("/nighttime/sessions", o.handleSessions)
	return r
}

func (o *Orchestrator) handleSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"active":  o.ActiveSessions(),
		"history": o.History(),
	})
}
