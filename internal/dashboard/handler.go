package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/szagi3891/notatki-panel/internal/daemon"
	"github.com/szagi3891/notatki-panel/internal/engine"
)

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Engine  engine.Status `json:"engine"`
	Loop    *daemon.Stats `json:"loop,omitempty"`
	Clients int           `json:"clients"`
}

// EnableResponse is the body of POST /api/enable.
type EnableResponse struct {
	// Requested is false when the engine was already enabled
	Requested bool          `json:"requested"`
	Status    engine.Status `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Engine:  s.ctrl.Status(),
		Clients: s.ClientCount(),
	}
	if s.loop != nil {
		st := s.loop()
		resp.Loop = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEnable(w http.ResponseWriter, _ *http.Request) {
	requested := s.ctrl.RequestEnable()
	if requested {
		s.logger.Info("Re-enable requested over HTTP")
	}
	writeJSON(w, http.StatusAccepted, EnableResponse{
		Requested: requested,
		Status:    s.ctrl.Status(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>notesync</title></head>
<body>
    <h1>notesync</h1>
    <p>Status: <a href="/api/status">/api/status</a></p>
    <p>Events: <code>ws://%s/ws</code></p>
    <p>Health: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
