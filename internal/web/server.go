// Package web serves the live estimate feed: a JSON snapshot endpoint for
// polling clients and a WebSocket stream for visualisation dashboards.
package web

import (
	"encoding/json"
	"net/http"

	"github.com/indoor-data/personnelloc/internal/rakf"
)

// Snapshotter supplies the latest estimate per tracked person.
type Snapshotter interface {
	Snapshot() []rakf.Estimate
	Len() int
}

// Server exposes the HTTP surface of the localization service.
type Server struct {
	registry Snapshotter
	hub      *Hub
}

// NewServer creates a server over the given registry and hub.
func NewServer(registry Snapshotter, hub *Hub) *Server {
	return &Server{registry: registry, hub: hub}
}

// Hub returns the server's broadcast hub.
func (s *Server) Hub() *Hub { return s.hub }

// ServeMux returns the route table for the service.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.health)
	mux.HandleFunc("/estimates", s.listEstimates)
	mux.HandleFunc("/ws", s.hub.ServeWS)
	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"trackers": s.registry.Len(),
	})
}

type estimateJSON struct {
	ID        string    `json:"id"`
	Position  []float64 `json:"position"`
	Dimension int       `json:"dimension"`
	Timestamp int64     `json:"timestamp"`
}

func (s *Server) listEstimates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.registry.Snapshot()
	out := make([]estimateJSON, 0, len(snap))
	for _, est := range snap {
		out = append(out, estimateJSON{
			ID:        est.PersonnelID,
			Position:  est.Position,
			Dimension: est.Dimension,
			Timestamp: est.TimestampMS,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		http.Error(w, "Failed to encode estimates", http.StatusInternalServerError)
	}
}
