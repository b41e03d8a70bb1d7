package web

import (
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/BetterCallFirewall/postcap/internal/websocket"
)

type configPayload struct {
	HostFilter     string `json:"host_filter"`
	CollectionName string `json:"collection_name"`
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.captures.All())
}

func (s *Server) handleRequestByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/requests/")

	if replayID, ok := strings.CutSuffix(id, "/replay"); ok {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleReplay(w, r, replayID)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	capture, ok := s.captures.Get(id)
	if !ok {
		http.Error(w, "Request not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(capture)
}

// handleReplay re-sends a stored capture and reports how the host
// answered now.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request, id string) {
	capture, ok := s.captures.Get(id)
	if !ok {
		http.Error(w, "Request not found", http.StatusNotFound)
		return
	}

	result, err := s.replay.Replay(r.Context(), capture)
	if err != nil {
		s.logger.Warn("replay failed", "id", id, "error", err)
		http.Error(w, "replay failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleCollection serves the collection document byte for byte as it
// is written to disk.
func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := s.control.CollectionJSON()
	if err != nil {
		s.logger.Error("rendering collection failed", "error", err)
		http.Error(w, "rendering collection failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeConfig(w)
	case http.MethodPost:
		s.updateConfig(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeConfig(w http.ResponseWriter) {
	host, name := s.control.Settings()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(configPayload{HostFilter: host, CollectionName: name})
}

// updateConfig applies new capture settings. A missing field keeps the
// current value. Any actual change restarts the recording from scratch
// and is announced on the feed.
func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var payload configPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid config: "+err.Error(), http.StatusBadRequest)
		return
	}

	host, name := s.control.Settings()
	if payload.HostFilter != "" {
		host = payload.HostFilter
	}
	if payload.CollectionName != "" {
		name = payload.CollectionName
	}

	changed := s.control.Reconfigure(host, name)
	applied := configPayload{HostFilter: host, CollectionName: name}
	if changed {
		s.hub.Broadcast(websocket.EventConfig, applied)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		configPayload
		Changed bool `json:"changed"`
	}{applied, changed})
}
