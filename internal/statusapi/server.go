// Package statusapi exposes a TrackingContext's live status over HTTP as
// JSON, for the dashboard (and any other external tool) to poll. It
// replaces the connect-RPC status service the upstream project's go.mod
// hints at: hand-authoring the generated protobuf bindings for a small
// status message without running protoc isn't worth the indirection, and a
// single net/http handler is the idiomatic stand-in for "cheap polled
// status" anywhere in this corpus.
package statusapi

import (
	"encoding/json"
	"net/http"

	"github.com/cherry-wb/argos/internal/argos"
)

// Snapshotter is the one method statusapi needs from a tracking context.
type Snapshotter interface {
	Snapshot() argos.Status
}

// Server serves /status as JSON.
type Server struct {
	tc Snapshotter
}

func New(tc Snapshotter) *Server {
	return &Server{tc: tc}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.tc.Snapshot())
}
