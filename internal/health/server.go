package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/peercall/internal/core/config"
	"github.com/vietddude/peercall/internal/infra/rpc/routing"
)

// PeerPicker previews the peer a call would be sent to.
type PeerPicker interface {
	SelectPeer(ctx context.Context, selectorID string, cfg config.Configuration, hashKey string) (string, error)
}

// SelectResponse is the body of a successful /select request.
type SelectResponse struct {
	Target  string `json:"target"`
	Context string `json:"context"`
	Peer    string `json:"peer"`
}

// Server provides HTTP endpoints for health monitoring and diagnostics.
type Server struct {
	monitor *Monitor
	picker  PeerPicker
	targets map[string]config.Configuration
	server  *http.Server
}

// NewServer creates a new health server.
func NewServer(monitor *Monitor, picker PeerPicker, targets []config.Configuration, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		picker:  picker,
		targets: make(map[string]config.Configuration, len(targets)),
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}
	for _, t := range targets {
		s.targets[t.Target] = t
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.HandleFunc("/select", s.handleSelect)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())
	status := http.StatusOK
	if report.SystemStatus == StatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.CheckHealth(r.Context()))
}

// handleSelect answers /select?target=&key=&context= with the peer a call
// would use. Without a context parameter the default selection context is
// used.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("target")
	cfg, ok := s.targets[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown target %q", name)})
		return
	}

	ctx := r.Context()
	if id := q.Get("context"); id != "" {
		ctx = routing.WithSelectionID(ctx, id)
	}

	peer, err := s.picker.SelectPeer(ctx, "", cfg, q.Get("key"))
	if err != nil {
		slog.Debug("Peer selection failed", "target", name, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, SelectResponse{
		Target:  name,
		Context: routing.SelectionID(ctx),
		Peer:    peer,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
