// Package httpapi is the HTTP boundary: catalog endpoints for patterns,
// capabilities and tools, run execution streamed as Server-Sent Events, the
// journal read API, and the stream re-attach endpoints.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/agentlab-ai/agentlab/internal/capability"
	"github.com/agentlab-ai/agentlab/internal/journal"
	"github.com/agentlab-ai/agentlab/internal/orchestrator"
	"github.com/agentlab-ai/agentlab/internal/streaming"
	"github.com/agentlab-ai/agentlab/internal/tools"
)

// Server wires the HTTP surface. All collaborators are injected.
type Server struct {
	orch         *orchestrator.Orchestrator
	capabilities *capability.Registry
	tools        *tools.Registry
	streams      *streaming.Manager
	journal      *journal.Journal
	logger       *zap.Logger
}

func NewServer(
	orch *orchestrator.Orchestrator,
	caps *capability.Registry,
	toolReg *tools.Registry,
	streams *streaming.Manager,
	jnl *journal.Journal,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		orch:         orch,
		capabilities: caps,
		tools:        toolReg,
		streams:      streams,
		journal:      jnl,
		logger:       logger,
	}
}

// RegisterRoutes registers every endpoint on the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/patterns", s.handlePatterns)
	mux.HandleFunc("GET /api/capabilities", s.handleCapabilities)
	mux.HandleFunc("GET /api/tools", s.handleTools)
	mux.HandleFunc("POST /api/execute", s.handleExecute)
	if s.journal != nil {
		mux.HandleFunc("GET /api/runs", s.handleRuns)
		mux.HandleFunc("GET /api/runs/{id}/events", s.handleRunEvents)
	}
	if s.streams != nil {
		mux.HandleFunc("GET /stream/sse", s.handleStreamSSE)
		mux.HandleFunc("GET /stream/ws", s.handleStreamWS)
	}
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	var out []entry
	for _, p := range s.orch.GetPatterns() {
		out = append(out, entry{Name: p.Name(), Description: p.Description()})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"patterns": out})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	var out []entry
	for _, c := range s.capabilities.List() {
		out = append(out, entry{Name: c.Name(), Description: c.Description()})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"capabilities": out})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"tools": s.tools.Infos()})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.journal.Runs(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	events, err := s.journal.Events(r.Context(), runID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read run events")
		return
	}
	if len(events) == 0 {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no events for run %q", runID))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"run_id": runID, "events": events})
}

// executeRequest is the POST /api/execute body.
type executeRequest struct {
	Pattern string         `json:"pattern"`
	Input   string         `json:"input"`
	Options executeOptions `json:"options"`
}

type executeOptions struct {
	MaxSteps       int              `json:"max_steps"`
	MaxIterations  int              `json:"max_iterations"`
	MaxAttempts    int              `json:"max_attempts"`
	Timeout        string           `json:"timeout"`
	Debug          bool             `json:"debug"`
	Visualizations bool             `json:"visualizations"`
	Criteria       *executeCriteria `json:"criteria"`
}

type executeCriteria struct {
	Exact     string   `json:"exact"`
	Contains  string   `json:"contains"`
	Pattern   string   `json:"pattern"`
	Forbidden []string `json:"forbidden"`
}

func (req *executeRequest) toOptions() (orchestrator.Options, error) {
	var opts orchestrator.Options
	opts.MaxSteps = req.Options.MaxSteps
	opts.MaxIterations = req.Options.MaxIterations
	opts.MaxAttempts = req.Options.MaxAttempts
	opts.Debug = req.Options.Debug
	opts.Visualizations = req.Options.Visualizations
	if req.Options.Timeout != "" {
		d, err := time.ParseDuration(req.Options.Timeout)
		if err != nil || d < 0 {
			return opts, fmt.Errorf("invalid timeout %q", req.Options.Timeout)
		}
		opts.Timeout = d
	}
	if c := req.Options.Criteria; c != nil {
		opts.Criteria = &capability.Criteria{
			Exact:     c.Exact,
			Contains:  c.Contains,
			Pattern:   c.Pattern,
			Forbidden: c.Forbidden,
		}
	}
	return opts, nil
}

// handleExecute runs a pattern and streams its execution events as SSE, one
// event per message. Pattern lookup failures flow through the stream as the
// run's single error event; only a malformed request gets a 400.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Pattern == "" || req.Input == "" {
		s.writeError(w, http.StatusBadRequest, "pattern and input are required")
		return
	}
	opts, err := req.toOptions()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	s.logger.Info("executing pattern",
		zap.String("pattern", req.Pattern),
		zap.Int("input_len", len(req.Input)),
	)

	for ev := range s.orch.ExecutePattern(r.Context(), req.Pattern, req.Input, opts) {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("failed to marshal event", zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "event: %s\n", ev.EventType)
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
