// Package gateway exposes the WinM REST API. Writes are asynchronous: the
// gateway validates, publishes an event and answers 202 with the accepted
// payload; the projector applies the write later. Reads go straight to the
// graph store. LLM endpoints follow submit-and-poll: submission returns a
// request id, and the result endpoint always answers 200 with a status of
// pending, done or error.
package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/EKaterinaTR/winm/command"
	"github.com/EKaterinaTR/winm/errors"
	"github.com/EKaterinaTR/winm/graphstore"
	"github.com/EKaterinaTR/winm/llmtask"
	"github.com/EKaterinaTR/winm/metric"
	"github.com/EKaterinaTR/winm/resultstore"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20 // 1 MiB

// Server is the HTTP gateway.
type Server struct {
	commands   *command.Handler
	store      graphstore.Store
	dispatcher *llmtask.Dispatcher
	results    *resultstore.Store
	registry   *metric.Registry
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// New creates the gateway server. limiter guards the search endpoint and may
// be nil to disable rate limiting.
func New(
	commands *command.Handler,
	store graphstore.Store,
	dispatcher *llmtask.Dispatcher,
	results *resultstore.Store,
	registry *metric.Registry,
	limiter *rate.Limiter,
	logger *slog.Logger,
) *Server {
	return &Server{
		commands:   commands,
		store:      store,
		dispatcher: dispatcher,
		results:    results,
		registry:   registry,
		limiter:    limiter,
		logger:     logger,
	}
}

// Routes builds the full route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	s.registerResource(mux, "/api/locations", command.Locations)
	s.registerResource(mux, "/api/characters", command.Characters)
	s.registerResource(mux, "/api/concepts", command.Concepts)
	s.registerResource(mux, "/api/story/scenes", command.Scenes)

	mux.HandleFunc("GET /api/search", s.handleSearch)

	mux.HandleFunc("POST /api/llm/answer", s.handleAnswer)
	mux.HandleFunc("POST /api/llm/generate", s.handleGenerate)
	mux.HandleFunc("GET /api/llm/result/{request_id}", s.handleResult)

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.registry != nil {
		mux.Handle("GET /metrics", s.registry.Handler())
	}

	return s.instrument(mux)
}

// registerResource wires the standard create/list/get/update routes for one
// resource.
func (s *Server) registerResource(mux *http.ServeMux, base string, res command.Resource) {
	mux.HandleFunc("POST "+base, func(w http.ResponseWriter, r *http.Request) {
		s.handleCreate(w, r, res)
	})
	mux.HandleFunc("GET "+base, func(w http.ResponseWriter, r *http.Request) {
		s.handleList(w, r, res)
	})
	mux.HandleFunc("GET "+base+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.handleGet(w, r, res)
	})
	mux.HandleFunc("PATCH "+base+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.handleUpdate(w, r, res)
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, res command.Resource) {
	var in command.CreateInput
	if !s.decodeBody(w, r, &in) {
		return
	}

	payload, err := s.commands.Create(r.Context(), res, in)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"payload": payload,
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, res command.Resource) {
	var in command.UpdateInput
	if !s.decodeBody(w, r, &in) {
		return
	}

	payload, err := s.commands.Update(r.Context(), res, r.PathValue("id"), in)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"payload": payload,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, res command.Resource) {
	node, err := s.store.Get(r.Context(), res.Label, r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nodeView(node))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, res command.Resource) {
	nodes, err := s.store.List(r.Context(), res.Label)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	views := []map[string]any{}
	for _, n := range nodes {
		views = append(views, nodeView(n))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.writeError(w, http.StatusTooManyRequests, "search rate limit exceeded")
		return
	}

	query := r.URL.Query().Get("q")
	hits, err := s.store.Search(r.Context(), query, graphstore.SearchLimit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if hits == nil {
		hits = []graphstore.SearchHit{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": hits})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Question string `json:"question"`
		Role     string `json:"role"`
	}
	if !s.decodeBody(w, r, &in) {
		return
	}

	requestID, err := s.dispatcher.SubmitKnowledge(r.Context(), in.Question, in.Role)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"request_id": requestID})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		EntityType string `json:"entity_type"`
		Prompt     string `json:"prompt"`
	}
	if !s.decodeBody(w, r, &in) {
		return
	}

	requestID, err := s.dispatcher.SubmitGenerate(r.Context(), in.EntityType, in.Prompt)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"request_id": requestID})
}

// handleResult always answers 200. An unknown request id is reported as
// pending: the store cannot distinguish in-flight, expired and never-seen.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request_id")

	result, ok := s.results.Get(requestID)
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"request_id": requestID,
			"status":     "pending",
		})
		return
	}

	body := map[string]any{
		"request_id": requestID,
		"status":     result.Status,
	}
	switch {
	case result.Error != "":
		body["error"] = result.Error
	case result.Payload != nil:
		body["entity_type"] = result.EntityType
		body["payload"] = result.Payload
	default:
		body["answer"] = result.Answer
		if result.Role != "" {
			body["role"] = result.Role
		}
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// nodeView shapes a node for API responses. Scene relationships are
// reconstructed from edges.
func nodeView(n *graphstore.Node) map[string]any {
	view := map[string]any{
		"id":          n.ID,
		"description": n.Description,
		"updated_at":  n.UpdatedAt.Format(time.RFC3339),
	}
	if n.Label == graphstore.LabelScene {
		view["title"] = n.Title
		view["location_id"] = ""
		if targets := n.EdgeTargets(graphstore.EdgeTakesPlaceIn); len(targets) > 0 {
			view["location_id"] = targets[0]
		}
		characterIDs := n.EdgeTargets(graphstore.EdgeFeatures)
		if characterIDs == nil {
			characterIDs = []string{}
		}
		view["character_ids"] = characterIDs
	} else {
		view["name"] = n.Name
	}
	return view
}

// decodeBody reads and parses a JSON request body, writing the error response
// itself on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeErr maps a classified error to its HTTP status and sanitized message.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	s.logger.Error("Request failed", "error", err)
	s.writeError(w, statusFor(err), errors.UserMessage(err))
}

func statusFor(err error) int {
	switch {
	case errors.IsValidation(err):
		return http.StatusBadRequest
	case errors.IsConflict(err):
		return http.StatusConflict
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsUpstream(err):
		return http.StatusBadGateway
	case errors.IsTransport(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, map[string]any{
		"error":  message,
		"status": statusCode,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to write response", "error", err)
	}
}
