// Package handlers provides the HTTP chat-adapter surface: REST endpoints
// for memories, tasks and context, middleware, and the websocket delivery
// channel.
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/sundialhq/sundial/internal/engine"
	"github.com/sundialhq/sundial/internal/scheduler"
	"github.com/sundialhq/sundial/internal/storage"
	"github.com/sundialhq/sundial/pkg/types"
)

// APIHandlers contains the HTTP handlers for the REST API.
type APIHandlers struct {
	episodic   *engine.EpisodicService
	graph      *engine.EntityGraph
	aggregator *engine.ContextAggregator
	pipeline   *engine.ExtractionPipeline
	scheduler  *scheduler.Scheduler
}

// NewAPIHandlers creates the handler set.
func NewAPIHandlers(episodic *engine.EpisodicService, graph *engine.EntityGraph, aggregator *engine.ContextAggregator, pipeline *engine.ExtractionPipeline, sched *scheduler.Scheduler) *APIHandlers {
	return &APIHandlers{
		episodic:   episodic,
		graph:      graph,
		aggregator: aggregator,
		pipeline:   pipeline,
		scheduler:  sched,
	}
}

// Register wires all routes onto the mux.
func (h *APIHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/memories", h.Remember)
	mux.HandleFunc("GET /api/memories/{id}", h.GetMemory)
	mux.HandleFunc("DELETE /api/memories/{id}", h.Forget)
	mux.HandleFunc("GET /api/search", h.Search)

	mux.HandleFunc("GET /api/entities", h.LookupEntity)
	mux.HandleFunc("GET /api/entities/{id}/facts", h.EntityFacts)

	mux.HandleFunc("POST /api/tasks", h.Schedule)
	mux.HandleFunc("GET /api/tasks", h.ListPendingTasks)
	mux.HandleFunc("DELETE /api/tasks/{id}", h.CancelTask)

	mux.HandleFunc("POST /api/messages", h.Message)
	mux.HandleFunc("POST /api/turns", h.CompleteTurn)
}

// Remember handles POST /api/memories - store an explicit memory entry.
func (h *APIHandlers) Remember(w http.ResponseWriter, r *http.Request) {
	var req RememberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	in := engine.RememberInput{
		ThreadID:   req.ThreadID,
		Content:    req.Content,
		Importance: req.Importance,
		Tags:       req.Tags,
	}
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, "expires_in must be a positive duration", err)
			return
		}
		t := time.Now().UTC().Add(d)
		in.ExpiresAt = &t
	}

	entry, err := h.episodic.Remember(r.Context(), in)
	if err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			respondError(w, http.StatusBadRequest, verr.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to store memory", err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

// GetMemory handles GET /api/memories/{id}.
func (h *APIHandlers) GetMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, err := h.episodic.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "memory not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get memory", err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// Forget handles DELETE /api/memories/{id}.
func (h *APIHandlers) Forget(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.episodic.Forget(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "memory not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete memory", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search?thread_id=&q=&k= - hybrid memory retrieval.
func (h *APIHandlers) Search(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("thread_id")
	query := r.URL.Query().Get("q")
	if threadID == "" || query == "" {
		respondError(w, http.StatusBadRequest, "thread_id and q are required", nil)
		return
	}
	k := parseInt(r.URL.Query().Get("k"), 0)

	results, err := h.episodic.Search(r.Context(), threadID, query, k)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "search failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

// LookupEntity handles GET /api/entities?kind=&name= - resolve a name to its
// canonical entity without creating anything.
func (h *APIHandlers) LookupEntity(w http.ResponseWriter, r *http.Request) {
	kind := types.EntityKind(r.URL.Query().Get("kind"))
	name := r.URL.Query().Get("name")
	if !kind.Valid() || name == "" {
		respondError(w, http.StatusBadRequest, "valid kind and name are required", nil)
		return
	}

	entity, err := h.graph.Lookup(r.Context(), kind, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "entity not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "entity lookup failed", err)
		return
	}
	respondJSON(w, http.StatusOK, entity)
}

// EntityFacts handles GET /api/entities/{id}/facts - the entity's edges
// rendered as readable facts.
func (h *APIHandlers) EntityFacts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	facts, err := h.graph.Neighborhood(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "entity not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to list facts", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"facts": facts})
}

// Schedule handles POST /api/tasks - create a reminder or self-wakeup.
func (h *APIHandlers) Schedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	dueAt, err := time.Parse(time.RFC3339, req.DueAt)
	if err != nil {
		respondError(w, http.StatusBadRequest, "due_at must be RFC 3339", err)
		return
	}

	taskID, err := h.scheduler.Schedule(r.Context(), scheduler.ScheduleInput{
		ThreadID:   req.ThreadID,
		DueAt:      dueAt,
		Kind:       types.TaskKind(req.Kind),
		Payload:    req.Payload,
		Recurrence: req.Recurrence,
	})
	if err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			respondError(w, http.StatusBadRequest, verr.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to schedule task", err)
		return
	}
	respondJSON(w, http.StatusCreated, ScheduleResponse{TaskID: taskID})
}

// ListPendingTasks handles GET /api/tasks?thread_id=&kind=.
func (h *APIHandlers) ListPendingTasks(w http.ResponseWriter, r *http.Request) {
	filter := storage.TaskFilter{
		ThreadID: r.URL.Query().Get("thread_id"),
		Kind:     types.TaskKind(r.URL.Query().Get("kind")),
		Limit:    parseInt(r.URL.Query().Get("limit"), 0),
	}
	tasks, err := h.scheduler.ListPending(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list tasks", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// CancelTask handles DELETE /api/tasks/{id}. Cancelling a task that already
// fired or was cancelled returns 204 as well; the operation is a no-op.
func (h *APIHandlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Cancel(r.Context(), r.PathValue("id")); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to cancel task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Message handles POST /api/messages - assemble the context bundle for an
// incoming user message. Gathering is best-effort and never fails outright.
func (h *APIHandlers) Message(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.ThreadID == "" || req.Text == "" {
		respondError(w, http.StatusBadRequest, "thread_id and text are required", nil)
		return
	}

	bundle := h.aggregator.Gather(r.Context(), req.ThreadID, req.Text)
	respondJSON(w, http.StatusOK, bundle)
}

// CompleteTurn handles POST /api/turns - hand a finished user/agent exchange
// to the extraction pipeline. Returns 202 immediately; extraction runs in
// the background and its failures are logged, not surfaced here.
func (h *APIHandlers) CompleteTurn(w http.ResponseWriter, r *http.Request) {
	var turn types.ConversationTurn
	if err := json.NewDecoder(r.Body).Decode(&turn); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if turn.ThreadID == "" || turn.UserText == "" {
		respondError(w, http.StatusBadRequest, "thread_id and user_text are required", nil)
		return
	}

	h.pipeline.ProcessTurn(turn)
	w.WriteHeader(http.StatusAccepted)
}

// parseInt parses an integer from a string, returning defaultValue if
// parsing fails.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already sent; nothing more to do.
		log.Printf("failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}
	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}
	respondJSON(w, statusCode, errResp)
}
