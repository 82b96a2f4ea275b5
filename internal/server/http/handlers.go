package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/helixir/paper-recommender/internal/domain"
)

const maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies

// enqueueTaskRequest is the JSON request body for starting a recommendation task.
type enqueueTaskRequest struct {
	PerFolder   *int   `json:"per_folder,omitempty"`
	CrossDomain *int   `json:"cross_domain,omitempty"`
	RandomSeed  *int64 `json:"random_seed,omitempty"`
}

// enqueueTask handles POST /recommendations/tasks. A new task answers 202; a
// task that was already running is returned with 200.
func (s *Server) enqueueTask(w http.ResponseWriter, r *http.Request) {
	var req enqueueTaskRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	overrides := domain.ConfigOverrides{
		PerFolder:   req.PerFolder,
		CrossDomain: req.CrossDomain,
		RandomSeed:  req.RandomSeed,
	}
	if err := domain.ValidateStruct(overrides); err != nil {
		writeDomainError(w, err)
		return
	}

	task, created, err := s.tasks.Enqueue(r.Context(), domain.TaskTriggerManual, overrides)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to enqueue recommendation task")
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	writeJSON(w, status, task)
}

// getLatestTask handles GET /recommendations/tasks/latest.
func (s *Server) getLatestTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Latest(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// getTask handles GET /recommendations/tasks/{taskID}.
func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, chi.URLParam(r, "taskID"), "task_id")
	if !ok {
		return
	}
	task, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// decodeBody reads a size-limited JSON body into v. An empty body is accepted
// when allowEmpty is set. On failure a 400 has already been written.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if len(body) > maxRequestBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if allowEmpty {
			return true
		}
		writeError(w, http.StatusBadRequest, "request body is required")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

// writeDomainError maps domain errors to HTTP status codes and writes the response.
// Internal details are never echoed for unmapped errors.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrNoExclusionKey):
		writeError(w, http.StatusBadRequest, "item has no usable exclusion key")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// The parse error details are not included to avoid echoing potentially malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter. Missing yields def.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return n, true
}
