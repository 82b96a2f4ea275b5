package httpserver

import (
	"net/http"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/exclusion"
)

// createExcludeRequest is the JSON request body for excluding a recommended item.
type createExcludeRequest struct {
	ItemID string `json:"item_id"`
	Reason string `json:"reason,omitempty"`
}

// getLatestRun handles GET /recommendations/latest. Excluded items are
// filtered out at read time.
func (s *Server) getLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.exclusions.Latest(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if run.Items == nil {
		run.Items = []domain.RecommendationItem{}
	}
	writeJSON(w, http.StatusOK, run)
}

// createExclude handles POST /recommendations/excludes. A new exclude answers
// 201; an existing matching exclude is returned with 200.
func (s *Server) createExclude(w http.ResponseWriter, r *http.Request) {
	var req createExcludeRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.ItemID == "" {
		writeError(w, http.StatusBadRequest, "item_id is required")
		return
	}
	itemID, ok := parseUUID(w, req.ItemID, "item_id")
	if !ok {
		return
	}

	ex, created, err := s.exclusions.CreateFromItem(r.Context(), itemID, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, ex)
}

// listExcludes handles GET /recommendations/excludes?limit&offset.
func (s *Server) listExcludes(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", exclusion.DefaultListLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	limit, offset = exclusion.ClampPage(limit, offset)

	excludes, err := s.exclusions.List(r.Context(), limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if excludes == nil {
		excludes = []domain.RecommendationExclude{}
	}
	writeJSON(w, http.StatusOK, listExcludesResponse{Excludes: excludes, Limit: limit, Offset: offset})
}
