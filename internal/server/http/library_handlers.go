package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/paper-recommender/internal/qdrant"
)

// similarPapers handles GET /library/papers/{paperID}/similar?limit.
func (s *Server) similarPapers(w http.ResponseWriter, r *http.Request) {
	if s.similar == nil {
		writeError(w, http.StatusServiceUnavailable, "similarity search is disabled")
		return
	}
	paperID, ok := parseUUID(w, chi.URLParam(r, "paperID"), "paper_id")
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", qdrant.DefaultSimilarLimit)
	if !ok {
		return
	}

	results, err := s.similar.Similar(r.Context(), paperID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if results == nil {
		results = []qdrant.SimilarPaper{}
	}
	writeJSON(w, http.StatusOK, similarPapersResponse{PaperID: paperID.String(), Results: results})
}
