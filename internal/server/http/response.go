package httpserver

import (
	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/qdrant"
)

type listExcludesResponse struct {
	Excludes []domain.RecommendationExclude `json:"excludes"`
	Limit    int                            `json:"limit"`
	Offset   int                            `json:"offset"`
}

type similarPapersResponse struct {
	PaperID string                `json:"paper_id"`
	Results []qdrant.SimilarPaper `json:"results"`
}
