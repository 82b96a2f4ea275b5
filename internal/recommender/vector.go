package recommender

import (
	"math"
	"sort"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/llm"
)

// topFoldersLimit caps ScoredCandidate.TopFolders.
const topFoldersLimit = 3

// Representative is the unit mean vector of one folder's papers.
type Representative struct {
	FolderID string
	Vector   []float32
}

// Dot returns the dot product of two equal-length vectors.
func Dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// MeanVector returns the L2-normalized mean of vectors, or nil when there are none.
// All vectors must share one dimension.
func MeanVector(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, nil
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, domain.NewEmbeddingMismatchError("folder representative dimension", dim, len(v))
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}

	inv := 1 / float64(len(vectors))
	out := make([]float32, dim)
	for i, s := range sum {
		out[i] = float32(s * inv)
	}
	return llm.Normalize(out), nil
}

// Representatives builds one representative per folder in folderIDs order.
// Folders whose papers have no vector are skipped.
func Representatives(folderIDs []string, vectorsByFolder map[string][][]float32) ([]Representative, error) {
	reps := make([]Representative, 0, len(folderIDs))
	for _, fid := range folderIDs {
		rep, err := MeanVector(vectorsByFolder[fid])
		if err != nil {
			return nil, err
		}
		if len(rep) == 0 || isZero(rep) {
			continue
		}
		reps = append(reps, Representative{FolderID: fid, Vector: rep})
	}
	return reps, nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// ScoreInDomain scores each key against rep, sorts descending and keeps the top limit.
// Keys without a vector are skipped.
func ScoreInDomain(
	keys []string,
	pool *CandidatePool,
	vectors map[string][]float32,
	rep Representative,
	limit int,
) ([]domain.ScoredCandidate, error) {
	scored := make([]domain.ScoredCandidate, 0, len(keys))
	for _, key := range keys {
		vec, ok := vectors[key]
		if !ok {
			continue
		}
		c, ok := pool.Get(key)
		if !ok {
			continue
		}
		if len(vec) != len(rep.Vector) {
			return nil, domain.NewEmbeddingMismatchError("candidate dimension", len(rep.Vector), len(vec))
		}
		scored = append(scored, domain.ScoredCandidate{Candidate: c, Score: Dot(vec, rep.Vector)})
	}
	return truncate(sortScored(scored), limit), nil
}

// ScoreCrossDomain scores each key by the sum of its topN best folder
// similarities, records up to three best folders, sorts descending and keeps
// the top limit.
func ScoreCrossDomain(
	keys []string,
	pool *CandidatePool,
	vectors map[string][]float32,
	reps []Representative,
	topN, limit int,
) ([]domain.ScoredCandidate, error) {
	type sim struct {
		folderID string
		score    float64
	}

	scored := make([]domain.ScoredCandidate, 0, len(keys))
	for _, key := range keys {
		vec, ok := vectors[key]
		if !ok {
			continue
		}
		c, ok := pool.Get(key)
		if !ok {
			continue
		}

		sims := make([]sim, 0, len(reps))
		for _, rep := range reps {
			if len(vec) != len(rep.Vector) {
				return nil, domain.NewEmbeddingMismatchError("candidate dimension", len(rep.Vector), len(vec))
			}
			sims = append(sims, sim{folderID: rep.FolderID, score: Dot(vec, rep.Vector)})
		}
		sort.SliceStable(sims, func(i, j int) bool {
			return sims[i].score > sims[j].score
		})

		var total float64
		for i := 0; i < topN && i < len(sims); i++ {
			total += sims[i].score
		}
		top := make([]string, 0, topFoldersLimit)
		for i := 0; i < topFoldersLimit && i < len(sims); i++ {
			top = append(top, sims[i].folderID)
		}

		scored = append(scored, domain.ScoredCandidate{Candidate: c, Score: total, TopFolders: top})
	}
	return truncate(sortScored(scored), limit), nil
}

// sortScored orders by descending score, ties by key. NaN scores sort last.
func sortScored(s []domain.ScoredCandidate) []domain.ScoredCandidate {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i].Score, s[j].Score
		switch {
		case math.IsNaN(a) && !math.IsNaN(b):
			return false
		case !math.IsNaN(a) && math.IsNaN(b):
			return true
		case a != b:
			return a > b
		}
		return s[i].Key < s[j].Key
	})
	return s
}

func truncate(s []domain.ScoredCandidate, limit int) []domain.ScoredCandidate {
	if limit < 0 {
		limit = 0
	}
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
