package recommender

import (
	"math/rand/v2"

	"github.com/helixir/paper-recommender/internal/domain"
)

// SeedSelector picks the library papers that steer query generation.
type SeedSelector interface {
	// Name identifies the strategy in run meta.
	Name() string

	// Select returns at most k papers. Implementations must draw randomness
	// only from rng so a fixed seed reproduces the run.
	Select(papers []domain.LibraryPaper, k int, rng *rand.Rand) []domain.LibraryPaper
}

// RandomSeedSelector samples seeds uniformly without replacement.
type RandomSeedSelector struct{}

// Name returns "random".
func (RandomSeedSelector) Name() string {
	return "random"
}

// Select returns a shuffled copy when papers has at most k entries and a
// uniform k-sample otherwise. The input slice is never modified.
func (RandomSeedSelector) Select(papers []domain.LibraryPaper, k int, rng *rand.Rand) []domain.LibraryPaper {
	if k <= 0 || len(papers) == 0 {
		return []domain.LibraryPaper{}
	}

	out := make([]domain.LibraryPaper, len(papers))
	copy(out, papers)

	if len(out) <= k {
		rng.Shuffle(len(out), func(i, j int) {
			out[i], out[j] = out[j], out[i]
		})
		return out
	}

	// Partial Fisher-Yates: the first k slots end up a uniform sample.
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(out)-i)
		out[i], out[j] = out[j], out[i]
	}
	return out[:k:k]
}

// newRand returns the run's random source. A nil seed draws a fresh one.
func newRand(seed *int64) *rand.Rand {
	if seed == nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	s := uint64(*seed)
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}
