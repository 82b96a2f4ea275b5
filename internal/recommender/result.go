// Package recommender builds paper recommendations for a research library.
//
// A run samples seed papers per folder, asks an LLM for keyword queries,
// collects candidates from Semantic Scholar search and the seeds' citation
// graph, ranks them against folder representative vectors, and lets a second
// LLM pick the final items. Every LLM step has a deterministic fallback, so a
// run only fails on structural problems such as an embedding mismatch.
package recommender

// Outcome tells whether a step used its primary path or degraded.
type Outcome string

// Step outcomes.
const (
	OutcomeOK       Outcome = "ok"
	OutcomeFallback Outcome = "fallback"
)

// Result carries the value of a step that never fails outright.
// Reason explains a fallback and is empty otherwise.
type Result[T any] struct {
	Value   T
	Outcome Outcome
	Reason  string
}

// IsFallback reports whether the step degraded.
func (r Result[T]) IsFallback() bool {
	return r.Outcome == OutcomeFallback
}

func okResult[T any](v T) Result[T] {
	return Result[T]{Value: v, Outcome: OutcomeOK}
}

func fallbackResult[T any](v T, reason string) Result[T] {
	return Result[T]{Value: v, Outcome: OutcomeFallback, Reason: reason}
}
