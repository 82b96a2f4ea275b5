package recommender

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-recommender/internal/domain"
	"github.com/helixir/paper-recommender/internal/llm"
	"github.com/helixir/paper-recommender/internal/observability"
)

const (
	deciderViewLimit     = 20
	deciderAbstractLimit = 600
)

// Decider modes.
const (
	ModeFolder      = "folder"
	ModeCrossDomain = "cross-domain"
)

const deciderSystemPrompt = "You are a research assistant. Select the best papers to read next."

// Decider asks an LLM to pick the final recommendations of a group.
type Decider struct {
	llm     llm.JSONGenerator
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewDecider creates a Decider. metrics may be nil.
func NewDecider(gen llm.JSONGenerator, metrics *observability.Metrics, logger zerolog.Logger) *Decider {
	return &Decider{
		llm:     gen,
		metrics: metrics,
		logger:  logger.With().Str("component", "decider").Logger(),
	}
}

// candidateView is the compact JSON row shown to the LLM.
type candidateView struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Year     *int    `json:"year"`
	Venue    *string `json:"venue"`
	DOI      *string `json:"doi"`
	URL      *string `json:"url"`
	Score    float64 `json:"score"`
	Abstract *string `json:"abstract"`
}

// Decide returns min(k, len(candidates)) picks. Candidates must be sorted by
// descending score. Any contract violation by the LLM (malformed output, a
// missing picks array, an unknown or repeated id, or a wrong count) yields the
// top candidates by score instead.
func (d *Decider) Decide(ctx context.Context, label string, candidates []domain.ScoredCandidate, k int, mode string) Result[[]domain.ScoredCandidate] {
	n := k
	if n > len(candidates) {
		n = len(candidates)
	}
	if n <= 0 {
		return okResult([]domain.ScoredCandidate{})
	}

	fallback := func(reason string) Result[[]domain.ScoredCandidate] {
		d.logger.Warn().
			Str("group", label).
			Str("mode", mode).
			Str("reason", reason).
			Msg("decider fell back to score order")
		if d.metrics != nil {
			d.metrics.RecordFallback("decider", "llm")
		}
		out := make([]domain.ScoredCandidate, n)
		copy(out, candidates[:n])
		return fallbackResult(out, reason)
	}

	user, err := deciderPrompt(label, candidates, n, mode)
	if err != nil {
		return fallback(err.Error())
	}

	out, err := d.llm.GenerateJSON(ctx, deciderSystemPrompt, user, picksSchema(n))
	if err != nil {
		return fallback(err.Error())
	}

	picks, err := parsePicks(out, candidates, n)
	if err != nil {
		return fallback(err.Error())
	}
	return okResult(picks)
}

func deciderPrompt(label string, candidates []domain.ScoredCandidate, n int, mode string) (string, error) {
	view := candidates
	if len(view) > deciderViewLimit {
		view = view[:deciderViewLimit]
	}

	rows := make([]candidateView, 0, len(view))
	for _, c := range view {
		rows = append(rows, candidateView{
			ID:       c.Key,
			Title:    c.Title,
			Year:     c.Year,
			Venue:    optional(c.Venue),
			DOI:      optional(c.DOI),
			URL:      optional(c.URL),
			Score:    c.Score,
			Abstract: optional(clip(c.Abstract, deciderAbstractLimit, "…")),
		})
	}
	rowsJSON, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("failed to encode candidates: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Group: %s\n", label)
	fmt.Fprintf(&sb, "Mode: %s\n\n", mode)
	fmt.Fprintf(&sb, "Pick exactly %d papers from the candidate list.\n", n)
	sb.WriteString("Rules:\n")
	sb.WriteString("- Prefer novelty + usefulness.\n")
	sb.WriteString("- Avoid near-duplicates.\n")
	sb.WriteString("- Keep summaries short (1 sentence).\n")
	sb.WriteString("- Provide a 1-sentence one_liner explaining why this is recommended for the group.\n")
	sb.WriteString("- Reasons should be 2-3 short bullet strings.\n\n")
	fmt.Fprintf(&sb, "Candidates (JSON):\n%s\n", rowsJSON)
	return sb.String(), nil
}

func picksSchema(n int) llm.JSONSchema {
	return llm.JSONSchema{
		Name: "recommendation_picks",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"picks": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"id":        map[string]interface{}{"type": "string"},
							"summary":   map[string]interface{}{"type": "string"},
							"one_liner": map[string]interface{}{"type": "string"},
							"reasons": map[string]interface{}{
								"type":     "array",
								"items":    map[string]interface{}{"type": "string"},
								"minItems": 1,
							},
						},
						"required":             []string{"id", "summary", "one_liner", "reasons"},
						"additionalProperties": false,
					},
					"minItems": n,
					"maxItems": n,
				},
			},
			"required":             []string{"picks"},
			"additionalProperties": false,
		},
		Strict: true,
	}
}

// parsePicks validates the LLM output against the candidate list and returns
// exactly n annotated candidates in pick order.
func parsePicks(out map[string]interface{}, candidates []domain.ScoredCandidate, n int) ([]domain.ScoredCandidate, error) {
	raw, ok := out["picks"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("LLM did not return picks[]")
	}

	byID := make(map[string]domain.ScoredCandidate, len(candidates))
	for _, c := range candidates {
		byID[c.Key] = c
	}

	seen := make(map[string]struct{}, len(raw))
	selected := make([]domain.ScoredCandidate, 0, n)
	for _, item := range raw {
		pick, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("pick is not an object")
		}
		id := strings.TrimSpace(stringField(pick, "id"))
		c, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown candidate id %q", id)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate candidate id %q", id)
		}
		seen[id] = struct{}{}

		c.Summary = strings.TrimSpace(stringField(pick, "summary"))
		c.OneLiner = strings.TrimSpace(stringField(pick, "one_liner"))
		c.Reasons = nil
		if reasons, ok := pick["reasons"].([]interface{}); ok {
			for _, r := range reasons {
				if s, ok := r.(string); ok && strings.TrimSpace(s) != "" {
					c.Reasons = append(c.Reasons, strings.TrimSpace(s))
				}
			}
		}
		selected = append(selected, c)
	}

	if len(selected) != n {
		return nil, fmt.Errorf("LLM returned %d picks, want %d", len(selected), n)
	}
	return selected, nil
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
