package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateStruct checks v's validate tags and reports the first violation as
// a *ValidationError keyed by the JSON field name.
func ValidateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return NewValidationError(fe.Field(), strings.TrimSpace("must satisfy "+fe.Tag()+" "+fe.Param()))
	}
	return NewValidationError("", err.Error())
}

// ItemKind distinguishes per-folder recommendations from cross-domain ones.
// These values must match the database check constraint on recommendation_items.kind.
type ItemKind string

const (
	ItemKindFolder      ItemKind = "folder"
	ItemKindCrossDomain ItemKind = "cross_domain"
)

// SourceLocalRecommender is the run source written by the in-process pipeline.
const SourceLocalRecommender = "local_recommender"

// RecommenderConfig holds the immutable parameters of one pipeline run.
// It is stored inside the run meta for auditability.
type RecommenderConfig struct {
	PerFolder   int `json:"per_folder" validate:"gte=1,lte=50"`
	CrossDomain int `json:"cross_domain" validate:"gte=0,lte=50"`

	SeedsPerFolder   int `json:"seeds_per_folder" validate:"gte=1,lte=50"`
	QueriesPerFolder int `json:"queries_per_folder" validate:"gte=1,lte=20"`
	SearchLimit      int `json:"search_limit" validate:"gte=1,lte=100"`
	RefLimit         int `json:"ref_limit" validate:"gte=0,lte=1000"`
	CitationLimit    int `json:"citation_limit" validate:"gte=0,lte=1000"`

	TopCandidatesPerFolder   int           `json:"top_candidates_per_folder" validate:"gte=1"`
	TopCandidatesCrossDomain int           `json:"top_candidates_cross_domain" validate:"gte=1"`
	CrossDomainTopN          int           `json:"cross_domain_top_n" validate:"gte=1"`
	PoliteSleep              time.Duration `json:"polite_sleep" validate:"gte=0"`

	// RandomSeed makes seed selection reproducible when set.
	RandomSeed *int64 `json:"random_seed,omitempty"`
}

// DefaultRecommenderConfig returns a RecommenderConfig with default values.
func DefaultRecommenderConfig() RecommenderConfig {
	return RecommenderConfig{
		PerFolder:                3,
		CrossDomain:              3,
		SeedsPerFolder:           5,
		QueriesPerFolder:         3,
		SearchLimit:              50,
		RefLimit:                 40,
		CitationLimit:            40,
		TopCandidatesPerFolder:   20,
		TopCandidatesCrossDomain: 40,
		CrossDomainTopN:          2,
		PoliteSleep:              250 * time.Millisecond,
	}
}

type recommenderConfigJSON RecommenderConfig

// MarshalJSON writes polite_sleep as a duration string such as "250ms".
func (c RecommenderConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		recommenderConfigJSON
		PoliteSleep string `json:"polite_sleep"`
	}{recommenderConfigJSON(c), c.PoliteSleep.String()})
}

// UnmarshalJSON accepts polite_sleep as a duration string or as nanoseconds.
func (c *RecommenderConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		recommenderConfigJSON
		PoliteSleep json.RawMessage `json:"polite_sleep"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = RecommenderConfig(raw.recommenderConfigJSON)
	if len(raw.PoliteSleep) == 0 || string(raw.PoliteSleep) == "null" {
		return nil
	}

	var text string
	if err := json.Unmarshal(raw.PoliteSleep, &text); err == nil {
		d, err := time.ParseDuration(text)
		if err != nil {
			return fmt.Errorf("polite_sleep: %w", err)
		}
		c.PoliteSleep = d
		return nil
	}
	var nanos int64
	if err := json.Unmarshal(raw.PoliteSleep, &nanos); err != nil {
		return fmt.Errorf("polite_sleep: %w", err)
	}
	c.PoliteSleep = time.Duration(nanos)
	return nil
}

// Validate checks the configuration bounds.
func (c RecommenderConfig) Validate() error {
	return ValidateStruct(c)
}

// ConfigOverrides are the per-task adjustments accepted at enqueue time.
type ConfigOverrides struct {
	PerFolder   *int   `json:"per_folder,omitempty" validate:"omitempty,gte=1,lte=50"`
	CrossDomain *int   `json:"cross_domain,omitempty" validate:"omitempty,gte=0,lte=50"`
	RandomSeed  *int64 `json:"random_seed,omitempty"`

	// AutoTime records the scheduler slot that produced an automatic task.
	AutoTime string `json:"auto_time,omitempty"`
}

// IsEmpty reports whether no override is set.
func (o ConfigOverrides) IsEmpty() bool {
	return o.PerFolder == nil && o.CrossDomain == nil && o.RandomSeed == nil && o.AutoTime == ""
}

// Apply returns a copy of cfg with the overrides applied.
func (o ConfigOverrides) Apply(cfg RecommenderConfig) RecommenderConfig {
	if o.PerFolder != nil {
		cfg.PerFolder = *o.PerFolder
	}
	if o.CrossDomain != nil {
		cfg.CrossDomain = *o.CrossDomain
	}
	if o.RandomSeed != nil {
		seed := *o.RandomSeed
		cfg.RandomSeed = &seed
	}
	return cfg
}

// Candidate is an externally discovered paper that is not yet in the library.
type Candidate struct {
	Key             string   `json:"id"`
	PaperExternalID string   `json:"paper_id,omitempty"`
	Title           string   `json:"title"`
	DOI             string   `json:"doi,omitempty"`
	URL             string   `json:"url,omitempty"`
	Year            *int     `json:"year,omitempty"`
	Venue           string   `json:"venue,omitempty"`
	Authors         []Author `json:"authors,omitempty"`
	Abstract        string   `json:"abstract,omitempty"`
}

// CandidateKey derives the identity key of a candidate: the lowercased DOI,
// else the external search id, else the lowercased title.
// It returns "" when none of them is present.
func CandidateKey(doi, externalID, title string) string {
	if d := strings.ToLower(strings.TrimSpace(doi)); d != "" {
		return "doi:" + d
	}
	if id := strings.TrimSpace(externalID); id != "" {
		return "ss:" + id
	}
	if t := strings.ToLower(strings.TrimSpace(title)); t != "" {
		return "title:" + t
	}
	return ""
}

// EmbeddingText renders the text used to embed a candidate. It uses the same
// layout as LibraryPaper.EmbeddingText so both sides share one vector space.
func (c Candidate) EmbeddingText() string {
	text := embeddingText(c.Title, c.DOI, c.Authors, c.Year, c.Venue, c.URL, c.Abstract)
	if text == "" {
		return "Paper " + c.Key
	}
	return text
}

// ScoredCandidate is a Candidate ranked against one or more folder representatives.
type ScoredCandidate struct {
	Candidate
	Score float64 `json:"score"`

	// TopFolders lists the best-matching folder ids (cross-domain only).
	TopFolders []string `json:"top_folders,omitempty"`

	// Decider output; empty when the rank-order fallback was used.
	Summary  string   `json:"summary,omitempty"`
	OneLiner string   `json:"one_liner,omitempty"`
	Reasons  []string `json:"reasons,omitempty"`
}

// ItemIn is a recommendation item as produced by the pipeline, before persistence.
type ItemIn struct {
	Kind                   ItemKind               `json:"kind"`
	FolderID               *uuid.UUID             `json:"folder_id,omitempty"`
	Rank                   int                    `json:"rank"`
	SemanticScholarPaperID string                 `json:"semantic_scholar_paper_id,omitempty"`
	Title                  string                 `json:"title"`
	DOI                    string                 `json:"doi,omitempty"`
	URL                    string                 `json:"url,omitempty"`
	Year                   *int                   `json:"year,omitempty"`
	Venue                  string                 `json:"venue,omitempty"`
	Authors                []Author               `json:"authors,omitempty"`
	Abstract               string                 `json:"abstract,omitempty"`
	Score                  *float64               `json:"score,omitempty"`
	OneLiner               string                 `json:"one_liner,omitempty"`
	Summary                string                 `json:"summary,omitempty"`
	Rationale              map[string]interface{} `json:"rationale,omitempty"`
}

// RunCreate is the self-describing payload of one completed pipeline invocation.
type RunCreate struct {
	Source string                 `json:"source"`
	Meta   map[string]interface{} `json:"meta"`
	Items  []ItemIn               `json:"items"`
}

// RecommendationItem is a persisted, LLM-curated recommendation.
// Within (run, kind, folder) ranks form a contiguous 1..k sequence.
type RecommendationItem struct {
	ID    uuid.UUID `json:"id"`
	RunID uuid.UUID `json:"run_id"`
	ItemIn
	CreatedAt time.Time `json:"created_at"`
}

// GroupKey returns the (kind, folder) grouping used for ranks and ordering.
func (i RecommendationItem) GroupKey() string {
	if i.FolderID == nil {
		return string(i.Kind) + "|"
	}
	return string(i.Kind) + "|" + i.FolderID.String()
}

// RecommendationRun is the immutable record of a completed pipeline invocation.
type RecommendationRun struct {
	ID        uuid.UUID              `json:"id"`
	Source    string                 `json:"source"`
	Meta      map[string]interface{} `json:"meta"`
	Items     []RecommendationItem   `json:"items"`
	CreatedAt time.Time              `json:"created_at"`
}

// RecommendationExclude suppresses matching items from every persisted run at read time.
type RecommendationExclude struct {
	ID                     uuid.UUID  `json:"id"`
	DOINorm                string     `json:"doi_norm,omitempty"`
	ArxivID                string     `json:"arxiv_id,omitempty"`
	SemanticScholarPaperID string     `json:"semantic_scholar_paper_id,omitempty"`
	Title                  string     `json:"title,omitempty"`
	TitleNorm              string     `json:"title_norm"`
	Reason                 string     `json:"reason,omitempty"`
	SourceItemID           *uuid.UUID `json:"source_item_id,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
}

// ExclusionKeys are the normalized identities of one recommendation item.
type ExclusionKeys struct {
	DOINorm                string
	ArxivID                string
	SemanticScholarPaperID string
	TitleNorm              string
}

// IsEmpty reports whether no key could be derived.
func (k ExclusionKeys) IsEmpty() bool {
	return k.DOINorm == "" && k.ArxivID == "" && k.SemanticScholarPaperID == "" && k.TitleNorm == ""
}

// ExclusionKeySet gathers the keys of many items for a single lookup.
type ExclusionKeySet struct {
	DOIs     []string
	ArxivIDs []string
	S2IDs    []string
	Titles   []string
}

// IsEmpty reports whether the set holds no key at all.
func (s ExclusionKeySet) IsEmpty() bool {
	return len(s.DOIs) == 0 && len(s.ArxivIDs) == 0 && len(s.S2IDs) == 0 && len(s.Titles) == 0
}
