// Package semanticscholar provides a client for the Semantic Scholar Graph API.
//
// The recommender uses three endpoints: keyword search, the references of a
// paper and the citations of a paper. Papers are addressed by DOI.
//
// API Documentation: https://api.semanticscholar.org/api-docs/graph
package semanticscholar

// SearchResponse represents the response from the paper search endpoint.
type SearchResponse struct {
	// Total is the total number of papers matching the query.
	Total int `json:"total"`

	// Offset is the current offset in the result set.
	Offset int `json:"offset"`

	// Next is the offset for the next page of results.
	// A value of 0 indicates no more results.
	Next int `json:"next"`

	// Data contains the list of papers returned by the search.
	Data []PaperResult `json:"data"`
}

// ReferencesResponse represents a page of the references endpoint.
type ReferencesResponse struct {
	Offset int             `json:"offset"`
	Next   int             `json:"next"`
	Data   []ReferenceEdge `json:"data"`
}

// ReferenceEdge wraps a paper cited by the requested paper.
type ReferenceEdge struct {
	CitedPaper *PaperResult `json:"citedPaper"`
}

// CitationsResponse represents a page of the citations endpoint.
type CitationsResponse struct {
	Offset int            `json:"offset"`
	Next   int            `json:"next"`
	Data   []CitationEdge `json:"data"`
}

// CitationEdge wraps a paper citing the requested paper.
type CitationEdge struct {
	CitingPaper *PaperResult `json:"citingPaper"`
}

// PaperResult represents a single paper in a Semantic Scholar API response.
// Every field may be null in the API, so none is required.
type PaperResult struct {
	// PaperID is the Semantic Scholar unique identifier for the paper.
	PaperID string `json:"paperId"`

	// Title is the title of the paper.
	Title string `json:"title"`

	// Abstract is the paper's abstract text.
	Abstract string `json:"abstract"`

	// Year is the publication year.
	Year *int `json:"year"`

	// Venue is the publication venue (conference, journal name, etc.).
	Venue string `json:"venue"`

	// URL is the Semantic Scholar page of the paper.
	URL string `json:"url"`

	// Authors is the list of paper authors.
	Authors []Author `json:"authors"`

	// ExternalIDs contains external identifiers for the paper (DOI, ArXiv, etc.).
	ExternalIDs *ExternalIDs `json:"externalIds,omitempty"`
}

// ExternalIDs contains external identifiers for a paper.
type ExternalIDs struct {
	// DOI is the Digital Object Identifier.
	DOI string `json:"DOI,omitempty"`

	// ArXiv is the ArXiv identifier.
	ArXiv string `json:"ArXiv,omitempty"`
}

// Author represents a paper author in the Semantic Scholar API.
type Author struct {
	// AuthorID is the Semantic Scholar unique identifier for the author.
	AuthorID string `json:"authorId,omitempty"`

	// Name is the author's name.
	Name string `json:"name"`
}

// ErrorResponse represents an error response from the Semantic Scholar API.
type ErrorResponse struct {
	// Error is the error message from the API.
	Error string `json:"error,omitempty"`

	// Message is an alternative error message field.
	Message string `json:"message,omitempty"`
}
