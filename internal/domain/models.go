// Package domain provides domain models and business logic for the paper recommender.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Folder is a user-defined grouping of library papers.
type Folder struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Author represents a paper author.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
}

// String returns a human-readable representation of the author.
func (a Author) String() string {
	if a.Affiliation != "" {
		return fmt.Sprintf("%s (%s)", a.Name, a.Affiliation)
	}
	return a.Name
}

// LibraryPaper is a read-only snapshot of a paper the user already has.
// The recommendation pipeline never mutates it.
type LibraryPaper struct {
	ID       uuid.UUID  `json:"id"`
	FolderID *uuid.UUID `json:"folder_id,omitempty"`
	Title    string     `json:"title"`
	DOI      string     `json:"doi,omitempty"`
	Abstract string     `json:"abstract,omitempty"`

	// Metadata, when the library has it.
	Authors []Author `json:"authors,omitempty"`
	Year    *int     `json:"year,omitempty"`
	Venue   string   `json:"venue,omitempty"`
	URL     string   `json:"url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// FolderKey returns the folder id as a string, or "" when the paper is unfiled.
func (p LibraryPaper) FolderKey() string {
	if p.FolderID == nil {
		return ""
	}
	return p.FolderID.String()
}

// EmbeddingText renders the text used to embed a library paper.
func (p LibraryPaper) EmbeddingText() string {
	text := embeddingText(p.Title, p.DOI, p.Authors, p.Year, p.Venue, p.URL, p.Abstract)
	if text == "" {
		return "Paper " + p.ID.String()
	}
	return text
}

// embeddingText joins the non-empty labeled parts in a fixed order.
// At most 12 authors are listed.
func embeddingText(title, doi string, authors []Author, year *int, venue, url, abstract string) string {
	var parts []string
	if title = strings.TrimSpace(title); title != "" {
		parts = append(parts, "Title: "+title)
	}
	if doi = strings.TrimSpace(doi); doi != "" {
		parts = append(parts, "DOI: "+doi)
	}

	names := make([]string, 0, len(authors))
	for _, a := range authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			names = append(names, name)
		}
	}
	if len(names) > 12 {
		names = names[:12]
	}
	if len(names) > 0 {
		parts = append(parts, "Authors: "+strings.Join(names, ", "))
	}
	if year != nil && *year != 0 {
		parts = append(parts, fmt.Sprintf("Year: %d", *year))
	}
	if venue = strings.TrimSpace(venue); venue != "" {
		parts = append(parts, "Venue: "+venue)
	}
	if url = strings.TrimSpace(url); url != "" {
		parts = append(parts, "URL: "+url)
	}
	if abstract = strings.TrimSpace(abstract); abstract != "" {
		parts = append(parts, "Abstract: "+abstract)
	}
	return strings.Join(parts, "\n")
}

// Library is the snapshot handed to a single recommendation run.
type Library struct {
	Folders []Folder
	Papers  []LibraryPaper
}

// PaperEmbedding is the cached vector of a library paper. Rows are re-embedded
// when Provider or Model differ from the active embedder.
type PaperEmbedding struct {
	PaperID   uuid.UUID `json:"paper_id"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Dim       int       `json:"dim"`
	Vector    []float32 `json:"vector"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Matches reports whether the embedding was produced by the given provider and model.
func (e PaperEmbedding) Matches(provider, model string) bool {
	return e.Provider == provider && e.Model == model
}
