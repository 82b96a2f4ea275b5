// Package qdrant mirrors library paper embeddings into Qdrant and answers
// "papers similar to this one" lookups against the mirror.
//
// PostgreSQL stays the source of truth for vectors. The mirror is optional and
// best effort: a failed upsert is logged by the caller and never fails a sync.
package qdrant

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
)

// Payload keys stored on every point.
const (
	payloadFolderID = "folder_id"
	payloadTitle    = "title"
	payloadModel    = "model"
)

// Config holds the configuration for connecting to a Qdrant instance.
type Config struct {
	// Address is the host:port of the Qdrant gRPC endpoint (e.g. "localhost:6334").
	Address string
	// CollectionName is the Qdrant collection to use (e.g. "library_papers").
	CollectionName string
	// VectorSize is the dimensionality of the embedding vectors.
	VectorSize uint64
}

// Validate checks that all required Config fields are set.
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("qdrant config: address is required")
	}
	if c.CollectionName == "" {
		return fmt.Errorf("qdrant config: collection name is required")
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("qdrant config: vector size must be > 0")
	}
	return nil
}

// PaperPoint is one library paper vector with its payload.
type PaperPoint struct {
	PaperID  uuid.UUID
	Vector   []float32
	FolderID string
	Title    string
	Model    string
}

// SearchResult represents a single result from a vector similarity search.
type SearchResult struct {
	// PaperID is the unique identifier of the matched paper.
	PaperID uuid.UUID
	// Score is the cosine similarity score (higher is more similar).
	Score float32
	// FolderID is the folder stored with the point, or "".
	FolderID string
}

// VectorStore defines the vector storage and retrieval operations.
type VectorStore interface {
	// EnsureCollection creates the collection if it does not already exist.
	EnsureCollection(ctx context.Context) error
	// Upsert inserts or replaces points, keyed by paper id.
	Upsert(ctx context.Context, points []PaperPoint) error
	// Search finds the topK most similar vectors, skipping the point excluded.
	// A zero excluded id skips nothing.
	Search(ctx context.Context, vector []float32, topK uint64, excluded uuid.UUID) ([]SearchResult, error)
	// Close releases the underlying gRPC connection.
	Close() error
}

// Compile-time check that Client implements VectorStore.
var _ VectorStore = (*Client)(nil)

// Client is a Qdrant vector store client that implements VectorStore via gRPC.
type Client struct {
	client         *pb.Client
	collectionName string
	vectorSize     uint64
}

// NewClient creates a new Qdrant client for the configured gRPC address.
// The connection uses insecure credentials, suitable for internal network deployments.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	host, port, err := parseAddress(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("qdrant: invalid address %q: %w", cfg.Address, err)
	}

	qdrantClient, err := pb.NewClient(&pb.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &Client{
		client:         qdrantClient,
		collectionName: cfg.CollectionName,
		vectorSize:     cfg.VectorSize,
	}, nil
}

// VectorSize returns the configured vector dimension.
func (c *Client) VectorSize() uint64 {
	return c.vectorSize
}

// EnsureCollection checks whether the configured collection exists and creates it
// with cosine distance if it does not.
func (c *Client) EnsureCollection(ctx context.Context) error {
	exists, err := c.client.CollectionExists(ctx, c.collectionName)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = c.client.CreateCollection(ctx, &pb.CreateCollection{
		CollectionName: c.collectionName,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     c.vectorSize,
			Distance: pb.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", c.collectionName, err)
	}
	return nil
}

// Upsert writes points in one request and waits for them to be applied.
// The paper UUID is the point id, so repeated upserts are idempotent.
func (c *Client) Upsert(ctx context.Context, points []PaperPoint) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*pb.PointStruct, 0, len(points))
	for _, p := range points {
		structs = append(structs, &pb.PointStruct{
			Id:      pb.NewIDUUID(p.PaperID.String()),
			Vectors: pb.NewVectors(p.Vector...),
			Payload: pb.NewValueMap(map[string]any{
				payloadFolderID: p.FolderID,
				payloadTitle:    p.Title,
				payloadModel:    p.Model,
			}),
		})
	}

	wait := true
	_, err := c.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: c.collectionName,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to upsert %d point(s): %w", len(points), err)
	}
	return nil
}

// Search performs a nearest-neighbor query returning up to topK results
// ordered by cosine similarity (descending).
func (c *Client) Search(ctx context.Context, vector []float32, topK uint64, excluded uuid.UUID) ([]SearchResult, error) {
	query := &pb.QueryPoints{
		CollectionName: c.collectionName,
		Query:          pb.NewQueryDense(vector),
		Limit:          &topK,
		WithPayload:    pb.NewWithPayload(true),
	}
	if excluded != uuid.Nil {
		query.Filter = &pb.Filter{
			MustNot: []*pb.Condition{pb.NewHasID(pb.NewIDUUID(excluded.String()))},
		}
	}

	scored, err := c.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(scored))
	for _, sp := range scored {
		if sp.Id == nil {
			continue
		}
		uuidStr := sp.Id.GetUuid()
		if uuidStr == "" {
			continue
		}
		paperID, err := uuid.Parse(uuidStr)
		if err != nil {
			return nil, fmt.Errorf("qdrant: invalid UUID in search result %q: %w", uuidStr, err)
		}
		r := SearchResult{PaperID: paperID, Score: sp.Score}
		if v, ok := sp.Payload[payloadFolderID]; ok {
			r.FolderID = v.GetStringValue()
		}
		results = append(results, r)
	}
	return results, nil
}

// Close releases the gRPC connection to Qdrant.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// parseAddress splits "host:port" and validates the port.
func parseAddress(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	if portStr == "" {
		return "", 0, fmt.Errorf("empty port")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	if port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("port %d out of range", port)
	}
	return host, port, nil
}
