// Package knowledge defines the contract to the external vector store
// and the tenant-scoping rules around it. Index storage, replication
// and embedding are the store's problem; this package only speaks its
// API and enforces that every call names a tenant.
package knowledge

import (
	"context"
	"errors"
	"time"
)

// ErrTenantRequired is returned when a call omits the tenant id.
// Cross-tenant leakage is a correctness invariant, not a tunable, so
// the check lives at the contract boundary.
var ErrTenantRequired = errors.New("tenant id is required")

// ErrDocumentNotFound is returned for unknown document ids.
var ErrDocumentNotFound = errors.New("document not found")

// Document is an already-extracted passage supplied by the ingestion
// pipeline. This core never parses raw files.
type Document struct {
	Content  string            `json:"content"`
	Title    string            `json:"title,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result is one ranked passage. Score is a similarity in [0,1] and is
// rank-only: scores from different stores are not comparable.
type Result struct {
	Content    string    `json:"content"`
	Title      string    `json:"title,omitempty"`
	DocumentID string    `json:"document_id"`
	TenantID   string    `json:"tenant_id"`
	Timestamp  time.Time `json:"timestamp"`
	Score      float64   `json:"score"`
}

// Stats summarizes an index for one tenant.
type Stats struct {
	DocumentCount int       `json:"document_count"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Retriever is the consumed vector-store contract. Every call requires
// an explicit tenant id.
type Retriever interface {
	// Search returns up to k passages ranked by similarity
	Search(ctx context.Context, index, query, tenantID string, k int) ([]Result, error)

	// Add stores a document and returns its id
	Add(ctx context.Context, index, tenantID string, doc Document) (string, error)

	// Update replaces a stored document
	Update(ctx context.Context, index, tenantID, docID string, doc Document) error

	// Delete removes a stored document
	Delete(ctx context.Context, index, tenantID, docID string) error

	// Stats reports index statistics for a tenant
	Stats(ctx context.Context, index, tenantID string) (Stats, error)
}
