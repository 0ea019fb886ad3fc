package knowledge

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRetriever is an in-process retriever for tests and local
// development. Scoring is naive token overlap, which preserves the
// contract's rank-only semantics without an embedding model.
type MemoryRetriever struct {
	mu sync.RWMutex
	// index -> tenant -> docID -> document
	indexes map[string]map[string]map[string]storedDoc
}

type storedDoc struct {
	doc       Document
	timestamp time.Time
}

// NewMemoryRetriever creates an empty in-memory retriever.
func NewMemoryRetriever() *MemoryRetriever {
	return &MemoryRetriever{indexes: make(map[string]map[string]map[string]storedDoc)}
}

func (r *MemoryRetriever) Search(_ context.Context, index, query, tenantID string, k int) ([]Result, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	docs := r.indexes[index][tenantID]
	queryTokens := tokenize(query)

	results := make([]Result, 0, len(docs))
	for docID, stored := range docs {
		score := overlapScore(queryTokens, tokenize(stored.doc.Content))
		if score == 0 {
			continue
		}
		results = append(results, Result{
			Content:    stored.doc.Content,
			Title:      stored.doc.Title,
			DocumentID: docID,
			TenantID:   tenantID,
			Timestamp:  stored.timestamp,
			Score:      score,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (r *MemoryRetriever) Add(_ context.Context, index, tenantID string, doc Document) (string, error) {
	if tenantID == "" {
		return "", ErrTenantRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexes[index] == nil {
		r.indexes[index] = make(map[string]map[string]storedDoc)
	}
	if r.indexes[index][tenantID] == nil {
		r.indexes[index][tenantID] = make(map[string]storedDoc)
	}

	docID := uuid.NewString()
	r.indexes[index][tenantID][docID] = storedDoc{doc: doc, timestamp: time.Now().UTC()}
	return docID, nil
}

func (r *MemoryRetriever) Update(_ context.Context, index, tenantID, docID string, doc Document) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := r.indexes[index][tenantID]
	if _, ok := docs[docID]; !ok {
		return ErrDocumentNotFound
	}
	docs[docID] = storedDoc{doc: doc, timestamp: time.Now().UTC()}
	return nil
}

func (r *MemoryRetriever) Delete(_ context.Context, index, tenantID, docID string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := r.indexes[index][tenantID]
	if _, ok := docs[docID]; !ok {
		return ErrDocumentNotFound
	}
	delete(docs, docID)
	return nil
}

func (r *MemoryRetriever) Stats(_ context.Context, index, tenantID string) (Stats, error) {
	if tenantID == "" {
		return Stats{}, ErrTenantRequired
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{}
	for _, stored := range r.indexes[index][tenantID] {
		stats.DocumentCount++
		if stored.timestamp.After(stats.LastUpdated) {
			stats.LastUpdated = stored.timestamp
		}
	}
	return stats, nil
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tokens[strings.Trim(tok, ".,!?:;\"'()")] = true
	}
	delete(tokens, "")
	return tokens
}

func overlapScore(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	matches := 0
	for tok := range query {
		if doc[tok] {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}
