// Package registry manages the lifecycle of flow definitions. It
// validates and compiles definitions when they are saved, persists the
// source through a storage backend, and hands out immutable compiled
// snapshots to the engine.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convoflow/convoflow/pkg/flow"
	"github.com/convoflow/convoflow/pkg/logging"
	"github.com/convoflow/convoflow/pkg/storage"
)

// ErrFlowNotFound is returned when a flow does not exist.
var ErrFlowNotFound = storage.ErrFlowNotFound

// Registry compiles and caches flow definitions. Compiled flows are
// treated as immutable: an update builds a fresh flow and swaps the
// cache entry, so turns already holding the old snapshot finish
// against the graph they started with.
type Registry struct {
	store  storage.FlowStore
	logger logging.Logger

	mu    sync.RWMutex
	cache map[string]*flow.Flow // tenant/flow -> compiled snapshot
}

// New creates a registry backed by the given flow store.
func New(store storage.FlowStore, logger logging.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
		cache:  make(map[string]*flow.Flow),
	}
}

func cacheKey(tenantID, flowID string) string {
	return tenantID + "/" + flowID
}

// Create validates, compiles and stores a new flow definition from
// YAML source. If flowID is empty a new id is generated. Returns the
// compiled flow.
func (r *Registry) Create(tenantID, flowID string, source []byte) (*flow.Flow, error) {
	if flowID == "" {
		flowID = uuid.New().String()
	}
	return r.save(tenantID, flowID, source, time.Time{})
}

// Update replaces an existing flow definition. The new version only
// becomes visible once it compiles; a definition that fails validation
// leaves the stored flow untouched.
func (r *Registry) Update(tenantID, flowID string, source []byte) (*flow.Flow, error) {
	existing, err := r.store.GetFlow(tenantID, flowID)
	if err != nil {
		return nil, err
	}
	return r.save(tenantID, flowID, source, existing.CreatedAt)
}

func (r *Registry) save(tenantID, flowID string, source []byte, createdAt time.Time) (*flow.Flow, error) {
	compiled, err := flow.Load(flowID, source)
	if err != nil {
		return nil, err
	}
	compiled.TenantID = tenantID

	now := time.Now().UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	record := storage.FlowRecord{
		TenantID:    tenantID,
		FlowID:      flowID,
		Name:        compiled.Name,
		Description: compiled.Description,
		Active:      compiled.Active,
		Definition:  source,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
	}
	if err := r.store.SaveFlow(record); err != nil {
		return nil, fmt.Errorf("failed to persist flow: %w", err)
	}

	r.mu.Lock()
	r.cache[cacheKey(tenantID, flowID)] = compiled
	r.mu.Unlock()

	r.logger.Info("flow saved",
		logging.F("tenant_id", tenantID),
		logging.F("flow_id", flowID),
		logging.F("name", compiled.Name),
		logging.F("nodes", len(compiled.Nodes)))
	return compiled, nil
}

// Get returns the compiled snapshot of a flow, loading and compiling
// from storage on a cache miss.
func (r *Registry) Get(tenantID, flowID string) (*flow.Flow, error) {
	r.mu.RLock()
	compiled, ok := r.cache[cacheKey(tenantID, flowID)]
	r.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	record, err := r.store.GetFlow(tenantID, flowID)
	if err != nil {
		return nil, err
	}
	compiled, err = flow.Load(record.FlowID, record.Definition)
	if err != nil {
		return nil, fmt.Errorf("stored flow %s failed to compile: %w", flowID, err)
	}
	compiled.TenantID = tenantID

	r.mu.Lock()
	r.cache[cacheKey(tenantID, flowID)] = compiled
	r.mu.Unlock()
	return compiled, nil
}

// Flow implements the engine's flow source contract.
func (r *Registry) Flow(ctx context.Context, tenantID, flowID string) (*flow.Flow, error) {
	return r.Get(tenantID, flowID)
}

// List returns the stored records for a tenant. Definitions are
// included so callers can render or re-edit them.
func (r *Registry) List(tenantID string) ([]storage.FlowRecord, error) {
	return r.store.ListFlows(tenantID)
}

// Source returns the stored record for a single flow.
func (r *Registry) Source(tenantID, flowID string) (storage.FlowRecord, error) {
	return r.store.GetFlow(tenantID, flowID)
}

// Delete removes a flow from storage and drops the cached snapshot.
func (r *Registry) Delete(tenantID, flowID string) error {
	if err := r.store.DeleteFlow(tenantID, flowID); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.cache, cacheKey(tenantID, flowID))
	r.mu.Unlock()
	return nil
}
