package knowledge

import (
	"context"

	"github.com/convoflow/convoflow/pkg/logging"
)

// Service is a thin pass-through over a Retriever that enforces the
// tenant-scoping invariant on every operation before it reaches the
// store.
type Service struct {
	retriever Retriever
	logger    logging.Logger
}

// NewService creates a tenant-checked knowledge service.
func NewService(retriever Retriever, logger logging.Logger) *Service {
	return &Service{retriever: retriever, logger: logger}
}

func (s *Service) Search(ctx context.Context, index, query, tenantID string, k int) ([]Result, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	return s.retriever.Search(ctx, index, query, tenantID, k)
}

func (s *Service) Add(ctx context.Context, index, tenantID string, doc Document) (string, error) {
	if tenantID == "" {
		return "", ErrTenantRequired
	}
	id, err := s.retriever.Add(ctx, index, tenantID, doc)
	if err == nil {
		s.logger.Info("document added",
			logging.F("index", index),
			logging.F("tenant_id", tenantID),
			logging.F("document_id", id),
		)
	}
	return id, err
}

func (s *Service) Update(ctx context.Context, index, tenantID, docID string, doc Document) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	return s.retriever.Update(ctx, index, tenantID, docID, doc)
}

func (s *Service) Delete(ctx context.Context, index, tenantID, docID string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	return s.retriever.Delete(ctx, index, tenantID, docID)
}

func (s *Service) Stats(ctx context.Context, index, tenantID string) (Stats, error) {
	if tenantID == "" {
		return Stats{}, ErrTenantRequired
	}
	return s.retriever.Stats(ctx, index, tenantID)
}
