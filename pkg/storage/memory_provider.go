package storage

import (
	"sort"
	"sync"
)

// MemoryProvider keeps everything in process memory. Used by tests and
// single-node development setups.
type MemoryProvider struct {
	flows   *memoryFlowStore
	secrets *memorySecretStore
}

// NewMemoryProvider creates an in-memory storage provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		flows:   &memoryFlowStore{flows: make(map[string]map[string]FlowRecord)},
		secrets: &memorySecretStore{secrets: make(map[string]map[string]Secret)},
	}
}

func (p *MemoryProvider) Initialize() error { return nil }

func (p *MemoryProvider) Close() error { return nil }

func (p *MemoryProvider) GetFlowStore() FlowStore { return p.flows }

func (p *MemoryProvider) GetSecretStore() SecretStore { return p.secrets }

type memoryFlowStore struct {
	mu    sync.RWMutex
	flows map[string]map[string]FlowRecord // tenant -> flow id -> record
}

func (s *memoryFlowStore) SaveFlow(record FlowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flows[record.TenantID] == nil {
		s.flows[record.TenantID] = make(map[string]FlowRecord)
	}
	s.flows[record.TenantID][record.FlowID] = record
	return nil
}

func (s *memoryFlowStore) GetFlow(tenantID, flowID string) (FlowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.flows[tenantID][flowID]
	if !ok {
		return FlowRecord{}, ErrFlowNotFound
	}
	return record, nil
}

func (s *memoryFlowStore) ListFlows(tenantID string) ([]FlowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]FlowRecord, 0, len(s.flows[tenantID]))
	for _, record := range s.flows[tenantID] {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].FlowID < records[j].FlowID })
	return records, nil
}

func (s *memoryFlowStore) DeleteFlow(tenantID, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[tenantID][flowID]; !ok {
		return ErrFlowNotFound
	}
	delete(s.flows[tenantID], flowID)
	return nil
}

type memorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string]map[string]Secret // tenant -> key -> secret
}

func (s *memorySecretStore) SaveSecret(secret Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secrets[secret.TenantID] == nil {
		s.secrets[secret.TenantID] = make(map[string]Secret)
	}
	s.secrets[secret.TenantID][secret.Key] = secret
	return nil
}

func (s *memorySecretStore) GetSecret(tenantID, key string) (Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.secrets[tenantID][key]
	if !ok {
		return Secret{}, ErrSecretNotFound
	}
	return secret, nil
}

func (s *memorySecretStore) ListSecrets(tenantID string) ([]Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secrets := make([]Secret, 0, len(s.secrets[tenantID]))
	for _, secret := range s.secrets[tenantID] {
		secrets = append(secrets, secret)
	}
	sort.Slice(secrets, func(i, j int) bool { return secrets[i].Key < secrets[j].Key })
	return secrets, nil
}

func (s *memorySecretStore) DeleteSecret(tenantID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[tenantID][key]; !ok {
		return ErrSecretNotFound
	}
	delete(s.secrets[tenantID], key)
	return nil
}
