// Package storage provides persistence backends for flow definitions
// and tenant secrets.
package storage

import (
	"errors"
	"time"
)

// Errors shared by all providers.
var (
	ErrFlowNotFound   = errors.New("flow not found in store")
	ErrSecretNotFound = errors.New("secret not found in store")
)

// FlowRecord is a stored flow definition with its metadata. Definition
// holds the YAML source; compilation happens in the registry.
type FlowRecord struct {
	TenantID    string    `json:"tenant_id"`
	FlowID      string    `json:"flow_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	Definition  []byte    `json:"definition"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Secret is an encrypted tenant secret at rest. Value is ciphertext;
// encryption and decryption live in the secrets package.
type Secret struct {
	TenantID  string    `json:"tenant_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FlowStore manages flow definition persistence. Every operation is
// tenant scoped.
type FlowStore interface {
	// SaveFlow persists a flow definition
	SaveFlow(record FlowRecord) error

	// GetFlow retrieves a flow definition
	GetFlow(tenantID, flowID string) (FlowRecord, error)

	// ListFlows returns all flows for a tenant
	ListFlows(tenantID string) ([]FlowRecord, error)

	// DeleteFlow removes a flow definition
	DeleteFlow(tenantID, flowID string) error
}

// SecretStore manages secret persistence.
type SecretStore interface {
	// SaveSecret persists a secret
	SaveSecret(secret Secret) error

	// GetSecret retrieves a secret
	GetSecret(tenantID, key string) (Secret, error)

	// ListSecrets returns all secrets for a tenant
	ListSecrets(tenantID string) ([]Secret, error)

	// DeleteSecret removes a secret
	DeleteSecret(tenantID, key string) error
}

// Provider is a persistence backend.
type Provider interface {
	// Initialize sets up the storage backend
	Initialize() error

	// Close cleans up resources
	Close() error

	// GetFlowStore returns the flow definition store
	GetFlowStore() FlowStore

	// GetSecretStore returns the secret store
	GetSecretStore() SecretStore
}
