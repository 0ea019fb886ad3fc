package storage

import (
	"fmt"

	"github.com/convoflow/convoflow/pkg/config"
)

// NewProvider creates a storage provider from configuration. The
// returned provider has not been initialized.
func NewProvider(cfg config.StorageConfig) (Provider, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryProvider(), nil
	case "postgres":
		return NewPostgresProvider(cfg.Postgres), nil
	case "dynamodb":
		return NewDynamoDBProvider(cfg.DynamoDB), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
