package storage

import (
	"database/sql"
	"fmt"

	// Postgres driver
	_ "github.com/lib/pq"

	"github.com/convoflow/convoflow/pkg/config"
)

// PostgresProvider persists flows and secrets in PostgreSQL.
type PostgresProvider struct {
	db      *sql.DB
	cfg     config.PostgresConfig
	flows   *postgresFlowStore
	secrets *postgresSecretStore
}

// NewPostgresProvider creates a PostgreSQL storage provider.
func NewPostgresProvider(cfg config.PostgresConfig) *PostgresProvider {
	return &PostgresProvider{cfg: cfg}
}

// Initialize opens the connection and creates the schema if needed.
func (p *PostgresProvider) Initialize() error {
	sslMode := p.cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		p.cfg.Host, p.cfg.Port, p.cfg.Database, p.cfg.User, p.cfg.Password, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS flows (
			tenant_id   TEXT NOT NULL,
			flow_id     TEXT NOT NULL,
			name        TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			active      BOOLEAN NOT NULL DEFAULT TRUE,
			definition  BYTEA NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, flow_id)
		)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			tenant_id  TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, key)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	p.db = db
	p.flows = &postgresFlowStore{db: db}
	p.secrets = &postgresSecretStore{db: db}
	return nil
}

func (p *PostgresProvider) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *PostgresProvider) GetFlowStore() FlowStore { return p.flows }

func (p *PostgresProvider) GetSecretStore() SecretStore { return p.secrets }

type postgresFlowStore struct {
	db *sql.DB
}

func (s *postgresFlowStore) SaveFlow(record FlowRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO flows (tenant_id, flow_id, name, description, active, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, flow_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			active = EXCLUDED.active,
			definition = EXCLUDED.definition,
			updated_at = EXCLUDED.updated_at`,
		record.TenantID, record.FlowID, record.Name, record.Description,
		record.Active, record.Definition, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}
	return nil
}

func (s *postgresFlowStore) GetFlow(tenantID, flowID string) (FlowRecord, error) {
	record := FlowRecord{}
	err := s.db.QueryRow(`
		SELECT tenant_id, flow_id, name, description, active, definition, created_at, updated_at
		FROM flows WHERE tenant_id = $1 AND flow_id = $2`,
		tenantID, flowID).Scan(
		&record.TenantID, &record.FlowID, &record.Name, &record.Description,
		&record.Active, &record.Definition, &record.CreatedAt, &record.UpdatedAt)
	if err == sql.ErrNoRows {
		return FlowRecord{}, ErrFlowNotFound
	}
	if err != nil {
		return FlowRecord{}, fmt.Errorf("failed to get flow: %w", err)
	}
	return record, nil
}

func (s *postgresFlowStore) ListFlows(tenantID string) ([]FlowRecord, error) {
	rows, err := s.db.Query(`
		SELECT tenant_id, flow_id, name, description, active, definition, created_at, updated_at
		FROM flows WHERE tenant_id = $1 ORDER BY flow_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	defer rows.Close()

	var records []FlowRecord
	for rows.Next() {
		record := FlowRecord{}
		if err := rows.Scan(
			&record.TenantID, &record.FlowID, &record.Name, &record.Description,
			&record.Active, &record.Definition, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *postgresFlowStore) DeleteFlow(tenantID, flowID string) error {
	result, err := s.db.Exec(`DELETE FROM flows WHERE tenant_id = $1 AND flow_id = $2`, tenantID, flowID)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrFlowNotFound
	}
	return nil
}

type postgresSecretStore struct {
	db *sql.DB
}

func (s *postgresSecretStore) SaveSecret(secret Secret) error {
	_, err := s.db.Exec(`
		INSERT INTO secrets (tenant_id, key, value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`,
		secret.TenantID, secret.Key, secret.Value, secret.CreatedAt, secret.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save secret: %w", err)
	}
	return nil
}

func (s *postgresSecretStore) GetSecret(tenantID, key string) (Secret, error) {
	secret := Secret{}
	err := s.db.QueryRow(`
		SELECT tenant_id, key, value, created_at, updated_at
		FROM secrets WHERE tenant_id = $1 AND key = $2`,
		tenantID, key).Scan(
		&secret.TenantID, &secret.Key, &secret.Value, &secret.CreatedAt, &secret.UpdatedAt)
	if err == sql.ErrNoRows {
		return Secret{}, ErrSecretNotFound
	}
	if err != nil {
		return Secret{}, fmt.Errorf("failed to get secret: %w", err)
	}
	return secret, nil
}

func (s *postgresSecretStore) ListSecrets(tenantID string) ([]Secret, error) {
	rows, err := s.db.Query(`
		SELECT tenant_id, key, value, created_at, updated_at
		FROM secrets WHERE tenant_id = $1 ORDER BY key`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	defer rows.Close()

	var secrets []Secret
	for rows.Next() {
		secret := Secret{}
		if err := rows.Scan(
			&secret.TenantID, &secret.Key, &secret.Value, &secret.CreatedAt, &secret.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan secret: %w", err)
		}
		secrets = append(secrets, secret)
	}
	return secrets, rows.Err()
}

func (s *postgresSecretStore) DeleteSecret(tenantID, key string) error {
	result, err := s.db.Exec(`DELETE FROM secrets WHERE tenant_id = $1 AND key = $2`, tenantID, key)
	if err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrSecretNotFound
	}
	return nil
}
