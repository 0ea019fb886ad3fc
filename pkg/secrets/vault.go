// Package secrets provides an encrypted vault for tenant credentials.
// Values are encrypted with AES-GCM before they reach the storage
// layer, so backends only ever see ciphertext.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/scrypt"

	"github.com/convoflow/convoflow/pkg/logging"
	"github.com/convoflow/convoflow/pkg/storage"
)

// ErrSecretNotFound is returned when a secret does not exist.
var ErrSecretNotFound = storage.ErrSecretNotFound

// SecretMeta describes a stored secret without exposing its value.
type SecretMeta struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Vault encrypts and decrypts tenant secrets on top of a SecretStore.
type Vault struct {
	store  storage.SecretStore
	aead   cipher.AEAD
	logger logging.Logger
}

// NewVault derives the vault key from the passphrase and salt and
// returns a vault bound to the given store. The salt is hex encoded.
func NewVault(store storage.SecretStore, passphrase, saltHex string, logger logging.Logger) (*Vault, error) {
	if passphrase == "" {
		return nil, errors.New("vault passphrase is required")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode vault salt: %w", err)
	}
	if len(salt) < 8 {
		return nil, errors.New("vault salt must be at least 8 bytes")
	}

	key, err := scrypt.Key([]byte(passphrase), salt, 32768, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive vault key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Vault{store: store, aead: aead, logger: logger}, nil
}

// Set encrypts and stores a secret for a tenant. Existing values are
// overwritten.
func (v *Vault) Set(tenantID, key, value string) error {
	ciphertext, err := v.encrypt(value)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	secret := storage.Secret{
		TenantID:  tenantID,
		Key:       key,
		Value:     ciphertext,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, err := v.store.GetSecret(tenantID, key); err == nil {
		secret.CreatedAt = existing.CreatedAt
	}

	if err := v.store.SaveSecret(secret); err != nil {
		return fmt.Errorf("failed to save secret: %w", err)
	}
	v.logger.Debug("secret stored",
		logging.F("tenant_id", tenantID),
		logging.F("key", key))
	return nil
}

// Get retrieves and decrypts a secret.
func (v *Vault) Get(tenantID, key string) (string, error) {
	secret, err := v.store.GetSecret(tenantID, key)
	if err != nil {
		return "", err
	}
	return v.decrypt(secret.Value)
}

// List returns metadata for all secrets of a tenant. Values are never
// included.
func (v *Vault) List(tenantID string) ([]SecretMeta, error) {
	secrets, err := v.store.ListSecrets(tenantID)
	if err != nil {
		return nil, err
	}
	metas := make([]SecretMeta, 0, len(secrets))
	for _, s := range secrets {
		metas = append(metas, SecretMeta{Key: s.Key, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt})
	}
	return metas, nil
}

// Delete removes a secret.
func (v *Vault) Delete(tenantID, key string) error {
	return v.store.DeleteSecret(tenantID, key)
}

// ProviderKey resolves the API key for a model provider. Keys are
// stored under "llm_api_key_<provider>".
func (v *Vault) ProviderKey(tenantID, provider string) (string, error) {
	return v.Get(tenantID, "llm_api_key_"+provider)
}

func (v *Vault) encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *Vault) decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if len(raw) < v.aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, sealed := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}
