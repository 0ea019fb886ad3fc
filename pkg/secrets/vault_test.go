package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/logging"
	"github.com/convoflow/convoflow/pkg/storage"
)

const testSalt = "a1b2c3d4e5f60718"

func newTestVault(t *testing.T) (*Vault, storage.SecretStore) {
	t.Helper()
	store := storage.NewMemoryProvider().GetSecretStore()
	vault, err := NewVault(store, "test-passphrase", testSalt, logging.NewNopLogger())
	require.NoError(t, err)
	return vault, store
}

func TestVaultRoundTrip(t *testing.T) {
	vault, store := newTestVault(t)

	require.NoError(t, vault.Set("acme", "llm_api_key_openai", "sk-secret-value"))

	value, err := vault.Get("acme", "llm_api_key_openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-secret-value", value)

	// The backend only ever sees ciphertext.
	raw, err := store.GetSecret("acme", "llm_api_key_openai")
	require.NoError(t, err)
	assert.NotEqual(t, "sk-secret-value", raw.Value)
	assert.NotContains(t, raw.Value, "sk-secret")
}

func TestVaultProviderKey(t *testing.T) {
	vault, _ := newTestVault(t)

	require.NoError(t, vault.Set("acme", "llm_api_key_anthropic", "key-abc"))

	key, err := vault.ProviderKey("acme", "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "key-abc", key)

	_, err = vault.ProviderKey("acme", "openai")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestVaultListHidesValues(t *testing.T) {
	vault, _ := newTestVault(t)

	require.NoError(t, vault.Set("acme", "k1", "v1"))
	require.NoError(t, vault.Set("acme", "k2", "v2"))

	metas, err := vault.List("acme")
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "k1", metas[0].Key)
	assert.Equal(t, "k2", metas[1].Key)
}

func TestVaultTenantIsolation(t *testing.T) {
	vault, _ := newTestVault(t)

	require.NoError(t, vault.Set("acme", "shared-key", "acme-value"))

	_, err := vault.Get("globex", "shared-key")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestVaultDelete(t *testing.T) {
	vault, _ := newTestVault(t)

	require.NoError(t, vault.Set("acme", "k", "v"))
	require.NoError(t, vault.Delete("acme", "k"))

	_, err := vault.Get("acme", "k")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestVaultWrongKeyFailsToDecrypt(t *testing.T) {
	store := storage.NewMemoryProvider().GetSecretStore()
	logger := logging.NewNopLogger()

	v1, err := NewVault(store, "passphrase-one", testSalt, logger)
	require.NoError(t, err)
	require.NoError(t, v1.Set("acme", "k", "v"))

	v2, err := NewVault(store, "passphrase-two", testSalt, logger)
	require.NoError(t, err)
	_, err = v2.Get("acme", "k")
	assert.Error(t, err)
}

func TestNewVaultValidation(t *testing.T) {
	store := storage.NewMemoryProvider().GetSecretStore()
	logger := logging.NewNopLogger()

	_, err := NewVault(store, "", testSalt, logger)
	assert.Error(t, err)

	_, err = NewVault(store, "pass", "not-hex", logger)
	assert.Error(t, err)

	_, err = NewVault(store, "pass", "abcd", logger)
	assert.Error(t, err)
}
