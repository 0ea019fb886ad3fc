package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFlowStore(t *testing.T) {
	provider := NewMemoryProvider()
	require.NoError(t, provider.Initialize())
	store := provider.GetFlowStore()

	now := time.Now().UTC()
	record := FlowRecord{
		TenantID:   "acme",
		FlowID:     "f1",
		Name:       "Order support",
		Active:     true,
		Definition: []byte("metadata:\n  name: Order support\n"),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, store.SaveFlow(record))

	loaded, err := store.GetFlow("acme", "f1")
	require.NoError(t, err)
	assert.Equal(t, "Order support", loaded.Name)
	assert.Equal(t, record.Definition, loaded.Definition)

	_, err = store.GetFlow("globex", "f1")
	assert.ErrorIs(t, err, ErrFlowNotFound)

	record.FlowID = "f0"
	require.NoError(t, store.SaveFlow(record))

	flows, err := store.ListFlows("acme")
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, "f0", flows[0].FlowID)
	assert.Equal(t, "f1", flows[1].FlowID)

	require.NoError(t, store.DeleteFlow("acme", "f1"))
	assert.ErrorIs(t, store.DeleteFlow("acme", "f1"), ErrFlowNotFound)
}

func TestMemorySecretStore(t *testing.T) {
	store := NewMemoryProvider().GetSecretStore()

	secret := Secret{TenantID: "acme", Key: "api-key", Value: "ciphertext"}
	require.NoError(t, store.SaveSecret(secret))

	loaded, err := store.GetSecret("acme", "api-key")
	require.NoError(t, err)
	assert.Equal(t, "ciphertext", loaded.Value)

	_, err = store.GetSecret("globex", "api-key")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	secrets, err := store.ListSecrets("acme")
	require.NoError(t, err)
	require.Len(t, secrets, 1)

	require.NoError(t, store.DeleteSecret("acme", "api-key"))
	assert.ErrorIs(t, store.DeleteSecret("acme", "api-key"), ErrSecretNotFound)
}
