package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/logging"
	"github.com/convoflow/convoflow/pkg/storage"
)

const greeterYAML = `
metadata:
  name: Greeter
nodes:
  start:
    kind: trigger
    next: [greet]
  greet:
    kind: response
    content: "hello"
`

const greeterYAMLv2 = `
metadata:
  name: Greeter v2
nodes:
  start:
    kind: trigger
    next: [greet]
  greet:
    kind: response
    content: "hello again"
`

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	provider := storage.NewMemoryProvider()
	require.NoError(t, provider.Initialize())
	return New(provider.GetFlowStore(), logging.NewNopLogger())
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRegistry(t)

	created, err := r.Create("acme", "", []byte(greeterYAML))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "acme", created.TenantID)
	assert.Equal(t, "Greeter", created.Name)

	got, err := r.Get("acme", created.ID)
	require.NoError(t, err)
	assert.Same(t, created, got)
}

func TestCreateRejectsInvalidDefinition(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Create("acme", "", []byte("nodes:\n  start:\n    kind: trigger\n"))
	require.Error(t, err)

	flows, err := r.List("acme")
	require.NoError(t, err)
	assert.Empty(t, flows)
}

func TestUpdateSwapsSnapshot(t *testing.T) {
	r := newTestRegistry(t)

	v1, err := r.Create("acme", "greeter", []byte(greeterYAML))
	require.NoError(t, err)

	v2, err := r.Update("acme", "greeter", []byte(greeterYAMLv2))
	require.NoError(t, err)
	assert.NotSame(t, v1, v2)

	// A turn holding v1 still sees the old graph.
	assert.Equal(t, "hello", v1.Node("greet").Content)

	got, err := r.Get("acme", "greeter")
	require.NoError(t, err)
	assert.Same(t, v2, got)
	assert.Equal(t, "hello again", got.Node("greet").Content)
}

func TestUpdateKeepsStoredFlowOnCompileFailure(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Create("acme", "greeter", []byte(greeterYAML))
	require.NoError(t, err)

	_, err = r.Update("acme", "greeter", []byte("metadata:\n  name: broken\nnodes:\n  a:\n    kind: teleport\n"))
	require.Error(t, err)

	got, err := r.Get("acme", "greeter")
	require.NoError(t, err)
	assert.Equal(t, "Greeter", got.Name)
}

func TestUpdateMissingFlow(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Update("acme", "missing", []byte(greeterYAML))
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestGetCompilesFromStorage(t *testing.T) {
	provider := storage.NewMemoryProvider()
	require.NoError(t, provider.Initialize())
	store := provider.GetFlowStore()

	first := New(store, logging.NewNopLogger())
	created, err := first.Create("acme", "greeter", []byte(greeterYAML))
	require.NoError(t, err)

	// A fresh registry over the same store compiles on demand.
	second := New(store, logging.NewNopLogger())
	got, err := second.Get("acme", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Greeter", got.Name)
	assert.NotNil(t, got.Trigger())
}

func TestFlowSourceContract(t *testing.T) {
	r := newTestRegistry(t)

	created, err := r.Create("acme", "greeter", []byte(greeterYAML))
	require.NoError(t, err)

	got, err := r.Flow(context.Background(), "acme", created.ID)
	require.NoError(t, err)
	assert.Same(t, created, got)

	_, err = r.Flow(context.Background(), "globex", created.ID)
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	r := newTestRegistry(t)

	created, err := r.Create("acme", "greeter", []byte(greeterYAML))
	require.NoError(t, err)

	require.NoError(t, r.Delete("acme", created.ID))
	_, err = r.Get("acme", created.ID)
	assert.ErrorIs(t, err, ErrFlowNotFound)

	assert.ErrorIs(t, r.Delete("acme", created.ID), ErrFlowNotFound)
}
