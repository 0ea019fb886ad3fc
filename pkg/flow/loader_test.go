package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderFlowYAML = `
metadata:
  name: Order support
  description: Routes order questions
  tenant: acme
nodes:
  start:
    kind: trigger
    next: [classify]
  classify:
    kind: condition
    content: "if contains 'order' then order-reply; if contains 'refund' then refund-reply"
  order-reply:
    kind: response
    content: "Your order help: {{order_id}}"
    config:
      suggestions: ["Track my order", "Cancel my order"]
  refund-reply:
    kind: response
    content: "Let me help with your refund."
`

func TestLoadFlow(t *testing.T) {
	f, err := Load("flow-1", []byte(orderFlowYAML))
	require.NoError(t, err)

	assert.Equal(t, "flow-1", f.ID)
	assert.Equal(t, "acme", f.TenantID)
	assert.Equal(t, "Order support", f.Name)
	assert.True(t, f.Active)
	assert.Len(t, f.Nodes, 4)

	trigger := f.Trigger()
	require.NotNil(t, trigger)
	assert.Equal(t, "start", trigger.ID)

	classify := f.Node("classify")
	require.NotNil(t, classify)
	require.Len(t, classify.Program(), 2)

	reply := f.Node("order-reply")
	require.NotNil(t, reply)
	require.NotNil(t, reply.Response)
	assert.Equal(t, []string{"Track my order", "Cancel my order"}, reply.Response.Suggestions)
}

func TestLoadInactiveFlow(t *testing.T) {
	yaml := `
metadata:
  name: Dormant
  active: false
nodes:
  start:
    kind: trigger
`
	f, err := Load("flow-2", []byte(yaml))
	require.NoError(t, err)
	assert.False(t, f.Active)
}

func TestLoadRejectsMissingName(t *testing.T) {
	yaml := `
nodes:
  start:
    kind: trigger
`
	_, err := Load("f", []byte(yaml))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	yaml := `
metadata:
  name: Broken
nodes:
  start:
    kind: teleport
`
	_, err := Load("f", []byte(yaml))
	assert.ErrorIs(t, err, ErrUnknownNodeKind)
}

func TestLoadRejectsMissingTrigger(t *testing.T) {
	yaml := `
metadata:
  name: Broken
nodes:
  only:
    kind: response
    content: hi
`
	_, err := Load("f", []byte(yaml))
	assert.ErrorIs(t, err, ErrNoEntryPoint)
}

func TestLoadRejectsMultipleTriggers(t *testing.T) {
	yaml := `
metadata:
  name: Broken
nodes:
  a:
    kind: trigger
  b:
    kind: trigger
`
	_, err := Load("f", []byte(yaml))
	assert.ErrorIs(t, err, ErrMultipleTriggers)
}

func TestLoadRejectsDanglingNext(t *testing.T) {
	yaml := `
metadata:
  name: Broken
nodes:
  start:
    kind: trigger
    next: [missing]
`
	_, err := Load("f", []byte(yaml))
	assert.ErrorIs(t, err, ErrDanglingTarget)
}

func TestLoadRejectsDanglingConditionTarget(t *testing.T) {
	yaml := `
metadata:
  name: Broken
nodes:
  start:
    kind: trigger
    next: [classify]
  classify:
    kind: condition
    content: "if contains 'x' then nowhere"
`
	_, err := Load("f", []byte(yaml))
	assert.ErrorIs(t, err, ErrDanglingTarget)
}

func TestLoadRejectsRetrievalWithoutThreshold(t *testing.T) {
	yaml := `
metadata:
  name: Broken
nodes:
  start:
    kind: trigger
    next: [ask]
  ask:
    kind: retrieval
    config:
      index: docs
      max_context_length: 2000
`
	_, err := Load("f", []byte(yaml))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadRejectsExternalCallWithoutURL(t *testing.T) {
	yaml := `
metadata:
  name: Broken
nodes:
  start:
    kind: trigger
    next: [call]
  call:
    kind: external_call
    config:
      method: POST
`
	_, err := Load("f", []byte(yaml))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestExternalCallDefaults(t *testing.T) {
	yaml := `
metadata:
  name: Defaults
nodes:
  start:
    kind: trigger
    next: [call]
  call:
    kind: external_call
    config:
      url: https://api.example.com/status
`
	f, err := Load("f", []byte(yaml))
	require.NoError(t, err)

	cfg := f.Node("call").ExternalCall
	require.NotNil(t, cfg)
	assert.Equal(t, "GET", cfg.Method)
	assert.Equal(t, "_external_result", cfg.ResultVariable)
}
