package tooladapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAgainstSchema_NilOrEmptySchemaAllowsAnything(t *testing.T) {
	assert.NoError(t, validateAgainstSchema(nil, map[string]any{"whatever": true}))
	assert.NoError(t, validateAgainstSchema(map[string]any{}, map[string]any{"whatever": true}))
}

func TestValidateAgainstSchema_RequiredFieldMissing(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
		"required":   []string{"path"},
	}
	err := validateAgainstSchema(schema, map[string]any{})
	assert.Error(t, err)
}

func TestValidateAgainstSchema_WrongTypeRejected(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"count": map[string]any{"type": "integer"}},
	}
	err := validateAgainstSchema(schema, map[string]any{"count": "not-a-number"})
	assert.Error(t, err)
}

func TestValidateAgainstSchema_ValidArgumentsPass(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
		"required":   []string{"path"},
	}
	err := validateAgainstSchema(schema, map[string]any{"path": "/tmp/x"})
	assert.NoError(t, err)
}

func TestLocal_RejectsArgumentsFailingTheDeclaredSchema(t *testing.T) {
	var invoked bool
	spec := Local("fs", "read", "reads a file", map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
		"required":   []string{"path"},
	}, func(_ context.Context, args map[string]any) (any, error) {
		invoked = true
		return "ok", nil
	})

	_, err := spec.Invoke(context.Background(), map[string]any{})
	assert.Error(t, err)
	assert.False(t, invoked, "fn must not run when arguments fail schema validation")

	result, err := spec.Invoke(context.Background(), map[string]any{"path": "/tmp/x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.True(t, invoked)
}
