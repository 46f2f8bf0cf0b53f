package toolerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsMessageWhenEmpty(t *testing.T) {
	err := New("")
	assert.Equal(t, "tool error", err.Error())
}

func TestNewWithCause_WrapsAndUnwraps(t *testing.T) {
	cause := errors.New("file not found")
	err := NewWithCause("read failed", cause)

	assert.Equal(t, "read failed", err.Error())
	require.NotNil(t, err.Cause)
	assert.Equal(t, "file not found", err.Cause.Error())
	assert.ErrorIs(t, err, err.Cause)
}

func TestFromError_PassesThroughAnExistingToolError(t *testing.T) {
	original := New("already structured")
	assert.Same(t, original, FromError(original))
}

func TestFromError_NilReturnsNil(t *testing.T) {
	assert.Nil(t, FromError(nil))
}

func TestFromError_WrapsPlainErrorChain(t *testing.T) {
	inner := errors.New("inner")
	outer := fmt.Errorf("outer: %w", inner)

	te := FromError(outer)
	require.NotNil(t, te)
	assert.Equal(t, "outer: inner", te.Error())
	require.NotNil(t, te.Cause)
	assert.Equal(t, "inner", te.Cause.Error())
}

func TestErrorf_FormatsLikeFmtErrorf(t *testing.T) {
	err := Errorf("missing arg %q", "path")
	assert.Equal(t, `missing arg "path"`, err.Error())
}

func TestNilToolError_ErrorAndUnwrapAreSafe(t *testing.T) {
	var err *ToolError
	assert.Equal(t, "", err.Error())
	assert.Nil(t, err.Unwrap())
}
