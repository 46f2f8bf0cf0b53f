package runtimeerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigError_FormatsWithAndWithoutField(t *testing.T) {
	err := NewConfigError("model", "required")
	assert.Equal(t, "config: model: required", err.Error())

	bare := &ConfigError{Msg: "invalid yaml"}
	assert.Equal(t, "config: invalid yaml", bare.Error())
}

func TestSessionError_UnwrapsToCause(t *testing.T) {
	cause := errors.New("disk full")
	err := NewSessionError("sess-1", "append", cause)

	assert.Equal(t, "session sess-1: append: disk full", err.Error())
	assert.ErrorIs(t, err, cause)

	var target *SessionError
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, "sess-1", target.SessionID)
}

func TestBusError_FormatsWithAndWithoutChannel(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewBusError("session:s1:messages", "publish", cause)
	assert.Equal(t, "bus publish session:s1:messages: connection refused", err.Error())

	bare := &BusError{Op: "dial", Cause: cause}
	assert.Equal(t, "bus dial: connection refused", bare.Error())
}

func TestErrorKinds_AreDistinguishableViaErrorsAs(t *testing.T) {
	var err error = NewConfigError("agent.name", "required")

	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))

	var sessErr *SessionError
	assert.False(t, errors.As(err, &sessErr))
}
