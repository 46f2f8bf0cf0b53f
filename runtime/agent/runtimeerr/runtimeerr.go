// Package runtimeerr defines the runtime's error taxonomy by kind rather than
// by concrete type name: configuration failures, session/storage failures, and
// bus/broker failures each get their own type so callers can dispatch with
// errors.As instead of string matching. Tool failures are deliberately absent
// from this taxonomy — they are modeled as transcript data (a tool_result
// block with is_error=true), not as Go errors.
package runtimeerr

import "fmt"

// ConfigError reports invalid or missing instance/streaming configuration.
// From the config loaders it means initialization refused to proceed;
// query.ExportSession also returns one for an unknown export format.
type ConfigError struct {
	Field string
	Msg   string
	Cause error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("config: %s", e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// NewConfigError builds a ConfigError for the named field.
func NewConfigError(field, msg string) *ConfigError {
	return &ConfigError{Field: field, Msg: msg}
}

// SessionError reports a failure reading or writing session state: a missing
// directory, a corrupted JSONL file beyond the tolerated partial last line, or
// an unreadable metadata file. SessionErrors propagate to the query caller;
// when the failure originates in a reader rather than the owning writer, the
// session itself continues running.
type SessionError struct {
	SessionID string
	Op        string
	Cause     error
}

func (e *SessionError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Op, e.Cause)
	}
	return fmt.Sprintf("session: %s: %v", e.Op, e.Cause)
}

func (e *SessionError) Unwrap() error { return e.Cause }

// NewSessionError wraps cause as a SessionError for the named session and operation.
func NewSessionError(sessionID, op string, cause error) *SessionError {
	return &SessionError{SessionID: sessionID, Op: op, Cause: cause}
}

// BusError reports a broker-level failure: unreachable, publish failed, or a
// subscription terminated abnormally. BusErrors never propagate to the agent
// turn — the durable path is unaffected — but do surface as a terminal error
// on the affected subscriber's stream.
type BusError struct {
	Channel string
	Op      string
	Cause   error
}

func (e *BusError) Error() string {
	if e.Channel != "" {
		return fmt.Sprintf("bus %s %s: %v", e.Op, e.Channel, e.Cause)
	}
	return fmt.Sprintf("bus %s: %v", e.Op, e.Cause)
}

func (e *BusError) Unwrap() error { return e.Cause }

// NewBusError wraps cause as a BusError for the named channel and operation.
func NewBusError(channel, op string, cause error) *BusError {
	return &BusError{Channel: channel, Op: op, Cause: cause}
}
