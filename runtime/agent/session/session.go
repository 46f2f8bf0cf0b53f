// Package session implements the durable, in-memory handle for one recorded
// conversation: metadata, message append, finalization, and statistics
// aggregation, plus the SessionManager factory/registry that owns session
// directories for one instance.
package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lattice-run/agentcore/runtime/agent/bus"
	"github.com/lattice-run/agentcore/runtime/agent/message"
	"github.com/lattice-run/agentcore/runtime/agent/jsonl"
	"github.com/lattice-run/agentcore/runtime/agent/runtimeerr"
	"github.com/lattice-run/agentcore/runtime/agent/telemetry"
)

const (
	metadataFile   = "metadata.json"
	messagesFile   = "messages.jsonl"
	statisticsFile = "statistics.json"
)

// Session is the in-memory handle for one recorded conversation. It is
// mutated exclusively by the AgentRuntime that owns it; SessionManager only
// constructs and registers it.
type Session struct {
	dir          string
	instanceName string
	bus          bus.Bus
	writer       *jsonl.Writer
	logger       telemetry.Logger

	mu         sync.Mutex
	metadata   Metadata
	statistics Statistics
	finalized  bool
}

// Start creates the session directory, writes the initial metadata.json, and
// publishes lifecycle:started.
func (s *Session) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return runtimeerr.NewSessionError(s.metadata.SessionID, "start", err)
	}
	if err := s.writeMetadata(); err != nil {
		return err
	}
	if s.bus != nil {
		_ = s.bus.Publish(ctx, bus.LifecycleChannel(s.metadata.SessionID), map[string]any{
			"event":      "started",
			"session_id": s.metadata.SessionID,
		})
	}
	return nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.metadata.SessionID }

// Metadata returns a copy of the session's current metadata.
func (s *Session) Metadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata
}

// Statistics returns a copy of the session's current in-memory statistics.
func (s *Session) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.statistics
	stats.Subsessions = append([]SubsessionLink(nil), s.statistics.Subsessions...)
	return stats
}

// RecordMessage appends msg to the JSONL writer, republishes it on the
// session's messages channel (and, for sub_instance_started system events,
// also the system channel), and updates in-memory counters. Writer errors
// are logged but never returned: the bus and in-memory state stay
// consistent with or without durable recording succeeding.
func (s *Session) RecordMessage(ctx context.Context, env message.Envelope) {
	if err := s.writer.Append(env); err != nil && s.logger != nil {
		s.logger.Error(ctx, "record message: append failed", "session_id", s.metadata.SessionID, "error", err.Error())
	}

	s.mu.Lock()
	s.statistics.NumMessages++
	switch env.MessageType {
	case message.TypeToolUse:
		s.statistics.NumToolCalls++
	case message.TypeResult:
		if res, err := env.DecodeResult(); err == nil {
			s.statistics.CostUSD += res.TotalCostUSD
			s.statistics.TokensIn += res.Usage.InputTokens
			s.statistics.TokensOut += res.Usage.OutputTokens
		}
	}
	s.mu.Unlock()

	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, bus.MessagesChannel(s.metadata.SessionID), env)
	if env.IsSubInstanceStarted() {
		_ = s.bus.Publish(ctx, bus.SystemChannel(s.metadata.SessionID), env)
	}
}

// AppendSubsessionLink records that a sub-instance tool call spawned a child
// session, for later inclusion in statistics.json.
func (s *Session) AppendSubsessionLink(childID, toolName, toolUseID, instanceName string, depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statistics.Subsessions = append(s.statistics.Subsessions, SubsessionLink{
		SessionID:    childID,
		ToolName:     toolName,
		ToolUseID:    toolUseID,
		Timestamp:    time.Now().UTC(),
		InstanceName: instanceName,
		Depth:        depth,
	})
}

// Finalize flushes the writer, computes duration, writes statistics.json,
// and updates metadata.json with end_time and a derived status. Finalize is
// idempotent: calling it more than once leaves the same on-disk state as
// calling it exactly once.
func (s *Session) Finalize(ctx context.Context, result *message.ResultData, interrupted bool) error {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return nil
	}
	s.finalized = true

	now := time.Now().UTC()
	s.statistics.TotalDurationMs = now.Sub(s.metadata.StartTime).Milliseconds()

	status := StatusCompleted
	switch {
	case interrupted:
		status = StatusInterrupted
	case result == nil || result.IsError:
		status = StatusFailed
	}
	s.metadata.Status = status
	s.metadata.EndTime = &now
	stats := s.statistics
	stats.Subsessions = append([]SubsessionLink(nil), s.statistics.Subsessions...)
	s.mu.Unlock()

	if err := s.writer.Close(); err != nil && s.logger != nil {
		s.logger.Error(ctx, "finalize: writer close failed", "session_id", s.metadata.SessionID, "error", err.Error())
	}

	if err := s.writeStatistics(stats); err != nil {
		return err
	}
	if err := s.writeMetadata(); err != nil {
		return err
	}

	if s.bus != nil {
		_ = s.bus.Publish(ctx, bus.LifecycleChannel(s.metadata.SessionID), map[string]any{
			"event":      "finalized",
			"session_id": s.metadata.SessionID,
			"status":     string(status),
		})
	}
	return nil
}

func (s *Session) writeMetadata() error {
	s.mu.Lock()
	meta := s.metadata
	s.mu.Unlock()
	return writeJSONFile(filepath.Join(s.dir, metadataFile), meta, s.metadata.SessionID)
}

func (s *Session) writeStatistics(stats Statistics) error {
	return writeJSONFile(filepath.Join(s.dir, statisticsFile), stats, s.metadata.SessionID)
}

func writeJSONFile(path string, v any, sessionID string) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return runtimeerr.NewSessionError(sessionID, "marshal", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return runtimeerr.NewSessionError(sessionID, "write", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return runtimeerr.NewSessionError(sessionID, "rename", err)
	}
	return nil
}
