package session

import "time"

// Status is the lifecycle state recorded in metadata.json.
type Status string

const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Metadata is the on-disk shape of metadata.json.
type Metadata struct {
	SessionID       string         `json:"session_id"`
	InstanceName    string         `json:"instance_name"`
	OwnerPID        int            `json:"owner_pid"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         *time.Time     `json:"end_time,omitempty"`
	Status          Status         `json:"status"`
	Depth           int            `json:"depth"`
	ParentSessionID *string        `json:"parent_session_id,omitempty"`
	InitialPrompt   string         `json:"initial_prompt"`
	Context         map[string]any `json:"context,omitempty"`
	ResumeOf        *string        `json:"resume_of,omitempty"`
}

// SubsessionLink is one entry of Statistics.Subsessions: a record of a child
// session spawned by a sub-instance tool call.
type SubsessionLink struct {
	SessionID    string    `json:"session_id"`
	ToolName     string    `json:"tool_name"`
	ToolUseID    string    `json:"tool_use_id"`
	Timestamp    time.Time `json:"timestamp"`
	InstanceName string    `json:"instance_name"`
	Depth        int       `json:"depth"`
}

// Statistics is the on-disk shape of statistics.json, written at Finalize.
type Statistics struct {
	NumMessages     int              `json:"num_messages"`
	NumToolCalls    int              `json:"num_tool_calls"`
	TotalDurationMs int64            `json:"total_duration_ms"`
	CostUSD         float64          `json:"cost_usd"`
	TokensIn        int              `json:"tokens_in"`
	TokensOut       int              `json:"tokens_out"`
	Subsessions     []SubsessionLink `json:"subsessions"`
}

// Summary is the lightweight shape ListSessions returns, avoiding a full
// message read per entry.
type Summary struct {
	Metadata   Metadata
	Statistics Statistics
}
