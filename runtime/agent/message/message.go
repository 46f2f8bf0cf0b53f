// Package message defines the tagged-union message and content-block types
// recorded to a session's JSONL log and republished on the bus.
//
// Messages are a tagged sum with six variants; AssistantMessage.Content is
// itself a tagged sum over blocks. Both sums are made explicit here as
// discriminated unions, and every decision point branches on the string tag
// carried in the wire payload, never on the dynamic Go type — a message or
// block read back from disk must behave identically to one freshly
// constructed in-process.
package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type is the discriminant for the six message variants recorded in a
// session's messages.jsonl and published on session:{id}:messages.
type Type string

const (
	TypeUser         Type = "UserMessage"
	TypeAssistant    Type = "AssistantMessage"
	TypeToolUse      Type = "ToolUseMessage"
	TypeToolResult   Type = "ToolResultMessage"
	TypeResult       Type = "ResultMessage"
	TypeSystem       Type = "SystemMessage"
)

// BlockType is the discriminant for the three content-block variants nested
// inside AssistantMessage.Content.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// SystemSubtypeSubInstanceStarted is the sole SystemMessage subtype required
// by the core: it announces that a child session has been created.
const SystemSubtypeSubInstanceStarted = "sub_instance_started"

type (
	// Envelope is the on-disk and on-wire shape of every recorded message:
	// { message_type, timestamp, data }. Consumers must read MessageType, not
	// a bare "type" field — that confusion is a well-known source of
	// integration bugs against this schema.
	Envelope struct {
		MessageType Type            `json:"message_type"`
		Timestamp   time.Time       `json:"timestamp"`
		Data        json.RawMessage `json:"data"`
	}

	// UserData is the payload of a UserMessage.
	UserData struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// AssistantData is the payload of an AssistantMessage: a model identifier
	// plus an ordered content-block sum.
	AssistantData struct {
		Model   string  `json:"model"`
		Content []Block `json:"content"`
	}

	// Block is one entry of AssistantData.Content. Exactly one of the
	// type-specific field groups is populated, selected by Type.
	Block struct {
		Type BlockType `json:"type"`

		// Text is populated when Type == BlockText.
		Text string `json:"text,omitempty"`

		// ID, Name, Input are populated when Type == BlockToolUse.
		ID    string `json:"id,omitempty"`
		Name  string `json:"name,omitempty"`
		Input map[string]any `json:"input,omitempty"`

		// ToolUseID, Content, IsError are populated when Type == BlockToolResult.
		ToolUseID string `json:"tool_use_id,omitempty"`
		Content   string `json:"content,omitempty"`
		IsError   bool   `json:"is_error,omitempty"`
	}

	// ToolUseData is the optional standalone variant of a tool_use block,
	// used when a runtime chooses to emit ToolUseMessage records rather than
	// folding tool use into AssistantMessage.Content.
	ToolUseData struct {
		ID    string         `json:"id"`
		Name  string         `json:"name"`
		Input map[string]any `json:"input"`
	}

	// ToolResultData is the optional standalone variant of a tool_result
	// block.
	ToolResultData struct {
		ToolUseID string `json:"tool_use_id"`
		Content   string `json:"content"`
		IsError   bool   `json:"is_error"`
	}

	// ResultData is the payload of a ResultMessage, the terminal message of a
	// turn.
	ResultData struct {
		Subtype       string  `json:"subtype"`
		DurationMs    int64   `json:"duration_ms"`
		DurationAPIMs int64   `json:"duration_api_ms"`
		IsError       bool    `json:"is_error"`
		NumTurns      int     `json:"num_turns"`
		TotalCostUSD  float64 `json:"total_cost_usd"`
		Usage         Usage   `json:"usage"`
		Result        string  `json:"result"`
	}

	// Usage reports the token counts carried on a ResultData.
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	}

	// SystemData is the payload of a SystemMessage: a subtype tag plus
	// subtype-specific fields folded into Extra.
	SystemData struct {
		Subtype string `json:"subtype"`

		// ChildSessionID and InstanceName are populated when
		// Subtype == sub_instance_started.
		ChildSessionID string `json:"session_id,omitempty"`
		InstanceName   string `json:"instance_name,omitempty"`

		// Extra carries any subtype-specific fields the core does not parse.
		Extra map[string]any `json:"-"`
	}
)

// NewEnvelope marshals data and stamps the message type and the given time,
// converted to UTC.
func NewEnvelope(t Type, at time.Time, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s data: %w", t, err)
	}
	return Envelope{MessageType: t, Timestamp: at.UTC(), Data: raw}, nil
}

// DecodeUser decodes the envelope's Data as UserData. Returns an error if
// MessageType is not TypeUser.
func (e Envelope) DecodeUser() (UserData, error) {
	var d UserData
	if e.MessageType != TypeUser {
		return d, fmt.Errorf("message: not a UserMessage (message_type=%s)", e.MessageType)
	}
	err := json.Unmarshal(e.Data, &d)
	return d, err
}

// DecodeAssistant decodes the envelope's Data as AssistantData.
func (e Envelope) DecodeAssistant() (AssistantData, error) {
	var d AssistantData
	if e.MessageType != TypeAssistant {
		return d, fmt.Errorf("message: not an AssistantMessage (message_type=%s)", e.MessageType)
	}
	err := json.Unmarshal(e.Data, &d)
	return d, err
}

// DecodeResult decodes the envelope's Data as ResultData.
func (e Envelope) DecodeResult() (ResultData, error) {
	var d ResultData
	if e.MessageType != TypeResult {
		return d, fmt.Errorf("message: not a ResultMessage (message_type=%s)", e.MessageType)
	}
	err := json.Unmarshal(e.Data, &d)
	return d, err
}

// DecodeSystem decodes the envelope's Data as SystemData.
func (e Envelope) DecodeSystem() (SystemData, error) {
	var d SystemData
	if e.MessageType != TypeSystem {
		return d, fmt.Errorf("message: not a SystemMessage (message_type=%s)", e.MessageType)
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return d, err
	}
	var extra map[string]any
	if err := json.Unmarshal(e.Data, &extra); err == nil {
		delete(extra, "subtype")
		delete(extra, "session_id")
		delete(extra, "instance_name")
		if len(extra) > 0 {
			d.Extra = extra
		}
	}
	return d, nil
}

// IsSubInstanceStarted reports whether the envelope is a SystemMessage whose
// subtype is sub_instance_started. Session.RecordMessage uses this to decide
// whether to additionally republish on the session:{id}:system channel.
func (e Envelope) IsSubInstanceStarted() bool {
	if e.MessageType != TypeSystem {
		return false
	}
	d, err := e.DecodeSystem()
	if err != nil {
		return false
	}
	return d.Subtype == SystemSubtypeSubInstanceStarted
}

// TextBlock constructs a text content block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// ToolUseBlock constructs a tool_use content block.
func ToolUseBlock(id, name string, input map[string]any) Block {
	return Block{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock constructs a tool_result content block.
func ToolResultBlock(toolUseID, content string, isError bool) Block {
	return Block{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}
