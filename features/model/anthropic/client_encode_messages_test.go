package anthropic

import (
	"testing"

	"github.com/lattice-run/agentcore/runtime/agent/model"
)

func TestEncodeMessages_SplitsSystemPrompt(t *testing.T) {
	conversation, system, err := encodeMessages([]*model.Message{
		{Role: "system", Content: "be concise"},
		{Role: "user", Content: "hello"},
	}, nil)
	if err != nil {
		t.Fatalf("encodeMessages error: %v", err)
	}
	if system != "be concise" {
		t.Fatalf("unexpected system prompt %q", system)
	}
	if len(conversation) != 1 {
		t.Fatalf("expected 1 conversation message, got %d", len(conversation))
	}
}

func TestEncodeMessages_ToolRoleRequiresToolUseID(t *testing.T) {
	_, _, err := encodeMessages([]*model.Message{
		{Role: "user", Content: "hi"},
		{Role: "tool", Content: "42"},
	}, nil)
	if err == nil {
		t.Fatal("expected error for tool message missing tool_use_id")
	}
}

func TestEncodeMessages_ToolResultRoundTrip(t *testing.T) {
	conversation, _, err := encodeMessages([]*model.Message{
		{Role: "user", Content: "call the tool"},
		{
			Role:    "tool",
			Content: `{"error":"unknown tool"}`,
			Meta:    map[string]any{"tool_use_id": "tu1", "is_error": true},
		},
	}, nil)
	if err != nil {
		t.Fatalf("encodeMessages error: %v", err)
	}
	if len(conversation) != 2 {
		t.Fatalf("expected 2 conversation messages, got %d", len(conversation))
	}
}
