package tooladapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lattice-run/agentcore/runtime/agent/bus"
	"github.com/lattice-run/agentcore/runtime/agent/message"
	"github.com/lattice-run/agentcore/runtime/agent/session"
	"github.com/lattice-run/agentcore/runtime/agent/tools"
)

// ChildRuntime is the narrow slice of AgentRuntime a sub-instance tool
// needs: enough to run one turn and get back its text result and session
// id. Defined here (rather than imported from the runtime package) so
// tooladapter and runtime do not import each other.
type ChildRuntime interface {
	QueryText(ctx context.Context, prompt, resumeSessionID, parentSessionID string) (resultText, sessionID string, err error)
}

// ChildFactory lazily constructs (or returns a cached) ChildRuntime for one
// named sub-instance.
type ChildFactory func() (ChildRuntime, error)

// SubInstanceArgs is the enumerated configuration of one sub-instance tool
// call.
type SubInstanceArgs struct {
	Task            string
	ContextFiles    []string
	OutputFormat    string // text, json, markdown
	ResumeSessionID string
	Variables       map[string]any
}

// subInstanceRegistry lazily materializes and caches one ChildRuntime per
// logical sub-instance name, matching the "lazy per-name; reuse if already
// materialized" rule.
type subInstanceRegistry struct {
	mu       sync.Mutex
	runtimes map[string]ChildRuntime
}

func newSubInstanceRegistry() *subInstanceRegistry {
	return &subInstanceRegistry{runtimes: make(map[string]ChildRuntime)}
}

func (r *subInstanceRegistry) get(name string, factory ChildFactory) (ChildRuntime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok := r.runtimes[name]; ok {
		return rt, nil
	}
	rt, err := factory()
	if err != nil {
		return nil, err
	}
	r.runtimes[name] = rt
	return rt, nil
}

// SubInstance wraps another named instance as a callable tool. parentSession
// is the Session the calling AgentRuntime owns; b is the bus the
// sub_instance_started event and the child's own messages are published on.
func SubInstance(logicalName, childInstanceName string, factory ChildFactory, b bus.Bus, parentSession func() *session.Session) tools.Spec {
	registry := newSubInstanceRegistry()

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task":              map[string]any{"type": "string"},
			"context_files":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"output_format":     map[string]any{"type": "string", "enum": []string{"text", "json", "markdown"}},
			"resume_session_id": map[string]any{"type": "string"},
			"variables":         map[string]any{"type": "object"},
		},
		"required": []string{"task"},
	}

	return tools.Spec{
		Name:        "sub_claude_" + logicalName,
		Description: fmt.Sprintf("invoke the %s sub-instance", logicalName),
		InputSchema: schema,
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			parent := parentSession()
			if parent == nil {
				return nil, fmt.Errorf("sub_claude_%s: no parent session in scope", logicalName)
			}
			if err := validateAgainstSchema(schema, args); err != nil {
				return nil, fmt.Errorf("sub_claude_%s: invalid arguments: %w", logicalName, err)
			}

			subArgs := parseSubInstanceArgs(args)
			toolUseID := fmt.Sprintf("%s-%d", logicalName, time.Now().UnixNano())

			rt, err := registry.get(logicalName, factory)
			if err != nil {
				return nil, fmt.Errorf("sub_claude_%s: materialize child runtime: %w", logicalName, err)
			}

			resultText, childSessionID, err := rt.QueryText(ctx, buildPrompt(subArgs), subArgs.ResumeSessionID, parent.ID())
			if err != nil {
				return nil, fmt.Errorf("sub_claude_%s: %w", logicalName, err)
			}

			// Announce the child on the parent's system channel, then append
			// the link. Both happen after the child's turn has returned; the
			// child runtime's own Query announces the session when it is
			// created.
			if b != nil {
				env, envErr := message.NewEnvelope(message.TypeSystem, time.Now(), map[string]any{
					"subtype":       message.SystemSubtypeSubInstanceStarted,
					"session_id":    childSessionID,
					"instance_name": childInstanceName,
				})
				if envErr == nil {
					_ = b.Publish(ctx, bus.SystemChannel(parent.ID()), env)
				}
			}
			parent.AppendSubsessionLink(childSessionID, "sub_claude_"+logicalName, toolUseID, childInstanceName, parent.Metadata().Depth+1)

			if childSessionID != "" {
				resultText += fmt.Sprintf("\n<!--SESSION_ID:%s-->", childSessionID)
			}
			return map[string]any{
				"result":     resultText,
				"session_id": childSessionID,
				"instance":   childInstanceName,
			}, nil
		},
	}
}

func parseSubInstanceArgs(args map[string]any) SubInstanceArgs {
	out := SubInstanceArgs{OutputFormat: "text"}
	if v, ok := args["task"].(string); ok {
		out.Task = v
	}
	if v, ok := args["resume_session_id"].(string); ok {
		out.ResumeSessionID = v
	}
	if v, ok := args["output_format"].(string); ok && v != "" {
		out.OutputFormat = v
	}
	if raw, ok := args["context_files"].([]any); ok {
		for _, f := range raw {
			if s, ok := f.(string); ok {
				out.ContextFiles = append(out.ContextFiles, s)
			}
		}
	}
	if vars, ok := args["variables"].(map[string]any); ok {
		out.Variables = vars
	}
	return out
}

func buildPrompt(a SubInstanceArgs) string {
	var b strings.Builder
	b.WriteString(a.Task)
	if len(a.ContextFiles) > 0 {
		b.WriteString("\nrelated files:\n")
		for _, f := range a.ContextFiles {
			b.WriteString("- " + f + "\n")
		}
	}
	if a.OutputFormat != "" && a.OutputFormat != "text" {
		b.WriteString(fmt.Sprintf("\nrespond in %s format.\n", a.OutputFormat))
	}
	if len(a.Variables) > 0 {
		b.WriteString("\nvariables:\n")
		for k, v := range a.Variables {
			b.WriteString(fmt.Sprintf("- %s: %v\n", k, v))
		}
	}
	return b.String()
}
