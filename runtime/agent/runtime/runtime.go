// Package runtime implements AgentRuntime: the orchestrator of one agent
// turn. It composes the instance's tool list, drives the LLM stream,
// records every message onto its Session, and finalizes the session when
// the turn ends.
package runtime

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lattice-run/agentcore/config"
	agentpkg "github.com/lattice-run/agentcore/runtime/agent"
	"github.com/lattice-run/agentcore/runtime/agent/bus"
	"github.com/lattice-run/agentcore/runtime/agent/message"
	"github.com/lattice-run/agentcore/runtime/agent/model"
	"github.com/lattice-run/agentcore/runtime/agent/session"
	"github.com/lattice-run/agentcore/runtime/agent/sessionctx"
	"github.com/lattice-run/agentcore/runtime/agent/telemetry"
	"github.com/lattice-run/agentcore/runtime/agent/tooladapter"
	"github.com/lattice-run/agentcore/runtime/agent/toolerrors"
	"github.com/lattice-run/agentcore/runtime/agent/toolfilter"
	"github.com/lattice-run/agentcore/runtime/agent/tools"
)

// ChildFactory builds an AgentRuntime for a named sub-instance, given the
// directory of that sub-instance relative to instances_root.
type ChildFactory func(instanceDirName string) (*AgentRuntime, error)

// AgentRuntime orchestrates turns for one instance.
type AgentRuntime struct {
	instance      config.Instance
	instancesRoot string
	model         model.Client
	manager       *session.Manager
	bus           bus.Bus
	logger        telemetry.Logger

	toolList []tools.Spec

	// activeMu tracks the Session of the turn currently in flight, so the
	// sub-instance tool closures (which need the calling session to append
	// a subsession link) can find it without threading it through the
	// model.ToolCall payload. This assumes one turn in flight per
	// AgentRuntime at a time, matching the single-writer-per-session model.
	activeMu     sessionHolder
	instanceName string
}

// sessionHolder is a tiny mutex-guarded pointer to the session currently
// being processed by this runtime's stream goroutine.
type sessionHolder struct {
	mu  sync.Mutex
	cur *session.Session
}

func (h *sessionHolder) set(s *session.Session) {
	h.mu.Lock()
	h.cur = s
	h.mu.Unlock()
}

func (h *sessionHolder) clear(id string) {
	h.mu.Lock()
	if h.cur != nil && h.cur.ID() == id {
		h.cur = nil
	}
	h.mu.Unlock()
}

func (h *sessionHolder) current() *session.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cur
}

// New constructs an uninitialized AgentRuntime. Call Initialize before Query.
func New(cfg config.Instance, instanceName, instancesRoot string, client model.Client, mgr *session.Manager, b bus.Bus, logger telemetry.Logger) *AgentRuntime {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &AgentRuntime{
		instance:      cfg,
		instanceName:  instanceName,
		instancesRoot: instancesRoot,
		model:         client,
		manager:       mgr,
		bus:           b,
		logger:        logger,
	}
}

// Initialize loads tool composition (sub-instances; local-function tools are
// out of this core's scope and are supplied by the caller via AddLocalTool
// before Initialize if desired) and cleans up stale SessionContext files
// left behind by crashed processes.
func (r *AgentRuntime) Initialize(childFactory ChildFactory) error {
	filter := toolfilter.New(r.instance.Tools.Allowed, r.instance.Tools.Disallowed)

	for logical, dirName := range r.instance.SubClaudeInstances {
		name := "sub_claude_" + logical
		if !filter.Allows(name) {
			continue
		}
		logicalName, childDirName := logical, dirName
		spec := tooladapter.SubInstance(logicalName, childDirName, func() (tooladapter.ChildRuntime, error) {
			if childFactory == nil {
				return nil, fmt.Errorf("sub-instance %s: no child factory configured", logicalName)
			}
			return childFactory(childDirName)
		}, r.bus, func() *session.Session { return r.activeMu.current() })
		r.toolList = append(r.toolList, spec)
	}

	return sessionctx.CleanupAll()
}

// AddLocalTool registers a locally-defined function tool, subject to the
// instance's tools.allowed[]/disallowed[] filter.
func (r *AgentRuntime) AddLocalTool(spec tools.Spec) {
	filter := toolfilter.New(r.instance.Tools.Allowed, r.instance.Tools.Disallowed)
	if filter.Allows(spec.Name) {
		r.toolList = append(r.toolList, spec)
	}
}

// Tools returns the composed tool list.
func (r *AgentRuntime) Tools() []tools.Spec { return r.toolList }

// Query runs one turn and returns an asynchronous sequence of every message
// recorded during it, terminated by a ResultMessage (or early closure on
// context cancellation).
func (r *AgentRuntime) Query(ctx context.Context, prompt string, resumeSessionID, parentSessionID string) (<-chan message.Envelope, string, error) {
	out := make(chan message.Envelope, 16)

	var parentIDPtr *string
	if parentSessionID != "" {
		parentIDPtr = &parentSessionID
	}

	var sess *session.Session
	var err error
	if resumeSessionID != "" {
		sess, err = r.manager.Resume(ctx, resumeSessionID, resumeSessionID)
	} else {
		sess, err = r.manager.CreateSession(ctx, prompt, nil, parentIDPtr)
	}
	if err != nil {
		close(out)
		return nil, "", err
	}

	r.activeMu.set(sess)

	instancePath := r.instance.Dir()
	if err := sessionctx.Set(os.Getpid(), sess.ID(), instancePath); err != nil {
		r.logger.Error(ctx, "query: sessionctx.Set failed", "session_id", sess.ID(), "error", err.Error())
	}

	if parentSessionID != "" && r.bus != nil {
		env, envErr := message.NewEnvelope(message.TypeSystem, time.Now(), map[string]any{
			"subtype":       message.SystemSubtypeSubInstanceStarted,
			"session_id":    sess.ID(),
			"instance_name": r.instanceName,
		})
		if envErr == nil {
			_ = r.bus.Publish(ctx, bus.SystemChannel(parentSessionID), env)
		}
	}

	userEnv, _ := message.NewEnvelope(message.TypeUser, time.Now(), message.UserData{Role: "user", Content: prompt})
	sess.RecordMessage(ctx, userEnv)
	out <- userEnv

	go r.stream(ctx, sess, prompt, out)
	return out, sess.ID(), nil
}

// QueryText is a convenience consumer of Query that waits for the final
// ResultMessage and returns its text.
func (r *AgentRuntime) QueryText(ctx context.Context, prompt, resumeSessionID, parentSessionID string) (string, string, error) {
	stream, sessionID, err := r.Query(ctx, prompt, resumeSessionID, parentSessionID)
	if err != nil {
		return "", "", err
	}
	var text string
	for env := range stream {
		if env.MessageType == message.TypeResult {
			if res, err := env.DecodeResult(); err == nil {
				text = res.Result
			}
		}
	}
	return text, sessionID, nil
}

// stream drives the LLM, recording every message onto sess and forwarding
// it to out, then finalizes the session on the terminal ResultMessage (or
// on ctx cancellation, with status=interrupted).
func (r *AgentRuntime) stream(ctx context.Context, sess *session.Session, prompt string, out chan<- message.Envelope) {
	defer close(out)
	defer r.activeMu.clear(sess.ID())

	req := model.Request{
		Model: r.instance.Model,
		Messages: []*model.Message{
			{Role: "user", Content: prompt},
		},
		MaxTokens: 4096,
	}
	for _, t := range r.toolList {
		req.Tools = append(req.Tools, &model.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	start := time.Now()
	resp, err := r.model.Complete(ctx, req)
	if err != nil {
		interrupted := ctx.Err() != nil
		resultEnv, _ := message.NewEnvelope(message.TypeResult, time.Now(), message.ResultData{
			Subtype:    "error",
			IsError:    true,
			DurationMs: time.Since(start).Milliseconds(),
			Result:     err.Error(),
		})
		sess.RecordMessage(ctx, resultEnv)
		out <- resultEnv
		_ = sess.Finalize(ctx, nil, interrupted)
		_ = sessionctx.Clear(os.Getpid())
		return
	}

	blocks := make([]message.Block, 0, len(resp.Content)+len(resp.ToolCalls))
	for _, c := range resp.Content {
		blocks = append(blocks, message.TextBlock(c.Content))
	}
	for _, tc := range resp.ToolCalls {
		blocks = append(blocks, message.ToolUseBlock(fmt.Sprintf("tooluse_%d", time.Now().UnixNano()), tc.Name.String(), asArgsMap(tc.Payload)))
	}

	assistantEnv, _ := message.NewEnvelope(message.TypeAssistant, time.Now(), message.AssistantData{
		Model:   r.instance.Model,
		Content: blocks,
	})
	sess.RecordMessage(ctx, assistantEnv)
	out <- assistantEnv

	r.invokeTools(ctx, sess, resp.ToolCalls, out)

	resultData := message.ResultData{
		Subtype:       "success",
		DurationMs:    time.Since(start).Milliseconds(),
		DurationAPIMs: time.Since(start).Milliseconds(),
		NumTurns:      1,
		Usage: message.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
		Result: textOf(resp.Content),
	}
	resultEnv, _ := message.NewEnvelope(message.TypeResult, time.Now(), resultData)
	sess.RecordMessage(ctx, resultEnv)
	out <- resultEnv

	_ = sess.Finalize(ctx, &resultData, ctx.Err() != nil)
	_ = sessionctx.Clear(os.Getpid())
}

func (r *AgentRuntime) invokeTools(ctx context.Context, sess *session.Session, calls []model.ToolCall, out chan<- message.Envelope) {
	for _, call := range calls {
		var spec *tools.Spec
		for i := range r.toolList {
			if r.toolList[i].Name == call.Name.String() {
				spec = &r.toolList[i]
				break
			}
		}
		toolUseID := fmt.Sprintf("tooluse_%d", time.Now().UnixNano())
		if spec == nil {
			resEnv, _ := message.NewEnvelope(message.TypeToolResult, time.Now(), message.ToolResultData{
				ToolUseID: toolUseID,
				Content:   fmt.Sprintf("unknown tool: %s", call.Name),
				IsError:   true,
			})
			sess.RecordMessage(ctx, resEnv)
			out <- resEnv
			continue
		}

		result, err := spec.Invoke(ctx, asArgsMap(call.Payload))
		var content string
		isError := err != nil
		if isError {
			content = toolerrors.FromError(err).Error()
		} else {
			content = fmt.Sprintf("%v", result)
			if br, ok := result.(agentpkg.BoundedResult); ok {
				if b := br.Bounds(); b.Truncated {
					content += fmt.Sprintf("\n[truncated: returned %d", b.Returned)
					if b.Total != nil {
						content += fmt.Sprintf(" of %d", *b.Total)
					}
					if b.RefinementHint != "" {
						content += "; " + b.RefinementHint
					}
					content += "]"
				}
			}
		}
		resEnv, _ := message.NewEnvelope(message.TypeToolResult, time.Now(), message.ToolResultData{
			ToolUseID: toolUseID,
			Content:   content,
			IsError:   isError,
		})
		sess.RecordMessage(ctx, resEnv)
		out <- resEnv
	}
}

func asArgsMap(payload any) map[string]any {
	if m, ok := payload.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func textOf(msgs []model.Message) string {
	var out string
	for _, m := range msgs {
		out += m.Content
	}
	return out
}

// Cleanup closes the runtime's bus connection. The JSONLWriter per session
// is closed by Session.Finalize, not here.
func (r *AgentRuntime) Cleanup() error {
	if r.bus != nil {
		return r.bus.Close()
	}
	return nil
}
