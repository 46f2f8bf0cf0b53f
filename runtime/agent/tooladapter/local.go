// Package tooladapter turns a locally-defined function, or a named
// sub-instance, into the uniform tools.Spec descriptor an AgentRuntime
// composes into one tool list.
package tooladapter

import (
	"context"
	"fmt"

	"github.com/lattice-run/agentcore/runtime/agent/tools"
)

// LocalFunc is the signature a local-function tool must implement: accept a
// map of named arguments, return either a structured value or a string
// result.
type LocalFunc func(ctx context.Context, args map[string]any) (any, error)

// Local wraps a single function discovered by convention from an instance's
// tools directory, naming it {file_stem}__{function_name} and attaching the
// declared input schema.
func Local(fileStem, functionName, description string, inputSchema map[string]any, fn LocalFunc) tools.Spec {
	if inputSchema == nil {
		inputSchema = map[string]any{"type": "object"}
	}
	return tools.Spec{
		Name:        tools.LocalName(fileStem, functionName),
		Description: description,
		InputSchema: inputSchema,
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			if err := validateAgainstSchema(inputSchema, args); err != nil {
				return nil, fmt.Errorf("%s: invalid arguments: %w", tools.LocalName(fileStem, functionName), err)
			}
			result, err := fn(ctx, args)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", tools.LocalName(fileStem, functionName), err)
			}
			return result, nil
		},
	}
}
