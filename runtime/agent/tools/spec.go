package tools

import "context"

// Spec is the uniform descriptor every tool — local-function or
// sub-instance — presents to an AgentRuntime: a name, a JSON Schema for its
// input, and an invocation function.
type Spec struct {
	Name        string
	Description string
	InputSchema map[string]any
	Invoke      func(ctx context.Context, args map[string]any) (any, error)
}

// LocalName builds the {file_stem}__{function_name} name a local-function
// tool is addressed by, per the convention inferred from an instance's
// tools directory.
func LocalName(fileStem, functionName string) string {
	return fileStem + "__" + functionName
}
