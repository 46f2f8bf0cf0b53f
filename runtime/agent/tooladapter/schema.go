package tooladapter

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validateAgainstSchema compiles schema (a decoded JSON Schema document, as
// found on tools.Spec.InputSchema) and validates args against it. A nil or
// empty schema is treated as "no constraints".
func validateAgainstSchema(schema map[string]any, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", any(schema)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	// jsonschema validates against decoded-JSON shapes (numbers as float64);
	// round-trip through JSON so maps built by hand (e.g. ints) validate the
	// same way as arguments actually decoded off the wire.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("unmarshal args: %w", err)
	}
	return sch.Validate(instance)
}
