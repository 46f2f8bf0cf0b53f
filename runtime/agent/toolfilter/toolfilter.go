// Package toolfilter decides which tools an instance exposes to the model,
// from the tools.allowed[] and tools.disallowed[] glob patterns of its
// agent.yaml.
package toolfilter

import (
	"path/filepath"
)

// Filter is a compiled view of one instance's tools.allowed[]/disallowed[]
// configuration. The zero value allows every tool.
type Filter struct {
	allowed    []string
	disallowed []string
}

// New compiles allowed and disallowed glob patterns into a Filter. Patterns
// are matched with filepath.Match semantics against the full tool name (for
// local-function tools, name already has the file_stem__function_name shape,
// so a pattern like "file_stem__*" matches every tool in that file).
func New(allowed, disallowed []string) Filter {
	return Filter{allowed: allowed, disallowed: disallowed}
}

// Allows reports whether name may be exposed: it matches some pattern in
// allowed (or allowed is empty, meaning "every name"), and matches no pattern
// in disallowed. Disallowed always wins over allowed.
func (f Filter) Allows(name string) bool {
	if matchesAny(f.disallowed, name) {
		return false
	}
	if len(f.allowed) == 0 {
		return true
	}
	return matchesAny(f.allowed, name)
}

// FilterNames returns the subset of names that Allows accepts, preserving
// order.
func (f Filter) FilterNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if f.Allows(n) {
			out = append(out, n)
		}
	}
	return out
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := filepath.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
