package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lattice-run/agentcore/runtime/agent/runtimeerr"
)

// Instance is the parsed, defaulted shape of one instance directory's
// agent.yaml. Unlike Streaming, Instance has no environment variable
// overrides — per-instance behavior is expected to vary by directory, not by
// process environment.
type Instance struct {
	Agent              AgentConfig            `yaml:"agent"`
	Model              string                 `yaml:"model"`
	SystemPromptFile   string                 `yaml:"system_prompt_file"`
	Tools              ToolsConfig            `yaml:"tools"`
	SubClaudeInstances map[string]string      `yaml:"sub_claude_instances"`
	SessionRecording   SessionRecordingConfig `yaml:"session_recording"`
	Advanced           AdvancedConfig         `yaml:"advanced"`

	// dir is the instance directory this config was loaded from; system
	// prompt paths resolve relative to it.
	dir string
}

// AgentConfig names and describes the instance's agent.
type AgentConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// ToolsConfig holds glob patterns over tool names. A tool is available when
// it matches some pattern in Allowed (or Allowed is empty) and matches no
// pattern in Disallowed.
type ToolsConfig struct {
	Disallowed []string `yaml:"disallowed"`
	Allowed    []string `yaml:"allowed"`
}

// SessionRecordingConfig controls whether and how long sessions persist.
// MessageTypes nil means all message types are recorded.
type SessionRecordingConfig struct {
	Enabled        bool     `yaml:"enabled"`
	RetentionDays  int      `yaml:"retention_days"`
	MaxTotalSizeMB int      `yaml:"max_total_size_mb"`
	AutoCleanup    bool     `yaml:"auto_cleanup"`
	MessageTypes   []string `yaml:"message_types"`
}

// PermissionMode is the set of recognized advanced.permission_mode values.
type PermissionMode string

const (
	PermissionAsk               PermissionMode = "ask"
	PermissionAuto               PermissionMode = "auto"
	PermissionBypassPermissions PermissionMode = "bypassPermissions"
)

// AdvancedConfig holds the less commonly tuned per-instance knobs.
type AdvancedConfig struct {
	PermissionMode PermissionMode    `yaml:"permission_mode"`
	MaxTurns       int               `yaml:"max_turns"`
	Env            map[string]string `yaml:"env"`
}

func defaultInstance() Instance {
	return Instance{
		SessionRecording: SessionRecordingConfig{
			Enabled:        true,
			RetentionDays:  30,
			MaxTotalSizeMB: 500,
			AutoCleanup:    true,
		},
		Advanced: AdvancedConfig{
			PermissionMode: PermissionAsk,
			MaxTurns:       0,
		},
	}
}

// LoadInstance reads agent.yaml from dir and validates the result. agent.name
// and model are required; a missing one is a ConfigError and initialization
// must refuse to proceed.
func LoadInstance(dir string) (Instance, error) {
	cfg := defaultInstance()
	cfg.dir = dir

	path := filepath.Join(dir, "agent.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return Instance{}, runtimeerr.NewConfigError("agent.yaml", err.Error())
	}

	// Unmarshal onto a copy that preserves the defaults above for any field
	// the file omits entirely.
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Instance{}, runtimeerr.NewConfigError("agent.yaml", err.Error())
	}
	cfg.dir = dir

	if err := cfg.validate(); err != nil {
		return Instance{}, err
	}
	return cfg, nil
}

func (c Instance) validate() error {
	if c.Agent.Name == "" {
		return runtimeerr.NewConfigError("agent.name", "required")
	}
	if c.Model == "" {
		return runtimeerr.NewConfigError("model", "required")
	}
	switch c.Advanced.PermissionMode {
	case "", PermissionAsk, PermissionAuto, PermissionBypassPermissions:
	default:
		return runtimeerr.NewConfigError("advanced.permission_mode", "must be one of ask, auto, bypassPermissions")
	}
	return nil
}

// SystemPromptPath resolves SystemPromptFile against the instance directory
// the config was loaded from. Returns "" if no system prompt file is set.
func (c Instance) SystemPromptPath() string {
	if c.SystemPromptFile == "" {
		return ""
	}
	if filepath.IsAbs(c.SystemPromptFile) {
		return c.SystemPromptFile
	}
	return filepath.Join(c.dir, c.SystemPromptFile)
}

// Dir returns the instance directory this config was loaded from.
func (c Instance) Dir() string { return c.dir }

// RecordsType reports whether messages of the given type should be recorded,
// honoring a nil MessageTypes (meaning "all").
func (c Instance) RecordsType(messageType string) bool {
	if c.SessionRecording.MessageTypes == nil {
		return true
	}
	for _, t := range c.SessionRecording.MessageTypes {
		if t == messageType {
			return true
		}
	}
	return false
}
