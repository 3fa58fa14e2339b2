// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/agentkernel/pkg/agentprofile"
	"github.com/kadirpekel/agentkernel/pkg/policy"
	"github.com/kadirpekel/agentkernel/pkg/provider"
	"github.com/kadirpekel/agentkernel/pkg/vector"
)

// FileConfig is the on-disk shape of an agentkernel config file, following
// the teacher's pkg/config convention of a plain YAML-tagged struct tree
// decoded with gopkg.in/yaml.v3, with a SetDefaults()/Validate() pair.
type FileConfig struct {
	Kernel     KernelFileConfig      `yaml:"kernel"`
	Vector     vector.Config         `yaml:"vector"`
	Agents     []AgentFileConfig     `yaml:"agents"`
	Autonomous *AutonomousFileConfig `yaml:"autonomous,omitempty"`
}

// KernelFileConfig mirrors kernel.KernelConfig for YAML decoding.
type KernelFileConfig struct {
	MaxConcurrency     int     `yaml:"max_concurrency,omitempty"`
	MaxDepth           uint32  `yaml:"max_depth,omitempty"`
	MaxFanout          uint32  `yaml:"max_fanout,omitempty"`
	TokenBudget        int     `yaml:"token_budget,omitempty"`
	Model              string  `yaml:"model,omitempty"`
	MemoryEnabled      bool    `yaml:"memory_enabled,omitempty"`
	MaxNudges          int     `yaml:"max_nudges,omitempty"`
	MinTurnsBeforeStop int     `yaml:"min_turns_before_stop,omitempty"`
	AutoRecordFailures bool    `yaml:"auto_record_failures,omitempty"`
	ForceReflection    bool    `yaml:"force_reflection,omitempty"`
	WrapUpThreshold    float64 `yaml:"wrap_up_threshold,omitempty"`
	MaxAgentTurns      int     `yaml:"max_agent_turns,omitempty"`
}

// AgentFileConfig is one entry of the config file's `agents` list.
type AgentFileConfig struct {
	Path         string             `yaml:"path"`
	Name         string             `yaml:"name,omitempty"`
	Model        string             `yaml:"model,omitempty"`
	SystemPrompt string             `yaml:"system_prompt"`
	Policy       PolicyFileConfig   `yaml:"policy"`
	Script       []ScriptTurnConfig `yaml:"script,omitempty"`
}

// PolicyFileConfig mirrors policy.Policy for YAML decoding.
type PolicyFileConfig struct {
	Mode              string                `yaml:"mode,omitempty"`
	Reads             []string              `yaml:"reads,omitempty"`
	Writes            []string              `yaml:"writes,omitempty"`
	AllowedTools      []string              `yaml:"allowed_tools,omitempty"`
	BlockedTools      []string              `yaml:"blocked_tools,omitempty"`
	Permissions       PermissionsFileConfig `yaml:"permissions"`
	GlovesOffTriggers []string              `yaml:"gloves_off_triggers,omitempty"`
}

// PermissionsFileConfig mirrors policy.Permissions for YAML decoding.
type PermissionsFileConfig struct {
	SpawnAgents  bool `yaml:"spawn_agents,omitempty"`
	SignalParent bool `yaml:"signal_parent,omitempty"`
	WebAccess    bool `yaml:"web_access,omitempty"`
	DeleteFiles  bool `yaml:"delete_files,omitempty"`
	EditAgents   bool `yaml:"edit_agents,omitempty"`
	CustomTools  bool `yaml:"custom_tools,omitempty"`
}

// AutonomousFileConfig configures the `autonomous` subcommand's default run.
type AutonomousFileConfig struct {
	MaxCycles       int     `yaml:"max_cycles,omitempty"`
	WrapUpThreshold float64 `yaml:"wrap_up_threshold,omitempty"`
	AgentPath       string  `yaml:"agent_path"`
	MissionPrompt   string  `yaml:"mission_prompt"`
}

// ScriptTurnConfig describes one provider.Turn for the bundled
// provider.Scripted test double (see provider.go's doc comment: spec §6
// treats AIProvider as an external collaborator the host implements, so
// the CLI ships driven by the same scripted fake the scenario tests use,
// configured per-agent from the YAML file rather than a committed vendor
// client).
type ScriptTurnConfig struct {
	Text     string               `yaml:"text,omitempty"`
	ToolCall *ScriptToolCallConfig `yaml:"tool_call,omitempty"`
	Tokens   int                  `yaml:"tokens,omitempty"`
}

// ScriptToolCallConfig describes one scripted tool call.
type ScriptToolCallConfig struct {
	Name string         `yaml:"name"`
	Args map[string]any `yaml:"args,omitempty"`
}

// SetDefaults applies the vector config defaults and a default autonomous
// max_cycles of 5. KernelFileConfig zero values are left as they are;
// kernel.KernelConfig.SetDefaults fills them at kernel construction time.
func (c *FileConfig) SetDefaults() {
	c.Vector.SetDefaults()
	if c.Autonomous != nil && c.Autonomous.MaxCycles == 0 {
		c.Autonomous.MaxCycles = 5
	}
}

// Validate checks the minimum shape a config file must have.
func (c *FileConfig) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("config: at least one agent must be defined")
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.Path == "" {
			return fmt.Errorf("config: agent entry missing path")
		}
		if seen[a.Path] {
			return fmt.Errorf("config: duplicate agent path %q", a.Path)
		}
		seen[a.Path] = true
	}
	return nil
}

// LoadFileConfig reads, decodes, defaults, and validates a config file.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func toPolicy(p PolicyFileConfig) policy.Policy {
	mode := policy.Mode(p.Mode)
	if mode == "" {
		mode = policy.ModeSafe
	}
	allowed := make(map[string]bool, len(p.AllowedTools))
	for _, t := range p.AllowedTools {
		allowed[t] = true
	}
	blocked := make(map[string]bool, len(p.BlockedTools))
	for _, t := range p.BlockedTools {
		blocked[t] = true
	}
	return policy.Policy{
		Mode:         mode,
		Reads:        p.Reads,
		Writes:       p.Writes,
		AllowedTools: allowed,
		BlockedTools: blocked,
		Permissions: policy.Permissions{
			SpawnAgents:  p.Permissions.SpawnAgents,
			SignalParent: p.Permissions.SignalParent,
			WebAccess:    p.Permissions.WebAccess,
			DeleteFiles:  p.Permissions.DeleteFiles,
			EditAgents:   p.Permissions.EditAgents,
			CustomTools:  p.Permissions.CustomTools,
		},
		GlovesOffTriggers: p.GlovesOffTriggers,
	}
}

func toProfile(a AgentFileConfig) *agentprofile.Profile {
	name := a.Name
	if name == "" {
		name = a.Path
	}
	return &agentprofile.Profile{
		ID:           a.Path,
		Path:         a.Path,
		Name:         name,
		Model:        a.Model,
		SystemPrompt: a.SystemPrompt,
		Policy:       toPolicy(a.Policy),
	}
}

// buildProfiles registers every configured agent and seeds the Scripted
// provider with each agent's configured script, if any.
func buildProfiles(cfg *FileConfig, registry *agentprofile.Registry, scripted *provider.Scripted) {
	for _, a := range cfg.Agents {
		registry.Register(toProfile(a))
		if len(a.Script) > 0 {
			scripted.SetScript(a.Path, toScript(a.Script))
		}
	}
}

func toScript(turns []ScriptTurnConfig) provider.Script {
	out := make(provider.Script, 0, len(turns))
	for _, t := range turns {
		var chunks []provider.StreamChunk
		if t.ToolCall != nil {
			chunks = append(chunks, provider.ToolCallChunk("", t.ToolCall.Name, t.ToolCall.Args))
		}
		if t.Text != "" {
			chunks = append(chunks, provider.Text(t.Text))
		}
		chunks = append(chunks, provider.Done(t.Tokens))
		out = append(out, provider.Turn{Chunks: chunks})
	}
	return out
}

var _ = time.Now // referenced only by generated doc examples, kept for symmetry with teacher's config.go imports
