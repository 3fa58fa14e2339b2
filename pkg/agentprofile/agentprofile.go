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

// Package agentprofile defines AgentProfile: data the kernel consumes but
// never produces. Frontmatter parsing of agent files is an explicit
// external non-goal — callers hand the kernel an already-parsed Profile.
package agentprofile

import (
	"fmt"

	"github.com/kadirpekel/agentkernel/pkg/policy"
	"github.com/kadirpekel/agentkernel/pkg/registry"
)

// CustomToolDef describes one custom tool exposed by an agent profile, in
// addition to the kernel's built-in tool set.
type CustomToolDef struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Profile is one agent's identity, model preference, prompt, custom tools,
// and policy.
type Profile struct {
	ID            string
	Path          string
	Name          string
	Model         string
	SystemPrompt  string
	CustomTools   []CustomToolDef
	Policy        policy.Policy
}

// Registry is a name→Profile lookup table built atop the generic
// pkg/registry.BaseRegistry, specialized for agent paths.
type Registry struct {
	base *registry.BaseRegistry[*Profile]
}

// NewRegistry creates an empty agent profile registry.
func NewRegistry() *Registry {
	return &Registry{base: registry.NewBaseRegistry[*Profile]()}
}

// Register adds or replaces a profile keyed by its Path. BaseRegistry
// itself refuses to overwrite, so a re-registration first removes any
// existing entry under the same path.
func (r *Registry) Register(p *Profile) {
	_ = r.base.Remove(p.Path)
	_ = r.base.Register(p.Path, p)
}

// Get looks up a profile by agent path.
func (r *Registry) Get(path string) (*Profile, bool) {
	return r.base.Get(path)
}

// Remove deletes a profile by path.
func (r *Registry) Remove(path string) {
	_ = r.base.Remove(path)
}

// List returns every registered profile.
func (r *Registry) List() []*Profile {
	return r.base.List()
}

// ErrNotFound is returned by lookups that fail to find a registered profile.
var ErrNotFound = fmt.Errorf("agent profile not found")
