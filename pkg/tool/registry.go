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

// Package tool implements the kernel's ToolRegistry and Handler (spec
// §4.7): a name→plugin table, per-session cloning for custom tools, and the
// five-step policy-gated invocation contract.
//
// Grounded on the teacher's pkg/tools.ToolRegistry (registry.go), adapted
// from the teacher's Tool-interface/ToolSource-discovery model to the
// spec's flatter "plugin function, no discovery" shape.
package tool

import (
	"context"
	"sort"

	"github.com/kadirpekel/agentkernel/pkg/registry"
)

// Definition is a tool's schema, as emitted to an AIProvider.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Plugin is one tool's executable behavior.
type Plugin struct {
	Definition Definition
	IsCustom   bool
	Invoke     func(ctx context.Context, tc *Context, args map[string]any) (string, error)
}

// Registry is a name→Plugin table built atop the generic
// pkg/registry.BaseRegistry. The zero value is not usable; use New.
type Registry struct {
	base *registry.BaseRegistry[Plugin]
}

// New creates a registry seeded with the built-in tool set.
func New() *Registry {
	r := &Registry{base: registry.NewBaseRegistry[Plugin]()}
	for _, p := range builtinPlugins() {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a plugin. BaseRegistry itself refuses to
// overwrite, so a re-registration first removes any existing entry under
// the same tool name.
func (r *Registry) Register(p Plugin) {
	_ = r.base.Remove(p.Definition.Name)
	_ = r.base.Register(p.Definition.Name, p)
}

// Get looks up a plugin by name.
func (r *Registry) Get(name string) (Plugin, bool) {
	return r.base.Get(name)
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	plugins := r.base.List()
	out := make([]string, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, p.Definition.Name)
	}
	sort.Strings(out)
	return out
}

// CloneWith produces a new registry holding this registry's plugins plus
// extra, used to build a per-session registry carrying an agent profile's
// custom tools alongside the built-ins (spec §4.7).
func (r *Registry) CloneWith(extra []Plugin) *Registry {
	clone := &Registry{base: registry.NewBaseRegistry[Plugin]()}
	for _, p := range r.base.List() {
		clone.Register(p)
	}
	for _, p := range extra {
		clone.Register(p)
	}
	return clone
}

// ToToolDefinitions emits the schema list an AIProvider consumes, sorted by
// name for deterministic prompt construction.
func (r *Registry) ToToolDefinitions() []Definition {
	names := r.Names()
	out := make([]Definition, 0, len(names))
	for _, name := range names {
		p, _ := r.base.Get(name)
		out = append(out, p.Definition)
	}
	return out
}
