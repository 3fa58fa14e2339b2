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

package policy

import (
	"fmt"
	"strings"
)

// ToolCheck is the input needed to gate one tool invocation: the tool
// name, the "path" (or "prefix") argument already extracted from the call
// for vfs_* tools, and whether the tool is a custom (non-built-in) one.
type ToolCheck struct {
	ToolName   string
	Path       string // extracted "path"/"prefix" argument, if any
	IsCustom   bool
}

// builtinPermissionTools maps tool names that require a specific
// Permissions flag, independent of glob scopes.
var builtinPermissionTools = map[string]func(Permissions) bool{
	"spawn_agent":   func(p Permissions) bool { return p.SpawnAgents },
	"signal_parent": func(p Permissions) bool { return p.SignalParent },
	"web_fetch":     func(p Permissions) bool { return p.WebAccess },
	"web_search":    func(p Permissions) bool { return p.WebAccess },
	"vfs_delete":    func(p Permissions) bool { return p.DeleteFiles },
}

// Check runs the handler's check order (spec §4.8) and returns an empty
// string if the call is allowed, or a human-readable block message
// otherwise. When p.Mode == GlovesOff, every check passes.
func Check(p Policy, tc ToolCheck) string {
	if p.Mode == ModeGlovesOff {
		return ""
	}

	if p.BlockedTools[tc.ToolName] {
		return fmt.Sprintf("policy blocked: tool %q is explicitly blocked", tc.ToolName)
	}

	if len(p.AllowedTools) > 0 && !p.AllowedTools[tc.ToolName] {
		return fmt.Sprintf("policy blocked: tool %q is not in the allowed tool list", tc.ToolName)
	}

	if tc.IsCustom && !p.Permissions.CustomTools {
		return fmt.Sprintf("policy blocked: custom tool %q requires permissions.customTools", tc.ToolName)
	}

	if requires, ok := builtinPermissionTools[tc.ToolName]; ok {
		if !requires(p.Permissions) {
			return fmt.Sprintf("policy blocked: tool %q requires a permission this agent lacks", tc.ToolName)
		}
	}

	if (tc.ToolName == "vfs_write" || tc.ToolName == "vfs_delete") && strings.HasPrefix(normalizePath(tc.Path), "agents/") {
		if !p.Permissions.EditAgents {
			return fmt.Sprintf("policy blocked: %q on agents/ requires permissions.editAgents", tc.ToolName)
		}
	}

	switch tc.ToolName {
	case "vfs_read":
		if tc.Path != "" && !MatchAny(p.Reads, tc.Path) {
			return fmt.Sprintf("policy blocked: path %q does not match any allowed read pattern", tc.Path)
		}
	case "vfs_list":
		if !MatchesListPrefix(p.Reads, tc.Path) {
			return fmt.Sprintf("policy blocked: prefix %q does not overlap any allowed read pattern", tc.Path)
		}
	case "vfs_write", "vfs_delete":
		if !MatchAny(p.Writes, tc.Path) {
			return fmt.Sprintf("policy blocked: path %q does not match any allowed write pattern", tc.Path)
		}
	}

	return ""
}
