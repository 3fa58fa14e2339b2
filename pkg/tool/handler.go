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

package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/agentkernel/pkg/eventlog"
	"github.com/kadirpekel/agentkernel/pkg/policy"
)

const resultTraceLimit = 500

// Handler implements spec §4.7's handle(name, args) → String contract,
// gating every call through the policy resolver before invocation.
type Handler struct {
	Registry *Registry
	Context  *Context
}

// NewHandler binds a Registry and a Context for one session's turn loop.
func NewHandler(registry *Registry, tc *Context) *Handler {
	return &Handler{Registry: registry, Context: tc}
}

// Handle runs the five-step contract: append tool_call, look up the
// plugin, policy-gate (using the plugin's custom flag), invoke the plugin
// (or report an unknown tool), then append tool_result truncated for
// traceability.
func (h *Handler) Handle(ctx context.Context, toolCallID, name string, args map[string]any) string {
	tc := h.Context

	tc.EventLog.Append(eventlog.TypeToolCall, tc.AgentID, tc.ActivationID, map[string]any{
		"tool_call_id": toolCallID,
		"tool":         name,
		"args":         args,
	})

	plugin, found := h.Registry.Get(name)

	path := extractPath(args)
	check := policy.Check(tc.Policy, policy.ToolCheck{
		ToolName: name,
		Path:     path,
		IsCustom: found && plugin.IsCustom,
	})
	if check != "" {
		tc.EventLog.Append(eventlog.TypeWarning, tc.AgentID, tc.ActivationID, map[string]any{
			"tool_call_id": toolCallID,
			"tool":         name,
			"message":      check,
		})
		h.appendResult(toolCallID, name, check)
		return check
	}

	if !found {
		msg := fmt.Sprintf("unknown tool %q; available tools: %s", name, strings.Join(h.Registry.Names(), ", "))
		h.appendResult(toolCallID, name, msg)
		return msg
	}

	result, err := plugin.Invoke(ctx, tc, args)
	if err != nil {
		result = fmt.Sprintf("error: %v", err)
	}

	h.appendResult(toolCallID, name, result)
	return result
}

func (h *Handler) appendResult(toolCallID, name, result string) {
	traced := result
	if len(traced) > resultTraceLimit {
		traced = traced[:resultTraceLimit]
	}
	h.Context.EventLog.Append(eventlog.TypeToolResult, h.Context.AgentID, h.Context.ActivationID, map[string]any{
		"tool_call_id": toolCallID,
		"tool":         name,
		"result":       traced,
	})
}

// extractPath pulls the "path" (or, failing that, "prefix") argument used by
// vfs_* policy checks.
func extractPath(args map[string]any) string {
	if p := stringArg(args, "path"); p != "" {
		return p
	}
	return stringArg(args, "prefix")
}
