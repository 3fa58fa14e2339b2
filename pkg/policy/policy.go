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

// Package policy implements per-agent access control: declarative
// read/write glob scopes, tool allow/block lists, permission flags, and
// trigger-based GlovesOff escalation.
package policy

import "strings"

// Mode is the policy's enforcement level.
type Mode string

const (
	ModeSafe      Mode = "Safe"
	ModeBalanced  Mode = "Balanced"
	ModeGlovesOff Mode = "GlovesOff"
)

// Permissions are the coarse-grained capability toggles a policy grants.
type Permissions struct {
	SpawnAgents  bool
	SignalParent bool
	WebAccess    bool
	DeleteFiles  bool
	EditAgents   bool
	CustomTools  bool
}

// Policy is the declarative access-control scope attached to an AgentProfile.
type Policy struct {
	Mode               Mode
	Reads              []string
	Writes             []string
	AllowedTools       map[string]bool
	BlockedTools       map[string]bool
	Permissions        Permissions
	GlovesOffTriggers  []string
}

// Resolution is the outcome of resolving a Policy against one activation's
// input: the effective policy to enforce, whether it was escalated, and
// which trigger substring caused the escalation (if any).
type Resolution struct {
	Policy    Policy
	Escalated bool
	Trigger   string
}

// Resolve checks p.GlovesOffTriggers against input (case-insensitive
// substring match). If any trigger matches, the effective policy for this
// activation is escalated to GlovesOff; otherwise p is returned unchanged.
func Resolve(p Policy, input string) Resolution {
	lowerInput := strings.ToLower(input)
	for _, trigger := range p.GlovesOffTriggers {
		if trigger == "" {
			continue
		}
		if strings.Contains(lowerInput, strings.ToLower(trigger)) {
			escalated := p
			escalated.Mode = ModeGlovesOff
			return Resolution{Policy: escalated, Escalated: true, Trigger: trigger}
		}
	}
	return Resolution{Policy: p}
}
