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
	"github.com/kadirpekel/agentkernel/pkg/agentprofile"
	"github.com/kadirpekel/agentkernel/pkg/eventlog"
	"github.com/kadirpekel/agentkernel/pkg/httpclient"
	"github.com/kadirpekel/agentkernel/pkg/ltm"
	"github.com/kadirpekel/agentkernel/pkg/policy"
	"github.com/kadirpekel/agentkernel/pkg/task"
	"github.com/kadirpekel/agentkernel/pkg/vfs"
	"github.com/kadirpekel/agentkernel/pkg/workingmemory"
)

// EnqueueRequest is a spawn_agent/signal_parent request to push a new
// activation onto the kernel's queue. Kernel owns the queue; tool handlers
// only ever see this callback, never the queue itself (spec §4.7/§4.9).
type EnqueueRequest struct {
	AgentID    string
	Input      string
	ParentID   string
	SpawnDepth uint32
	Priority   int32
}

// Context is ToolContext (spec §4.7): everything a plugin needs to act —
// the shared stores, this activation's identifiers and depth bookkeeping,
// the kernel's spawn/signal callback, and provider preferences.
type Context struct {
	AgentID      string
	ActivationID string
	ParentID     string // empty for the root agent
	SpawnDepth   uint32
	MaxDepth     uint32
	MaxFanout    uint32

	VFS           *vfs.VFS
	EventLog      *eventlog.Log
	WorkingMemory *workingmemory.Store
	LTM           *ltm.Store
	Tasks         *task.Queue // nil when task-queue tools are disabled
	Profiles      *agentprofile.Registry
	HTTPClient    *httpclient.Client

	Policy policy.Policy
	APIKey string
	Model  string

	// ChildCount reports how many activations have already been spawned
	// with this agent as their direct parent, for the fanout check.
	ChildCount func(parentAgentID string) uint32

	// Enqueue pushes a new activation; implemented by the kernel.
	Enqueue func(EnqueueRequest)

	// spawnCount is this handler instance's own running total of
	// successful spawns, checked alongside ChildCount per spec §4.7
	// ("childCount + thisHandler.spawnCount >= maxFanout").
	spawnCount uint32
}
