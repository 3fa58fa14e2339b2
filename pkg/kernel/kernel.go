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

// Package kernel implements the orchestration kernel's scheduling and
// session runtime (spec §4.9): the activation queue, semaphore-bounded
// workers, the per-turn streaming loop, tool dispatch, policy enforcement,
// and budget/quota halts.
//
// Grounded on the teacher's pkg/agent.Agent (the closest teacher analog to
// a turn-looping session driver) for the turn-loop/tool-dispatch shape, and
// on pkg/runtime.Local for the "compose stores, hand out a handle" wiring
// style — generalized here from the teacher's single-agent ADK runner to
// the spec's activation-queue scheduler driving many concurrent sessions.
package kernel

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/agentkernel/pkg/agentprofile"
	"github.com/kadirpekel/agentkernel/pkg/eventlog"
	"github.com/kadirpekel/agentkernel/pkg/httpclient"
	"github.com/kadirpekel/agentkernel/pkg/ltm"
	"github.com/kadirpekel/agentkernel/pkg/policy"
	"github.com/kadirpekel/agentkernel/pkg/provider"
	"github.com/kadirpekel/agentkernel/pkg/semaphore"
	"github.com/kadirpekel/agentkernel/pkg/session"
	"github.com/kadirpekel/agentkernel/pkg/task"
	"github.com/kadirpekel/agentkernel/pkg/tool"
	"github.com/kadirpekel/agentkernel/pkg/vfs"
	"github.com/kadirpekel/agentkernel/pkg/workingmemory"
)

// DefaultModel is used when neither KernelConfig.Model nor the agent
// profile name a model.
const DefaultModel = "default-model"

// KernelConfig is the spec §9 "dynamic named parameters -> struct"
// translation: every tunable of the kernel as an enumerated field.
type KernelConfig struct {
	MaxConcurrency int
	MaxDepth       uint32
	MaxFanout      uint32
	TokenBudget    int
	Model          string

	MemoryEnabled       bool
	MaxNudges           int
	MinTurnsBeforeStop  int
	AutoRecordFailures  bool
	ForceReflection     bool
	WrapUpThreshold     float64
	MaxAgentTurns       int
}

// SetDefaults fills zero-valued fields with the spec §9 defaults, following
// the teacher's pkg/vector.ProviderConfig.SetDefaults convention.
func (c *KernelConfig) SetDefaults() {
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 4
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = 5
	}
	if c.MaxFanout == 0 {
		c.MaxFanout = 10
	}
	if c.MaxAgentTurns == 0 {
		c.MaxAgentTurns = 25
	}
	if c.MaxNudges == 0 {
		c.MaxNudges = 3
	}
	if c.WrapUpThreshold == 0 {
		c.WrapUpThreshold = 1.0
	}
}

// Deps are the shared store handles and external collaborators a Kernel is
// composed from (spec §3 "Ownership": VFS/EventLog/SessionStore/
// WorkingMemory/TaskQueue/AgentRegistry are shared handles).
type Deps struct {
	Provider      provider.AIProvider
	VFS           *vfs.VFS
	EventLog      *eventlog.Log
	SessionStore  *session.Store
	WorkingMemory *workingmemory.Store
	LTM           *ltm.Store // nil disables memory-prompt injection and memory tools
	Tasks         *task.Queue
	Profiles      *agentprofile.Registry
	Registry      *tool.Registry
	HTTPClient    *httpclient.Client
	APIKey        string

	// WrapUpHook, if set, is invoked at most once per session when
	// totalTokens crosses tokenBudget*wrapUpThreshold between turns
	// (spec §4.9 step 9d, §5 "soft signal"). If nil, the kernel injects
	// a built-in wrap-up nudge message directly.
	WrapUpHook func(s *session.Session)
}

// Kernel is the activation queue, scheduling, session lifecycle, and halt
// state (spec §4.9). The Kernel exclusively owns queue/activeSessions(via
// SessionStore)/childCounts/seenHashes/totalTokens/flags/globalCancel;
// every other store is a shared handle (spec §3).
type Kernel struct {
	mu          sync.Mutex
	queue       []*Activation
	childCounts map[string]uint32
	seenHashes  map[uint64]bool

	totalTokens int
	paused      bool

	quotaHaltTriggered  bool
	budgetHaltTriggered bool
	wrapUpInjected      map[string]bool // keyed by activation id

	workingMemorySnapshot workingmemory.Snapshot

	sem          *semaphore.Semaphore
	globalCancel *session.CancellationHandle

	config KernelConfig
	deps   Deps

	log *slog.Logger
}

// Activation is a queued unit of work (spec §3).
type Activation struct {
	ID         string
	AgentID    string
	Input      string
	ParentID   string
	SpawnDepth uint32
	Priority   int32
	CreatedAt  time.Time
}

// New builds a Kernel from cfg and deps. cfg.SetDefaults() is always
// applied, so any zero-valued field it covers gets its default.
func New(cfg KernelConfig, deps Deps) *Kernel {
	cfg.SetDefaults()
	return &Kernel{
		childCounts:    make(map[string]uint32),
		seenHashes:     make(map[uint64]bool),
		wrapUpInjected: make(map[string]bool),
		sem:            semaphore.New(uint32(cfg.MaxConcurrency)),
		globalCancel:   session.NewCancellationHandle(context.Background()),
		config:         cfg,
		deps:           deps,
		log:            slog.Default().With("component", "kernel"),
	}
}

// EnqueueInput is the caller-supplied content of an Enqueue call.
type EnqueueInput struct {
	AgentID    string
	Input      string
	ParentID   string
	SpawnDepth uint32
	Priority   int32
}

// Enqueue pushes a new Activation, stable-sorts the queue ascending by
// priority, and drives the scheduler.
func (k *Kernel) Enqueue(in EnqueueInput) string {
	act := &Activation{
		ID:         uuid.NewString(),
		AgentID:    in.AgentID,
		Input:      in.Input,
		ParentID:   in.ParentID,
		SpawnDepth: in.SpawnDepth,
		Priority:   in.Priority,
		CreatedAt:  time.Now(),
	}
	k.mu.Lock()
	k.queue = append(k.queue, act)
	k.sortQueueLocked()
	k.mu.Unlock()

	k.deps.EventLog.Append(eventlog.TypeActivation, act.AgentID, act.ID, map[string]any{
		"phase": "enqueued",
		"input": act.Input,
	})

	k.processQueue()
	return act.ID
}

func (k *Kernel) sortQueueLocked() {
	sort.SliceStable(k.queue, func(i, j int) bool {
		return k.queue[i].Priority < k.queue[j].Priority
	})
}

// QueueLength returns the number of activations currently queued.
func (k *Kernel) QueueLength() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.queue)
}

// ActiveSessionCount returns the number of currently active sessions.
func (k *Kernel) ActiveSessionCount() int {
	return k.deps.SessionStore.ActiveCount()
}

// TotalTokens returns the kernel's running token total across every
// completed and active session since construction.
func (k *Kernel) TotalTokens() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.totalTokens
}

// Paused reports whether the scheduler is currently paused.
func (k *Kernel) Paused() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.paused
}

// Pause sets the paused flag; workers check it between tool calls via
// waitForResume.
func (k *Kernel) Pause() {
	k.mu.Lock()
	k.paused = true
	k.mu.Unlock()
}

// Resume clears the paused flag and re-drives the scheduler.
func (k *Kernel) Resume() {
	k.mu.Lock()
	k.paused = false
	k.mu.Unlock()
	k.processQueue()
}

// KillAll aborts every active session, clears the queue, resets halt
// flags, and rebuilds the global cancellation handle so a subsequent
// Enqueue can schedule fresh work.
func (k *Kernel) KillAll() {
	k.globalCancel.Abort()
	k.sem.Drain()

	k.mu.Lock()
	k.queue = nil
	k.paused = false
	k.quotaHaltTriggered = false
	k.budgetHaltTriggered = false
	k.globalCancel = session.NewCancellationHandle(context.Background())
	k.mu.Unlock()
}

// KillSession aborts one active session by activation id, leaving the
// queue and other active sessions untouched.
func (k *Kernel) KillSession(activationID string) {
	if s, ok := k.deps.SessionStore.Get(activationID); ok {
		s.Cancel.Abort()
	}
}

func childCount(k *Kernel) func(string) uint32 {
	return func(parentAgentID string) uint32 {
		k.mu.Lock()
		defer k.mu.Unlock()
		return k.childCounts[parentAgentID]
	}
}

func loopHash(agentID, input string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(agentID))
	_, _ = h.Write([]byte(":"))
	_, _ = h.Write([]byte(input))
	return h.Sum64()
}

func (k *Kernel) addTokens(n int) {
	k.mu.Lock()
	k.totalTokens += n
	k.mu.Unlock()
}

// resolveModel implements spec §4.9 step 9a's precedence: kernel config
// model, then profile model, then DefaultModel. "non-legacy" filtering
// named in the spec text has no concrete legacy-model list anywhere in the
// source corpus, so every non-empty configured name is treated as eligible
// (an Open Question resolution).
func resolveModel(cfgModel, profileModel string) string {
	if cfgModel != "" {
		return cfgModel
	}
	if profileModel != "" {
		return profileModel
	}
	return DefaultModel
}
