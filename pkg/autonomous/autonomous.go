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

// Package autonomous implements the AutonomousRunner (spec §4.11): a
// multi-cycle driver that repeatedly re-enters a fresh Kernel with memory
// and task-queue continuity, running a mission to completion one cycle at
// a time rather than in a single unbounded session.
//
// Grounded on the teacher's cmd/hector's "build dependencies once, hand
// them to a long-lived runner" wiring style and pkg/agent's single-pass
// run loop, generalized here from one LLM call per invocation to one
// fresh Kernel per cycle with a shared VFS/task queue/LTM across cycles.
package autonomous

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kadirpekel/agentkernel/pkg/agentprofile"
	"github.com/kadirpekel/agentkernel/pkg/eventlog"
	"github.com/kadirpekel/agentkernel/pkg/httpclient"
	"github.com/kadirpekel/agentkernel/pkg/kernel"
	"github.com/kadirpekel/agentkernel/pkg/ltm"
	"github.com/kadirpekel/agentkernel/pkg/provider"
	"github.com/kadirpekel/agentkernel/pkg/session"
	"github.com/kadirpekel/agentkernel/pkg/summarizer"
	"github.com/kadirpekel/agentkernel/pkg/task"
	"github.com/kadirpekel/agentkernel/pkg/tool"
	"github.com/kadirpekel/agentkernel/pkg/vfs"
	"github.com/kadirpekel/agentkernel/pkg/workingmemory"
)

// Config is the runner's static configuration (spec §4.11 "config").
type Config struct {
	MaxCycles       int
	WrapUpThreshold float64
	AgentPath       string
	MissionPrompt   string
	KernelConfig    kernel.KernelConfig
}

// Deps are the stores the runner carries across every cycle (spec §4.11
// "deps"). LTM and TaskQueue persist across cycles; the session store is
// cleared at the end of each one.
type Deps struct {
	Provider      provider.AIProvider
	TaskQueue     *task.Queue
	VFS           *vfs.VFS
	Profiles      *agentprofile.Registry
	EventLog      *eventlog.Log
	SessionStore  *session.Store
	WorkingMemory *workingmemory.Store
	LTM           *ltm.Store
	Registry      *tool.Registry
	HTTPClient    *httpclient.Client
	APIKey        string

	// SummarizeFn/ConsolidateFn back the post-cycle summarization step
	// (spec §4.11 step 8). Both nil disables it outright even when
	// KernelConfig.MemoryEnabled and APIKey are set.
	SummarizeFn   summarizer.SummarizeFn
	ConsolidateFn summarizer.ConsolidateFn
}

// Progress is one status update emitted to every registered listener.
type Progress struct {
	Cycle     int
	MaxCycles int
	Status    string
}

// Listener receives progress updates as the runner advances.
type Listener func(Progress)

// Runner is the AutonomousRunner (spec §4.11): config/deps plus the
// currently-running cycle's kernel and cumulative counters.
type Runner struct {
	mu sync.Mutex

	config Config
	deps   Deps

	currentKernel        *kernel.Kernel
	currentCycle         int
	totalTokensAllCycles int
	stopped              bool

	listeners []Listener
}

// New creates a Runner from cfg and deps.
func New(cfg Config, deps Deps) *Runner {
	return &Runner{config: cfg, deps: deps}
}

// Subscribe registers a progress listener.
func (r *Runner) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Runner) emit(p Progress) {
	r.mu.Lock()
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		l(p)
	}
}

// TotalTokens returns the cumulative token count across every cycle run
// so far.
func (r *Runner) TotalTokens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalTokensAllCycles
}

// CurrentCycle returns the 1-indexed cycle currently running, or the last
// one run if the runner is idle.
func (r *Runner) CurrentCycle() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentCycle
}

// Stop requests the runner halt before starting its next cycle (spec
// §4.11 "stop/pause/resume delegate to the active kernel").
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	k := r.currentKernel
	r.mu.Unlock()
	if k != nil {
		k.KillAll()
	}
}

// Pause delegates to the currently active kernel, if any.
func (r *Runner) Pause() {
	r.mu.Lock()
	k := r.currentKernel
	r.mu.Unlock()
	if k != nil {
		k.Pause()
	}
}

// Resume delegates to the currently active kernel, if any.
func (r *Runner) Resume() {
	r.mu.Lock()
	k := r.currentKernel
	r.mu.Unlock()
	if k != nil {
		k.Resume()
	}
}

// Run executes spec §4.11's run(): clear the task queue, then drive up to
// MaxCycles cycles, each against a fresh Kernel sharing VFS/LTM/task-queue
// state with the last.
func (r *Runner) Run(ctx context.Context) {
	r.deps.TaskQueue.Clear()

	for cycle := 1; cycle <= r.config.MaxCycles; cycle++ {
		r.emit(Progress{Cycle: cycle, MaxCycles: r.config.MaxCycles, Status: "starting"})

		r.mu.Lock()
		stopped := r.stopped
		r.mu.Unlock()
		if stopped {
			break
		}

		r.mu.Lock()
		r.currentCycle = cycle
		r.mu.Unlock()

		r.runCycle(ctx, cycle)

		r.emit(Progress{Cycle: cycle, MaxCycles: r.config.MaxCycles, Status: "completed"})
	}
}

func (r *Runner) runCycle(ctx context.Context, cycle int) {
	input := r.buildCycleInput(cycle)

	cfg := r.config.KernelConfig
	cfg.WrapUpThreshold = r.config.WrapUpThreshold

	k := kernel.New(cfg, kernel.Deps{
		Provider:      r.deps.Provider,
		VFS:           r.deps.VFS,
		EventLog:      r.deps.EventLog,
		SessionStore:  r.deps.SessionStore,
		WorkingMemory: r.deps.WorkingMemory,
		LTM:           r.deps.LTM,
		Tasks:         r.deps.TaskQueue,
		Profiles:      r.deps.Profiles,
		Registry:      r.deps.Registry,
		HTTPClient:    r.deps.HTTPClient,
		APIKey:        r.deps.APIKey,
		WrapUpHook:    r.wrapUpHook,
	})

	r.mu.Lock()
	r.currentKernel = k
	r.mu.Unlock()

	k.Enqueue(kernel.EnqueueInput{AgentID: r.config.AgentPath, Input: input, SpawnDepth: 0, Priority: 0})
	k.RunUntilEmpty(ctx)

	r.mu.Lock()
	r.totalTokensAllCycles += k.TotalTokens()
	r.mu.Unlock()

	r.summarizeCycle(ctx, k)

	r.deps.SessionStore.Clear()
}

// wrapUpHook is the budget-warning callback spec §4.11 step 4 describes:
// inject a wrap-up user message once per session, the same built-in
// behavior kernel.Kernel falls back to when no hook is configured — named
// explicitly here so the autonomous runner's intent reads the same way in
// both places.
func (r *Runner) wrapUpHook(s *session.Session) {
	s.AppendHistory(session.NewUserMessage(
		"You are approaching this cycle's token budget. Wrap up your current task, update the " +
			"task queue with your progress, and leave the workspace in a state the next cycle can continue from.",
	))
}

// buildCycleInput composes spec §4.11 step 3's per-cycle prompt: the
// mission, a continuation hint after the first cycle, and the current
// task queue snapshot.
func (r *Runner) buildCycleInput(cycle int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mission: %s\n\nCycle %d of %d.\n", r.config.MissionPrompt, cycle, r.config.MaxCycles)

	if cycle > 1 {
		b.WriteString("\nThis is a continuation of previous cycles. Review the task queue below and the " +
			"workspace's existing files before deciding what to do next.\n")
	}

	items := r.deps.TaskQueue.List()
	b.WriteString("\n## Task Queue\n")
	if len(items) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, it := range items {
		fmt.Fprintf(&b, "- [%s] %s (priority %d): %s %s\n", it.Status, it.ID, it.Priority, it.Description, it.Notes)
	}
	b.WriteString("\nUse task_queue_read/task_queue_write to track and update work across cycles.\n")

	return b.String()
}

// summarizeCycle runs spec §4.11 step 8's post-cycle summarization,
// best-effort: it requires memory to be enabled, an API key to be
// present, and summarizeFn to be configured.
func (r *Runner) summarizeCycle(ctx context.Context, k *kernel.Kernel) {
	if !r.config.KernelConfig.MemoryEnabled || r.deps.APIKey == "" || r.deps.SummarizeFn == nil {
		return
	}

	snap := k.WorkingMemorySnapshot()
	summarizer.Run(ctx, summarizer.Input{
		RunID:         snap.RunID,
		WorkingMemory: snap.Entries,
		Sessions:      k.CompletedSessions(),
		VFS:           r.deps.VFS,
		LTM:           r.deps.LTM,
		SummarizeFn:   r.deps.SummarizeFn,
		ConsolidateFn: r.deps.ConsolidateFn,
	})
}
