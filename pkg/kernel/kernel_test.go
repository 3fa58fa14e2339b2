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

package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentkernel/pkg/agentprofile"
	"github.com/kadirpekel/agentkernel/pkg/eventlog"
	"github.com/kadirpekel/agentkernel/pkg/ltm"
	"github.com/kadirpekel/agentkernel/pkg/policy"
	"github.com/kadirpekel/agentkernel/pkg/provider"
	"github.com/kadirpekel/agentkernel/pkg/session"
	"github.com/kadirpekel/agentkernel/pkg/task"
	"github.com/kadirpekel/agentkernel/pkg/tool"
	"github.com/kadirpekel/agentkernel/pkg/vfs"
	"github.com/kadirpekel/agentkernel/pkg/workingmemory"
)

type testHarness struct {
	kernel   *Kernel
	scripted *provider.Scripted
	profiles *agentprofile.Registry
}

func newHarness(t *testing.T, cfg KernelConfig) *testHarness {
	t.Helper()
	fs := vfs.New()
	scripted := provider.NewScripted()
	profiles := agentprofile.NewRegistry()

	k := New(cfg, Deps{
		Provider:      scripted,
		VFS:           fs,
		EventLog:      eventlog.New(fs),
		SessionStore:  session.NewStore(),
		WorkingMemory: workingmemory.New(),
		LTM:           ltm.New(nil),
		Tasks:         task.NewQueue(),
		Profiles:      profiles,
		Registry:      tool.New(),
	})
	return &testHarness{kernel: k, scripted: scripted, profiles: profiles}
}

func (h *testHarness) registerAgent(path string, p policy.Policy) {
	h.profiles.Register(&agentprofile.Profile{ID: path, Path: path, Name: path, Policy: p})
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.FailNow(t, "condition not met before timeout")
}

// S1: single-agent completion.
func TestSingleAgentActivationCompletes(t *testing.T) {
	h := newHarness(t, KernelConfig{MaxConcurrency: 1})
	h.registerAgent("agents/a.md", policy.Policy{Mode: policy.ModeSafe})
	h.scripted.SetScript("agents/a.md", provider.Script{
		{Chunks: []provider.StreamChunk{provider.Text("all done"), provider.Done(7)}},
	})

	h.kernel.Enqueue(EnqueueInput{AgentID: "agents/a.md", Input: "do the thing"})
	h.kernel.RunUntilEmpty(context.Background())

	completed := h.kernel.CompletedSessions()
	require.Len(t, completed, 1)
	assert.Equal(t, session.StatusCompleted, completed[0].Status)
	assert.Equal(t, 7, h.kernel.TotalTokens())
}

// S2: concurrency bound — |activeSessions| never exceeds MaxConcurrency.
func TestConcurrencyBoundRespected(t *testing.T) {
	h := newHarness(t, KernelConfig{MaxConcurrency: 2})
	for _, path := range []string{"agents/a.md", "agents/b.md", "agents/c.md"} {
		h.registerAgent(path, policy.Policy{Mode: policy.ModeSafe})
		h.scripted.SetScript(path, provider.Script{
			{Chunks: []provider.StreamChunk{provider.Done(1)}, Delay: map[provider.ChunkType]time.Duration{provider.ChunkDone: 30 * time.Millisecond}},
		})
	}

	for _, path := range []string{"agents/a.md", "agents/b.md", "agents/c.md"} {
		h.kernel.Enqueue(EnqueueInput{AgentID: path, Input: "go"})
	}

	waitUntil(t, time.Second, func() bool { return h.kernel.ActiveSessionCount() > 0 })
	assert.LessOrEqual(t, h.kernel.ActiveSessionCount(), 2)

	h.kernel.RunUntilEmpty(context.Background())
	assert.Len(t, h.kernel.CompletedSessions(), 3)
}

// S5: loop detection — the same agent+input combination is only ever run once.
func TestDuplicateActivationSkippedAsLoop(t *testing.T) {
	h := newHarness(t, KernelConfig{MaxConcurrency: 1})
	h.registerAgent("agents/a.md", policy.Policy{Mode: policy.ModeSafe})
	h.scripted.SetScript("agents/a.md", provider.Script{
		{Chunks: []provider.StreamChunk{provider.Done(1)}},
	})

	h.kernel.Enqueue(EnqueueInput{AgentID: "agents/a.md", Input: "same input"})
	h.kernel.Enqueue(EnqueueInput{AgentID: "agents/a.md", Input: "same input"})
	h.kernel.RunUntilEmpty(context.Background())

	assert.Len(t, h.kernel.CompletedSessions(), 1)
	assert.Equal(t, 1, h.scripted.CallCount())
}

// S4: quota halt — a quota-shaped provider error pauses the scheduler and
// aborts other active sessions, leaving the triggering one to finish.
func TestQuotaErrorHaltsScheduler(t *testing.T) {
	h := newHarness(t, KernelConfig{MaxConcurrency: 2})
	h.registerAgent("agents/a.md", policy.Policy{Mode: policy.ModeSafe})
	h.registerAgent("agents/b.md", policy.Policy{Mode: policy.ModeSafe})

	h.scripted.SetScript("agents/a.md", provider.Script{
		{Chunks: []provider.StreamChunk{provider.Err(assertError("rate limit exceeded"))}},
	})
	h.scripted.SetScript("agents/b.md", provider.Script{
		{Chunks: []provider.StreamChunk{provider.Done(1)}, Delay: map[provider.ChunkType]time.Duration{provider.ChunkDone: 200 * time.Millisecond}},
	})

	h.kernel.Enqueue(EnqueueInput{AgentID: "agents/a.md", Input: "boom"})
	h.kernel.Enqueue(EnqueueInput{AgentID: "agents/b.md", Input: "slow"})

	waitUntil(t, time.Second, func() bool { return h.kernel.Paused() })
	assert.True(t, h.kernel.Paused())
}

// Tool-call/event-log pairing: every dispatched tool call appends exactly
// one ToolCallRecord and one Tool message to session history.
func TestToolCallRecordedInHistoryAndToolCalls(t *testing.T) {
	h := newHarness(t, KernelConfig{MaxConcurrency: 1})
	h.registerAgent("agents/a.md", policy.Policy{Mode: policy.ModeSafe, Writes: []string{"artifacts/**"}})
	h.scripted.SetScript("agents/a.md", provider.Script{
		{Chunks: []provider.StreamChunk{
			provider.ToolCallChunk("call-1", "vfs_write", map[string]any{"path": "artifacts/out.txt", "content": "hi"}),
			provider.Done(2),
		}},
		{Chunks: []provider.StreamChunk{provider.Text("wrote the file"), provider.Done(1)}},
	})

	h.kernel.Enqueue(EnqueueInput{AgentID: "agents/a.md", Input: "write a file"})
	h.kernel.RunUntilEmpty(context.Background())

	completed := h.kernel.CompletedSessions()
	require.Len(t, completed, 1)
	sess := completed[0]
	require.Len(t, sess.ToolCalls, 1)
	assert.Equal(t, "vfs_write", sess.ToolCalls[0].Name)

	toolMsgs := 0
	for _, m := range sess.HistorySnapshot() {
		if m.Kind == session.MessageTool {
			toolMsgs++
		}
	}
	assert.Equal(t, 1, toolMsgs)
}

// Policy gating: a write outside the agent's declared scope is blocked and
// recorded as a failing tool call, not as a session error.
func TestPolicyBlocksWriteOutsideScope(t *testing.T) {
	h := newHarness(t, KernelConfig{MaxConcurrency: 1, AutoRecordFailures: true})
	h.registerAgent("agents/a.md", policy.Policy{Mode: policy.ModeSafe, Writes: []string{"artifacts/**"}})
	h.scripted.SetScript("agents/a.md", provider.Script{
		{Chunks: []provider.StreamChunk{
			provider.ToolCallChunk("call-1", "vfs_write", map[string]any{"path": "secrets/out.txt", "content": "hi"}),
			provider.Done(1),
		}},
		{Chunks: []provider.StreamChunk{provider.Done(1)}},
	})

	h.kernel.Enqueue(EnqueueInput{AgentID: "agents/a.md", Input: "try to escape scope"})
	h.kernel.RunUntilEmpty(context.Background())

	completed := h.kernel.CompletedSessions()
	require.Len(t, completed, 1)
	assert.Equal(t, session.StatusCompleted, completed[0].Status)
	require.Len(t, completed[0].ToolCalls, 1)
	assert.Contains(t, completed[0].ToolCalls[0].Result, "blocked")
}

// Depth/fanout limits: spawning beyond maxDepth is rejected by the tool
// handler, not by the kernel crashing.
func TestSpawnAgentRespectsMaxDepth(t *testing.T) {
	h := newHarness(t, KernelConfig{MaxConcurrency: 2, MaxDepth: 1})
	h.registerAgent("agents/parent.md", policy.Policy{Mode: policy.ModeSafe, Permissions: policy.Permissions{SpawnAgents: true}})
	h.registerAgent("agents/child.md", policy.Policy{Mode: policy.ModeSafe})

	h.scripted.SetScript("agents/parent.md", provider.Script{
		{Chunks: []provider.StreamChunk{
			provider.ToolCallChunk("call-1", "spawn_agent", map[string]any{"agentId": "agents/child.md", "input": "go"}),
			provider.Done(1),
		}},
		{Chunks: []provider.StreamChunk{provider.Done(1)}},
	})

	act := h.kernel.Enqueue(EnqueueInput{AgentID: "agents/parent.md", Input: "spawn", SpawnDepth: 1})
	_ = act
	h.kernel.RunUntilEmpty(context.Background())

	completed := h.kernel.CompletedSessions()
	require.Len(t, completed, 1)
	require.Len(t, completed[0].ToolCalls, 1)
	assert.Contains(t, completed[0].ToolCalls[0].Result, "depth")
}

// Token accounting: totalTokens sums every Done chunk's token count across
// every session, active or completed.
func TestTotalTokensAccumulatesAcrossSessions(t *testing.T) {
	h := newHarness(t, KernelConfig{MaxConcurrency: 2})
	h.registerAgent("agents/a.md", policy.Policy{Mode: policy.ModeSafe})
	h.registerAgent("agents/b.md", policy.Policy{Mode: policy.ModeSafe})
	h.scripted.SetScript("agents/a.md", provider.Script{{Chunks: []provider.StreamChunk{provider.Done(4)}}})
	h.scripted.SetScript("agents/b.md", provider.Script{{Chunks: []provider.StreamChunk{provider.Done(6)}}})

	h.kernel.Enqueue(EnqueueInput{AgentID: "agents/a.md", Input: "x"})
	h.kernel.Enqueue(EnqueueInput{AgentID: "agents/b.md", Input: "y"})
	h.kernel.RunUntilEmpty(context.Background())

	assert.Equal(t, 10, h.kernel.TotalTokens())
}

// RunSessionAndReturn bypasses the semaphore and returns concatenated model
// text, for synchronous subagent-style calls from a tool handler.
func TestRunSessionAndReturnBypassesSemaphore(t *testing.T) {
	h := newHarness(t, KernelConfig{MaxConcurrency: 1})
	h.registerAgent("agents/a.md", policy.Policy{Mode: policy.ModeSafe})
	h.scripted.SetScript("agents/a.md", provider.Script{
		{Chunks: []provider.StreamChunk{provider.Text("the answer is 42"), provider.Done(1)}},
	})

	out := h.kernel.RunSessionAndReturn(EnqueueInput{AgentID: "agents/a.md", Input: "what is the answer"})
	assert.Equal(t, "the answer is 42", out)
}

func TestResolveModelPrecedence(t *testing.T) {
	assert.Equal(t, "from-config", resolveModel("from-config", "from-profile"))
	assert.Equal(t, "from-profile", resolveModel("", "from-profile"))
	assert.Equal(t, DefaultModel, resolveModel("", ""))
}

func TestKillAllResetsHaltFlagsAndQueue(t *testing.T) {
	h := newHarness(t, KernelConfig{MaxConcurrency: 1, TokenBudget: 1})
	h.registerAgent("agents/a.md", policy.Policy{Mode: policy.ModeSafe})
	h.scripted.SetScript("agents/a.md", provider.Script{{Chunks: []provider.StreamChunk{provider.Done(5)}}})
	h.kernel.Enqueue(EnqueueInput{AgentID: "agents/a.md", Input: "x"})
	h.kernel.RunUntilEmpty(context.Background())

	h.kernel.Enqueue(EnqueueInput{AgentID: "agents/a.md", Input: "y"})
	waitUntil(t, time.Second, func() bool { return h.kernel.Paused() })

	h.kernel.KillAll()
	assert.False(t, h.kernel.Paused())
	assert.Equal(t, 0, h.kernel.QueueLength())
}

// assertError is a tiny helper to build an error from a plain string
// without importing errors in every test file that needs one.
func assertError(msg string) error { return errString(msg) }

type errString string

func (e errString) Error() string { return string(e) }
