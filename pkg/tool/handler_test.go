package tool

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentkernel/pkg/eventlog"
	"github.com/kadirpekel/agentkernel/pkg/ltm"
	"github.com/kadirpekel/agentkernel/pkg/policy"
	"github.com/kadirpekel/agentkernel/pkg/vfs"
	"github.com/kadirpekel/agentkernel/pkg/workingmemory"
)

func newTestContext(t *testing.T, p policy.Policy) *Context {
	t.Helper()
	v := vfs.New()
	wm := workingmemory.New()
	wm.InitRun("test-run")
	return &Context{
		AgentID:       "agents/a.md",
		ActivationID:  "act-1",
		MaxDepth:      5,
		MaxFanout:     5,
		VFS:           v,
		EventLog:      eventlog.New(v),
		WorkingMemory: wm,
		LTM:           ltm.New(nil),
		Policy:        p,
	}
}

func allowAllPolicy() policy.Policy {
	return policy.Policy{
		Mode: policy.ModeGlovesOff,
	}
}

func TestHandleVfsWriteThenRead(t *testing.T) {
	tc := newTestContext(t, allowAllPolicy())
	h := NewHandler(New(), tc)
	ctx := context.Background()

	res := h.Handle(ctx, "call-1", "vfs_write", map[string]any{"path": "artifacts/out.txt", "content": "hello"})
	assert.Contains(t, res, "wrote")

	res = h.Handle(ctx, "call-2", "vfs_read", map[string]any{"path": "artifacts/out.txt"})
	assert.Equal(t, "hello", res)
}

func TestHandlePolicyBlocksWriteOutsideScope(t *testing.T) {
	p := policy.Policy{Mode: policy.ModeSafe, Writes: []string{"artifacts/*"}}
	tc := newTestContext(t, p)
	h := NewHandler(New(), tc)

	res := h.Handle(context.Background(), "call-1", "vfs_write", map[string]any{"path": "memory/secret.txt", "content": "x"})
	assert.Contains(t, res, "policy blocked")
	assert.False(t, tc.VFS.Exists("memory/secret.txt"))
}

func TestHandleUnknownTool(t *testing.T) {
	tc := newTestContext(t, allowAllPolicy())
	h := NewHandler(New(), tc)

	res := h.Handle(context.Background(), "call-1", "does_not_exist", map[string]any{})
	assert.Contains(t, res, "unknown tool")
	assert.Contains(t, res, "vfs_read")
}

func TestHandleTruncatesResultTo500Chars(t *testing.T) {
	tc := newTestContext(t, allowAllPolicy())
	h := NewHandler(New(), tc)

	long := strings.Repeat("x", 1000)
	h.Handle(context.Background(), "call-1", "vfs_write", map[string]any{"path": "artifacts/big.txt", "content": long})
	h.Handle(context.Background(), "call-2", "vfs_read", map[string]any{"path": "artifacts/big.txt"})

	entries := tc.EventLog.Entries()
	var toolResult map[string]any
	for _, e := range entries {
		if e.Type == eventlog.TypeToolResult {
			toolResult = e.Data
		}
	}
	require.NotNil(t, toolResult)
	assert.LessOrEqual(t, len(toolResult["result"].(string)), resultTraceLimit)
}

func TestSpawnAgentDepthLimit(t *testing.T) {
	tc := newTestContext(t, allowAllPolicy())
	tc.SpawnDepth = 5
	tc.MaxDepth = 5
	h := NewHandler(New(), tc)

	res := h.Handle(context.Background(), "call-1", "spawn_agent", map[string]any{"agentId": "agents/child.md", "input": "go"})
	assert.Contains(t, res, "depth limit")
}

func TestSpawnAgentFanoutLimit(t *testing.T) {
	tc := newTestContext(t, allowAllPolicy())
	tc.MaxFanout = 1
	tc.ChildCount = func(string) uint32 { return 1 }
	h := NewHandler(New(), tc)

	res := h.Handle(context.Background(), "call-1", "spawn_agent", map[string]any{"agentId": "agents/child.md", "input": "go"})
	assert.Contains(t, res, "fanout limit")
}

func TestSpawnAgentEnqueuesChild(t *testing.T) {
	tc := newTestContext(t, allowAllPolicy())
	var captured EnqueueRequest
	tc.Enqueue = func(req EnqueueRequest) { captured = req }
	h := NewHandler(New(), tc)

	res := h.Handle(context.Background(), "call-1", "spawn_agent", map[string]any{"agentId": "agents/child.md", "input": "go build it"})
	assert.Contains(t, res, "spawned")
	assert.Equal(t, "agents/child.md", captured.AgentID)
	assert.Equal(t, uint32(1), captured.SpawnDepth)
	assert.Equal(t, int32(1), captured.Priority)
}

func TestSignalParentRootAgentErrors(t *testing.T) {
	tc := newTestContext(t, allowAllPolicy())
	h := NewHandler(New(), tc)

	res := h.Handle(context.Background(), "call-1", "signal_parent", map[string]any{"message": "help"})
	assert.Contains(t, res, "root agent")
}

func TestSignalParentEnqueuesWrappedMessage(t *testing.T) {
	tc := newTestContext(t, allowAllPolicy())
	tc.ParentID = "agents/parent.md"
	tc.SpawnDepth = 2
	var captured EnqueueRequest
	tc.Enqueue = func(req EnqueueRequest) { captured = req }
	h := NewHandler(New(), tc)

	h.Handle(context.Background(), "call-1", "signal_parent", map[string]any{"message": "status update"})
	assert.Equal(t, "agents/parent.md", captured.AgentID)
	assert.Equal(t, "[Signal from agents/a.md]: status update", captured.Input)
	assert.Equal(t, uint32(1), captured.SpawnDepth)
	assert.Equal(t, int32(0), captured.Priority)
}

func TestMemoryWriteThenRead(t *testing.T) {
	tc := newTestContext(t, allowAllPolicy())
	h := NewHandler(New(), tc)
	ctx := context.Background()

	res := h.Handle(ctx, "call-1", "memory_write", map[string]any{"type": "Fact", "content": "deploy via pipeline", "tags": []any{"deploy"}})
	assert.Contains(t, res, "stored memory")

	res = h.Handle(ctx, "call-2", "memory_read", map[string]any{"query": "deploy"})
	assert.Contains(t, res, "deploy via pipeline")
}

func TestPublishSubscribe(t *testing.T) {
	tc := newTestContext(t, allowAllPolicy())
	h := NewHandler(New(), tc)
	ctx := context.Background()

	h.Handle(ctx, "call-1", "publish", map[string]any{"topic": "status", "value": "build green"})
	res := h.Handle(ctx, "call-2", "subscribe", map[string]any{"topic": "status"})
	assert.Contains(t, res, "build green")
}
