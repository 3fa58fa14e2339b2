package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func basicPolicy() Policy {
	return Policy{
		Mode:   ModeBalanced,
		Reads:  []string{"artifacts/**", "memory/"},
		Writes: []string{"artifacts/**"},
		Permissions: Permissions{
			SpawnAgents: true,
		},
	}
}

func TestResolveNoTrigger(t *testing.T) {
	p := basicPolicy()
	res := Resolve(p, "please write a report")
	assert.False(t, res.Escalated)
	assert.Equal(t, ModeBalanced, res.Policy.Mode)
}

func TestResolveTriggerEscalates(t *testing.T) {
	p := basicPolicy()
	p.GlovesOffTriggers = []string{"UNSAFE MODE"}
	res := Resolve(p, "please enter unsafe mode now")
	assert.True(t, res.Escalated)
	assert.Equal(t, ModeGlovesOff, res.Policy.Mode)
	assert.Equal(t, "UNSAFE MODE", res.Trigger)
}

func TestGlovesOffBypassesAllChecks(t *testing.T) {
	p := basicPolicy()
	p.Mode = ModeGlovesOff
	p.BlockedTools = map[string]bool{"vfs_write": true}
	msg := Check(p, ToolCheck{ToolName: "vfs_write", Path: "secret/x.md"})
	assert.Empty(t, msg)
}

func TestBlockedToolShortCircuits(t *testing.T) {
	p := basicPolicy()
	p.BlockedTools = map[string]bool{"web_fetch": true}
	p.Permissions.WebAccess = true
	msg := Check(p, ToolCheck{ToolName: "web_fetch"})
	assert.Contains(t, msg, "blocked")
}

func TestAllowlistRejectsUnlisted(t *testing.T) {
	p := basicPolicy()
	p.AllowedTools = map[string]bool{"vfs_read": true}
	msg := Check(p, ToolCheck{ToolName: "vfs_write", Path: "artifacts/a.md"})
	assert.Contains(t, msg, "allowed tool list")
}

func TestCustomToolRequiresPermission(t *testing.T) {
	p := basicPolicy()
	msg := Check(p, ToolCheck{ToolName: "fancy_tool", IsCustom: true})
	assert.Contains(t, msg, "customTools")
}

func TestSpawnAgentRequiresPermission(t *testing.T) {
	p := basicPolicy()
	p.Permissions.SpawnAgents = false
	msg := Check(p, ToolCheck{ToolName: "spawn_agent"})
	assert.Contains(t, msg, "permission")
}

func TestVFSWriteUnderAgentsRequiresEditAgents(t *testing.T) {
	p := basicPolicy()
	p.Writes = []string{"**"}
	msg := Check(p, ToolCheck{ToolName: "vfs_write", Path: "agents/child.md"})
	assert.Contains(t, msg, "editAgents")
}

func TestVFSReadRequiresGlobMatch(t *testing.T) {
	p := basicPolicy()
	assert.Empty(t, Check(p, ToolCheck{ToolName: "vfs_read", Path: "artifacts/report.md"}))
	assert.Contains(t, Check(p, ToolCheck{ToolName: "vfs_read", Path: "secret/x.md"}), "read pattern")
}

func TestVFSReadEmptyPathBypasses(t *testing.T) {
	p := basicPolicy()
	p.Reads = nil
	assert.Empty(t, Check(p, ToolCheck{ToolName: "vfs_read", Path: ""}))
}

func TestVFSListPrefixOverlap(t *testing.T) {
	p := basicPolicy()
	assert.Empty(t, Check(p, ToolCheck{ToolName: "vfs_list", Path: "artifacts"}))
	assert.Empty(t, Check(p, ToolCheck{ToolName: "vfs_list", Path: "artifacts/sub"}))
	assert.Contains(t, Check(p, ToolCheck{ToolName: "vfs_list", Path: "other"}), "overlap")
}

func TestVFSWriteRequiresWritesGlob(t *testing.T) {
	p := basicPolicy()
	assert.Empty(t, Check(p, ToolCheck{ToolName: "vfs_write", Path: "artifacts/a.md"}))
	assert.Contains(t, Check(p, ToolCheck{ToolName: "vfs_write", Path: "other/a.md"}), "write pattern")
}

func TestGlobMatchDoubleStarTrailingSlash(t *testing.T) {
	assert.True(t, MatchAny([]string{"memory/"}, "memory/long-term/x.json"))
	assert.True(t, MatchAny([]string{"artifacts/**"}, "artifacts/a/b/c.md"))
	assert.False(t, MatchAny([]string{"artifacts/*"}, "artifacts/a/b.md"))
	assert.True(t, MatchAny([]string{"artifacts/*"}, "artifacts/b.md"))
}
