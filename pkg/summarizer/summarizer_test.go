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

package summarizer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentkernel/pkg/ltm"
	"github.com/kadirpekel/agentkernel/pkg/session"
	"github.com/kadirpekel/agentkernel/pkg/vectorstore"
	"github.com/kadirpekel/agentkernel/pkg/vfs"
	"github.com/kadirpekel/agentkernel/pkg/workingmemory"
)

func TestClassifyTierBoundaries(t *testing.T) {
	tier, _ := classifyTier(nil)
	assert.Equal(t, TierGenerous, tier)

	big := make([]ltm.Memory, 0, 20000)
	for i := 0; i < 20000; i++ {
		big = append(big, ltm.Memory{ID: "x", Content: "0123456789012345678901234567890123456789012345678901234567890123456789"})
	}
	tier, pct := classifyTier(big)
	assert.Equal(t, TierHeavyCut, tier)
	assert.Greater(t, pct, 0.50)
}

func TestBuildContextExcludesAgentsAndMemoryFile(t *testing.T) {
	fs := vfs.New()
	fs.Write("agents/researcher.md", "should be excluded", vfs.WriteMeta{})
	fs.Write(memoryFilePath, "should be excluded too", vfs.WriteMeta{})
	fs.Write("notes/findings.md", "the bug is in parser.go", vfs.WriteMeta{})

	ctx := BuildContext(fs, nil, nil)
	assert.Contains(t, ctx, "notes/findings.md")
	assert.Contains(t, ctx, "the bug is in parser.go")
	assert.NotContains(t, ctx, "agents/researcher.md")
	assert.NotContains(t, ctx, "should be excluded too")
}

func TestBuildContextIncludesWorkingMemoryAndTruncatedHistory(t *testing.T) {
	entries := []workingmemory.Entry{
		{Key: "finding", Value: "root cause located", Tags: []string{"bug"}},
	}
	s := &session.Session{AgentID: "agents/a.md", ActivationID: "act-1", Status: session.StatusCompleted}
	for i := 0; i < 25; i++ {
		s.AppendHistory(session.NewUserMessage("turn"))
	}

	ctx := BuildContext(vfs.New(), entries, []*session.Session{s})
	assert.Contains(t, ctx, "root cause located")
	assert.Contains(t, ctx, "agents/a.md / act-1")
}

func TestRunNoSummarizeFnIsNoop(t *testing.T) {
	store := ltm.New(nil)
	Run(context.Background(), Input{LTM: store, VFS: vfs.New()})
	assert.Empty(t, store.All())
}

func TestRunAddsAllVerbatimWhenNoConsolidateFn(t *testing.T) {
	store := ltm.New(nil)
	sessions := []*session.Session{{AgentID: "agents/a.md", Status: session.StatusCompleted}}

	Run(context.Background(), Input{
		RunID:    "run-1",
		LTM:      store,
		VFS:      vfs.New(),
		Sessions: sessions,
		SummarizeFn: func(ctx context.Context, runContext string) ([]ExtractedMemory, error) {
			return []ExtractedMemory{
				{Type: vectorstore.TypeFact, Content: "learned something"},
			}, nil
		},
	})

	all := store.All()
	require.Len(t, all, 1)
	assert.Equal(t, "learned something", all[0].Content)
	assert.Equal(t, "agents/a.md", all[0].AgentID)
}

func TestRunFallsBackToVerbatimWhenConsolidateFnErrors(t *testing.T) {
	store := ltm.New(nil)

	Run(context.Background(), Input{
		LTM: store,
		VFS: vfs.New(),
		SummarizeFn: func(ctx context.Context, runContext string) ([]ExtractedMemory, error) {
			return []ExtractedMemory{{Type: vectorstore.TypeFact, Content: "fact"}}, nil
		},
		ConsolidateFn: func(ctx context.Context, prompt string) (ConsolidateResult, error) {
			return ConsolidateResult{}, errors.New("boom")
		},
	})

	assert.Len(t, store.All(), 1)
}

func TestRunAppliesConsolidationOperations(t *testing.T) {
	store := ltm.New(nil)
	existing, err := store.Store(context.Background(), ltm.StoreInput{AgentID: "agents/a.md", Type: vectorstore.TypeFact, Content: "stale"})
	require.NoError(t, err)

	Run(context.Background(), Input{
		LTM: store,
		VFS: vfs.New(),
		SummarizeFn: func(ctx context.Context, runContext string) ([]ExtractedMemory, error) {
			return []ExtractedMemory{
				{Type: vectorstore.TypeFact, Content: "fresh fact"},
				{Type: vectorstore.TypeMistake, Content: "skip me"},
			}, nil
		},
		ConsolidateFn: func(ctx context.Context, prompt string) (ConsolidateResult, error) {
			assert.Contains(t, prompt, "Capacity tier")
			return ConsolidateResult{Operations: []Operation{
				{Kind: OpDelete, ID: existing.ID},
				{Kind: OpAdd, Index: 0},
				{Kind: OpSkip, Index: 1},
			}}, nil
		},
	})

	all := store.All()
	require.Len(t, all, 1)
	assert.Equal(t, "fresh fact", all[0].Content)
}

func TestRunSwallowsSummarizeFnError(t *testing.T) {
	store := ltm.New(nil)
	Run(context.Background(), Input{
		LTM: store,
		VFS: vfs.New(),
		SummarizeFn: func(ctx context.Context, runContext string) ([]ExtractedMemory, error) {
			return nil, errors.New("provider unavailable")
		},
	})
	assert.Empty(t, store.All())
}

func TestChooseAgentIDFallsBackToGlobalOnMixedAgents(t *testing.T) {
	sessions := []*session.Session{
		{AgentID: "agents/a.md"},
		{AgentID: "agents/b.md"},
	}
	assert.Equal(t, vectorstore.GlobalAgentID, chooseAgentID(sessions))

	same := []*session.Session{{AgentID: "agents/a.md"}, {AgentID: "agents/a.md"}}
	assert.Equal(t, "agents/a.md", chooseAgentID(same))
}
