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

// Package summarizer implements the kernel's end-of-run extraction and
// consolidation into LongTermMemory (spec §4.10): a textual context is
// built from VFS, working memory, and completed session histories, an
// injected summarizeFn turns it into candidate memories, and an injected
// consolidateFn reconciles those candidates against existing LTM.
//
// Grounded on the teacher's pkg/memory.LLMSummarizer (summarizer.go):
// build a conversation transcript, fill a prompt template, call the model
// once, non-streaming. Here the "call the model" step is an injected
// function rather than a concrete model.LLM, since the spec treats
// summarizeFn/consolidateFn as caller-supplied hooks (ordinarily backed by
// a kernel.RunSessionAndReturn call against the same AIProvider).
package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/kadirpekel/agentkernel/pkg/ltm"
	"github.com/kadirpekel/agentkernel/pkg/session"
	"github.com/kadirpekel/agentkernel/pkg/vectorstore"
	"github.com/kadirpekel/agentkernel/pkg/vfs"
	"github.com/kadirpekel/agentkernel/pkg/workingmemory"
)

const (
	defaultHistoryEntries  = 20
	historyEntryCharCap    = 500
	memoryFilePath         = "memory/long-term-memory.json"
	capacityDivisor        = 1_000_000.0
)

// Tier classifies how much of the LTM capacity budget is already spent,
// named as the prompt embeds it so consolidateFn can calibrate how
// aggressively to prune (spec §4.10 step 4).
type Tier string

const (
	TierGenerous  Tier = "GENEROUS"
	TierSelective Tier = "SELECTIVE"
	TierHeavyCut  Tier = "HEAVY_CUT"
)

func classifyTier(existing []ltm.Memory) (Tier, float64) {
	encoded, _ := json.Marshal(existing)
	pct := math.Ceil(float64(len(encoded))/4) / capacityDivisor
	switch {
	case pct < 0.30:
		return TierGenerous, pct
	case pct <= 0.50:
		return TierSelective, pct
	default:
		return TierHeavyCut, pct
	}
}

// ExtractedMemory is one candidate memory produced by summarizeFn.
type ExtractedMemory struct {
	Type    vectorstore.MemoryType
	Content string
	Tags    []string
}

// SummarizeFn turns a built textual run context into candidate memories.
// An error means "return silently" (spec §7 SummarizerError).
type SummarizeFn func(ctx context.Context, runContext string) ([]ExtractedMemory, error)

// OpKind is one consolidation operation's verb.
type OpKind string

const (
	OpKeep   OpKind = "KEEP"
	OpUpdate OpKind = "UPDATE"
	OpDelete OpKind = "DELETE"
	OpAdd    OpKind = "ADD"
	OpSkip   OpKind = "SKIP"
)

// Operation is one entry of a consolidation plan (spec §4.10 step 4).
type Operation struct {
	Kind OpKind

	// UPDATE/DELETE
	ID string

	// UPDATE (nil leaves the field unchanged)
	Content *string
	Tags    []string

	// ADD
	Type vectorstore.MemoryType

	// ADD/SKIP: position in the candidate list
	Index int
}

// ConsolidateResult is consolidateFn's return value.
type ConsolidateResult struct {
	Operations []Operation
}

// ConsolidateFn reconciles candidate memories against the existing LTM set,
// given a prompt already listing both with the capacity tier embedded. An
// error means "fall back to adding all candidates verbatim" (spec §4.10
// step 4, §7 SummarizerError).
type ConsolidateFn func(ctx context.Context, prompt string) (ConsolidateResult, error)

// Input is one summarizer.Run call's arguments.
type Input struct {
	RunID         string
	WorkingMemory []workingmemory.Entry
	Sessions      []*session.Session

	VFS           *vfs.VFS
	LTM           *ltm.Store
	SummarizeFn   SummarizeFn
	ConsolidateFn ConsolidateFn // nil => add all candidates verbatim
}

// Run executes spec §4.10's end-of-run extraction and consolidation.
// Every failure mode is best-effort: summarizeFn/consolidateFn errors are
// swallowed (SummarizerError, spec §7) rather than propagated, since a
// failed summarization must never fail the run it summarizes.
func Run(ctx context.Context, in Input) {
	if in.SummarizeFn == nil {
		return
	}

	runContext := BuildContext(in.VFS, in.WorkingMemory, in.Sessions)

	candidates, err := in.SummarizeFn(ctx, runContext)
	if err != nil || len(candidates) == 0 {
		return
	}

	agentID := chooseAgentID(in.Sessions)

	if in.ConsolidateFn == nil {
		addAllVerbatim(ctx, in.LTM, agentID, in.RunID, candidates)
		return
	}

	existing := in.LTM.All()
	tier, pct := classifyTier(existing)
	prompt := buildConsolidationPrompt(tier, pct, existing, candidates)

	result, err := in.ConsolidateFn(ctx, prompt)
	if err != nil {
		addAllVerbatim(ctx, in.LTM, agentID, in.RunID, candidates)
		return
	}

	applyOperations(ctx, in.LTM, agentID, in.RunID, candidates, result.Operations)
}

func addAllVerbatim(ctx context.Context, store *ltm.Store, agentID, runID string, candidates []ExtractedMemory) {
	for _, c := range candidates {
		_, _ = store.Store(ctx, ltm.StoreInput{
			AgentID: agentID,
			Type:    c.Type,
			Content: c.Content,
			Tags:    c.Tags,
			RunID:   runID,
		})
	}
}

// applyOperations applies a consolidation plan in order (spec §4.10 step
// 4): ADD stores a new memory from the candidate list, UPDATE/DELETE act
// on an existing memory by id, KEEP/SKIP are no-ops.
func applyOperations(ctx context.Context, store *ltm.Store, agentID, runID string, candidates []ExtractedMemory, ops []Operation) {
	for _, op := range ops {
		switch op.Kind {
		case OpAdd:
			if op.Index < 0 || op.Index >= len(candidates) {
				continue
			}
			c := candidates[op.Index]
			if op.Type != "" {
				c.Type = op.Type
			}
			_, _ = store.Store(ctx, ltm.StoreInput{
				AgentID: agentID,
				Type:    c.Type,
				Content: c.Content,
				Tags:    c.Tags,
				RunID:   runID,
			})
		case OpUpdate:
			store.UpdateContent(op.ID, op.Content, op.Tags)
		case OpDelete:
			store.Delete(op.ID)
		case OpKeep, OpSkip:
			// no-ops.
		}
	}
}

func chooseAgentID(sessions []*session.Session) string {
	if len(sessions) == 0 {
		return vectorstore.GlobalAgentID
	}
	first := sessions[0].AgentID
	for _, s := range sessions[1:] {
		if s.AgentID != first {
			return vectorstore.GlobalAgentID
		}
	}
	return first
}

// BuildContext assembles the textual run summary spec §4.10 step 1
// describes: created files (excluding agent definitions and the LTM
// persistence file itself), working-memory bullets, and per-session
// histories grouped by agent+activation.
func BuildContext(fs *vfs.VFS, entries []workingmemory.Entry, sessions []*session.Session) string {
	var b strings.Builder

	b.WriteString("## Files Created This Run\n")
	for _, path := range fs.GetAllPaths() {
		if strings.HasPrefix(path, "agents/") || path == memoryFilePath {
			continue
		}
		content, ok := fs.Read(path)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "### %s\n%s\n\n", path, content)
	}

	b.WriteString("## Working Memory\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", strings.Join(e.Tags, ","), e.Key, e.Value)
	}
	b.WriteString("\n")

	b.WriteString("## Session Histories\n")
	byAgent := groupByAgent(sessions)
	for _, agentID := range sortedKeys(byAgent) {
		for _, sess := range byAgent[agentID] {
			fmt.Fprintf(&b, "### %s / %s\n", agentID, sess.ActivationID)
			history := sess.HistorySnapshot()
			start := 0
			if len(history) > defaultHistoryEntries {
				start = len(history) - defaultHistoryEntries
			}
			for _, m := range history[start:] {
				fmt.Fprintf(&b, "- [%s] %s\n", m.Kind, truncate(messageText(m), historyEntryCharCap))
			}
		}
	}

	return b.String()
}

func messageText(m session.Message) string {
	switch m.Kind {
	case session.MessageTool:
		return fmt.Sprintf("%s(%v) -> %s", m.ToolName, m.ToolArgs, m.ToolResult)
	default:
		return m.Content
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func groupByAgent(sessions []*session.Session) map[string][]*session.Session {
	out := make(map[string][]*session.Session)
	for _, s := range sessions {
		out[s.AgentID] = append(out[s.AgentID], s)
	}
	return out
}

func sortedKeys(m map[string][]*session.Session) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func buildConsolidationPrompt(tier Tier, pct float64, existing []ltm.Memory, candidates []ExtractedMemory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Capacity tier: %s (%.1f%% used)\n\n", tier, pct*100)

	b.WriteString("## Existing memories\n")
	for _, m := range existing {
		fmt.Fprintf(&b, "- id=%s type=%s access_count=%d tags=%v content=%s\n", m.ID, m.Type, m.AccessCount, m.Tags, m.Content)
	}

	b.WriteString("\n## Candidate memories\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "- index=%d type=%s tags=%v content=%s\n", i, c.Type, c.Tags, c.Content)
	}

	return b.String()
}
