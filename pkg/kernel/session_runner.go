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
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/agentkernel/pkg/agentprofile"
	"github.com/kadirpekel/agentkernel/pkg/eventlog"
	"github.com/kadirpekel/agentkernel/pkg/policy"
	"github.com/kadirpekel/agentkernel/pkg/provider"
	"github.com/kadirpekel/agentkernel/pkg/session"
	"github.com/kadirpekel/agentkernel/pkg/tool"
	"github.com/kadirpekel/agentkernel/pkg/workingmemory"
)

const memoryPromptMaxEntries = 5

const workspacePreamble = "You are an agent running inside a multi-agent workspace kernel. " +
	"Files you create and read live in a versioned virtual filesystem addressed by path: " +
	"agents/ for agent definitions, memory/ for memory artifacts, artifacts/ for work products, " +
	"workflows/ for workflow definitions. Use the provided tools to read, write, and list files, " +
	"to spawn child agents for sub-tasks, and to signal your parent activation when you need its " +
	"attention. Tool results are returned to you as plain text; react to them directly."

const wrapUpNudge = "You are approaching the configured token budget for this run. Wrap up your " +
	"current task now: finish any in-flight tool calls, write out your remaining work product, and " +
	"produce a final summary."

var nudgeTemplates = []string{
	"You stopped without calling a tool. Review what you've accomplished so far against the task and continue.",
	"You must call a tool to make further progress on this task; a text-only response will not advance it.",
	"This is your last chance to make progress before this run is marked complete. Call a tool now.",
}

func nudgeMessage(used int) string {
	if used >= len(nudgeTemplates) {
		return nudgeTemplates[len(nudgeTemplates)-1]
	}
	return nudgeTemplates[used]
}

var failurePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^error:`),
	regexp.MustCompile(`(?i)not found`),
	regexp.MustCompile(`(?i)policy blocked`),
	regexp.MustCompile(`(?i)permission denied`),
	regexp.MustCompile(`(?i)failed to`),
	regexp.MustCompile(`(?i)invalid`),
}

func isFailureResult(result string) bool {
	if strings.TrimSpace(result) == "" {
		return true
	}
	for _, p := range failurePatterns {
		if p.MatchString(result) {
			return true
		}
	}
	return false
}

// runSession is the semaphored worker entry point the scheduler spawns for
// a popped Activation (spec §4.9 "runSession").
func (k *Kernel) runSession(act *Activation) {
	permit, err := k.sem.Acquire(k.globalCancel.Context())
	if err != nil {
		return
	}
	defer permit.Release()

	sess := k.newSession(act)
	k.runSessionBody(sess, act)
}

// RunSessionAndReturn is the "return-final-text" entry point called by
// tools (e.g. a subagent-call tool) that need the accumulated model text
// back synchronously. It deliberately bypasses the semaphore: it may be
// invoked from inside a tool handler of a session that is already holding
// a permit, and acquiring a second one here would deadlock when
// maxConcurrency==1 (spec §9 Open Questions). Callers outside a tool
// handler must not rely on this for admission control.
func (k *Kernel) RunSessionAndReturn(in EnqueueInput) string {
	act := &Activation{
		ID:         uuid.NewString(),
		AgentID:    in.AgentID,
		Input:      in.Input,
		ParentID:   in.ParentID,
		SpawnDepth: in.SpawnDepth,
		Priority:   in.Priority,
		CreatedAt:  time.Now(),
	}

	h := loopHash(act.AgentID, act.Input)
	k.mu.Lock()
	if k.seenHashes[h] {
		k.mu.Unlock()
		k.deps.EventLog.Append(eventlog.TypeWarning, act.AgentID, act.ID, map[string]any{
			"message": "loop detected: duplicate activation skipped",
		})
		return "Loop detected: this agent+input combination already ran in this kernel."
	}
	k.seenHashes[h] = true
	if k.config.TokenBudget > 0 && k.totalTokens >= k.config.TokenBudget {
		k.mu.Unlock()
		k.haltForBudget(h, act)
		return "token budget exhausted; this call was not started"
	}
	k.mu.Unlock()

	sess := k.newSession(act)
	k.runSessionBody(sess, act)

	var out strings.Builder
	for _, m := range sess.HistorySnapshot() {
		if m.Kind == session.MessageModel {
			if out.Len() > 0 {
				out.WriteString("\n")
			}
			out.WriteString(m.Content)
		}
	}
	return out.String()
}

// newSession registers a fresh Session for act and emits its activation
// event (spec §4.9 step 3).
func (k *Kernel) newSession(act *Activation) *session.Session {
	sess := &session.Session{
		AgentID:      act.AgentID,
		ActivationID: act.ID,
		Status:       session.StatusRunning,
		Cancel:       session.NewCancellationHandle(k.globalCancel.Context()),
	}
	sess.AppendHistory(session.NewUserMessage(act.Input))
	k.deps.SessionStore.Register(sess)

	k.deps.EventLog.Append(eventlog.TypeActivation, act.AgentID, act.ID, map[string]any{
		"phase":      "started",
		"spawnDepth": act.SpawnDepth,
		"priority":   act.Priority,
	})
	return sess
}

// runSessionBody runs steps 4-14 of spec §4.9's runSession against an
// already-registered session, shared by both runSession and
// RunSessionAndReturn.
func (k *Kernel) runSessionBody(sess *session.Session, act *Activation) {
	defer k.finishSession(sess)

	profile, ok := k.deps.Profiles.Get(act.AgentID)
	if !ok {
		sess.SetStatus(session.StatusError)
		k.deps.EventLog.Append(eventlog.TypeError, act.AgentID, act.ID, map[string]any{
			"message": fmt.Sprintf("no agent profile registered for %q", act.AgentID),
		})
		return
	}

	registry := k.deps.Registry
	if len(profile.CustomTools) > 0 {
		registry = registry.CloneWith(customPlugins(profile))
	}

	resolution := policy.Resolve(profile.Policy, act.Input)
	if resolution.Escalated {
		k.deps.EventLog.Append(eventlog.TypeWarning, act.AgentID, act.ID, map[string]any{
			"message": "policy escalated to GlovesOff",
			"trigger": resolution.Trigger,
		})
	}

	tc := &tool.Context{
		AgentID:       act.AgentID,
		ActivationID:  act.ID,
		ParentID:      act.ParentID,
		SpawnDepth:    act.SpawnDepth,
		MaxDepth:      k.config.MaxDepth,
		MaxFanout:     k.config.MaxFanout,
		VFS:           k.deps.VFS,
		EventLog:      k.deps.EventLog,
		WorkingMemory: k.deps.WorkingMemory,
		LTM:           k.deps.LTM,
		Tasks:         k.deps.Tasks,
		Profiles:      k.deps.Profiles,
		HTTPClient:    k.deps.HTTPClient,
		Policy:        resolution.Policy,
		APIKey:        k.deps.APIKey,
		Model:         resolveModel(k.config.Model, profile.Model),
		ChildCount:    childCount(k),
		Enqueue: func(r tool.EnqueueRequest) {
			k.Enqueue(EnqueueInput{
				AgentID:    r.AgentID,
				Input:      r.Input,
				ParentID:   r.ParentID,
				SpawnDepth: r.SpawnDepth,
				Priority:   r.Priority,
			})
		},
	}
	handler := tool.NewHandler(registry, tc)
	systemPrompt := k.buildSystemPrompt(profile, act)

	provider.RegisterSession(k.deps.Provider, act.ID, act.AgentID)

	k.runTurnLoop(sess, tc, handler, registry, systemPrompt)
	k.afterTurnLoop(sess, tc, handler, registry, systemPrompt)
}

// runTurnLoop drives spec §4.9 step 9: the MAX_AGENT_TURNS-bounded
// request/stream/dispatch loop.
func (k *Kernel) runTurnLoop(sess *session.Session, tc *tool.Context, handler *tool.Handler, registry *tool.Registry, systemPrompt string) {
	nudgesUsed := 0
	turnsCompleted := 0

	for turn := 0; turn < k.config.MaxAgentTurns; turn++ {
		if sess.Cancel.Cancelled() {
			sess.SetStatus(session.StatusAborted)
			return
		}

		req := provider.TurnRequest{SessionID: sess.ActivationID, SystemPrompt: systemPrompt, Model: tc.Model}
		chunks, err := k.deps.Provider.Chat(sess.Cancel.Context(), req, sess.HistorySnapshot(), toDeclarations(registry))
		if err != nil {
			sess.SetStatus(session.StatusError)
			k.deps.EventLog.Append(eventlog.TypeError, sess.AgentID, sess.ActivationID, map[string]any{"message": err.Error()})
			if isQuotaError(err.Error()) {
				k.haltForQuota(sess.AgentID, sess.ActivationID, err.Error())
			}
			return
		}

		text, hadToolCall, aborted := k.consumeTurn(sess, tc, handler, chunks)

		if aborted && sess.GetStatus() == session.StatusRunning {
			sess.SetStatus(session.StatusAborted)
		}
		if !hadToolCall && text != "" {
			sess.AppendHistory(session.NewModelMessage(text))
		}
		turnsCompleted++

		if sess.GetStatus() != session.StatusRunning {
			return
		}

		k.maybeWrapUp(sess)

		if hadToolCall {
			continue
		}

		if turnsCompleted < k.config.MinTurnsBeforeStop && nudgesUsed < k.config.MaxNudges {
			sess.AppendHistory(session.NewUserMessage(nudgeMessage(nudgesUsed)))
			nudgesUsed++
			continue
		}
		return
	}
}

// consumeTurn drains one turn's chunk stream, dispatching tool calls as
// they arrive and returning the accumulated text, whether any tool call
// occurred, and whether the turn ended by cancellation/error.
func (k *Kernel) consumeTurn(sess *session.Session, tc *tool.Context, handler *tool.Handler, chunks <-chan provider.StreamChunk) (string, bool, bool) {
	var textBuf strings.Builder
	hadToolCall := false

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return textBuf.String(), hadToolCall, false
			}
			switch chunk.Type {
			case provider.ChunkText:
				textBuf.WriteString(chunk.Text)

			case provider.ChunkToolCall:
				hadToolCall = true
				k.waitForResume(sess)
				if sess.Cancel.Cancelled() {
					return textBuf.String(), hadToolCall, true
				}
				call := chunk.ToolCall
				callID := call.ID
				if callID == "" {
					callID = "call-" + uuid.NewString()
				}
				result := handler.Handle(sess.Cancel.Context(), callID, call.Name, call.Args)
				sess.AppendHistory(session.NewToolMessage(call.Name, callID, call.Args, result))
				sess.AppendToolCall(session.ToolCallRecord{
					CallID: callID, Name: call.Name, Args: call.Args, Result: result, Timestamp: time.Now(),
				})
				if call.Name == "spawn_agent" {
					k.mu.Lock()
					k.childCounts[sess.AgentID]++
					k.mu.Unlock()
				}

			case provider.ChunkDone:
				sess.AddTokens(chunk.Tokens)
				k.addTokens(chunk.Tokens)

			case provider.ChunkError:
				sess.SetStatus(session.StatusError)
				msg := ""
				if chunk.Err != nil {
					msg = chunk.Err.Error()
				}
				k.deps.EventLog.Append(eventlog.TypeError, sess.AgentID, sess.ActivationID, map[string]any{"message": msg})
				if isQuotaError(msg) {
					k.haltForQuota(sess.AgentID, sess.ActivationID, msg)
				}
				return textBuf.String(), hadToolCall, true
			}

		case <-sess.Cancel.Context().Done():
			return textBuf.String(), hadToolCall, true
		}
	}
}

// waitForResume is a suspension point: while the kernel is paused, block
// (polling every 10ms, per spec §5) until resumed or this session is
// cancelled.
func (k *Kernel) waitForResume(sess *session.Session) {
	for k.Paused() {
		select {
		case <-sess.Cancel.Context().Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// maybeWrapUp implements spec §4.9 step 9d's soft budget signal: once per
// session, when totalTokens crosses tokenBudget*wrapUpThreshold between
// turns, invoke the configured hook (or, absent one, inject a built-in
// nudge directly) without pausing the queue.
func (k *Kernel) maybeWrapUp(sess *session.Session) {
	if k.config.TokenBudget <= 0 {
		return
	}
	threshold := float64(k.config.TokenBudget) * k.config.WrapUpThreshold

	k.mu.Lock()
	already := k.wrapUpInjected[sess.ActivationID]
	trigger := !already && float64(k.totalTokens) >= threshold
	if trigger {
		k.wrapUpInjected[sess.ActivationID] = true
	}
	k.mu.Unlock()

	if !trigger {
		return
	}
	if k.deps.WrapUpHook != nil {
		k.deps.WrapUpHook(sess)
		return
	}
	sess.AppendHistory(session.NewUserMessage(wrapUpNudge))
}

// afterTurnLoop runs spec §4.9 steps 11-13: auto-recorded tool failures,
// optional forced reflection, and the terminal status/complete event.
func (k *Kernel) afterTurnLoop(sess *session.Session, tc *tool.Context, handler *tool.Handler, registry *tool.Registry, systemPrompt string) {
	if k.config.AutoRecordFailures {
		k.recordToolFailures(sess)
	}

	if k.config.ForceReflection && sess.GetStatus() == session.StatusRunning {
		k.runReflectionTurn(sess, tc, handler, registry, systemPrompt)
	}

	if sess.GetStatus() == session.StatusRunning {
		sess.SetStatus(session.StatusCompleted)
	}

	k.deps.EventLog.Append(eventlog.TypeComplete, sess.AgentID, sess.ActivationID, map[string]any{
		"status": string(sess.GetStatus()),
		"tokens": sess.TokenCount,
	})
}

// recordToolFailures scans the session's recorded tool calls for the
// heuristic failure patterns named in spec §4.9 step 11 and, if any
// matched, writes a single summary into working memory tagged as an
// auto-detected mistake.
func (k *Kernel) recordToolFailures(sess *session.Session) {
	var failed []string
	for _, r := range sess.ToolCalls {
		if isFailureResult(r.Result) {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Name, truncate(r.Result, 200)))
		}
	}
	if len(failed) == 0 {
		return
	}
	summary := fmt.Sprintf("%s had %d failing tool call(s) this run:\n%s", sess.AgentID, len(failed), strings.Join(failed, "\n"))
	k.deps.WorkingMemory.Write(workingmemory.WriteInput{
		Key:    "tool-failures",
		Value:  summary,
		Tags:   []string{"mistake", "tool-failure", "auto-detected"},
		Author: sess.AgentID,
	})
}

const reflectionPrompt = "Reflect on what you accomplished this run and whether any follow-up work " +
	"is needed. You may use a tool if it helps you finish cleanly."

// runReflectionTurn runs one extra, non-failing turn after the main loop
// ends (spec §4.9 step 12): errors are swallowed (ReflectionError, spec §7)
// so this can never flip the session to Error.
func (k *Kernel) runReflectionTurn(sess *session.Session, tc *tool.Context, handler *tool.Handler, registry *tool.Registry, systemPrompt string) {
	sess.AppendHistory(session.NewUserMessage(reflectionPrompt))

	req := provider.TurnRequest{SessionID: sess.ActivationID, SystemPrompt: systemPrompt, Model: tc.Model}
	chunks, err := k.deps.Provider.Chat(sess.Cancel.Context(), req, sess.HistorySnapshot(), toDeclarations(registry))
	if err != nil {
		return
	}

	var textBuf strings.Builder
	hadToolCall := false
	for chunk := range chunks {
		switch chunk.Type {
		case provider.ChunkText:
			textBuf.WriteString(chunk.Text)
		case provider.ChunkToolCall:
			hadToolCall = true
			call := chunk.ToolCall
			callID := call.ID
			if callID == "" {
				callID = "call-" + uuid.NewString()
			}
			result := handler.Handle(sess.Cancel.Context(), callID, call.Name, call.Args)
			sess.AppendHistory(session.NewToolMessage(call.Name, callID, call.Args, result))
			sess.AppendToolCall(session.ToolCallRecord{
				CallID: callID, Name: call.Name, Args: call.Args, Result: result, Timestamp: time.Now(),
			})
		case provider.ChunkDone:
			sess.AddTokens(chunk.Tokens)
			k.addTokens(chunk.Tokens)
		case provider.ChunkError:
			// ReflectionError (spec §7): ignore, never fail the session.
		}
	}
	if !hadToolCall && textBuf.Len() > 0 {
		sess.AppendHistory(session.NewModelMessage(textBuf.String()))
	}
}

// finishSession is spec §4.9 step 14's finally arm: move the session to
// completed, notify the provider, and re-drive the scheduler if the
// kernel isn't paused. Semaphore release is the caller's own defer.
func (k *Kernel) finishSession(sess *session.Session) {
	k.deps.SessionStore.Complete(sess.ActivationID)
	provider.EndSession(k.deps.Provider, sess.ActivationID)
	if !k.Paused() {
		k.processQueue()
	}
}

// buildSystemPrompt composes spec §4.9 step 8's effective system prompt:
// an optional best-effort memory-context prefix, the workspace preamble,
// then the profile's own system prompt.
func (k *Kernel) buildSystemPrompt(profile *agentprofile.Profile, act *Activation) string {
	var b strings.Builder

	if k.config.MemoryEnabled && k.deps.LTM != nil {
		prompt, err := k.deps.LTM.BuildMemoryPrompt(context.Background(), profile.ID, act.Input, memoryPromptMaxEntries, 0)
		if err == nil && prompt != "" {
			b.WriteString(prompt)
			b.WriteString("\n\n")
		}
		// MemoryInjectionError (spec §7): swallow and continue with the base prompt.
	}

	b.WriteString(workspacePreamble)
	b.WriteString("\n\n")
	b.WriteString(profile.SystemPrompt)
	return b.String()
}

// customPlugins turns an agent profile's CustomToolDefs into tool.Plugins.
// Executing a custom tool against a real host-provided implementation is
// outside this module's scope (the host supplies AgentProfile, not a tool
// executor); the stub below reports what would have been invoked so the
// policy-gating path (permissions.customTools) remains fully exercised.
func customPlugins(profile *agentprofile.Profile) []tool.Plugin {
	out := make([]tool.Plugin, 0, len(profile.CustomTools))
	for _, def := range profile.CustomTools {
		def := def
		out = append(out, tool.Plugin{
			Definition: tool.Definition{Name: def.Name, Description: def.Description, Parameters: def.Schema},
			IsCustom:   true,
			Invoke: func(ctx context.Context, tc *tool.Context, args map[string]any) (string, error) {
				return fmt.Sprintf("custom tool %q has no host executor wired for this profile; args=%v", def.Name, args), nil
			},
		})
	}
	return out
}

func toDeclarations(registry *tool.Registry) []provider.ToolDeclaration {
	defs := registry.ToToolDefinitions()
	out := make([]provider.ToolDeclaration, 0, len(defs))
	for _, d := range defs {
		out = append(out, provider.ToolDeclaration{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
