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
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kadirpekel/agentkernel/pkg/ltm"
	"github.com/kadirpekel/agentkernel/pkg/task"
	"github.com/kadirpekel/agentkernel/pkg/vectorstore"
	"github.com/kadirpekel/agentkernel/pkg/vfs"
	"github.com/kadirpekel/agentkernel/pkg/workingmemory"
)

func storeInputFor(tc *Context, typ vectorstore.MemoryType, content string, tags []string) ltm.StoreInput {
	return ltm.StoreInput{AgentID: tc.AgentID, Type: typ, Content: content, Tags: tags}
}

func storeInputForGlobal(typ vectorstore.MemoryType, content string, tags []string) ltm.StoreInput {
	return ltm.StoreInput{AgentID: vectorstore.GlobalAgentID, Type: typ, Content: content, Tags: tags}
}

func workingMemoryWriteFor(tc *Context, topic, value string) workingmemory.WriteInput {
	return workingmemory.WriteInput{Key: topic, Value: value, Tags: []string{topic}, Author: tc.AgentID}
}

func taskStatusArg(args map[string]any) task.Status {
	switch stringArg(args, "status") {
	case string(task.StatusInProgress):
		return task.StatusInProgress
	case string(task.StatusDone):
		return task.StatusDone
	case string(task.StatusBlocked):
		return task.StatusBlocked
	case string(task.StatusPending):
		return task.StatusPending
	default:
		return ""
	}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func stringsArg(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func builtinPlugins() []Plugin {
	return []Plugin{
		{
			Definition: Definition{Name: "vfs_read", Description: "Read a file from the virtual filesystem.",
				Parameters: map[string]any{"path": "string"}},
			Invoke: vfsRead,
		},
		{
			Definition: Definition{Name: "vfs_write", Description: "Write (or overwrite) a file in the virtual filesystem.",
				Parameters: map[string]any{"path": "string", "content": "string"}},
			Invoke: vfsWrite,
		},
		{
			Definition: Definition{Name: "vfs_list", Description: "List files under a path prefix.",
				Parameters: map[string]any{"prefix": "string"}},
			Invoke: vfsList,
		},
		{
			Definition: Definition{Name: "vfs_delete", Description: "Delete a file from the virtual filesystem.",
				Parameters: map[string]any{"path": "string"}},
			Invoke: vfsDelete,
		},
		{
			Definition: Definition{Name: "spawn_agent", Description: "Spawn a new agent activation as a child of the current agent.",
				Parameters: map[string]any{"agentId": "string", "agentFile": "string", "input": "string"}},
			Invoke: spawnAgent,
		},
		{
			Definition: Definition{Name: "signal_parent", Description: "Send a message to the parent agent's activation.",
				Parameters: map[string]any{"message": "string"}},
			Invoke: signalParent,
		},
		{
			Definition: Definition{Name: "memory_read", Description: "Retrieve long-term memories relevant to a query.",
				Parameters: map[string]any{"query": "string", "maxEntries": "integer"}},
			Invoke: memoryRead,
		},
		{
			Definition: Definition{Name: "memory_write", Description: "Store a long-term memory.",
				Parameters: map[string]any{"type": "string", "content": "string", "tags": "array"}},
			Invoke: memoryWrite,
		},
		{
			Definition: Definition{Name: "web_search", Description: "Search the web for a query and return result snippets.",
				Parameters: map[string]any{"query": "string"}},
			Invoke: webSearch,
		},
		{
			Definition: Definition{Name: "web_fetch", Description: "Fetch a URL and return its body, truncated.",
				Parameters: map[string]any{"url": "string"}},
			Invoke: webFetch,
		},
		{
			Definition: Definition{Name: "task_queue_read", Description: "List tasks in the autonomous run's task queue.",
				Parameters: map[string]any{}},
			Invoke: taskQueueRead,
		},
		{
			Definition: Definition{Name: "task_queue_write", Description: "Add or update a task in the autonomous run's task queue.",
				Parameters: map[string]any{"id": "string", "description": "string", "status": "string", "notes": "string", "priority": "integer"}},
			Invoke: taskQueueWrite,
		},
		{
			Definition: Definition{Name: "knowledge_contribute", Description: "Contribute a fact visible to every agent.",
				Parameters: map[string]any{"content": "string", "tags": "array"}},
			Invoke: knowledgeContribute,
		},
		{
			Definition: Definition{Name: "publish", Description: "Publish a value to the shared working-memory channel under a topic tag.",
				Parameters: map[string]any{"topic": "string", "value": "string"}},
			Invoke: publish,
		},
		{
			Definition: Definition{Name: "subscribe", Description: "Read everything published under a topic tag.",
				Parameters: map[string]any{"topic": "string"}},
			Invoke: subscribe,
		},
	}
}

func vfsRead(ctx context.Context, tc *Context, args map[string]any) (string, error) {
	path := stringArg(args, "path")
	content, ok := tc.VFS.Read(path)
	if !ok {
		return "", fmt.Errorf("vfs_read: path %q does not exist", path)
	}
	return content, nil
}

func vfsWrite(ctx context.Context, tc *Context, args map[string]any) (string, error) {
	path := stringArg(args, "path")
	content := stringArg(args, "content")
	tc.VFS.Write(path, content, vfs.WriteMeta{Author: tc.AgentID, ActivationID: tc.ActivationID})
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func vfsList(ctx context.Context, tc *Context, args map[string]any) (string, error) {
	prefix := stringArg(args, "prefix")
	paths := tc.VFS.List(prefix)
	return strings.Join(paths, "\n"), nil
}

func vfsDelete(ctx context.Context, tc *Context, args map[string]any) (string, error) {
	path := stringArg(args, "path")
	tc.VFS.Delete(path)
	return fmt.Sprintf("deleted %s", path), nil
}

// spawnAgent implements spec §4.7's depth/fanout-guarded spawn: reject on
// depth or fanout limits, else write agentFile (when given) to the VFS at
// agentId and enqueue the child with spawnDepth+1 and priority = newDepth.
// The written file is not added to the agent profile registry. The queue
// runs lower priorities first, so a deeper child runs after shallower
// activations already queued; equal priorities keep FIFO order.
func spawnAgent(ctx context.Context, tc *Context, args map[string]any) (string, error) {
	if tc.SpawnDepth >= tc.MaxDepth {
		return "", fmt.Errorf("spawn_agent: depth limit reached (max %d)", tc.MaxDepth)
	}

	existing := uint32(0)
	if tc.ChildCount != nil {
		existing = tc.ChildCount(tc.AgentID)
	}
	if existing+tc.spawnCount >= tc.MaxFanout {
		return "", fmt.Errorf("spawn_agent: fanout limit reached (max %d)", tc.MaxFanout)
	}

	agentID := stringArg(args, "agentId")
	agentFile := stringArg(args, "agentFile")
	input := stringArg(args, "input")
	if agentID == "" {
		return "", fmt.Errorf("spawn_agent: agentId is required")
	}

	if agentFile != "" {
		tc.VFS.Write(agentID, agentFile, vfs.WriteMeta{Author: tc.AgentID, ActivationID: tc.ActivationID})
	}

	newDepth := tc.SpawnDepth + 1
	if tc.Enqueue != nil {
		tc.Enqueue(EnqueueRequest{
			AgentID:    agentID,
			Input:      input,
			ParentID:   tc.AgentID,
			SpawnDepth: newDepth,
			Priority:   int32(newDepth),
		})
	}
	tc.spawnCount++

	return fmt.Sprintf("spawned %s at depth %d", agentID, newDepth), nil
}

// signalParent implements spec §4.7's signal semantics: a root agent (no
// parent) cannot signal, else the parent is re-enqueued with the message
// wrapped and spawnDepth decremented (never below zero).
func signalParent(ctx context.Context, tc *Context, args map[string]any) (string, error) {
	if tc.ParentID == "" {
		return "", fmt.Errorf("signal_parent: %s is a root agent with no parent to signal", tc.AgentID)
	}

	message := stringArg(args, "message")
	newDepth := uint32(0)
	if tc.SpawnDepth > 0 {
		newDepth = tc.SpawnDepth - 1
	}

	if tc.Enqueue != nil {
		tc.Enqueue(EnqueueRequest{
			AgentID:    tc.ParentID,
			Input:      fmt.Sprintf("[Signal from %s]: %s", tc.AgentID, message),
			ParentID:   "",
			SpawnDepth: newDepth,
			Priority:   0,
		})
	}

	return fmt.Sprintf("signaled parent %s", tc.ParentID), nil
}

func memoryRead(ctx context.Context, tc *Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	maxEntries := intArg(args, "maxEntries", 5)
	prompt, err := tc.LTM.BuildMemoryPrompt(ctx, tc.AgentID, query, maxEntries, 0)
	if err != nil {
		return "", fmt.Errorf("memory_read: %w", err)
	}
	if prompt == "" {
		return "no relevant memories found", nil
	}
	return prompt, nil
}

func memoryWrite(ctx context.Context, tc *Context, args map[string]any) (string, error) {
	typ := vectorstore.MemoryType(stringArg(args, "type"))
	content := stringArg(args, "content")
	tags := stringsArg(args, "tags")
	if content == "" {
		return "", fmt.Errorf("memory_write: content is required")
	}
	m, err := tc.LTM.Store(ctx, storeInputFor(tc, typ, content, tags))
	if err != nil {
		return "", fmt.Errorf("memory_write: %w", err)
	}
	return fmt.Sprintf("stored memory %s", m.ID), nil
}

func webSearch(ctx context.Context, tc *Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "", fmt.Errorf("web_search: query is required")
	}
	if tc.HTTPClient == nil {
		return "", fmt.Errorf("web_search: no http client configured")
	}

	searchURL := "https://duckduckgo.com/html/?q=" + urlEncode(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", fmt.Errorf("web_search: %w", err)
	}

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("web_search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("web_search: %w", err)
	}
	return string(body), nil
}

func webFetch(ctx context.Context, tc *Context, args map[string]any) (string, error) {
	rawURL := stringArg(args, "url")
	if rawURL == "" {
		return "", fmt.Errorf("web_fetch: url is required")
	}
	if tc.HTTPClient == nil {
		return "", fmt.Errorf("web_fetch: no http client configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("web_fetch: invalid url: %w", err)
	}

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("web_fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("web_fetch: %w", err)
	}
	return string(body), nil
}

func urlEncode(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, " ", "+"), "\n", "")
}

func taskQueueRead(ctx context.Context, tc *Context, args map[string]any) (string, error) {
	if tc.Tasks == nil {
		return "", fmt.Errorf("task_queue_read: task queue not enabled")
	}
	items := tc.Tasks.List()
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "[%s] %s (%s) priority=%d\n", it.ID, it.Description, it.Status, it.Priority)
	}
	return b.String(), nil
}

func taskQueueWrite(ctx context.Context, tc *Context, args map[string]any) (string, error) {
	if tc.Tasks == nil {
		return "", fmt.Errorf("task_queue_write: task queue not enabled")
	}
	id := stringArg(args, "id")
	if id == "" {
		newID := tc.Tasks.Add(stringArg(args, "description"), intArg(args, "priority", 0))
		return fmt.Sprintf("created %s", newID), nil
	}
	tc.Tasks.Update(id, taskStatusArg(args), stringArg(args, "notes"))
	return fmt.Sprintf("updated %s", id), nil
}

func knowledgeContribute(ctx context.Context, tc *Context, args map[string]any) (string, error) {
	content := stringArg(args, "content")
	tags := stringsArg(args, "tags")
	if content == "" {
		return "", fmt.Errorf("knowledge_contribute: content is required")
	}
	m, err := tc.LTM.Store(ctx, storeInputForGlobal(vectorstore.TypeFact, content, tags))
	if err != nil {
		return "", fmt.Errorf("knowledge_contribute: %w", err)
	}
	return fmt.Sprintf("contributed %s to shared knowledge", m.ID), nil
}

func publish(ctx context.Context, tc *Context, args map[string]any) (string, error) {
	topic := stringArg(args, "topic")
	value := stringArg(args, "value")
	if topic == "" {
		return "", fmt.Errorf("publish: topic is required")
	}
	tc.WorkingMemory.Write(workingMemoryWriteFor(tc, topic, value))
	return fmt.Sprintf("published to %s", topic), nil
}

func subscribe(ctx context.Context, tc *Context, args map[string]any) (string, error) {
	topic := stringArg(args, "topic")
	entries := tc.WorkingMemory.Read("", []string{topic})
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s\n", e.Value)
	}
	return b.String(), nil
}
