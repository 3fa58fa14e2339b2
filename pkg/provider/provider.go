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

// Package provider defines AIProvider (spec §6): the external streaming
// LLM collaborator the kernel drives. Concrete providers (Anthropic,
// OpenAI, Gemini, Ollama, ...) are explicit non-goals of this module (spec
// §1) — the kernel only ever talks to this interface.
//
// Modeled on the teacher's pkg/llms.LLMProvider/StreamChunk shape
// (pkg/llms/types.go, pkg/llms/registry.go), narrowed from the teacher's
// Generate/GenerateStreaming/GenerateStructured surface to the single
// streaming Chat call the spec names, since structured-output and
// non-streaming generation have no spec component.
package provider

import (
	"context"

	"github.com/kadirpekel/agentkernel/pkg/session"
)

// ChunkType discriminates the StreamChunk union.
type ChunkType string

const (
	ChunkText     ChunkType = "text"
	ChunkToolCall ChunkType = "tool_call"
	ChunkDone     ChunkType = "done"
	ChunkError    ChunkType = "error"
)

// ToolCall is one tool invocation the model requests mid-stream.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// StreamChunk is one unit of a provider's streamed turn response.
type StreamChunk struct {
	Type     ChunkType
	Text     string
	ToolCall *ToolCall
	Tokens   int
	Err      error
}

// ToolDeclaration is the tool schema handed to the provider for one turn,
// mirroring tool.Definition without importing pkg/tool (providers should
// not need the tool package's plugin machinery, only its wire shape).
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// TurnRequest carries everything a provider needs to stream one turn.
type TurnRequest struct {
	SessionID    string
	SystemPrompt string
	Model        string
}

// AIProvider is the external streaming LLM collaborator (spec §6).
type AIProvider interface {
	Chat(ctx context.Context, req TurnRequest, history []session.Message, tools []ToolDeclaration) (<-chan StreamChunk, error)
}

// SessionEndable is an optional capability: providers that need to be told
// a session is finished (to free server-side state) implement it.
type SessionEndable interface {
	EndSession(sessionID string)
}

// SessionAbortable is an optional capability: providers that support
// mid-stream cancellation implement it.
type SessionAbortable interface {
	Abort(sessionID string)
}

// SessionRegisterable is the capability probe replacing the source's
// monkey-patched "if registerSession in provider" duck-typing (spec §9
// design notes): a provider that supports scripted/replay turn-counted
// responses implements this, and callers type-assert for it rather than
// reflecting over method names.
type SessionRegisterable interface {
	RegisterSession(sessionID, agentPath string)
}

// EndSession probes p for SessionEndable and calls it if supported.
func EndSession(p AIProvider, sessionID string) {
	if e, ok := p.(SessionEndable); ok {
		e.EndSession(sessionID)
	}
}

// Abort probes p for SessionAbortable and calls it if supported.
func Abort(p AIProvider, sessionID string) {
	if a, ok := p.(SessionAbortable); ok {
		a.Abort(sessionID)
	}
}

// RegisterSession probes p for SessionRegisterable and calls it if supported.
func RegisterSession(p AIProvider, sessionID, agentPath string) {
	if r, ok := p.(SessionRegisterable); ok {
		r.RegisterSession(sessionID, agentPath)
	}
}
