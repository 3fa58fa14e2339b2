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

package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/agentkernel/pkg/session"
)

// Turn is one canned response: the chunks Scripted emits for a single
// Chat call, in order.
type Turn struct {
	Chunks []StreamChunk
	// Delay, if set, is applied before each chunk in this turn to
	// simulate real streaming latency; indexed by ChunkType, falling back
	// to zero for kinds not present.
	Delay map[ChunkType]time.Duration
}

// Script is the ordered list of turns Scripted plays back for one agent
// path, one turn consumed per Chat call to that session.
type Script []Turn

// Scripted is a deterministic AIProvider test double driving the seed
// scenarios (spec §8 S1-S6): turn-counted canned responses keyed by agent
// path, consumed one turn per Chat call. Grounded on the spec's own
// "special kind of provider may implement registerSession...for
// scripted/test replay" text (§6) — this is that special kind.
type Scripted struct {
	mu       sync.Mutex
	scripts  map[string]Script // agentPath -> remaining turns
	sessions map[string]string // sessionID -> agentPath, set by RegisterSession
	calls    int
}

// NewScripted creates a Scripted provider with no scripts registered.
func NewScripted() *Scripted {
	return &Scripted{
		scripts:  make(map[string]Script),
		sessions: make(map[string]string),
	}
}

// SetScript registers (replacing any existing) the turn sequence played
// back for agentPath.
func (p *Scripted) SetScript(agentPath string, script Script) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make(Script, len(script))
	copy(cp, script)
	p.scripts[agentPath] = cp
}

// RegisterSession implements SessionRegisterable: the kernel calls this
// when opening a session so Scripted can resolve which agent's script to
// play for a bare sessionID in Chat.
func (p *Scripted) RegisterSession(sessionID, agentPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[sessionID] = agentPath
}

// EndSession implements SessionEndable, dropping the sessionID->agentPath
// mapping.
func (p *Scripted) EndSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
}

// CallCount returns how many Chat calls have been served, for assertions.
func (p *Scripted) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Chat pops the next turn off the script registered for req.SessionID's
// agent path (via RegisterSession) and streams its chunks over a channel,
// honoring each chunk's configured delay and ctx cancellation.
func (p *Scripted) Chat(ctx context.Context, req TurnRequest, history []session.Message, tools []ToolDeclaration) (<-chan StreamChunk, error) {
	p.mu.Lock()
	agentPath, ok := p.sessions[req.SessionID]
	if !ok {
		agentPath = req.SessionID
	}
	script := p.scripts[agentPath]
	if len(script) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("scripted provider: no remaining turns for agent %q", agentPath)
	}
	turn := script[0]
	p.scripts[agentPath] = script[1:]
	p.calls++
	p.mu.Unlock()

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for _, c := range turn.Chunks {
			if d := turn.Delay[c.Type]; d > 0 {
				select {
				case <-time.After(d):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Text builds a Text chunk.
func Text(s string) StreamChunk { return StreamChunk{Type: ChunkText, Text: s} }

// Done builds a Done chunk.
func Done(tokens int) StreamChunk { return StreamChunk{Type: ChunkDone, Tokens: tokens} }

// Err builds an Error chunk.
func Err(err error) StreamChunk { return StreamChunk{Type: ChunkError, Err: err} }

// ToolCallChunk builds a ToolCall chunk.
func ToolCallChunk(id, name string, args map[string]any) StreamChunk {
	return StreamChunk{Type: ChunkToolCall, ToolCall: &ToolCall{ID: id, Name: name, Args: args}}
}
