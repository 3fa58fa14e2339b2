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

// Package ltm implements LongTermMemory: persistent typed memories
// retrievable either by the VectorStore's semantic search or, when no
// vector backend is wired, by a keyword-scoring fallback (spec §4.6).
package ltm

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/agentkernel/pkg/vectorstore"
)

// Memory is one LongTermMemory record (spec §3).
type Memory struct {
	ID             string
	AgentID        string
	Type           vectorstore.MemoryType
	Content        string
	Tags           []string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int
	RunID          string
}

// StoreInput is the caller-supplied content of a Store call.
type StoreInput struct {
	AgentID string
	Type    vectorstore.MemoryType
	Content string
	Tags    []string
	RunID   string
}

// Backend abstracts over "plain key/value store" and "vector store" (spec
// §4.6's "Backed by either a plain key/value store or by the vector
// store"); Store implements both paths directly rather than taking an
// external interface, since both paths live in this module.
type Store struct {
	mu       sync.Mutex
	counter  int
	memories map[string]*Memory

	vectors *vectorstore.Store // nil => keyword-only fallback
}

// New creates a Store. If vectors is non-nil, Retrieve uses semantic
// search; otherwise it falls back to keyword scoring.
func New(vectors *vectorstore.Store) *Store {
	return &Store{memories: make(map[string]*Memory), vectors: vectors}
}

// Store persists a new memory, assigning id "ltm-<counter>-<millis>".
func (s *Store) Store(ctx context.Context, in StoreInput) (Memory, error) {
	s.mu.Lock()
	s.counter++
	counter := s.counter
	s.mu.Unlock()

	now := time.Now()
	m := Memory{
		ID:             fmt.Sprintf("ltm-%d-%d", counter, now.UnixMilli()),
		AgentID:        in.AgentID,
		Type:           in.Type,
		Content:        in.Content,
		Tags:           append([]string(nil), in.Tags...),
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    0,
		RunID:          in.RunID,
	}

	s.mu.Lock()
	s.memories[m.ID] = &m
	s.mu.Unlock()

	if s.vectors != nil {
		_, err := s.vectors.Add(ctx, vectorstore.AddInput{
			ID:      m.ID,
			AgentID: m.AgentID,
			Content: m.Content,
			Type:    m.Type,
			Tags:    m.Tags,
			RunID:   m.RunID,
		})
		if err != nil {
			return Memory{}, fmt.Errorf("ltm: failed to index memory: %w", err)
		}
	}

	return m, nil
}

// All returns every memory currently stored, for consolidation/diagnostics.
func (s *Store) All() []Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Memory, 0, len(s.memories))
	for _, m := range s.memories {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Delete removes a memory by id.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[id]; !ok {
		return false
	}
	delete(s.memories, id)
	return true
}

// UpdateContent mutates a memory's content and/or tags in place.
func (s *Store) UpdateContent(id string, content *string, tags []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return false
	}
	if content != nil {
		m.Content = *content
	}
	if tags != nil {
		m.Tags = tags
	}
	return true
}

// Count returns the current number of stored memories.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.memories)
}

// Retrieve returns up to maxEntries memories relevant to context for
// agentID, using semantic search when a vector backend is wired, else
// keyword scoring. Every returned memory's AccessCount/LastAccessedAt is
// bumped and persisted.
func (s *Store) Retrieve(ctx context.Context, agentID, queryContext string, maxEntries int) ([]Memory, error) {
	if maxEntries <= 0 {
		maxEntries = 5
	}

	if s.vectors != nil {
		results, err := s.vectors.Search(ctx, vectorstore.SearchInput{
			Query:   queryContext,
			AgentID: agentID,
			Limit:   maxEntries,
		})
		if err != nil {
			return nil, fmt.Errorf("ltm: semantic retrieve failed: %w", err)
		}
		out := make([]Memory, 0, len(results))
		for _, r := range results {
			s.mu.Lock()
			m, ok := s.memories[r.Vector.ID]
			if ok {
				m.AccessCount++
				m.LastAccessedAt = time.Now()
				out = append(out, *m)
			}
			s.mu.Unlock()
		}
		return out, nil
	}

	return s.keywordRetrieve(agentID, queryContext, maxEntries), nil
}

var wordSplit = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func tokenize(s string) []string {
	lower := strings.ToLower(s)
	parts := wordSplit.Split(lower, -1)
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// keywordRetrieve implements the scoring formula of spec §4.6:
//
//	score = 3*(tag word hits) + 1*(content word hits)
//	        + max(0, 2 - ageDays*0.3) + 0.5*log2(accessCount+1)
//	        + (type == Mistake ? 2 : 0)
func (s *Store) keywordRetrieve(agentID, queryContext string, maxEntries int) []Memory {
	tokens := tokenize(queryContext)
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		m     *Memory
		score float64
	}
	var candidates []scored
	now := time.Now()

	for _, m := range s.memories {
		if m.AgentID != agentID && m.AgentID != vectorstore.GlobalAgentID {
			continue
		}

		tagHits := 0
		for _, tag := range m.Tags {
			for _, tagWord := range tokenize(tag) {
				if tokenSet[tagWord] {
					tagHits++
				}
			}
		}
		contentHits := 0
		for _, contentWord := range tokenize(m.Content) {
			if tokenSet[contentWord] {
				contentHits++
			}
		}

		ageDays := now.Sub(m.CreatedAt).Hours() / 24
		recency := 2 - ageDays*0.3
		if recency < 0 {
			recency = 0
		}

		score := 3*float64(tagHits) + 1*float64(contentHits) + recency + 0.5*math.Log2(float64(m.AccessCount)+1)
		if m.Type == vectorstore.TypeMistake {
			score += 2
		}

		candidates = append(candidates, scored{m: m, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > maxEntries {
		candidates = candidates[:maxEntries]
	}

	out := make([]Memory, 0, len(candidates))
	for _, c := range candidates {
		c.m.AccessCount++
		c.m.LastAccessedAt = now
		out = append(out, *c.m)
	}
	return out
}

// BuildMemoryPrompt retrieves and formats memories as a markdown block
// starting with "## Memory Context", one bullet per memory, stopping once
// adding another bullet would exceed tokenBudget (tokens approximated as
// ceil(chars/4)). Returns an empty string if no memories are retrieved.
func (s *Store) BuildMemoryPrompt(ctx context.Context, agentID, queryContext string, maxEntries int, tokenBudget int) (string, error) {
	memories, err := s.Retrieve(ctx, agentID, queryContext, maxEntries)
	if err != nil {
		return "", err
	}
	if len(memories) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("## Memory Context\n")
	usedTokens := approxTokens(b.String())

	for _, m := range memories {
		bullet := formatBullet(m)
		bulletTokens := approxTokens(bullet)
		if tokenBudget > 0 && usedTokens+bulletTokens > tokenBudget {
			break
		}
		b.WriteString(bullet)
		usedTokens += bulletTokens
	}

	return b.String(), nil
}

func formatBullet(m Memory) string {
	tags := strings.Join(m.Tags, ", ")
	if tags == "" {
		return fmt.Sprintf("- **[%s]** %s\n", m.Type, m.Content)
	}
	return fmt.Sprintf("- **[%s]** %s _(tags: %s)_\n", m.Type, m.Content, tags)
}

func approxTokens(s string) int {
	return int(math.Ceil(float64(len(s)) / 4))
}
