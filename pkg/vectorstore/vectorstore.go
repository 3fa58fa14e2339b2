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

// Package vectorstore implements the kernel's embedding index: cosine
// similarity search with agent/global visibility, type, tag, and keyword
// filters, backed by a pkg/vector.Provider and a pkg/embedder.Embedder.
//
// Grounded on the teacher's pkg/memory/vector_memory.go, which pairs a
// DatabaseProvider with an EmbedderProvider and wraps Recall/Store in
// OpenTelemetry spans via pkg/observability.GetTracer; this module follows
// the same shape against the adapted pkg/vector.Provider interface and the
// adapted pkg/telemetry tracer helper.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/agentkernel/pkg/embedder"
	"github.com/kadirpekel/agentkernel/pkg/telemetry"
	"github.com/kadirpekel/agentkernel/pkg/vector"
)

// MemoryType enumerates the LongTermMemory content kinds, shared with
// pkg/ltm since a MemoryVector carries every LTM field plus its embedding.
type MemoryType string

const (
	TypeFact        MemoryType = "Fact"
	TypeProcedure   MemoryType = "Procedure"
	TypeObservation MemoryType = "Observation"
	TypeMistake     MemoryType = "Mistake"
	TypePreference  MemoryType = "Preference"
	TypeSkill       MemoryType = "Skill"
)

// GlobalAgentID is the sentinel agent id visible to every agent during
// retrieval (spec §3 LongTermMemory).
const GlobalAgentID = "global"

// Vector is the full MemoryVector record (spec §3): LTM fields plus the
// embedding and derived Shared flag.
type Vector struct {
	ID              string
	AgentID         string
	Content         string
	Type            MemoryType
	Tags            []string
	CreatedAt       time.Time
	LastAccessedAt  time.Time
	AccessCount     int
	RunID           string
	Embedding       []float32
	Shared          bool
}

// AddInput is the caller-supplied content of an Add call.
type AddInput struct {
	ID      string
	AgentID string
	Content string
	Type    MemoryType
	Tags    []string
	RunID   string
}

// UpdateInput carries the optional fields an Update call may change.
type UpdateInput struct {
	Content *string
	Tags    []string
	Type    *MemoryType
	Shared  *bool
}

// SearchInput is the query and filters for Search (spec §4.5).
type SearchInput struct {
	Query         string
	AgentID       string
	Type          *MemoryType
	Tags          []string // OR
	Limit         int
	MinScore      *float32
	KeywordFilter string
}

// Result pairs a Vector with its cosine similarity score.
type Result struct {
	Vector Vector
	Score  float32
}

// Diagnostics reports the Search pipeline's intermediate counts, mirroring
// spec §4.5's diagnostics variant.
type Diagnostics struct {
	TotalVectors           int
	CandidateCount         int
	FilteredOutByKeywords  int
	FilteredOutByMinScore  int
	DurationMs             int64
}

const collectionName = "memory-vectors"

// Store is the VectorStore: a Provider-backed index with an in-memory
// cache of every Vector added or updated through this Store.
type Store struct {
	provider vector.Provider
	embedder embedder.Embedder

	mu      sync.RWMutex
	vectors map[string]*Vector
}

// New creates a Store over the given backend and embedding engine.
func New(p vector.Provider, e embedder.Embedder) *Store {
	return &Store{provider: p, embedder: e, vectors: make(map[string]*Vector)}
}

// Init warms the embedding engine by embedding a fixed string, verifying it
// is reachable. Since pkg/vector.Provider has no bulk-list operation,
// vectors already persisted in the backend are not loaded; the in-memory
// cache is populated as Add/Update are called.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.embedder.Embed(ctx, "warmup")
	if err != nil {
		return fmt.Errorf("vectorstore: embedding engine not ready: %w", err)
	}
	return nil
}

// Add embeds content and stores a new MemoryVector.
func (s *Store) Add(ctx context.Context, in AddInput) (Vector, error) {
	tracer := telemetry.Tracer("kernel.vectorstore")
	ctx, span := tracer.Start(ctx, telemetry.SpanMemoryStore, trace.WithAttributes(
		attribute.String("agent_id", in.AgentID),
		attribute.String("type", string(in.Type)),
	))
	defer span.End()

	emb, err := s.embedder.Embed(ctx, in.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Vector{}, fmt.Errorf("vectorstore: embed failed: %w", err)
	}

	now := time.Now()
	v := Vector{
		ID:             in.ID,
		AgentID:        in.AgentID,
		Content:        in.Content,
		Type:           in.Type,
		Tags:           append([]string(nil), in.Tags...),
		CreatedAt:      now,
		LastAccessedAt: now,
		RunID:          in.RunID,
		Embedding:      emb,
		Shared:         in.AgentID == GlobalAgentID,
	}

	if err := s.provider.Upsert(ctx, collectionName, v.ID, v.Embedding, metadataFor(v)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Vector{}, fmt.Errorf("vectorstore: upsert failed: %w", err)
	}

	s.mu.Lock()
	s.vectors[v.ID] = &v
	s.mu.Unlock()

	return v, nil
}

func metadataFor(v Vector) map[string]any {
	return map[string]any{
		"content":  v.Content,
		"agent_id": v.AgentID,
		"type":     string(v.Type),
		"shared":   v.Shared,
	}
}

// Update mutates an existing vector's content/tags/type/shared. If content
// changes, it is re-embedded and the backend entry replaced.
func (s *Store) Update(ctx context.Context, id string, in UpdateInput) (Vector, error) {
	s.mu.Lock()
	v, ok := s.vectors[id]
	if !ok {
		s.mu.Unlock()
		return Vector{}, fmt.Errorf("vectorstore: vector %q not found", id)
	}
	updated := *v
	s.mu.Unlock()

	reEmbed := false
	if in.Content != nil {
		updated.Content = *in.Content
		reEmbed = true
	}
	if in.Tags != nil {
		updated.Tags = in.Tags
	}
	if in.Type != nil {
		updated.Type = *in.Type
	}
	if in.Shared != nil {
		updated.Shared = *in.Shared
	}
	updated.LastAccessedAt = time.Now()

	if reEmbed {
		emb, err := s.embedder.Embed(ctx, updated.Content)
		if err != nil {
			return Vector{}, fmt.Errorf("vectorstore: re-embed failed: %w", err)
		}
		updated.Embedding = emb
	}

	if err := s.provider.Upsert(ctx, collectionName, updated.ID, updated.Embedding, metadataFor(updated)); err != nil {
		return Vector{}, fmt.Errorf("vectorstore: upsert on update failed: %w", err)
	}

	s.mu.Lock()
	s.vectors[id] = &updated
	s.mu.Unlock()
	return updated, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Search runs the candidate filter → score → sort pipeline of spec §4.5,
// operating on the in-memory cache (the provider backend is the
// persistence layer; search itself is scored in-process since cosine
// scoring needs the query embedding compared against every candidate's
// stored embedding, which the cache already holds).
func (s *Store) Search(ctx context.Context, in SearchInput) ([]Result, error) {
	results, _, err := s.search(ctx, in, false)
	return results, err
}

// SearchWithDiagnostics is Search plus the pipeline's intermediate counts.
func (s *Store) SearchWithDiagnostics(ctx context.Context, in SearchInput) ([]Result, Diagnostics, error) {
	return s.search(ctx, in, true)
}

func (s *Store) search(ctx context.Context, in SearchInput, withDiag bool) ([]Result, Diagnostics, error) {
	tracer := telemetry.Tracer("kernel.vectorstore")
	ctx, span := tracer.Start(ctx, telemetry.SpanMemoryLookup, trace.WithAttributes(
		attribute.String("agent_id", in.AgentID),
	))
	defer span.End()

	start := time.Now()
	limit := in.Limit
	if limit <= 0 {
		limit = 15
	}

	s.mu.RLock()
	all := make([]*Vector, 0, len(s.vectors))
	for _, v := range s.vectors {
		all = append(all, v)
	}
	s.mu.RUnlock()

	diag := Diagnostics{TotalVectors: len(all)}

	var candidates []*Vector
	for _, v := range all {
		if !(v.AgentID == in.AgentID || v.AgentID == GlobalAgentID || v.Shared) {
			continue
		}
		if in.Type != nil && v.Type != *in.Type {
			continue
		}
		if len(in.Tags) > 0 && !anyTagMatch(v.Tags, in.Tags) {
			continue
		}
		candidates = append(candidates, v)
	}
	diag.CandidateCount = len(candidates)

	if in.KeywordFilter != "" {
		tokens := tokenize(in.KeywordFilter)
		kept := candidates[:0:0]
		for _, v := range candidates {
			lower := strings.ToLower(v.Content)
			matched := false
			for _, tok := range tokens {
				if strings.Contains(lower, tok) {
					matched = true
					break
				}
			}
			if matched {
				kept = append(kept, v)
			} else {
				diag.FilteredOutByKeywords++
			}
		}
		candidates = kept
	}

	queryEmb, err := s.embedder.Embed(ctx, in.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, diag, fmt.Errorf("vectorstore: embed query failed: %w", err)
	}

	scored := make([]Result, 0, len(candidates))
	for _, v := range candidates {
		score := cosine(queryEmb, v.Embedding)
		if in.MinScore != nil && score < *in.MinScore {
			diag.FilteredOutByMinScore++
			continue
		}
		scored = append(scored, Result{Vector: *v, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}

	diag.DurationMs = time.Since(start).Milliseconds()
	return scored, diag, nil
}

func anyTagMatch(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, w := range want {
		if set[w] {
			return true
		}
	}
	return false
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	return fields
}
