// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vector holds the single embedded backend the kernel's vector
// index persists through: chromem-go. pkg/vectorstore owns similarity
// scoring and every filter in spec §4.5 against its own in-memory cache of
// MemoryVector metadata, so Provider only needs to describe the
// persistence half of that split: writing embeddings down and releasing
// the backend on shutdown.
package vector

import "context"

// Provider is the persistence sink a VectorStore upserts into. It is
// intentionally narrow: pkg/vectorstore never asks a Provider to search,
// filter, or delete — every one of those operations runs against its own
// cache, since cosine scoring needs the query embedding compared against
// every candidate anyway. A backend that only needs to satisfy Upsert and
// Close has no business carrying a query/delete surface nothing calls.
type Provider interface {
	// Name identifies the backend implementation (e.g. "chromem").
	Name() string

	// Upsert inserts or replaces a document and its pre-computed
	// embedding. Embedding text into vectors is the caller's job (see
	// pkg/embedder), so Provider never sees raw content to embed.
	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error

	// Close releases resources held by the provider (file handles,
	// in-flight persistence).
	Close() error
}

// NilProvider is a no-op Provider used when no backend is configured.
// Upsert fails loudly rather than silently discarding writes, since a
// caller that reaches it almost certainly forgot to wire one.
type NilProvider struct{}

func (NilProvider) Name() string { return "nil" }

func (NilProvider) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	return errNoProvider
}

func (NilProvider) Close() error { return nil }

var errNoProvider = vectorProviderError("no vector provider configured")

type vectorProviderError string

func (e vectorProviderError) Error() string { return string(e) }

var _ Provider = NilProvider{}
