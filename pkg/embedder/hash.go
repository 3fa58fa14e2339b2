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

package embedder

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
)

// HashEmbedder is a deterministic, dependency-free Embedder for tests and
// local development: it has no notion of semantic similarity, but two calls
// with the same text always produce the same vector, and it requires no
// external embedding provider. Pairs with vector.NilProvider's "fail loudly
// if unconfigured" stance by giving tests something concrete to configure
// instead.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a HashEmbedder producing vectors of dimension dim.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 32
	}
	return &HashEmbedder{dim: dim}
}

// Embed hashes text through FNV-1a repeatedly to fill a dim-length vector,
// then L2-normalizes it so cosine similarity behaves sensibly.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	h := fnv.New64a()
	seed := []byte(text)

	var buf [8]byte
	for i := 0; i < e.dim; i++ {
		h.Reset()
		h.Write(seed)
		binary.LittleEndian.PutUint32(buf[:4], uint32(i))
		h.Write(buf[:4])
		sum := h.Sum64()
		// Map the hash into [-1, 1].
		vec[i] = float32(int64(sum%2_000_001)-1_000_000) / 1_000_000
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimension returns the configured vector length.
func (e *HashEmbedder) Dimension() int { return e.dim }

// Model returns a fixed synthetic model name.
func (e *HashEmbedder) Model() string { return "hash-embedder-v1" }

// Close is a no-op; HashEmbedder holds no resources.
func (e *HashEmbedder) Close() error { return nil }

var _ Embedder = (*HashEmbedder)(nil)
