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

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemProvider persists MemoryVector embeddings through chromem-go, an
// embedded, pure-Go vector store. It is the kernel's default backend: no
// external service to run, optional gzip-compressed file persistence, and
// a collection is created lazily on first write.
type ChromemProvider struct {
	db       *chromem.DB
	path     string
	compress bool

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// ChromemConfig configures the chromem provider.
type ChromemConfig struct {
	// PersistPath, if set, enables file persistence under this directory.
	// Empty means in-memory only.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Compress gzip-compresses the persisted file.
	Compress bool `yaml:"compress,omitempty"`
}

// NewChromemProvider opens (or creates) a chromem database according to
// cfg. A previously persisted file at PersistPath is loaded if present;
// a load failure falls back to a fresh in-memory database rather than
// failing construction, since a corrupt cache should not block startup.
func NewChromemProvider(cfg ChromemConfig) (*ChromemProvider, error) {
	db := chromem.NewDB()

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("vector: create persist dir %q: %w", cfg.PersistPath, err)
		}
		if _, err := os.Stat(dbFilePath(cfg)); err == nil {
			loaded, loadErr := chromem.NewPersistentDB(dbFilePath(cfg), cfg.Compress)
			if loadErr != nil {
				slog.Warn("vector: failed to load persisted db, starting fresh", "path", cfg.PersistPath, "error", loadErr)
			} else {
				db = loaded
			}
		}
	}

	return &ChromemProvider{
		db:          db,
		path:        cfg.PersistPath,
		compress:    cfg.Compress,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func dbFilePath(cfg ChromemConfig) string {
	p := cfg.PersistPath + "/vectors.gob"
	if cfg.Compress {
		p += ".gz"
	}
	return p
}

// identityEmbed is chromem's required embedding function; it is never
// actually invoked since every write here supplies a pre-computed vector
// (spec §4.5: "Embedding text into vectors is the caller's job").
func identityEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("vector: chromem embedding func invoked; vectors must be pre-computed")
}

func (p *ChromemProvider) collection(name string) (*chromem.Collection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if col, ok := p.collections[name]; ok {
		return col, nil
	}
	col, err := p.db.GetOrCreateCollection(name, nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("vector: get/create collection %q: %w", name, err)
	}
	p.collections[name] = col
	return col, nil
}

// Upsert inserts or replaces a document under collection, keyed by id.
func (p *ChromemProvider) Upsert(ctx context.Context, collection string, id string, vec []float32, metadata map[string]any) error {
	col, err := p.collection(collection)
	if err != nil {
		return err
	}

	strMeta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		strMeta[k] = fmt.Sprint(v)
	}
	content, _ := metadata["content"].(string)

	doc := chromem.Document{ID: id, Content: content, Metadata: strMeta, Embedding: vec}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("vector: upsert %q: %w", id, err)
	}

	if err := p.persist(); err != nil {
		slog.Warn("vector: persist after upsert failed", "error", err)
	}
	return nil
}

// Name identifies this provider to callers building diagnostics or config.
func (p *ChromemProvider) Name() string { return "chromem" }

// Close flushes any pending persistence.
func (p *ChromemProvider) Close() error { return p.persist() }

func (p *ChromemProvider) persist() error {
	if p.path == "" {
		return nil
	}
	//nolint:staticcheck // chromem-go's only export path remains Export, despite the deprecation notice upstream.
	if err := p.db.Export(dbFilePath(ChromemConfig{PersistPath: p.path, Compress: p.compress}), p.compress, ""); err != nil {
		return fmt.Errorf("vector: persist db: %w", err)
	}
	return nil
}

var _ Provider = (*ChromemProvider)(nil)
