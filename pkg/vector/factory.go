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

package vector

import "fmt"

// Config is the on-disk vector-backend configuration. The kernel ships a
// single backend (chromem-go, embedded and zero-config); an empty Config
// yields an in-memory-only store.
type Config struct {
	Chromem ChromemConfig `yaml:"chromem,omitempty"`
}

// SetDefaults is a no-op placeholder kept for symmetry with the rest of
// this module's Config types (pkg/kernel.KernelConfig.SetDefaults); chromem
// needs no required fields to start in-memory.
func (c *Config) SetDefaults() {}

// NewProvider builds the configured Provider. cfg == nil yields an
// in-memory chromem instance, matching the zero-config default described
// in spec §4.5/§6's persistence note.
func NewProvider(cfg *Config) (Provider, error) {
	if cfg == nil {
		return NewChromemProvider(ChromemConfig{})
	}
	p, err := NewChromemProvider(cfg.Chromem)
	if err != nil {
		return nil, fmt.Errorf("vector: new chromem provider: %w", err)
	}
	return p, nil
}
