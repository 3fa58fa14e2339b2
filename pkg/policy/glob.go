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

package policy

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// normalizePath converts backslashes to forward slashes and strips a
// leading "./", matching the normalization the spec requires before any
// glob comparison.
func normalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimPrefix(path, "./")
	return path
}

// normalizePattern applies the same normalization to a glob pattern, and
// turns a trailing "/" into an implicit "**" (spec §4.8).
func normalizePattern(pattern string) string {
	pattern = normalizePath(pattern)
	if strings.HasSuffix(pattern, "/") {
		pattern += "**"
	}
	return pattern
}

// compiledGlobCache compiles gobwas/glob matchers once per pattern string
// and reuses them, since Policy checks happen on every tool call.
var compiledGlobCache sync.Map // string -> glob.Glob

func compile(pattern string) glob.Glob {
	pattern = normalizePattern(pattern)
	if cached, ok := compiledGlobCache.Load(pattern); ok {
		return cached.(glob.Glob)
	}
	// With '/' as the separator, gobwas/glob makes "*" stop at a path
	// boundary and "**" cross it — exactly the grammar spec §4.8 wants.
	g := glob.MustCompile(pattern, '/')
	compiledGlobCache.Store(pattern, g)
	return g
}

// MatchAny reports whether path matches any of the given glob patterns,
// after normalizing both the path and each pattern.
func MatchAny(patterns []string, path string) bool {
	path = normalizePath(path)
	for _, pattern := range patterns {
		if compile(pattern).Match(path) {
			return true
		}
	}
	return false
}

// literalBase returns the longest prefix of a glob pattern that contains no
// wildcard characters, used by vfs_list checks to test whether a listing
// prefix overlaps a glob's fixed portion.
func literalBase(pattern string) string {
	pattern = normalizePattern(pattern)
	if idx := strings.IndexAny(pattern, "*?[{\\"); idx >= 0 {
		return pattern[:idx]
	}
	return pattern
}

// MatchesListPrefix reports whether prefix either starts with, or is a
// prefix of, some pattern's literal base — the looser check spec §4.8
// requires for vfs_list (since a listing prefix may be shorter or longer
// than the glob's fixed portion).
func MatchesListPrefix(patterns []string, prefix string) bool {
	prefix = normalizePath(prefix)
	for _, pattern := range patterns {
		base := literalBase(pattern)
		if base == "" || strings.HasPrefix(prefix, base) || strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}
