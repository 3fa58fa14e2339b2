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

// Package eventlog implements the kernel's append-only typed event stream
// together with sampled VFS-state checkpoints, used for coarse-grained
// replay without a durable write-ahead log.
package eventlog

import (
	"sort"
	"sync"
	"time"
)

// Type enumerates the stable event kinds named in the spec.
type Type string

const (
	TypeActivation   Type = "activation"
	TypeSpawn        Type = "spawn"
	TypeSignal       Type = "signal"
	TypeToolCall     Type = "tool_call"
	TypeToolResult   Type = "tool_result"
	TypeFileChange   Type = "file_change"
	TypeWarning      Type = "warning"
	TypeError        Type = "error"
	TypeComplete     Type = "complete"
	TypeWorkflowStep Type = "workflow_step"
)

// Entry is one immutable, append-only event-log record.
type Entry struct {
	ID           uint64
	Timestamp    time.Time
	Type         Type
	AgentID      string
	ActivationID string
	Data         map[string]any
}

// Checkpoint snapshots every VFS path→content pair at the moment an event
// was appended.
type Checkpoint struct {
	ID           uint64
	EventID      uint64
	Timestamp    time.Time
	EventType    Type
	AgentID      string
	ActivationID string
	Files        map[string]string
}

const (
	checkpointTrimThreshold = 200
	checkpointKeepFirst     = 10
	checkpointKeepLast      = 100
)

// VFSSnapshotter is the minimal surface eventlog needs from a VFS to take a
// checkpoint; satisfied by *vfs.VFS.
type VFSSnapshotter interface {
	GetAllPaths() []string
	Read(path string) (string, bool)
}

// Log is the append-only event stream plus its sampled checkpoints.
type Log struct {
	mu          sync.Mutex
	nextID      uint64
	entries     []Entry
	vfsHandle   VFSSnapshotter
	checkpoints []Checkpoint
}

// New creates an empty Log. If v is non-nil, every Append also captures a
// checkpoint snapshotting the current VFS state.
func New(v VFSSnapshotter) *Log {
	return &Log{vfsHandle: v}
}

// Append adds a new entry with a monotonically increasing id and current
// timestamp, and — if a VFS is wired — a matching checkpoint.
func (l *Log) Append(typ Type, agentID, activationID string, data map[string]any) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	entry := Entry{
		ID:           l.nextID,
		Timestamp:    time.Now(),
		Type:         typ,
		AgentID:      agentID,
		ActivationID: activationID,
		Data:         data,
	}
	l.entries = append(l.entries, entry)

	if l.vfsHandle != nil {
		files := make(map[string]string)
		for _, p := range l.vfsHandle.GetAllPaths() {
			if c, ok := l.vfsHandle.Read(p); ok {
				files[p] = c
			}
		}
		l.checkpoints = append(l.checkpoints, Checkpoint{
			ID:           entry.ID,
			EventID:      entry.ID,
			Timestamp:    entry.Timestamp,
			EventType:    entry.Type,
			AgentID:      agentID,
			ActivationID: activationID,
			Files:        files,
		})
		l.trimCheckpointsLocked()
	}

	return entry
}

// trimCheckpointsLocked applies the sampling rule: once count exceeds 200,
// retain the first 10, the last 100, and a uniformly-strided sample of the
// middle such that the total stays at or below 200. Must be called with
// l.mu held.
func (l *Log) trimCheckpointsLocked() {
	n := len(l.checkpoints)
	if n <= checkpointTrimThreshold {
		return
	}

	first := l.checkpoints[:checkpointKeepFirst]
	last := l.checkpoints[n-checkpointKeepLast:]
	middle := l.checkpoints[checkpointKeepFirst : n-checkpointKeepLast]

	middleBudget := checkpointTrimThreshold - checkpointKeepFirst - checkpointKeepLast
	var sampled []Checkpoint
	if len(middle) <= middleBudget || middleBudget <= 0 {
		sampled = middle
	} else {
		stride := float64(len(middle)) / float64(middleBudget)
		sampled = make([]Checkpoint, 0, middleBudget)
		for i := 0; i < middleBudget; i++ {
			idx := int(float64(i) * stride)
			if idx >= len(middle) {
				idx = len(middle) - 1
			}
			sampled = append(sampled, middle[idx])
		}
	}

	out := make([]Checkpoint, 0, checkpointKeepFirst+len(sampled)+checkpointKeepLast)
	out = append(out, first...)
	out = append(out, sampled...)
	out = append(out, last...)
	l.checkpoints = out
}

// Entries returns every appended entry, in append order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Count returns the number of appended entries.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// CheckpointCount returns the number of retained checkpoints.
func (l *Log) CheckpointCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.checkpoints)
}

// GetCheckpoint returns the checkpoint for eventID if retained exactly, else
// the most recent checkpoint with timestamp <= the event's timestamp — a
// fallback that enables coarse time travel even over trimmed regions.
// Returns false if eventID never existed in the log.
func (l *Log) GetCheckpoint(eventID uint64) (Checkpoint, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var eventTime time.Time
	found := false
	for _, e := range l.entries {
		if e.ID == eventID {
			eventTime = e.Timestamp
			found = true
			break
		}
	}
	if !found {
		return Checkpoint{}, false
	}

	for _, c := range l.checkpoints {
		if c.EventID == eventID {
			return c, true
		}
	}

	var best *Checkpoint
	for i := range l.checkpoints {
		c := &l.checkpoints[i]
		if !c.Timestamp.After(eventTime) {
			if best == nil || c.Timestamp.After(best.Timestamp) {
				best = c
			}
		}
	}
	if best == nil {
		return Checkpoint{}, false
	}
	return *best, true
}

// Diff computes the paths added, changed, and removed between two
// checkpoints' file snapshots. Grounded on the VFS's own subscriber
// before/after diffing convention (spec §4.2), generalized here to compare
// two checkpoints instead of two live snapshots, for host-side replay UIs.
type Diff struct {
	Added   []string
	Changed []string
	Removed []string
}

// Diff compares this checkpoint's file snapshot against another's.
func (c Checkpoint) Diff(prev Checkpoint) Diff {
	var d Diff
	for p, content := range c.Files {
		prevContent, existed := prev.Files[p]
		if !existed {
			d.Added = append(d.Added, p)
		} else if prevContent != content {
			d.Changed = append(d.Changed, p)
		}
	}
	for p := range prev.Files {
		if _, stillExists := c.Files[p]; !stillExists {
			d.Removed = append(d.Removed, p)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Changed)
	sort.Strings(d.Removed)
	return d
}
