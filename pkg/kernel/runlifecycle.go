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

package kernel

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/agentkernel/pkg/session"
	"github.com/kadirpekel/agentkernel/pkg/workingmemory"
)

const runPollInterval = 10 * time.Millisecond

// RunUntilEmpty implements spec §4.9's run lifecycle: if memory is
// enabled, initialize a fresh working-memory run id; drain the queue;
// poll every 10ms until there are no active sessions and either the queue
// is empty or the kernel is paused; then end the run and store its
// snapshot. Returns the run id used (empty if memory is disabled).
func (k *Kernel) RunUntilEmpty(ctx context.Context) string {
	runID := ""
	if k.config.MemoryEnabled {
		runID = uuid.NewString()
		k.deps.WorkingMemory.InitRun(runID)
	}

poll:
	for {
		if ctx.Err() != nil {
			break
		}
		noActive := k.ActiveSessionCount() == 0
		queueDone := k.QueueLength() == 0 || k.Paused()
		if noActive && queueDone {
			break
		}
		select {
		case <-time.After(runPollInterval):
		case <-ctx.Done():
			break poll
		}
	}

	if k.config.MemoryEnabled {
		snap := k.deps.WorkingMemory.EndRun()
		k.mu.Lock()
		k.workingMemorySnapshot = snap
		k.mu.Unlock()
	}
	return runID
}

// WorkingMemorySnapshot returns the last run's ended working-memory
// snapshot, or a zero Snapshot if no run has ended yet.
func (k *Kernel) WorkingMemorySnapshot() workingmemory.Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.workingMemorySnapshot
}

// CompletedSessions returns every session that has reached a terminal
// status since construction, in completion order.
func (k *Kernel) CompletedSessions() []*session.Session {
	return k.deps.SessionStore.Completed()
}
