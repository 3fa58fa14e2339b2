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
	"github.com/kadirpekel/agentkernel/pkg/eventlog"
)

// processQueue is the scheduler loop (spec §4.9): while the queue is
// non-empty, the kernel isn't paused, and the global cancellation hasn't
// fired, pop the front activation, skip duplicates (loop detection), halt
// on token budget exhaustion, else spawn an asynchronous runSession. It
// returns as soon as no permit is available — a completing session's
// finally arm re-enters processQueue to keep draining.
func (k *Kernel) processQueue() {
	for {
		if k.globalCancel.Cancelled() {
			return
		}

		k.mu.Lock()
		if k.paused || len(k.queue) == 0 {
			k.mu.Unlock()
			return
		}
		if k.sem.Available() == 0 {
			k.mu.Unlock()
			return
		}

		act := k.queue[0]
		h := loopHash(act.AgentID, act.Input)
		if k.seenHashes[h] {
			k.queue = k.queue[1:]
			k.mu.Unlock()
			k.deps.EventLog.Append(eventlog.TypeWarning, act.AgentID, act.ID, map[string]any{
				"message": "loop detected: duplicate activation skipped",
			})
			continue
		}
		k.seenHashes[h] = true

		if k.config.TokenBudget > 0 && k.totalTokens >= k.config.TokenBudget {
			k.mu.Unlock()
			k.haltForBudget(h, act)
			return
		}

		k.queue = k.queue[1:]
		k.mu.Unlock()

		go k.runSession(act)
	}
}
