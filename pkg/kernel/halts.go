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
	"regexp"

	"github.com/kadirpekel/agentkernel/pkg/eventlog"
)

// quotaPatterns are the case-insensitive substrings/regexes spec §4.9 step
// 9b names for recognizing a provider error as quota exhaustion.
var quotaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)quota`),
	regexp.MustCompile(`(?i)rate[ -]?limit`),
	regexp.MustCompile(`\b429\b`),
	regexp.MustCompile(`(?i)too many requests`),
	regexp.MustCompile(`(?i)resource[_ -]?exhausted`),
	regexp.MustCompile(`(?i)exceeded.*quota`),
}

func isQuotaError(msg string) bool {
	for _, p := range quotaPatterns {
		if p.MatchString(msg) {
			return true
		}
	}
	return false
}

// haltForBudget implements spec §4.9's haltForBudget: idempotent, pauses
// intake, aborts every other active session (the current one, if any, is
// left to finish its terminal event), and emits a descriptive warning.
//
// Per spec §9's flagged possibly-buggy source behavior, the re-pushed
// activation's loop hash is cleared here so resuming the queue does not
// mistake it for a duplicate of itself (a deliberate redesign, not a port
// of the naive bug — see DESIGN.md).
func (k *Kernel) haltForBudget(hash uint64, pending *Activation) {
	k.mu.Lock()
	if k.budgetHaltTriggered {
		k.mu.Unlock()
		return
	}
	k.budgetHaltTriggered = true
	k.paused = true
	delete(k.seenHashes, hash)
	k.mu.Unlock()

	k.abortOtherActiveSessions("")

	k.deps.EventLog.Append(eventlog.TypeWarning, pending.AgentID, pending.ID, map[string]any{
		"message": "token budget exceeded; scheduler paused",
		"budget":  k.config.TokenBudget,
		"total":   k.TotalTokens(),
	})
}

// haltForQuota implements spec §4.9's haltForQuota, triggered when a
// provider error matches a quota pattern mid-turn.
func (k *Kernel) haltForQuota(agentID, activationID, reason string) {
	k.mu.Lock()
	if k.quotaHaltTriggered {
		k.mu.Unlock()
		return
	}
	k.quotaHaltTriggered = true
	k.paused = true
	k.mu.Unlock()

	k.abortOtherActiveSessions(activationID)

	k.deps.EventLog.Append(eventlog.TypeWarning, agentID, activationID, map[string]any{
		"message": "quota exhausted; scheduler paused",
		"reason":  reason,
	})
}

// abortOtherActiveSessions aborts every active session except keepID (pass
// "" to abort all of them).
func (k *Kernel) abortOtherActiveSessions(keepID string) {
	for _, s := range k.deps.SessionStore.ActiveSnapshot() {
		if s.ActivationID == keepID {
			continue
		}
		s.Cancel.Abort()
	}
}
