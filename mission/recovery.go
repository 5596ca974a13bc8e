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

package mission

import "github.com/kalyank1144/ordinex/eventbus"

// Recovery is what Recover derives from a task's event history after a
// crash. It never silently resumes execution: a paused recovery always
// requires an explicit user action to continue.
type Recovery struct {
	Stage          Stage
	Reason         string
	RepairRemaining int
}

// Recover reconstructs mission state from a task's ordered event log: if
// the last event is a terminal stage (mission_completed or
// mission_cancelled), recover to that state unchanged; otherwise recover
// to mission_paused, with repair_remaining
// computed as maxRepairAttempts minus the count of repair_attempt_started
// events seen so far. events must be in total order for the task.
func Recover(events []eventbus.Event, maxRepairAttempts int) Recovery {
	if len(events) == 0 {
		return Recovery{Stage: StageMissionPaused, Reason: "no_events", RepairRemaining: maxRepairAttempts}
	}

	last := events[len(events)-1]
	switch last.Type {
	case eventbus.TypeMissionCompleted:
		return Recovery{Stage: StageMissionCompleted}
	case eventbus.TypeMissionCancelled:
		return Recovery{Stage: StageMissionCancelled}
	}

	attempts := 0
	for _, ev := range events {
		if ev.Type == eventbus.TypeRepairAttemptStarted {
			attempts++
		}
	}
	remaining := maxRepairAttempts - attempts
	if remaining < 0 {
		remaining = 0
	}

	reason := "interrupted"
	if r, ok := last.Payload["reason"].(string); ok && r != "" {
		reason = r
	}

	return Recovery{Stage: StageMissionPaused, Reason: reason, RepairRemaining: remaining}
}
