// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package flow

import "github.com/absmach/replayflow/broker"

// Action is the controller's classification of a flow event.
type Action int

// Classification outcomes.
const (
	// ActionNone: the event requires no intervention.
	ActionNone Action = iota
	// ActionRebind: discard the binding and rebuild it with the same spec.
	ActionRebind
	// ActionFallback: discard the binding and rebuild it with the spec
	// downgraded to the beginning of the replay log.
	ActionFallback
	// ActionFatal: no recovery is defined; the error propagates.
	ActionFatal
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRebind:
		return "rebind"
	case ActionFallback:
		return "fallback"
	case ActionFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// classify maps a flow event onto a recovery action given the active replay
// spec. Replay restarts always rebind with the unchanged spec. A replay
// window miss downgrades a timestamp spec to the beginning of the log; if
// the spec already requested the beginning there is no fallback left and the
// event is fatal rather than silently retried.
func classify(ev broker.FlowEvent, spec ReplaySpec) Action {
	if ev.Kind != broker.FlowDown {
		return ActionNone
	}
	switch ev.SubCode {
	case broker.SubCodeReplayStarted:
		return ActionRebind
	case broker.SubCodeReplayStartNotAvailable:
		if _, ok := spec.Start(); ok {
			return ActionFallback
		}
		return ActionFatal
	default:
		return ActionFatal
	}
}
