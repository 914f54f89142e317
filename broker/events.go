// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

// FlowEventKind classifies a flow state-change notification.
type FlowEventKind int

// Flow event kinds.
const (
	// FlowUp indicates the flow is bound and receiving deliveries.
	FlowUp FlowEventKind = iota
	// FlowDown indicates the flow stopped receiving deliveries. The SubCode
	// carries the broker's reason.
	FlowDown
)

// String returns the event kind name.
func (k FlowEventKind) String() string {
	switch k {
	case FlowUp:
		return "up"
	case FlowDown:
		return "down"
	default:
		return "unknown"
	}
}

// SubCode is the broker's structured reason for a flow-down event or a bind
// rejection.
type SubCode int

// Flow-down sub-reason codes.
const (
	SubCodeNone SubCode = iota
	// SubCodeReplayStarted: the broker began replaying the queue's replay
	// log, e.g. after log rollover or an operator-triggered replay. The
	// current flow no longer receives deliveries and must be rebuilt.
	SubCodeReplayStarted
	// SubCodeReplayStartNotAvailable: the requested replay start predates
	// the broker's retained replay window.
	SubCodeReplayStartNotAvailable
	// SubCodeUnknownQueue: the queue does not exist.
	SubCodeUnknownQueue
	// SubCodeAccessDenied: the session lacks permission on the queue.
	SubCodeAccessDenied
	// SubCodeAckModeUnsupported: the requested settlement mode is not
	// available on the queue.
	SubCodeAckModeUnsupported
	// SubCodeInternal: unspecified broker-side failure.
	SubCodeInternal
)

// String returns a human-readable description of the sub-reason code.
func (c SubCode) String() string {
	switch c {
	case SubCodeNone:
		return "none"
	case SubCodeReplayStarted:
		return "replay started"
	case SubCodeReplayStartNotAvailable:
		return "replay start not available"
	case SubCodeUnknownQueue:
		return "unknown queue"
	case SubCodeAccessDenied:
		return "access denied"
	case SubCodeAckModeUnsupported:
		return "ack mode unsupported"
	default:
		return "internal error"
	}
}

// FlowEvent is a flow state-change notification.
type FlowEvent struct {
	Kind    FlowEventKind
	SubCode SubCode // Set for FlowDown events
	Info    string  // Human-readable detail for diagnostics
}
