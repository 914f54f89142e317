// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package flow

import "sync/atomic"

// State represents the flow binding state.
type State uint32

// Flow binding states.
const (
	StateUnbound State = iota
	StateBinding
	StateBound
	StateRebinding
	StateFatal
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBinding:
		return "binding"
	case StateBound:
		return "bound"
	case StateRebinding:
		return "rebinding"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// stateManager handles atomic state transitions.
type stateManager struct {
	state uint32
}

func newStateManager() *stateManager {
	return &stateManager{state: uint32(StateUnbound)}
}

// get returns the current state.
func (sm *stateManager) get() State {
	return State(atomic.LoadUint32(&sm.state))
}

// set unconditionally sets the state.
func (sm *stateManager) set(s State) {
	atomic.StoreUint32(&sm.state, uint32(s))
}

// transition attempts to move from one state to another.
// Returns true if successful.
func (sm *stateManager) transition(from, to State) bool {
	return atomic.CompareAndSwapUint32(&sm.state, uint32(from), uint32(to))
}

// isBound returns true if the flow is live and receiving deliveries.
func (sm *stateManager) isBound() bool {
	return sm.get() == StateBound
}

// isFatal returns true if the flow reached an unrecoverable state.
func (sm *stateManager) isFatal() bool {
	return sm.get() == StateFatal
}
