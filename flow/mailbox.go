// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"sync/atomic"

	"github.com/absmach/replayflow/broker"
)

// Mailbox is a single-slot, latest-wins holder for flow events. The broker
// delivers flow notifications from a context the application does not
// control; the consumption loop drains the slot on its own schedule. Only
// the most recent reason the flow went down matters, so a new event
// overwrites an undrained one.
type Mailbox struct {
	slot atomic.Pointer[broker.FlowEvent]
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Put stores an event, replacing any undrained one.
func (m *Mailbox) Put(ev broker.FlowEvent) {
	m.slot.Store(&ev)
}

// Take atomically drains the slot. The second return value is false when the
// slot was empty.
func (m *Mailbox) Take() (broker.FlowEvent, bool) {
	ev := m.slot.Swap(nil)
	if ev == nil {
		return broker.FlowEvent{}, false
	}
	return *ev, true
}

// Empty reports whether the slot holds no event.
func (m *Mailbox) Empty() bool {
	return m.slot.Load() == nil
}
