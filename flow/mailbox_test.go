// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/replayflow/broker"
)

func TestMailboxTakeEmpty(t *testing.T) {
	m := NewMailbox()
	assert.True(t, m.Empty())

	_, ok := m.Take()
	assert.False(t, ok, "draining an empty slot must be a no-op")
}

func TestMailboxPutTake(t *testing.T) {
	m := NewMailbox()
	m.Put(broker.FlowEvent{Kind: broker.FlowDown, SubCode: broker.SubCodeReplayStarted})

	ev, ok := m.Take()
	require.True(t, ok)
	assert.Equal(t, broker.SubCodeReplayStarted, ev.SubCode)

	// Take clears the slot.
	_, ok = m.Take()
	assert.False(t, ok)
}

func TestMailboxLatestWins(t *testing.T) {
	m := NewMailbox()
	m.Put(broker.FlowEvent{Kind: broker.FlowDown, SubCode: broker.SubCodeReplayStarted})
	m.Put(broker.FlowEvent{Kind: broker.FlowDown, SubCode: broker.SubCodeAccessDenied})

	ev, ok := m.Take()
	require.True(t, ok)
	assert.Equal(t, broker.SubCodeAccessDenied, ev.SubCode, "newer event must overwrite the undrained one")

	_, ok = m.Take()
	assert.False(t, ok)
}

func TestMailboxConcurrentPut(t *testing.T) {
	m := NewMailbox()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Put(broker.FlowEvent{Kind: broker.FlowDown, SubCode: broker.SubCodeReplayStarted})
		}()
	}
	wg.Wait()

	// Exactly one event survives, whichever arrived last.
	_, ok := m.Take()
	assert.True(t, ok)
	_, ok = m.Take()
	assert.False(t, ok)
}
