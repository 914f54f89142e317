// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/replayflow/broker"
)

const testQueue = "tutorial/queue"

var discard = slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestSession(t *testing.T, b *Broker) broker.Session {
	t.Helper()
	s, err := b.Connect(context.Background(), "localhost", "default", "tester", "")
	require.NoError(t, err)
	return s
}

func provisionTestQueue(t *testing.T, s broker.Session) {
	t.Helper()
	err := s.ProvisionQueue(context.Background(), testQueue, broker.ProvisionOptions{
		Permission:     broker.PermissionDelete,
		QuotaMB:        100,
		WaitForConfirm: true,
	})
	require.NoError(t, err)
}

func TestProvisionQueue(t *testing.T) {
	b := NewBroker(Config{Logger: discard})
	defer b.Close()
	s := newTestSession(t, b)

	require.True(t, s.SupportsEndpointManagement())
	provisionTestQueue(t, s)

	err := s.ProvisionQueue(context.Background(), testQueue, broker.ProvisionOptions{})
	assert.ErrorIs(t, err, broker.ErrQueueExists)

	err = s.ProvisionQueue(context.Background(), testQueue, broker.ProvisionOptions{IgnoreExists: true})
	assert.NoError(t, err)
}

func TestBindUnknownQueue(t *testing.T) {
	b := NewBroker(Config{Logger: discard})
	defer b.Close()
	s := newTestSession(t, b)

	_, err := s.BindFlow(context.Background(), broker.FlowConfig{Queue: "no/such/queue"})
	var bindErr *broker.BindError
	require.ErrorAs(t, err, &bindErr)
	assert.Equal(t, broker.SubCodeUnknownQueue, bindErr.Code)
}

func TestLiveDeliveryAndAck(t *testing.T) {
	b := NewBroker(Config{Logger: discard})
	defer b.Close()
	s := newTestSession(t, b)
	provisionTestQueue(t, s)

	delivered := make(chan broker.Message, 10)
	f, err := s.BindFlow(context.Background(), broker.FlowConfig{
		Queue:     testQueue,
		AckMode:   broker.AckModeClient,
		OnMessage: func(msg *broker.Message) { delivered <- *msg },
	})
	require.NoError(t, err)
	defer f.Unbind()

	id, err := b.Publish(testQueue, []byte("hello"))
	require.NoError(t, err)

	select {
	case msg := <-delivered:
		assert.Equal(t, id, msg.ID)
		assert.Equal(t, []byte("hello"), msg.Payload)
		assert.False(t, msg.Redelivered)
		assert.NoError(t, f.Ack(msg.ID))
		assert.ErrorIs(t, f.Ack(msg.ID), broker.ErrUnknownMessage)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestReplayFromBeginning(t *testing.T) {
	b := NewBroker(Config{Logger: discard})
	defer b.Close()
	s := newTestSession(t, b)
	provisionTestQueue(t, s)

	for i := range 5 {
		_, err := b.Publish(testQueue, fmt.Appendf(nil, "message %d", i))
		require.NoError(t, err)
	}

	delivered := make(chan broker.Message, 10)
	f, err := s.BindFlow(context.Background(), broker.FlowConfig{
		Queue:       testQueue,
		AckMode:     broker.AckModeClient,
		ReplayStart: "BEGINNING",
		OnMessage:   func(msg *broker.Message) { delivered <- *msg },
	})
	require.NoError(t, err)
	defer f.Unbind()

	for i := range 5 {
		select {
		case msg := <-delivered:
			assert.Equal(t, broker.MessageID(i+1), msg.ID)
			require.NoError(t, f.Ack(msg.ID))
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for replayed message %d", i)
		}
	}
}

func TestReplayMarksRedelivered(t *testing.T) {
	b := NewBroker(Config{Logger: discard})
	defer b.Close()
	s := newTestSession(t, b)
	provisionTestQueue(t, s)

	delivered := make(chan broker.Message, 10)
	bind := func() broker.Flow {
		f, err := s.BindFlow(context.Background(), broker.FlowConfig{
			Queue:       testQueue,
			AckMode:     broker.AckModeClient,
			ReplayStart: "BEGINNING",
			OnMessage:   func(msg *broker.Message) { delivered <- *msg },
		})
		require.NoError(t, err)
		return f
	}

	f := bind()
	_, err := b.Publish(testQueue, []byte("once"))
	require.NoError(t, err)

	msg := <-delivered
	assert.False(t, msg.Redelivered)
	require.NoError(t, f.Ack(msg.ID))
	require.NoError(t, f.Unbind())

	f = bind()
	defer f.Unbind()
	select {
	case msg = <-delivered:
		assert.True(t, msg.Redelivered)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for redelivery")
	}
}

func TestTriggerReplayTakesFlowsDown(t *testing.T) {
	b := NewBroker(Config{Logger: discard})
	defer b.Close()
	s := newTestSession(t, b)
	provisionTestQueue(t, s)

	events := make(chan broker.FlowEvent, 4)
	f, err := s.BindFlow(context.Background(), broker.FlowConfig{
		Queue:   testQueue,
		AckMode: broker.AckModeClient,
		OnEvent: func(ev broker.FlowEvent) { events <- ev },
	})
	require.NoError(t, err)
	defer f.Unbind()

	require.Equal(t, broker.FlowUp, (<-events).Kind)

	require.NoError(t, b.TriggerReplay(testQueue))

	select {
	case ev := <-events:
		assert.Equal(t, broker.FlowDown, ev.Kind)
		assert.Equal(t, broker.SubCodeReplayStarted, ev.SubCode)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for flow-down event")
	}
}

func TestReplayStartOutsideRetainedWindow(t *testing.T) {
	b := NewBroker(Config{Logger: discard})
	defer b.Close()
	s := newTestSession(t, b)
	provisionTestQueue(t, s)

	_, err := b.Publish(testQueue, []byte("retained"))
	require.NoError(t, err)
	require.NoError(t, b.TrimReplayLog(testQueue, time.Now()))

	events := make(chan broker.FlowEvent, 4)
	delivered := make(chan broker.Message, 4)
	start := time.Now().Add(-time.Hour).Format(time.RFC3339)
	f, err := s.BindFlow(context.Background(), broker.FlowConfig{
		Queue:       testQueue,
		AckMode:     broker.AckModeClient,
		ReplayStart: "DATE:" + start,
		OnMessage:   func(msg *broker.Message) { delivered <- *msg },
		OnEvent:     func(ev broker.FlowEvent) { events <- ev },
	})
	require.NoError(t, err)
	defer f.Unbind()

	require.Equal(t, broker.FlowUp, (<-events).Kind)

	select {
	case ev := <-events:
		assert.Equal(t, broker.FlowDown, ev.Kind)
		assert.Equal(t, broker.SubCodeReplayStartNotAvailable, ev.SubCode)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for flow-down event")
	}
	assert.Empty(t, delivered)
}

func TestDisconnectStopsFlows(t *testing.T) {
	b := NewBroker(Config{Logger: discard})
	defer b.Close()
	s := newTestSession(t, b)
	provisionTestQueue(t, s)

	f, err := s.BindFlow(context.Background(), broker.FlowConfig{
		Queue:   testQueue,
		AckMode: broker.AckModeClient,
	})
	require.NoError(t, err)

	require.NoError(t, s.Disconnect())
	assert.ErrorIs(t, s.Disconnect(), broker.ErrSessionClosed)

	_, err = s.BindFlow(context.Background(), broker.FlowConfig{Queue: testQueue})
	assert.ErrorIs(t, err, broker.ErrSessionClosed)

	_ = f
}

func TestParseReplayStart(t *testing.T) {
	cases := []struct {
		desc    string
		loc     string
		replay  bool
		from    time.Time
		invalid bool
	}{
		{desc: "live only", loc: "", replay: false},
		{desc: "from beginning", loc: "BEGINNING", replay: true},
		{desc: "rfc 3339 date", loc: "DATE:2019-04-03T18:48:00Z", replay: true, from: time.Date(2019, 4, 3, 18, 48, 0, 0, time.UTC)},
		{desc: "unix seconds", loc: "DATE:1554317280", replay: true, from: time.Unix(1554317280, 0)},
		{desc: "malformed date", loc: "DATE:yesterday", invalid: true},
		{desc: "malformed location", loc: "TAIL", invalid: true},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			replay, from, err := parseReplayStart(tc.loc)
			if tc.invalid {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.replay, replay)
			if !tc.from.IsZero() {
				assert.True(t, tc.from.Equal(from))
			}
		})
	}
}
