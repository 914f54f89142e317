// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package subscriber drives durable queue consumption: it connects a
// session, provisions the queue, binds a replay flow, and runs a single
// control loop that acknowledges deliveries and services flow events until
// the delivery threshold is reached or an unrecoverable flow error occurs.
package subscriber

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/absmach/replayflow/broker"
	"github.com/absmach/replayflow/flow"
	"github.com/absmach/replayflow/otel"
)

// Subscriber consumes a durable queue through a replay-aware flow.
type Subscriber struct {
	opts    *Options
	client  broker.Client
	logger  *slog.Logger
	metrics *otel.Metrics

	counter    *Counter
	mailbox    *flow.Mailbox
	deliveries chan *broker.Message
	controller atomic.Pointer[flow.Controller]
}

// New creates a subscriber with the given broker client and options.
func New(client broker.Client, opts *Options) (*Subscriber, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Subscriber{
		opts:       opts,
		client:     client,
		logger:     logger,
		metrics:    opts.Metrics,
		counter:    &Counter{},
		mailbox:    flow.NewMailbox(),
		deliveries: make(chan *broker.Message, opts.ChannelSize),
	}, nil
}

// Run connects, binds the flow, and consumes until the threshold is reached,
// a fatal flow error occurs, or ctx is canceled. Whatever the exit path, the
// flow is unbound and the session disconnected exactly once before Run
// returns.
func (s *Subscriber) Run(ctx context.Context) error {
	session, err := s.client.Connect(ctx, s.opts.Host, s.opts.VPN, s.opts.Username, s.opts.Password)
	if err != nil {
		return err
	}
	s.logger.Info("Connected", "host", s.opts.Host, "vpn", s.opts.VPN)
	defer func() {
		if err := session.Disconnect(); err != nil {
			s.logger.Warn("Disconnect failed", "error", err)
		}
	}()

	if s.opts.Provision {
		if err := s.provision(ctx, session); err != nil {
			return err
		}
	}

	ctl := flow.NewController(session, s.opts.Queue, s.opts.Replay, s.onMessage, s.onFlowEvent, s.logger)
	s.controller.Store(ctl)

	bindStart := time.Now()
	if err := ctl.Bind(ctx); err != nil {
		return err
	}
	defer func() {
		if err := ctl.Unbind(); err != nil {
			s.logger.Warn("Unbind failed", "error", err)
		}
	}()
	if s.metrics != nil {
		s.metrics.RecordBindDuration(float64(time.Since(bindStart).Milliseconds()))
	}

	s.logger.Info("Waiting for messages", "queue", s.opts.Queue, "threshold", s.opts.Threshold)
	return s.loop(ctx)
}

// Delivered returns the number of acknowledged messages so far.
func (s *Subscriber) Delivered() int64 {
	return s.counter.Value()
}

// Threshold returns the configured stopping threshold.
func (s *Subscriber) Threshold() int64 {
	return s.opts.Threshold
}

// Queue returns the consumed queue name.
func (s *Subscriber) Queue() string {
	return s.opts.Queue
}

// FlowState returns the current flow binding state name.
func (s *Subscriber) FlowState() string {
	ctl := s.controller.Load()
	if ctl == nil {
		return flow.StateUnbound.String()
	}
	return ctl.State().String()
}

func (s *Subscriber) provision(ctx context.Context, session broker.Session) error {
	if !session.SupportsEndpointManagement() {
		return broker.ErrProvisionNotSupported
	}
	return session.ProvisionQueue(ctx, s.opts.Queue, broker.ProvisionOptions{
		Permission:     s.opts.ProvisionPermission,
		QuotaMB:        s.opts.ProvisionQuotaMB,
		WaitForConfirm: true,
		IgnoreExists:   true,
	})
}

// onMessage runs in the broker's delivery context. It hands the message to
// the control loop and returns; a full channel drops the delivery, which the
// broker redelivers once the flow is rebuilt or the message times out
// unsettled.
func (s *Subscriber) onMessage(msg *broker.Message) {
	select {
	case s.deliveries <- msg:
	default:
		s.logger.Warn("Delivery channel full, dropping message", "id", msg.ID)
	}
}

// onFlowEvent runs in the broker's notification context. Down events go to
// the single-slot mailbox for the loop to drain; up events are the normal
// outcome of a bind and carry no work.
func (s *Subscriber) onFlowEvent(ev broker.FlowEvent) {
	if ev.Kind != broker.FlowDown {
		return
	}
	s.mailbox.Put(ev)
}

// loop is the single-threaded consumption loop. Side effects are strictly
// ordered: the pending event slot is drained before anything else, a rebind
// completes before delivery handling resumes, and a message is acknowledged
// before the counter the stopping check reads is incremented.
func (s *Subscriber) loop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		if err := s.drainPending(ctx); err != nil {
			return err
		}
		if s.counter.Value() >= s.opts.Threshold {
			s.logger.Info("Delivery threshold reached", "count", s.counter.Value())
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-s.deliveries:
			// An event racing the delivery may have invalidated the flow
			// that produced it; settle the flow first.
			if err := s.drainPending(ctx); err != nil {
				return err
			}
			s.handleDelivery(msg)
		case <-ticker.C:
		}
	}
}

// drainPending atomically takes the pending flow event, if any, and routes
// it to the controller. Deliveries buffered for the down binding are
// discarded first: the broker stopped delivering on it when it raised the
// event, and a rebuilt flow re-delivers them from the replay log. Fatal
// classifications stop the loop.
func (s *Subscriber) drainPending(ctx context.Context) error {
	ev, ok := s.mailbox.Take()
	if !ok {
		return nil
	}
	s.flushDeliveries()

	ctl := s.controller.Load()
	act, err := ctl.HandleEvent(ctx, ev)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordError(ev.SubCode.String())
		}
		return err
	}

	switch act {
	case flow.ActionRebind, flow.ActionFallback:
		if s.metrics != nil {
			s.metrics.RecordRebind(act.String())
		}
	}
	return nil
}

func (s *Subscriber) handleDelivery(msg *broker.Message) {
	if !msg.Valid() {
		s.logger.Warn("Dropping malformed message", "queue", s.opts.Queue, "error", ErrMalformedMessage)
		if s.metrics != nil {
			s.metrics.RecordMalformed()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.RecordDelivered(int64(len(msg.Payload)))
	}

	ctl := s.controller.Load()
	if err := ctl.Ack(msg.ID); err != nil {
		// Not acknowledged, so not counted; the broker redelivers.
		s.logger.Warn("Acknowledge failed", "id", msg.ID, "error", err)
		return
	}

	n := s.counter.Increment()
	if s.metrics != nil {
		s.metrics.RecordAcked()
	}
	s.logger.Info("Acknowledged message", "id", msg.ID, "count", n)
}

// flushDeliveries discards deliveries buffered for a binding that no longer
// exists.
func (s *Subscriber) flushDeliveries() {
	for {
		select {
		case <-s.deliveries:
		default:
			return
		}
	}
}
