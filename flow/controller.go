// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package flow maintains a single live flow binding on a durable queue and
// rebuilds it whenever the broker reports that replay has restarted or that
// the requested replay window cannot be satisfied.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/absmach/replayflow/broker"
)

// Controller owns one flow binding and keeps it consistent with the active
// replay spec. Exactly one binding is live at a time: rebind destroys the
// current handle before a replacement is requested, so replayed messages are
// delivered again instead of being suppressed as duplicates by the broker's
// redelivery detection. Callers must therefore keep their message processing
// idempotent.
//
// HandleEvent, Bind, and Unbind are driven from a single control loop; Ack
// may race a rebind issued by that loop, so the handle swap is guarded.
type Controller struct {
	session broker.Session
	queue   string

	mu     sync.Mutex // guards spec and handle against the ack path
	spec   ReplaySpec
	handle broker.Flow

	state     *stateManager
	onMessage broker.MessageHandler
	onEvent   broker.FlowEventHandler
	logger    *slog.Logger
}

// NewController creates a controller for one durable queue. The callbacks
// are registered on every binding the controller creates, including
// replacements built during rebind.
func NewController(session broker.Session, queue string, spec ReplaySpec, onMessage broker.MessageHandler, onEvent broker.FlowEventHandler, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		session:   session,
		queue:     queue,
		spec:      spec,
		state:     newStateManager(),
		onMessage: onMessage,
		onEvent:   onEvent,
		logger:    logger,
	}
}

// Bind requests the initial flow binding. The queue must already be
// provisioned. Binding always uses client settlement: the controller, not
// the broker, decides when a message is durably consumed.
func (c *Controller) Bind(ctx context.Context) error {
	if !c.state.transition(StateUnbound, StateBinding) {
		return ErrAlreadyBound
	}

	h, err := c.bindFlow(ctx)
	if err != nil {
		c.state.set(StateFatal)
		return fmt.Errorf("%w: %w", ErrBindFailed, err)
	}

	c.setHandle(h)
	c.state.set(StateBound)
	c.logger.Info("Flow bound", "queue", c.queue, "replay", c.Spec().String())
	return nil
}

// HandleEvent classifies a flow event and applies the recovery the protocol
// defines for it. Recoverable events are fully absorbed: the controller
// rebinds and returns a nil error alongside the action taken. Fatal events
// return a non-nil error with the broker's sub-reason preserved; the
// controller does not retry them, since an unattended retry could mask an
// unrecoverable configuration error.
func (c *Controller) HandleEvent(ctx context.Context, ev broker.FlowEvent) (Action, error) {
	act := classify(ev, c.Spec())
	switch act {
	case ActionNone:
		return act, nil

	case ActionRebind:
		c.logger.Info("Broker restarted replay, rebinding flow", "queue", c.queue)
		return act, c.rebind(ctx)

	case ActionFallback:
		c.logger.Warn("Replay start not retained, falling back to log beginning",
			"queue", c.queue, "requested", c.Spec().String())
		c.setSpec(ReplayFromBeginning())
		return act, c.rebind(ctx)

	default:
		c.state.set(StateFatal)
		if ev.SubCode == broker.SubCodeReplayStartNotAvailable {
			return act, fmt.Errorf("%w: %s", ErrReplayWindowExceeded, ev.Info)
		}
		return act, fmt.Errorf("%w: %s (%s)", ErrFlowDown, ev.SubCode, ev.Info)
	}
}

// Ack settles a delivered message on the live binding.
func (c *Controller) Ack(id broker.MessageID) error {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()

	if h == nil || !c.state.isBound() {
		return ErrNotBound
	}
	return h.Ack(id)
}

// Unbind destroys the current binding, if any. Idempotent; safe to call on
// the fatal path, where the fatal state is preserved for inspection.
func (c *Controller) Unbind() error {
	old := c.takeHandle()
	if old == nil {
		return nil
	}
	err := old.Unbind()
	if !c.state.isFatal() {
		c.state.set(StateUnbound)
	}
	return err
}

// State returns the current binding state.
func (c *Controller) State() State {
	return c.state.get()
}

// Spec returns the active replay spec.
func (c *Controller) Spec() ReplaySpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spec
}

// Queue returns the queue the controller is bound to.
func (c *Controller) Queue() string {
	return c.queue
}

// rebind destroys the current binding and requests a replacement with the
// active spec. Blocking: no deliveries are possible until it returns. The
// old handle is destroyed first, unconditionally, even if the broker already
// considers it dead; the replacement is only installed once the bind
// succeeds. Failure to rebind is fatal.
func (c *Controller) rebind(ctx context.Context) error {
	if !c.state.transition(StateBound, StateRebinding) {
		return ErrNotBound
	}

	if old := c.takeHandle(); old != nil {
		if err := old.Unbind(); err != nil {
			c.logger.Debug("Unbind of stale flow failed", "queue", c.queue, "error", err)
		}
	}

	c.state.set(StateBinding)
	h, err := c.bindFlow(ctx)
	if err != nil {
		c.state.set(StateFatal)
		return fmt.Errorf("%w: %w", ErrRebindFailed, err)
	}

	c.setHandle(h)
	c.state.set(StateBound)
	c.logger.Info("Flow rebound", "queue", c.queue, "replay", c.Spec().String())
	return nil
}

func (c *Controller) bindFlow(ctx context.Context) (broker.Flow, error) {
	return c.session.BindFlow(ctx, broker.FlowConfig{
		Queue:       c.queue,
		AckMode:     broker.AckModeClient,
		ReplayStart: c.Spec().Location(),
		OnMessage:   c.onMessage,
		OnEvent:     c.onEvent,
	})
}

func (c *Controller) setHandle(h broker.Flow) {
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
}

func (c *Controller) takeHandle() broker.Flow {
	c.mu.Lock()
	h := c.handle
	c.handle = nil
	c.mu.Unlock()
	return h
}

func (c *Controller) setSpec(s ReplaySpec) {
	c.mu.Lock()
	c.spec = s
	c.mu.Unlock()
}
