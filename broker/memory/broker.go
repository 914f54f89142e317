// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-process broker with a durable replay log.
// It implements the broker contract closely enough to drive a replay
// consumer end to end: queues are provisioned on demand, every published
// message is retained in a LogStore, and an operator can trigger a replay
// or trim the retained window at runtime.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/absmach/replayflow/broker"
)

const liveBufferSize = 256

// Config holds the broker runtime settings.
type Config struct {
	// DeliveryRate caps replay deliveries per second. Zero means unlimited.
	DeliveryRate float64
	// DeliveryBurst is the replay delivery burst size.
	DeliveryBurst int
	// Store retains published messages for replay. Defaults to an in-memory
	// store when nil.
	Store LogStore
	// Logger receives broker diagnostics. Defaults to slog.Default when nil.
	Logger *slog.Logger
}

// Broker is an in-process message broker with replay support.
type Broker struct {
	store  LogStore
	rate   rate.Limit
	burst  int
	logger *slog.Logger

	mu     sync.Mutex
	queues map[string]*queue
}

var _ broker.Client = (*Broker)(nil)

// NewBroker creates a broker from the given configuration.
func NewBroker(cfg Config) *Broker {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.DeliveryRate > 0 {
		limit = rate.Limit(cfg.DeliveryRate)
	}
	burst := cfg.DeliveryBurst
	if burst < 1 {
		burst = 1
	}
	return &Broker{
		store:  store,
		rate:   limit,
		burst:  burst,
		logger: logger,
		queues: make(map[string]*queue),
	}
}

// Connect establishes a session. The in-process broker accepts any
// credentials; they are recorded for diagnostics only.
func (b *Broker) Connect(ctx context.Context, host, vpn, username, password string) (broker.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &session{
		id:    uuid.NewString(),
		b:     b,
		flows: make(map[string]*memFlow),
	}
	b.logger.Info("session connected", slog.String("session", s.id), slog.String("host", host), slog.String("vpn", vpn), slog.String("username", username))
	return s, nil
}

// Publish appends a message to the queue's replay log and delivers it to
// every live flow.
func (b *Broker) Publish(queueName string, payload []byte) (broker.MessageID, error) {
	q, err := b.lookup(queueName)
	if err != nil {
		return 0, err
	}
	return q.publish(payload)
}

// TriggerReplay simulates a broker-initiated replay on the queue: every
// bound flow goes down with a replay-started sub-code and must be rebuilt
// by its consumer.
func (b *Broker) TriggerReplay(queueName string) error {
	q, err := b.lookup(queueName)
	if err != nil {
		return err
	}
	q.dropFlows(broker.FlowEvent{
		Kind:    broker.FlowDown,
		SubCode: broker.SubCodeReplayStarted,
		Info:    "replay log replay initiated",
	})
	b.logger.Info("replay triggered", slog.String("queue", queueName))
	return nil
}

// TrimReplayLog discards retained messages older than the given time,
// shrinking the replay window. A later replay-from-date request that
// predates the new window is rejected with a replay-start-not-available
// event.
func (b *Broker) TrimReplayLog(queueName string, before time.Time) error {
	q, err := b.lookup(queueName)
	if err != nil {
		return err
	}
	if err := b.store.Trim(queueName, before); err != nil {
		return err
	}
	q.setRetainedSince(before)
	b.logger.Info("replay log trimmed", slog.String("queue", queueName), slog.Time("before", before))
	return nil
}

// Close tears down all queues and closes the replay log store.
func (b *Broker) Close() error {
	b.mu.Lock()
	queues := make([]*queue, 0, len(b.queues))
	for _, q := range b.queues {
		queues = append(queues, q)
	}
	b.queues = make(map[string]*queue)
	b.mu.Unlock()

	for _, q := range queues {
		q.dropFlows(broker.FlowEvent{
			Kind:    broker.FlowDown,
			SubCode: broker.SubCodeInternal,
			Info:    "broker shutting down",
		})
	}
	return b.store.Close()
}

func (b *Broker) lookup(name string) (*queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return nil, broker.ErrQueueNotFound
	}
	return q, nil
}

func (b *Broker) provision(name string, opts broker.ProvisionOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[name]; ok {
		if opts.IgnoreExists {
			return nil
		}
		return broker.ErrQueueExists
	}

	last, err := b.store.LastID(name)
	if err != nil {
		return fmt.Errorf("failed to read replay log: %w", err)
	}
	b.queues[name] = &queue{
		name:    name,
		b:       b,
		nextID:  last + 1,
		seen:    make(map[broker.MessageID]bool),
		pending: make(map[broker.MessageID]bool),
		flows:   make(map[string]*memFlow),
	}
	b.logger.Info("queue provisioned", slog.String("queue", name), slog.String("permission", opts.Permission), slog.Int("quota_mb", opts.QuotaMB))
	return nil
}

type session struct {
	id string
	b  *Broker

	mu     sync.Mutex
	flows  map[string]*memFlow
	closed bool
}

var _ broker.Session = (*session)(nil)

func (s *session) SupportsEndpointManagement() bool { return true }

func (s *session) ProvisionQueue(ctx context.Context, name string, opts broker.ProvisionOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return broker.ErrSessionClosed
	}
	return s.b.provision(name, opts)
}

func (s *session) BindFlow(ctx context.Context, cfg broker.FlowConfig) (broker.Flow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, broker.ErrSessionClosed
	}
	s.mu.Unlock()

	q, err := s.b.lookup(cfg.Queue)
	if err != nil {
		return nil, &broker.BindError{Code: broker.SubCodeUnknownQueue, Reason: cfg.Queue}
	}

	replay, from, err := parseReplayStart(cfg.ReplayStart)
	if err != nil {
		return nil, &broker.BindError{Code: broker.SubCodeInternal, Reason: err.Error()}
	}

	f := q.bind(s, cfg, replay, from)

	s.mu.Lock()
	s.flows[f.id] = f
	s.mu.Unlock()

	go f.run()
	return f, nil
}

func (s *session) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return broker.ErrSessionClosed
	}
	s.closed = true
	flows := make([]*memFlow, 0, len(s.flows))
	for _, f := range s.flows {
		flows = append(flows, f)
	}
	s.flows = make(map[string]*memFlow)
	s.mu.Unlock()

	for _, f := range flows {
		f.stop(nil)
	}
	s.b.logger.Info("session disconnected", slog.String("session", s.id))
	return nil
}

func (s *session) forget(flowID string) {
	s.mu.Lock()
	delete(s.flows, flowID)
	s.mu.Unlock()
}

type queue struct {
	name string
	b    *Broker

	mu            sync.Mutex
	nextID        broker.MessageID
	retainedSince time.Time
	seen          map[broker.MessageID]bool // delivered at least once
	pending       map[broker.MessageID]bool // delivered, awaiting ack
	flows         map[string]*memFlow
}

func (q *queue) bind(s *session, cfg broker.FlowConfig, replay bool, from time.Time) *memFlow {
	ctx, cancel := context.WithCancel(context.Background())
	f := &memFlow{
		id:      uuid.NewString(),
		session: s,
		q:       q,
		cfg:     cfg,
		replay:  replay,
		from:    from,
		ctx:     ctx,
		cancel:  cancel,
		live:    make(chan broker.Message, liveBufferSize),
		down:    make(chan broker.FlowEvent, 1),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(q.b.rate, q.b.burst),
	}

	q.mu.Lock()
	q.flows[f.id] = f
	q.mu.Unlock()
	return f
}

func (q *queue) publish(payload []byte) (broker.MessageID, error) {
	q.mu.Lock()
	id := q.nextID
	q.nextID++
	flows := make([]*memFlow, 0, len(q.flows))
	for _, f := range q.flows {
		flows = append(flows, f)
	}
	q.mu.Unlock()

	msg := broker.Message{
		ID:        id,
		Queue:     q.name,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	if err := q.b.store.Append(q.name, msg); err != nil {
		return 0, fmt.Errorf("failed to retain message: %w", err)
	}

	for _, f := range flows {
		f.offer(msg)
	}
	return id, nil
}

// markDelivered records a delivery and reports whether the message had been
// delivered before.
func (q *queue) markDelivered(id broker.MessageID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	redelivered := q.seen[id]
	q.seen[id] = true
	q.pending[id] = true
	return redelivered
}

func (q *queue) ack(id broker.MessageID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.pending[id] {
		return broker.ErrUnknownMessage
	}
	delete(q.pending, id)
	return nil
}

func (q *queue) setRetainedSince(t time.Time) {
	q.mu.Lock()
	q.retainedSince = t
	q.mu.Unlock()
}

func (q *queue) windowStart() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.retainedSince
}

func (q *queue) forget(flowID string) {
	q.mu.Lock()
	delete(q.flows, flowID)
	q.mu.Unlock()
}

// dropFlows takes every bound flow down with the given event.
func (q *queue) dropFlows(ev broker.FlowEvent) {
	q.mu.Lock()
	flows := make([]*memFlow, 0, len(q.flows))
	for _, f := range q.flows {
		flows = append(flows, f)
	}
	q.flows = make(map[string]*memFlow)
	q.mu.Unlock()

	for _, f := range flows {
		f.stop(&ev)
	}
}

type memFlow struct {
	id      string
	session *session
	q       *queue
	cfg     broker.FlowConfig
	replay  bool
	from    time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	live    chan broker.Message
	down    chan broker.FlowEvent
	done    chan struct{}
	limiter *rate.Limiter

	mu      sync.Mutex
	unbound bool
}

var _ broker.Flow = (*memFlow)(nil)

// run drives the flow: an up event, then the paced replay phase, then live
// deliveries until the flow is taken down. All callbacks fire from this
// goroutine, so deliveries and events are serial per flow.
func (f *memFlow) run() {
	defer close(f.done)
	defer f.q.forget(f.id)
	defer f.session.forget(f.id)

	f.emit(broker.FlowEvent{Kind: broker.FlowUp})

	var last broker.MessageID
	if f.replay {
		window := f.q.windowStart()
		if !f.from.IsZero() && !window.IsZero() && f.from.Before(window) {
			f.emit(broker.FlowEvent{
				Kind:    broker.FlowDown,
				SubCode: broker.SubCodeReplayStartNotAvailable,
				Info:    fmt.Sprintf("replay log begins at %s", window.Format(time.RFC3339)),
			})
			f.markUnbound()
			return
		}

		entries, err := f.q.b.store.Entries(f.q.name, f.from)
		if err != nil {
			f.q.b.logger.Error("failed to read replay log", slog.String("queue", f.q.name), slog.Any("error", err))
			f.emit(broker.FlowEvent{
				Kind:    broker.FlowDown,
				SubCode: broker.SubCodeInternal,
				Info:    "replay log read failed",
			})
			f.markUnbound()
			return
		}
		for _, msg := range entries {
			if err := f.limiter.Wait(f.ctx); err != nil {
				return
			}
			if !f.deliver(msg) {
				return
			}
			last = msg.ID
		}
	}

	for {
		select {
		case <-f.ctx.Done():
			return
		case ev := <-f.down:
			f.emit(ev)
			f.markUnbound()
			return
		case msg := <-f.live:
			// The replay phase may have covered messages published while
			// it ran; IDs are monotonic per queue, so skip those here.
			if msg.ID <= last {
				continue
			}
			if !f.deliver(msg) {
				return
			}
		}
	}
}

func (f *memFlow) deliver(msg broker.Message) bool {
	select {
	case ev := <-f.down:
		f.emit(ev)
		f.markUnbound()
		return false
	default:
	}

	msg.Redelivered = f.q.markDelivered(msg.ID)
	if f.cfg.OnMessage != nil {
		f.cfg.OnMessage(&msg)
	}
	if f.cfg.AckMode == broker.AckModeAuto {
		if err := f.q.ack(msg.ID); err != nil {
			f.q.b.logger.Warn("auto-ack failed", slog.Uint64("id", uint64(msg.ID)), slog.Any("error", err))
		}
	}
	return true
}

func (f *memFlow) offer(msg broker.Message) {
	select {
	case f.live <- msg:
	case <-f.ctx.Done():
	}
}

func (f *memFlow) emit(ev broker.FlowEvent) {
	if f.cfg.OnEvent != nil {
		f.cfg.OnEvent(ev)
	}
}

func (f *memFlow) markUnbound() {
	f.mu.Lock()
	f.unbound = true
	f.mu.Unlock()
}

// stop takes the flow down broker-side. When ev is non-nil it is delivered
// to the event handler before the flow goroutine exits.
func (f *memFlow) stop(ev *broker.FlowEvent) {
	if ev != nil {
		select {
		case f.down <- *ev:
		default:
		}
	} else {
		f.cancel()
	}
	<-f.done
	f.cancel()
}

// Ack settles a delivered message.
func (f *memFlow) Ack(id broker.MessageID) error {
	f.mu.Lock()
	unbound := f.unbound
	f.mu.Unlock()
	if unbound {
		return broker.ErrFlowUnbound
	}
	return f.q.ack(id)
}

// Unbind destroys the flow. Safe to call more than once.
func (f *memFlow) Unbind() error {
	f.mu.Lock()
	if f.unbound {
		f.mu.Unlock()
		return broker.ErrFlowUnbound
	}
	f.unbound = true
	f.mu.Unlock()

	f.cancel()
	<-f.done
	return nil
}

// parseReplayStart decodes a replay start location: empty for live-only
// consumption, "BEGINNING" for the full retained log, or "DATE:" followed by
// an RFC 3339 timestamp or unix seconds.
func parseReplayStart(s string) (bool, time.Time, error) {
	switch {
	case s == "":
		return false, time.Time{}, nil
	case s == "BEGINNING":
		return true, time.Time{}, nil
	case strings.HasPrefix(s, "DATE:"):
		v := strings.TrimPrefix(s, "DATE:")
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return true, t, nil
		}
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			return true, time.Unix(secs, 0), nil
		}
		return false, time.Time{}, fmt.Errorf("malformed replay date %q", v)
	default:
		return false, time.Time{}, fmt.Errorf("malformed replay start %q", s)
	}
}
