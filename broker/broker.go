// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package broker defines the contract a message broker client must satisfy
// for durable queue consumption with replay: session lifecycle, queue
// provisioning, flow bind/unbind, per-message acknowledgment, and the
// asynchronous event stream attached to a flow.
package broker

import "context"

// AckMode controls who settles a delivered message.
type AckMode int

// Acknowledgment modes.
const (
	// AckModeAuto settles messages on delivery, broker-side.
	AckModeAuto AckMode = iota
	// AckModeClient leaves settlement to the consumer. Required for durable
	// consumption: a message survives until the application acknowledges it.
	AckModeClient
)

// String returns the ack mode name.
func (m AckMode) String() string {
	switch m {
	case AckModeAuto:
		return "auto"
	case AckModeClient:
		return "client"
	default:
		return "unknown"
	}
}

// Queue permissions for provisioning.
const (
	PermissionConsume = "consume"
	PermissionDelete  = "delete"
	PermissionModify  = "modify"
)

// ProvisionOptions configures queue provisioning.
type ProvisionOptions struct {
	Permission     string // Endpoint permission granted to other clients
	QuotaMB        int    // Queue quota in megabytes
	WaitForConfirm bool   // Block until the broker confirms the endpoint
	IgnoreExists   bool   // Treat an already-provisioned queue as success
}

// MessageHandler is invoked once per delivered message. Handlers must return
// quickly; any real processing belongs to the consumer, not the callback.
type MessageHandler func(msg *Message)

// FlowEventHandler is invoked once per flow state change.
type FlowEventHandler func(ev FlowEvent)

// FlowConfig describes a flow bind request.
type FlowConfig struct {
	Queue       string           // Durable queue to bind to
	AckMode     AckMode          // Settlement mode
	ReplayStart string           // Replay start location ("", "BEGINNING", "DATE:...")
	OnMessage   MessageHandler   // Delivery callback
	OnEvent     FlowEventHandler // Flow state-change callback
}

// Client is the entry point to a broker.
type Client interface {
	// Connect establishes an authenticated session. Blocking; respects ctx.
	Connect(ctx context.Context, host, vpn, username, password string) (Session, error)
}

// Session is an authenticated connection to a broker.
type Session interface {
	// SupportsEndpointManagement reports whether the broker allows clients
	// to provision endpoints. Must be checked before ProvisionQueue.
	SupportsEndpointManagement() bool

	// ProvisionQueue creates a durable queue.
	ProvisionQueue(ctx context.Context, name string, opts ProvisionOptions) error

	// BindFlow binds a new flow to a durable queue. The returned Flow is the
	// only handle through which the binding can be acknowledged or destroyed.
	BindFlow(ctx context.Context, cfg FlowConfig) (Flow, error)

	// Disconnect tears down the session and any flows still bound on it.
	Disconnect() error
}

// Flow is a bound, stateful subscription to a durable queue.
type Flow interface {
	// Ack settles a delivered message. Valid only for flows bound with
	// AckModeClient.
	Ack(id MessageID) error

	// Unbind destroys the flow. No further deliveries or events are issued
	// for it after Unbind returns.
	Unbind() error
}
