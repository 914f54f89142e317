// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package subscriber

import (
	"log/slog"
	"time"

	"github.com/absmach/replayflow/broker"
	"github.com/absmach/replayflow/flow"
	"github.com/absmach/replayflow/otel"
)

// Default values.
const (
	DefaultThreshold        = 10
	DefaultTickInterval     = 1 * time.Second
	DefaultChannelSize      = 256
	DefaultProvisionQuotaMB = 100
)

// Options configures the subscriber.
type Options struct {
	// Connection
	Host     string // Broker address (host:port)
	VPN      string // Message VPN name
	Username string
	Password string

	// Queue
	Queue               string // Durable queue to consume from
	Provision           bool   // Provision the queue before binding
	ProvisionQuotaMB    int    // Queue quota for provisioning
	ProvisionPermission string // Endpoint permission for provisioning

	// Consumption
	Replay       flow.ReplaySpec // Replay start position for the flow
	Threshold    int64           // Stop after this many acknowledged messages
	TickInterval time.Duration   // Pending-event poll interval
	ChannelSize  int             // Delivery channel capacity

	// Observability
	Logger  *slog.Logger
	Metrics *otel.Metrics // Optional instruments
}

// NewOptions creates Options with sensible defaults: replay from the
// beginning of the log, ten-message threshold, one-second tick.
func NewOptions() *Options {
	return &Options{
		Provision:           true,
		ProvisionQuotaMB:    DefaultProvisionQuotaMB,
		ProvisionPermission: broker.PermissionDelete,
		Replay:              flow.ReplayFromBeginning(),
		Threshold:           DefaultThreshold,
		TickInterval:        DefaultTickInterval,
		ChannelSize:         DefaultChannelSize,
	}
}

// SetBroker sets the connection parameters.
func (o *Options) SetBroker(host, vpn, username, password string) *Options {
	o.Host = host
	o.VPN = vpn
	o.Username = username
	o.Password = password
	return o
}

// SetQueue sets the durable queue name.
func (o *Options) SetQueue(queue string) *Options {
	o.Queue = queue
	return o
}

// SetReplay sets the replay start position.
func (o *Options) SetReplay(spec flow.ReplaySpec) *Options {
	o.Replay = spec
	return o
}

// SetThreshold sets the number of acknowledged messages after which the
// subscriber stops.
func (o *Options) SetThreshold(n int64) *Options {
	o.Threshold = n
	return o
}

// SetTickInterval sets the pending-event poll interval.
func (o *Options) SetTickInterval(d time.Duration) *Options {
	o.TickInterval = d
	return o
}

// SetProvision enables or disables queue provisioning.
func (o *Options) SetProvision(provision bool) *Options {
	o.Provision = provision
	return o
}

// SetLogger sets the logger.
func (o *Options) SetLogger(logger *slog.Logger) *Options {
	o.Logger = logger
	return o
}

// SetMetrics sets the metric instruments.
func (o *Options) SetMetrics(m *otel.Metrics) *Options {
	o.Metrics = m
	return o
}

// Validate checks the options for errors and fills in defaults.
func (o *Options) Validate() error {
	if o.Host == "" {
		return ErrNoHost
	}
	if o.VPN == "" {
		return ErrNoVPN
	}
	if o.Username == "" {
		return ErrNoUsername
	}
	if o.Queue == "" {
		return ErrNoQueue
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.ChannelSize <= 0 {
		o.ChannelSize = DefaultChannelSize
	}
	if o.ProvisionQuotaMB <= 0 {
		o.ProvisionQuotaMB = DefaultProvisionQuotaMB
	}
	if o.ProvisionPermission == "" {
		o.ProvisionPermission = broker.PermissionDelete
	}
	return nil
}
