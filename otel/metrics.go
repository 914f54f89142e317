// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry metric instruments for the replay subscriber.
type Metrics struct {
	meter metric.Meter

	// Counters
	deliveredTotal metric.Int64Counter
	ackedTotal     metric.Int64Counter
	malformedTotal metric.Int64Counter
	rebindsTotal   metric.Int64Counter
	errorsTotal    metric.Int64Counter
	bytesReceived  metric.Int64Counter

	// Histograms
	bindDuration metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance with all instruments initialized.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("replay-subscriber"),
	}

	var err error

	m.deliveredTotal, err = m.meter.Int64Counter(
		"replay.messages.delivered.total",
		metric.WithDescription("Total messages delivered on the flow"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deliveredTotal counter: %w", err)
	}

	m.ackedTotal, err = m.meter.Int64Counter(
		"replay.messages.acked.total",
		metric.WithDescription("Total messages acknowledged"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ackedTotal counter: %w", err)
	}

	m.malformedTotal, err = m.meter.Int64Counter(
		"replay.messages.malformed.total",
		metric.WithDescription("Total deliveries dropped for a missing message id"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create malformedTotal counter: %w", err)
	}

	m.rebindsTotal, err = m.meter.Int64Counter(
		"replay.flow.rebinds.total",
		metric.WithDescription("Total flow rebinds by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rebindsTotal counter: %w", err)
	}

	m.errorsTotal, err = m.meter.Int64Counter(
		"replay.flow.errors.total",
		metric.WithDescription("Total fatal flow errors by sub-reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create errorsTotal counter: %w", err)
	}

	m.bytesReceived, err = m.meter.Int64Counter(
		"replay.bytes.received.total",
		metric.WithDescription("Total payload bytes delivered"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bytesReceived counter: %w", err)
	}

	m.bindDuration, err = m.meter.Float64Histogram(
		"replay.flow.bind.duration.ms",
		metric.WithDescription("Flow bind duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bindDuration histogram: %w", err)
	}

	return m, nil
}

// RecordDelivered records a message delivered on the flow.
func (m *Metrics) RecordDelivered(sizeBytes int64) {
	ctx := context.Background()
	m.deliveredTotal.Add(ctx, 1)
	m.bytesReceived.Add(ctx, sizeBytes)
}

// RecordAcked records an acknowledged message.
func (m *Metrics) RecordAcked() {
	m.ackedTotal.Add(context.Background(), 1)
}

// RecordMalformed records a delivery dropped for a missing message id.
func (m *Metrics) RecordMalformed() {
	m.malformedTotal.Add(context.Background(), 1)
}

// RecordRebind records a flow rebind by reason.
func (m *Metrics) RecordRebind(reason string) {
	m.rebindsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordError records a fatal flow error by sub-reason.
func (m *Metrics) RecordError(subCode string) {
	m.errorsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("sub_code", subCode),
	))
}

// RecordBindDuration records the duration of a flow bind.
func (m *Metrics) RecordBindDuration(durationMs float64) {
	m.bindDuration.Record(context.Background(), durationMs)
}
