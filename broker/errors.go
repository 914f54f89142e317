// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"errors"
	"fmt"
)

// Broker contract errors.
var (
	// Connection errors.
	ErrConnectFailed = errors.New("connection failed")
	ErrSessionClosed = errors.New("session closed")
	ErrNotConnected  = errors.New("not connected")

	// Provisioning errors.
	ErrProvisionNotSupported = errors.New("endpoint management not supported")
	ErrQueueExists           = errors.New("queue already provisioned")
	ErrQueueNotFound         = errors.New("queue not found")

	// Flow errors.
	ErrFlowUnbound    = errors.New("flow is unbound")
	ErrUnknownMessage = errors.New("unknown message id")
)

// BindError reports a rejected flow bind request. It is distinct from a
// post-bind flow-down event: a BindError means no flow was ever created.
type BindError struct {
	Code   SubCode
	Reason string
}

// Error implements the error interface.
func (e *BindError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("flow bind rejected: %s", e.Code)
	}
	return fmt.Sprintf("flow bind rejected: %s (%s)", e.Code, e.Reason)
}
