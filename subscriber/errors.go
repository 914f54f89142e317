// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package subscriber

import "errors"

// Subscriber errors.
var (
	// Configuration errors.
	ErrNoHost     = errors.New("no broker host configured")
	ErrNoVPN      = errors.New("no message VPN configured")
	ErrNoUsername = errors.New("no username configured")
	ErrNoQueue    = errors.New("no queue configured")

	// ErrMalformedMessage reports a delivery without an acknowledgeable
	// message ID. The message is dropped without acknowledgment; the broker
	// redelivers it on its own schedule.
	ErrMalformedMessage = errors.New("malformed message: missing id")
)
