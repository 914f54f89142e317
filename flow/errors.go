// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package flow

import "errors"

// Flow lifecycle errors.
var (
	// Binding errors.
	ErrAlreadyBound = errors.New("flow already bound")
	ErrNotBound     = errors.New("flow not bound")
	ErrBindFailed   = errors.New("flow bind failed")
	ErrRebindFailed = errors.New("flow rebind failed")

	// ErrFlowDown wraps a flow-down event the protocol defines no recovery
	// for. The broker sub-reason is preserved in the wrapping message.
	ErrFlowDown = errors.New("flow down")

	// ErrReplayWindowExceeded reports a replay-start-not-available event
	// while the active spec already requested the beginning of the log.
	// There is no further fallback; retrying would loop on a broker that
	// cannot satisfy any replay request.
	ErrReplayWindowExceeded = errors.New("replay window exceeded with no remaining fallback")
)
