// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import "time"

// MessageID identifies a message within a flow for acknowledgment. Zero is
// never a valid ID; a delivered message without one is malformed.
type MessageID uint64

// Message represents a message delivered on a flow.
type Message struct {
	ID          MessageID // Acknowledgment token, unique per queue
	Queue       string    // Queue the message was consumed from
	Payload     []byte
	Timestamp   time.Time // Broker receive time, used for replay positioning
	Redelivered bool      // Set when the broker has delivered this message before
}

// Valid reports whether the message carries an acknowledgeable ID.
func (m *Message) Valid() bool {
	return m != nil && m.ID != 0
}
