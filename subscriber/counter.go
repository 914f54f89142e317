// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package subscriber

import "sync/atomic"

// Counter tracks the number of acknowledged deliveries. Mutation is confined
// to the consumption loop; reads may come from other goroutines (health
// endpoints), hence the atomic.
type Counter struct {
	n atomic.Int64
}

// Increment adds one and returns the new value.
func (c *Counter) Increment() int64 {
	return c.n.Add(1)
}

// Value returns the current count.
func (c *Counter) Value() int64 {
	return c.n.Load()
}
