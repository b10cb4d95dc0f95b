// Copyright 2025 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package inbox

import (
	"context"
	"sync/atomic"

	"github.com/pingcap/errors"
)

// Consumer is the single receiving handle of an inbox. All methods must
// be called from one goroutine at a time.
type Consumer[T any] struct {
	ch     *channel[T]
	closed atomic.Bool
}

// TryReceive returns the oldest buffered message without blocking. The
// second result is false when nothing is ready. ErrInboxDisconnected is
// returned only once the inbox is empty AND every strong producer handle
// was closed, so no message is ever lost to a disconnect.
func (c *Consumer[T]) TryReceive() (T, bool, error) {
	if c.closed.Load() {
		var zero T
		return zero, false, errDisconnected
	}
	return c.ch.tryReceive()
}

// Receive blocks until a message arrives, every producer disconnects or
// ctx is done. The actor runtime never calls this, it parks on the
// registered Waker instead; Receive is for standalone inbox users.
func (c *Consumer[T]) Receive(ctx context.Context) (T, error) {
	for {
		msg, ok, err := c.TryReceive()
		if err != nil || ok {
			return msg, err
		}
		c.ch.needWake.Store(true)
		// Re-check after arming, a producer may have published between
		// the failed receive and the store above.
		msg, ok, err = c.TryReceive()
		if err != nil || ok {
			c.ch.needWake.Store(false)
			return msg, err
		}
		select {
		case <-c.ch.notEmpty:
		case <-ctx.Done():
			c.ch.needWake.Store(false)
			var zero T
			return zero, errors.Trace(ctx.Err())
		}
	}
}

// RegisterWaker installs w as the wake target for this inbox. Arm the
// wake with ArmWake before parking; producers deliver at most one Wake
// per armed park. Passing nil removes the waker.
func (c *Consumer[T]) RegisterWaker(w Waker) {
	if w == nil {
		c.ch.waker.Store(nil)
		return
	}
	c.ch.waker.Store(&wakerBox{w: w})
}

// ArmWake arms the wake-on-arrival protocol and reports whether parking
// is safe: false means a message is already buffered (or the inbox
// disconnected) and the caller should drain instead of parking.
func (c *Consumer[T]) ArmWake() bool {
	c.ch.needWake.Store(true)
	if c.ch.len() > 0 || !c.IsConnected() {
		c.ch.needWake.Store(false)
		return false
	}
	return true
}

// Close releases the consumer side. Buffered messages are discarded with
// the ring; producers observe ErrInboxDisconnected from then on. A closed
// consumer can only be replaced through a Manager.
func (c *Consumer[T]) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.ch.dropConsumer()
}

// IsConnected reports whether at least one strong producer is alive.
func (c *Consumer[T]) IsConnected() bool {
	return c.ch.refs.Load()&producerMask != 0
}

// Len returns the number of buffered messages.
func (c *Consumer[T]) Len() int {
	return c.ch.len()
}

// Capacity returns the fixed capacity the inbox was created with.
func (c *Consumer[T]) Capacity() int {
	return int(c.ch.capacity)
}

// Stats returns a snapshot of the inbox counters.
func (c *Consumer[T]) Stats() Stats {
	return c.ch.stats()
}

// DebugString renders the slot states oldest-first, one letter per slot:
// R ready, W mid-write, . empty. The snapshot is racy, use it for debug
// logging only.
func (c *Consumer[T]) DebugString() string {
	return c.ch.debugString()
}
