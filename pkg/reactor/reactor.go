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

// Package reactor wraps the platform readiness facility (epoll on linux,
// kqueue on the BSDs) behind one small interface. A scheduler worker
// parks in Wait; Wake unblocks it from any goroutine. On platforms
// without a readiness backend a channel-based reactor still provides
// Wait/Wake/timeout, only connection watching is unavailable.
package reactor

import (
	"syscall"
	"time"
)

// Interest selects the readiness conditions a registration cares about.
type Interest uint8

const (
	// Readable fires when a read would not block.
	Readable Interest = 1 << iota
	// Writable fires when a write would not block.
	Writable
)

// Has reports whether i contains all of want.
func (i Interest) Has(want Interest) bool {
	return i&want == want
}

func (i Interest) String() string {
	switch {
	case i.Has(Readable | Writable):
		return "readable|writable"
	case i.Has(Readable):
		return "readable"
	case i.Has(Writable):
		return "writable"
	}
	return "none"
}

// Event is one readiness notification. Key is the value supplied at
// registration time. Hangup reports peer close or an error condition on
// the connection; the owner should read to observe the exact state.
type Event struct {
	Key    uint64
	Ready  Interest
	Hangup bool
}

// Reactor is a single-waiter readiness queue with a cross-goroutine wake.
//
// Register, Deregister and Wake may be called from any goroutine. Wait
// must only be called by the owning worker, one call at a time. A
// connection must stay open while it is registered; deregister first,
// then close.
type Reactor interface {
	// Register subscribes conn with the given interest. Events for it
	// carry key.
	Register(conn syscall.Conn, key uint64, interest Interest) error
	// Deregister removes the subscription of conn.
	Deregister(conn syscall.Conn) error
	// Wait blocks until readiness events arrive, Wake is called or the
	// timeout elapses. A negative timeout blocks indefinitely, zero polls.
	// It fills events and returns the count; zero with a nil error means
	// a wake or timeout.
	Wait(events []Event, timeout time.Duration) (int, error)
	// Wake unblocks a concurrent or future Wait. Wakes coalesce.
	Wake() error
	// Close releases the reactor. The owner must have stopped calling
	// Wait first (wake it and join); descriptors are reclaimed here and
	// a Wait racing Close would observe them mid-reuse. Operations after
	// Close fail with ErrReactorClosed.
	Close() error
}
