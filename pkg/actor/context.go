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

package actor

import (
	"context"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/reactor"
	"go.uber.org/zap"
)

// WatchToken identifies an active I/O watch. It is returned by
// Context.WatchRead and Context.WatchWrite and can be passed to
// Context.Unwatch. The zero value is not a valid watch.
type WatchToken struct {
	key uint64
}

// Key returns the watch key. I/O readiness is delivered as a
// message.IOReady carrying the same key, which lets an actor watching
// several connections tell them apart.
func (t WatchToken) Key() uint64 {
	return t.key
}

// Context carries an actor's identity and capabilities, timers, I/O
// watches and access to the system. It is handed to every Poll and is only
// valid on the actor's worker, the capability methods panic when called
// from another goroutine or after Poll returned.
//
// Context implements context.Context. Done is closed when the system shuts
// down, so actor bodies can push it into downstream calls directly.
type Context[T any] struct {
	p    *proc[T]
	self *WeakRef[T]
}

var _ context.Context = (*Context[any])(nil)

func newContext[T any](p *proc[T], self *WeakRef[T]) *Context[T] {
	return &Context[T]{p: p, self: self}
}

// Deadline implements context.Context.
func (c *Context[T]) Deadline() (time.Time, bool) {
	return c.p.sys.runtimeContext().Deadline()
}

// Done implements context.Context. The channel is closed when the system
// begins shutting down or Run's context is canceled.
func (c *Context[T]) Done() <-chan struct{} {
	return c.p.sys.runtimeContext().Done()
}

// Err implements context.Context.
func (c *Context[T]) Err() error {
	return c.p.sys.runtimeContext().Err()
}

// Value implements context.Context.
func (c *Context[T]) Value(key any) any {
	return c.p.sys.runtimeContext().Value(key)
}

// ID returns the actor's system-unique ID.
func (c *Context[T]) ID() ID {
	return c.p.id
}

// Name returns the name the actor was spawned with.
func (c *Context[T]) Name() string {
	return c.p.name
}

// Self returns a weak handle to this actor, for registering with peers or
// sending to itself. Weak on purpose, a self-reference must not keep the
// actor alive after its callers are gone.
func (c *Context[T]) Self() *WeakRef[T] {
	return c.self
}

// System returns the owning system, for spawning child actors.
func (c *Context[T]) System() *System {
	return c.p.sys
}

// Clock returns the system clock. Actor bodies should read time through it
// so tests can drive them with a mock.
func (c *Context[T]) Clock() clock.Clock {
	return c.p.sys.clk
}

// SetTimer arms a one-shot timer d from now. The fire is delivered as a
// message.TimerFire in a later batch, never before the deadline and never
// more than once. Timers do not survive a restart.
func (c *Context[T]) SetTimer(d time.Duration) TimerToken {
	return c.SetTimerAt(c.p.sys.clk.Now().Add(d))
}

// SetTimerAt arms a one-shot timer at an absolute deadline. Deadlines in
// the past fire on the next wheel advance.
func (c *Context[T]) SetTimerAt(deadline time.Time) TimerToken {
	c.ensureOwned("SetTimerAt")
	c.p.armedTimers++
	return c.p.w.wheel.register(deadline, c.p, c.p.timerEpoch)
}

// CancelTimer disarms a timer. It reports whether the timer was still
// armed, canceling a fired, canceled or foreign token returns false and
// changes nothing.
func (c *Context[T]) CancelTimer(tok TimerToken) bool {
	c.ensureOwned("CancelTimer")
	if !c.p.w.wheel.cancel(tok, c.p) {
		return false
	}
	c.p.armedTimers--
	return true
}

// WatchRead subscribes the actor to read readiness of conn. Events arrive
// as message.IOReady carrying the returned token's key. The connection
// must stay open until the watch is removed, Unwatch first, then close.
// Watching the same connection twice replaces the kernel subscription, the
// older token goes stale.
//
// On platforms without a readiness backend this returns
// ErrWatchNotSupported.
func (c *Context[T]) WatchRead(conn syscall.Conn) (WatchToken, error) {
	return c.watch(conn, reactor.Readable)
}

// WatchWrite subscribes the actor to write readiness of conn. See
// WatchRead for the contract.
func (c *Context[T]) WatchWrite(conn syscall.Conn) (WatchToken, error) {
	return c.watch(conn, reactor.Writable)
}

func (c *Context[T]) watch(conn syscall.Conn, interest reactor.Interest) (WatchToken, error) {
	c.ensureOwned("Watch")
	key, err := c.p.w.addWatch(c.p, conn, interest)
	if err != nil {
		return WatchToken{}, errors.Trace(err)
	}
	if c.p.watches == nil {
		c.p.watches = make(map[uint64]struct{})
	}
	c.p.watches[key] = struct{}{}
	return WatchToken{key: key}, nil
}

// Unwatch removes an I/O watch. Removing a stale or foreign token is a
// no-op. Watches the actor still holds when it terminates or restarts are
// removed by the runtime.
func (c *Context[T]) Unwatch(tok WatchToken) error {
	c.ensureOwned("Unwatch")
	if _, ok := c.p.watches[tok.key]; !ok {
		return nil
	}
	delete(c.p.watches, tok.key)
	return errors.Trace(c.p.w.removeWatch(tok.key))
}

// ensureOwned panics when a capability is used outside Poll. Capabilities
// touch worker-owned state, using them from another goroutine would race
// with the worker.
func (c *Context[T]) ensureOwned(op string) {
	if c.p.state.Load() != procStateRunning {
		log.Panic("actor context capability used outside Poll",
			zap.Uint64("id", uint64(c.p.id)), zap.String("name", c.p.name),
			zap.String("op", op))
	}
}
