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

	"github.com/pingcap/tiactor/pkg/inbox"
)

// Ref is a strong handle to an actor. It keeps the actor's inbox connected,
// an actor whose refs are all closed eventually terminates once it drains.
// Refs are safe for concurrent use, and cheap to pass around, though each
// goroutine that keeps one long term should Clone its own to leave
// disconnect tracking accurate.
type Ref[T any] struct {
	id   ID
	name string
	p    *inbox.Producer[T]
}

// ID returns the actor's system-unique ID.
func (r *Ref[T]) ID() ID {
	return r.id
}

// Name returns the name the actor was spawned with.
func (r *Ref[T]) Name() string {
	return r.name
}

// Send delivers msg to the actor without blocking. It returns ErrInboxFull
// when the inbox is at capacity, the message is rejected and never
// partially delivered, and ErrInboxDisconnected when the actor terminated
// or this ref is closed.
func (r *Ref[T]) Send(msg T) error {
	return r.p.TrySend(msg)
}

// SendB delivers msg to the actor, blocking while the inbox is full. It
// returns when the message is accepted, the ctx is done or the actor
// terminates.
func (r *Ref[T]) SendB(ctx context.Context, msg T) error {
	return r.p.Send(ctx, msg)
}

// Clone returns an additional strong handle to the same actor.
func (r *Ref[T]) Clone() *Ref[T] {
	return &Ref[T]{id: r.id, name: r.name, p: r.p.Clone()}
}

// Downgrade returns a weak handle that does not keep the actor alive.
func (r *Ref[T]) Downgrade() *WeakRef[T] {
	return &WeakRef[T]{id: r.id, name: r.name, w: r.p.Downgrade()}
}

// Close releases this handle. Once every strong handle is closed the
// actor's inbox disconnects, the actor drains what was already accepted and
// terminates if nothing else can wake it. Close is idempotent.
func (r *Ref[T]) Close() {
	r.p.Close()
}

// IsConnected reports whether sends can still succeed.
func (r *Ref[T]) IsConnected() bool {
	return r.p.IsConnected()
}

// WeakRef is a handle that does not keep the actor alive. It is the
// natural self-reference for actors and the right shape for registries
// that must not block termination.
type WeakRef[T any] struct {
	id   ID
	name string
	w    *inbox.WeakProducer[T]
}

// ID returns the actor's system-unique ID.
func (r *WeakRef[T]) ID() ID {
	return r.id
}

// Name returns the name the actor was spawned with.
func (r *WeakRef[T]) Name() string {
	return r.name
}

// Upgrade attempts to mint a strong handle. It fails once the actor
// terminated or every strong handle was closed, a weak ref never
// resurrects a disconnecting actor.
func (r *WeakRef[T]) Upgrade() (*Ref[T], bool) {
	p, ok := r.w.Upgrade()
	if !ok {
		return nil, false
	}
	return &Ref[T]{id: r.id, name: r.name, p: p}, true
}

// IsConnected reports whether an Upgrade could currently succeed.
func (r *WeakRef[T]) IsConnected() bool {
	return r.w.IsConnected()
}
