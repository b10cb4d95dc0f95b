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
	"github.com/pingcap/tiactor/pkg/actor/message"
)

// ID is the system-unique ID of an actor. IDs are never reused, a restarted
// actor keeps the ID of the failed incarnation.
type ID uint64

// Actor is a universal primitive of concurrent computation.
// See more https://en.wikipedia.org/wiki/Actor_model
type Actor[T any] interface {
	// Poll handles a batch of messages delivered to the actor's inbox,
	// together with any timer and I/O readiness events that fired since the
	// previous poll. It runs on the actor's owning worker, never
	// concurrently with itself, so the actor state needs no locking.
	//
	// The ctx carries the actor's identity and capabilities, such as timers
	// and I/O watches, and doubles as a context.Context that is canceled
	// when the system shuts down. Blocking in Poll stalls every other actor
	// pinned to the same worker.
	//
	// If it returns (true, nil) the actor stays alive and is polled again
	// when new messages or events arrive. If it returns (false, nil) the
	// actor stops gracefully. A non-nil error hands the failure to the
	// actor's supervisor, which decides between stop, restart and propagate.
	//
	// msgs is only valid during the call, the slice is reused afterwards.
	Poll(ctx *Context[T], msgs []message.Message[T]) (running bool, err error)

	// OnClose releases resources held by the actor. It is called exactly
	// once per actor incarnation after the final Poll, on the owning
	// worker, whether the actor stopped gracefully, failed or was shut
	// down with the system.
	OnClose()
}

// Factory builds a fresh actor instance. It is invoked once at spawn time
// and again for every restart, so the returned actor must start from a
// clean state and must not share mutable state with prior incarnations.
type Factory[T any] func() Actor[T]

// ActorFunc adapts an ordinary function to the Actor interface.
// Actors built this way have no OnClose cleanup.
type ActorFunc[T any] func(ctx *Context[T], msgs []message.Message[T]) (bool, error)

// Poll implements Actor.
func (f ActorFunc[T]) Poll(ctx *Context[T], msgs []message.Message[T]) (bool, error) {
	return f(ctx, msgs)
}

// OnClose implements Actor.
func (f ActorFunc[T]) OnClose() {}
