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
	"github.com/pingcap/log"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
)

// Producer is a strong sending handle. Each clone counts towards the
// inbox's producer count; close every handle you create, the last close
// is what lets the consumer observe the disconnect.
type Producer[T any] struct {
	ch     *channel[T]
	closed atomic.Bool
}

// TrySend enqueues msg without blocking. It returns ErrInboxFull when the
// inbox already holds its capacity (the message is rejected, nothing is
// overwritten) and ErrInboxDisconnected when the consumer is gone.
func (p *Producer[T]) TrySend(msg T) error {
	if p.closed.Load() {
		return errDisconnected
	}
	return p.ch.trySend(msg)
}

// Send enqueues msg, waiting for a free slot if the inbox is full. It is
// meant for producers outside the actor runtime, feeding work in from a
// goroutine that is allowed to block. Never call it from an actor body,
// a full cycle of actors blocking on each other cannot make progress.
func (p *Producer[T]) Send(ctx context.Context, msg T) error {
	for {
		err := p.TrySend(msg)
		if err == nil {
			return nil
		}
		if cerrors.ErrInboxDisconnected.Equal(err) {
			// Pass the wake on so every other blocked sender learns the
			// same thing instead of waiting for a slot that never frees.
			p.ch.signalNotFull()
			return err
		}
		select {
		case <-p.ch.notFull:
			// A slot freed (or a neighbour passed the signal on). Re-arm
			// the chain if there is still room for the next waiter.
			if p.ch.len() < int(p.ch.capacity) {
				p.ch.signalNotFull()
			}
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		}
	}
}

// Clone creates another strong handle to the same inbox.
func (p *Producer[T]) Clone() *Producer[T] {
	if p.closed.Load() {
		log.Panic("clone of a closed inbox producer")
	}
	p.ch.addProducer()
	return &Producer[T]{ch: p.ch}
}

// Close releases this handle. Idempotent per handle.
func (p *Producer[T]) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.ch.dropProducer()
}

// IsConnected reports whether the consumer side is still alive. A true
// result is advisory, the consumer may close right after.
func (p *Producer[T]) IsConnected() bool {
	return p.ch.refs.Load()&consumerAlive != 0
}

// Len returns the number of buffered messages.
func (p *Producer[T]) Len() int {
	return p.ch.len()
}

// Capacity returns the fixed capacity the inbox was created with.
func (p *Producer[T]) Capacity() int {
	return int(p.ch.capacity)
}

// Stats returns a snapshot of the inbox counters.
func (p *Producer[T]) Stats() Stats {
	return p.ch.stats()
}
