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

// WeakProducer observes an inbox without keeping it alive. It does not
// count towards the producer count, so holding one never stops the
// consumer from observing a disconnect. Upgrade it to send.
type WeakProducer[T any] struct {
	ch *channel[T]
}

// Downgrade returns a weak handle to the same inbox. The weak handle
// stays valid after the producer is closed.
func (p *Producer[T]) Downgrade() *WeakProducer[T] {
	return &WeakProducer[T]{ch: p.ch}
}

// Upgrade mints a strong producer, or reports false when the inbox can
// no longer accept one: the consumer is gone or every strong producer
// was already closed. A weak handle never resurrects an inbox whose
// strong count reached zero, that keeps the disconnect observed by the
// consumer final.
func (w *WeakProducer[T]) Upgrade() (*Producer[T], bool) {
	for {
		old := w.ch.refs.Load()
		if old&consumerAlive == 0 || old&producerMask == 0 {
			return nil, false
		}
		if w.ch.refs.CompareAndSwap(old, old+1) {
			return &Producer[T]{ch: w.ch}, true
		}
	}
}

// IsConnected reports whether the inbox is still fully connected: the
// consumer and at least one strong producer are alive.
func (w *WeakProducer[T]) IsConnected() bool {
	refs := w.ch.refs.Load()
	return refs&consumerAlive != 0 && refs&producerMask != 0
}

// Len returns the number of buffered messages.
func (w *WeakProducer[T]) Len() int {
	return w.ch.len()
}
