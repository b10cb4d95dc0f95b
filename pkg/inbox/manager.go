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
	"sync/atomic"

	cerrors "github.com/pingcap/tiactor/pkg/errors"
)

// Manager can recreate the consumer side of an inbox after the previous
// consumer was closed, keeping every buffered message. A crashed inbox
// owner can therefore be restarted without losing its backlog. While the
// manager is alive the inbox never reports itself fully closed, even with
// no consumer and no producers.
type Manager[T any] struct {
	ch     *channel[T]
	closed atomic.Bool
}

// NewConsumer mints a replacement consumer. It fails with
// ErrConsumerConnected while a consumer is still alive; close the old one
// first. The replacement starts with a clean waker registration.
func (m *Manager[T]) NewConsumer() (*Consumer[T], error) {
	for {
		old := m.ch.refs.Load()
		if old&consumerAlive != 0 {
			return nil, cerrors.ErrConsumerConnected.GenWithStackByArgs()
		}
		if m.ch.refs.CompareAndSwap(old, old|consumerAlive) {
			break
		}
	}
	m.ch.waker.Store(nil)
	m.ch.needWake.Store(false)
	return &Consumer[T]{ch: m.ch}, nil
}

// NewProducer mints another strong producer handle.
func (m *Manager[T]) NewProducer() *Producer[T] {
	m.ch.addProducer()
	return &Producer[T]{ch: m.ch}
}

// Close releases the manager. Idempotent.
func (m *Manager[T]) Close() {
	if m.closed.Swap(true) {
		return
	}
	for {
		old := m.ch.refs.Load()
		if m.ch.refs.CompareAndSwap(old, old&^managerAlive) {
			return
		}
	}
}
