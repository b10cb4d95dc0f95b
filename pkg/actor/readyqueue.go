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
	"sync"
	"sync/atomic"
)

// queueNode is a link in the ready queue. Nodes are pooled, the value is
// cleared on dequeue so pooled nodes do not pin finished procs.
type queueNode struct {
	next atomic.Pointer[queueNode]
	r    runner
}

var queueNodePool = sync.Pool{New: func() any { return new(queueNode) }}

// readyQueue is an intrusive-free, lock-free multi-producer single-consumer
// FIFO of procs that have work pending. Any goroutine may push, only the
// owning worker pops. The proc state machine guarantees a proc occupies at
// most one node at a time.
//
// The list always holds one stub node. push swaps the tail and links the
// previous tail to the new node, pop advances head past the stub. Between
// the swap and the link a pop can observe an empty queue; the wake protocol
// in worker.enqueue covers that window, the producer signals the reactor
// after the link is complete.
//
// Reference: https://concurrencyfreaks.blogspot.com/2014/04/multi-producer-single-consumer-queue.html
type readyQueue struct {
	head atomic.Pointer[queueNode]
	_    [64]byte
	tail atomic.Pointer[queueNode]
	_    [64]byte
}

func newReadyQueue() *readyQueue {
	stub := new(queueNode)
	q := new(readyQueue)
	q.head.Store(stub)
	q.tail.Store(stub)
	return q
}

// push appends r to the queue. Safe for concurrent use.
func (q *readyQueue) push(r runner) {
	n := queueNodePool.Get().(*queueNode)
	n.r = r
	n.next.Store(nil)

	prev := q.tail.Swap(n)
	prev.next.Store(n)
}

// pop removes and returns the oldest proc, or nil when the queue is empty.
// Only the owning worker may call pop.
func (q *readyQueue) pop() runner {
	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil
	}

	q.head.Store(next)
	r := next.r
	next.r = nil

	queueNodePool.Put(head)
	return r
}

// isEmpty reports whether the queue currently holds no procs. The snapshot
// can go stale immediately, callers recheck after arming the wake path.
func (q *readyQueue) isEmpty() bool {
	return q.head.Load().next.Load() == nil
}
