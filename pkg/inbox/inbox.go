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
	"strings"
	"sync/atomic"

	"github.com/pingcap/failpoint"
	"github.com/pingcap/log"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"go.uber.org/zap"
)

// Reference counting word layout. The low bits count strong producers,
// the two top bits record whether the consumer and the manager handles
// are still alive.
const (
	consumerAlive uint64 = 1 << 63
	managerAlive  uint64 = 1 << 62
	producerMask  uint64 = managerAlive - 1
)

// maxCapacity bounds the ring allocation. Inboxes are meant to be small,
// a huge capacity is almost always a configuration mistake.
const maxCapacity = 1 << 30

var (
	errFull         = cerrors.ErrInboxFull.FastGenByArgs()
	errDisconnected = cerrors.ErrInboxDisconnected.FastGenByArgs()
)

// Waker is notified when a parked consumer must be re-polled. The actor
// runtime registers one per inbox; Wake must be safe to call from any
// goroutine and must never block.
type Waker interface {
	Wake()
}

type wakerBox struct {
	w Waker
}

// slot holds one message. seq plays the role of a per-slot state and
// generation counter, Vyukov style:
//
//	seq == pos             the slot is Empty for the producer that wins pos
//	seq == pos (tail>pos)  a producer reserved pos and is Writing
//	seq == pos+1           the slot is Ready for the consumer
//	seq == pos+ringSize    the slot was released for the next lap
//
// The +ringSize bump on release is what makes a stale producer holding an
// old position unable to touch a reused slot.
type slot[T any] struct {
	seq atomic.Uint64
	val T
}

// channel is the state shared by all handles of one inbox.
type channel[T any] struct {
	capacity uint64
	mask     uint64
	slots    []slot[T]

	_    [64]byte
	tail atomic.Uint64
	_    [64]byte
	head atomic.Uint64
	_    [64]byte
	refs atomic.Uint64
	_    [64]byte

	// needWake is armed by the consumer before it parks and disarmed by
	// the producer that takes responsibility for waking it. At most one
	// wake is delivered per park.
	needWake atomic.Bool
	waker    atomic.Pointer[wakerBox]

	// Edge signals for the blocking Send/Receive conveniences. Capacity 1,
	// signals coalesce; waiters re-arm and re-check in a loop.
	notEmpty chan struct{}
	notFull  chan struct{}

	sent         atomic.Int64
	rejected     atomic.Int64
	disconnected atomic.Int64
	received     atomic.Int64
}

// Stats is a point-in-time snapshot of an inbox's counters.
type Stats struct {
	Sent         int64
	Rejected     int64
	Disconnected int64
	Received     int64
}

// New creates an inbox that buffers at most capacity messages and returns
// its two sides. The producer side may be cloned freely and used from any
// number of goroutines; the consumer side must stay on one goroutine at a
// time. capacity must be positive.
func New[T any](capacity int) (*Producer[T], *Consumer[T]) {
	ch := newChannel[T](capacity)
	ch.refs.Store(consumerAlive | 1)
	return &Producer[T]{ch: ch}, &Consumer[T]{ch: ch}
}

// NewWithManager is New plus a Manager handle that can mint a replacement
// consumer after the previous one was closed. Queued messages survive the
// swap, which is what allows a crashed owner to be restarted without
// losing its backlog.
func NewWithManager[T any](capacity int) (*Manager[T], *Producer[T], *Consumer[T]) {
	ch := newChannel[T](capacity)
	ch.refs.Store(consumerAlive | managerAlive | 1)
	return &Manager[T]{ch: ch}, &Producer[T]{ch: ch}, &Consumer[T]{ch: ch}
}

func newChannel[T any](capacity int) *channel[T] {
	if capacity <= 0 || capacity > maxCapacity {
		log.Panic("invalid inbox capacity", zap.Int("capacity", capacity))
	}
	ringSize := nextPowerOfTwo(uint64(capacity))
	ch := &channel[T]{
		capacity: uint64(capacity),
		mask:     ringSize - 1,
		slots:    make([]slot[T], ringSize),
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
	}
	for i := range ch.slots {
		ch.slots[i].seq.Store(uint64(i))
	}
	return ch
}

func nextPowerOfTwo(v uint64) uint64 {
	n := uint64(1)
	for n < v {
		n <<= 1
	}
	return n
}

// trySend is the lock-free hot path. It reserves the next ring position
// with a CAS on tail, writes the value and publishes it by bumping the
// slot sequence. It fails fast with errFull when the ring already holds
// capacity messages; it never blocks, spins unboundedly or overwrites.
func (ch *channel[T]) trySend(msg T) error {
	failpoint.Inject("inboxForceFull", func() {
		ch.rejected.Add(1)
		failpoint.Return(errFull)
	})
	if ch.refs.Load()&consumerAlive == 0 {
		ch.disconnected.Add(1)
		return errDisconnected
	}
	pos := ch.tail.Load()
	for {
		// Reject-newest gate. head is monotonic, so a torn read only makes
		// the gate more conservative, never lets the ring overfill.
		if pos-ch.head.Load() >= ch.capacity {
			ch.rejected.Add(1)
			return errFull
		}
		s := &ch.slots[pos&ch.mask]
		seq := s.seq.Load()
		switch {
		case seq == pos:
			if ch.tail.CompareAndSwap(pos, pos+1) {
				s.val = msg
				s.seq.Store(pos + 1)
				ch.sent.Add(1)
				ch.wakeConsumer()
				return nil
			}
			pos = ch.tail.Load()
		case seq < pos:
			// The slot from the previous lap was not released yet. The
			// length gate fires first in practice, this is the backstop.
			ch.rejected.Add(1)
			return errFull
		default:
			pos = ch.tail.Load()
		}
	}
}

// tryReceive takes the oldest Ready message if there is one. It samples
// the producer count before scanning so that the last message sent right
// before the last producer closed is still delivered, not reported as a
// disconnect.
func (ch *channel[T]) tryReceive() (T, bool, error) {
	var zero T
	connected := ch.refs.Load()&producerMask != 0
	pos := ch.head.Load()
	s := &ch.slots[pos&ch.mask]
	if s.seq.Load() == pos+1 {
		msg := s.val
		s.val = zero
		s.seq.Store(pos + uint64(len(ch.slots)))
		ch.head.Store(pos + 1)
		ch.received.Add(1)
		ch.signalNotFull()
		return msg, true, nil
	}
	if !connected {
		return zero, false, errDisconnected
	}
	return zero, false, nil
}

// wakeConsumer delivers at most one wake per park. Producers race on the
// swap; the winner notifies both the registered waker and the blocking
// receive signal.
func (ch *channel[T]) wakeConsumer() {
	if !ch.needWake.Swap(false) {
		return
	}
	if b := ch.waker.Load(); b != nil {
		b.w.Wake()
	}
	select {
	case ch.notEmpty <- struct{}{}:
	default:
	}
}

func (ch *channel[T]) signalNotFull() {
	select {
	case ch.notFull <- struct{}{}:
	default:
	}
}

func (ch *channel[T]) len() int {
	tail := ch.tail.Load()
	head := ch.head.Load()
	if tail < head {
		return 0
	}
	if n := tail - head; n <= ch.capacity {
		return int(n)
	}
	return int(ch.capacity)
}

func (ch *channel[T]) stats() Stats {
	return Stats{
		Sent:         ch.sent.Load(),
		Rejected:     ch.rejected.Load(),
		Disconnected: ch.disconnected.Load(),
		Received:     ch.received.Load(),
	}
}

// dropConsumer clears the consumer-alive bit and kicks one blocked sender
// so the disconnect propagates through the notFull wait chain.
func (ch *channel[T]) dropConsumer() {
	for {
		old := ch.refs.Load()
		if ch.refs.CompareAndSwap(old, old&^consumerAlive) {
			break
		}
	}
	ch.signalNotFull()
}

// dropProducer releases one strong producer. The last one to go wakes the
// consumer so it can observe the disconnect instead of parking forever.
func (ch *channel[T]) dropProducer() {
	if ch.refs.Add(^uint64(0))&producerMask == 0 {
		ch.wakeConsumer()
	}
}

func (ch *channel[T]) addProducer() {
	ch.refs.Add(1)
}

// debugString renders the ring slot states from the consumer's point of
// view, oldest first. Debug logging only, the snapshot is racy.
func (ch *channel[T]) debugString() string {
	head := ch.head.Load()
	tail := ch.tail.Load()
	ringSize := uint64(len(ch.slots))
	var b strings.Builder
	for i := uint64(0); i < ringSize; i++ {
		pos := head + i
		seq := ch.slots[pos&ch.mask].seq.Load()
		switch {
		case seq == pos+1:
			b.WriteString("R") // Ready
		case seq == pos && pos < tail:
			b.WriteString("W") // Writing
		default:
			b.WriteString(".") // Empty
		}
	}
	return b.String()
}
