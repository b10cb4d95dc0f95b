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
	"syscall"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor/message"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/reactor"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// runPollRatio bounds how many proc steps a worker runs between looks
	// at its reactor, so timers and I/O stay live under a saturated ready
	// queue.
	runPollRatio = 32

	// eventBatchSize is the reactor event scratch capacity.
	eventBatchSize = 128
)

type watchTarget struct {
	r    runner
	conn syscall.Conn
}

// worker owns one scheduling thread of the system: a ready queue, a timer
// wheel and a reactor. Procs are pinned to a worker at spawn and never
// migrate, which is what lets their owner-only state go lockless.
type worker struct {
	id  int
	sys *System

	queue *readyQueue
	// polling is the sleep intent flag of the wake protocol. The worker
	// sets it before blocking in the reactor and re-checks the queue,
	// producers that observe it signal the reactor after their push.
	polling atomic.Bool
	// live counts procs pinned to this worker that have not finished.
	live atomic.Int64

	// Fields below are owned by the worker goroutine.
	wheel   *timerWheel
	reactor reactor.Reactor
	events  []reactor.Event
	watches map[uint64]watchTarget
	nextKey uint64
}

func newWorker(id int, sys *System, r reactor.Reactor, tick time.Duration, wheelSize int) *worker {
	return &worker{
		id:      id,
		sys:     sys,
		queue:   newReadyQueue(),
		wheel:   newTimerWheel(sys.clk, tick, wheelSize),
		reactor: r,
		events:  make([]reactor.Event, eventBatchSize),
		watches: make(map[uint64]watchTarget),
	}
}

// enqueue hands a scheduled proc to this worker. Safe from any goroutine.
func (w *worker) enqueue(r runner) {
	w.queue.push(r)
	if w.polling.Load() {
		if err := w.reactor.Wake(); err != nil && !cerrors.ErrReactorClosed.Equal(err) {
			log.Warn("actor worker wake failed",
				zap.Int("worker", w.id), zap.Error(err))
		}
	}
}

// run is the worker loop. It alternates between draining the ready queue
// and polling the reactor, and sleeps in the reactor when idle with a
// timeout that covers the earliest armed timer. It exits once the system
// is stopping and every proc pinned here has finished.
func (w *worker) run() error {
	log.Debug("actor worker started", zap.String("system", w.sys.name),
		zap.Int("worker", w.id))
	defer log.Debug("actor worker exited", zap.String("system", w.sys.name),
		zap.Int("worker", w.id))
	for {
		for i := 0; i < runPollRatio; i++ {
			r := w.queue.pop()
			if r == nil {
				break
			}
			r.runStep()
		}
		if w.sys.isStopping() && w.live.Load() == 0 && w.queue.isEmpty() {
			return nil
		}
		if err := w.pollReactor(); err != nil {
			return errors.Trace(err)
		}
	}
}

// pollReactor waits for I/O readiness and wakes, dispatches events to the
// watching procs and advances the timer wheel. While runnable procs are
// pending the wait degrades to a non-blocking probe.
func (w *worker) pollReactor() error {
	timeout := time.Duration(0)
	if w.queue.isEmpty() {
		if next, ok := w.wheel.nextDeadline(); ok {
			timeout = next.Sub(w.sys.clk.Now())
			if timeout < 0 {
				timeout = 0
			}
		} else {
			timeout = -1
		}
	}
	armed := false
	if timeout != 0 {
		w.polling.Store(true)
		armed = true
		// The re-check closes the race with a producer that pushed before
		// the flag was visible, and with a stop that latched just before.
		if !w.queue.isEmpty() || w.sys.isStopping() {
			timeout = 0
		}
	}
	n, err := w.reactor.Wait(w.events, timeout)
	if armed {
		w.polling.Store(false)
	}
	if err != nil {
		return errors.Trace(err)
	}
	for i := 0; i < n; i++ {
		ev := w.events[i]
		target, ok := w.watches[ev.Key]
		if !ok {
			// Deregistered after the event was queued.
			continue
		}
		target.r.deliverIO(message.IOReady{
			Key:      ev.Key,
			Readable: ev.Ready.Has(reactor.Readable),
			Writable: ev.Ready.Has(reactor.Writable),
			Hangup:   ev.Hangup,
		})
	}
	w.wheel.advance(w.sys.clk.Now())
	return nil
}

// addWatch registers conn with the reactor under a fresh key and records
// the watching proc. Worker goroutine only.
func (w *worker) addWatch(r runner, conn syscall.Conn, interest reactor.Interest) (uint64, error) {
	w.nextKey++
	key := w.nextKey
	if err := w.reactor.Register(conn, key, interest); err != nil {
		return 0, errors.Trace(err)
	}
	w.watches[key] = watchTarget{r: r, conn: conn}
	return key, nil
}

// removeWatch drops a watch by key. Worker goroutine only.
func (w *worker) removeWatch(key uint64) error {
	t, ok := w.watches[key]
	if !ok {
		return nil
	}
	delete(w.watches, key)
	return errors.Trace(w.reactor.Deregister(t.conn))
}
