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
	"time"

	"github.com/pingcap/failpoint"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor/message"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/inbox"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Scheduling states of a proc.
//
//	NotScheduled -> Scheduled:  a wake source claimed the proc, it sits in
//	                            its worker's ready queue.
//	Scheduled    -> Running:    the worker popped it and is stepping it.
//	Running      -> NotScheduled: parked, waiting for the next wake.
//	Running      -> Scheduled:  more work surfaced while running, or the
//	                            actor restarted.
//	Running      -> Finished:   terminal.
//
// The NotScheduled -> Scheduled transition is a CAS, so between a park and
// the next step the proc occupies exactly one ready queue node no matter
// how many senders, timers and stop requests race.
const (
	procStateNotScheduled int32 = iota
	procStateScheduled
	procStateRunning
	procStateFinished
)

// Reasons an actor finishes, used as a metrics label and in logs.
const (
	finishReasonGraceful   = "graceful"
	finishReasonStop       = "stop"
	finishReasonDisconnect = "disconnect"
	finishReasonFailure    = "failure"
)

// runner is the type-erased face of proc[T]. Workers, the ready queue, the
// timer wheel and the system registry hold procs of heterogeneous message
// types through it.
type runner interface {
	procID() ID
	procName() string
	// runStep runs one resumption. Owning worker only.
	runStep()
	// deliverTimer and deliverIO stage an event and schedule the proc.
	// Owning worker only.
	deliverTimer(fire message.TimerFire, epoch uint64)
	deliverIO(ev message.IOReady)
	// requestStop latches the stop flag and schedules the proc. Safe from
	// any goroutine.
	requestStop()
	// discard finishes a proc that never ran. Only valid before the
	// system starts.
	discard()
}

// proc ties one actor to its inbox, worker and supervisor, and carries the
// actor's scheduling state.
type proc[T any] struct {
	id   ID
	name string
	sys  *System
	w    *worker

	state         atomic.Int32
	stopRequested atomic.Bool

	consumer *inbox.Consumer[T]
	factory  Factory[T]
	sup      Supervisor
	metrics  *systemMetrics

	// Fields below are owned by the worker goroutine. They are only
	// touched while the proc is Running, or from the worker loop between
	// steps, never concurrently.
	actor            Actor[T]
	ctx              *Context[T]
	batch            []message.Message[T]
	throughput       int
	needsInitialPoll bool
	firedTimers      []message.TimerFire
	ioEvents         []message.IOReady
	timerEpoch       uint64
	armedTimers      int
	watches          map[uint64]struct{}
	lastStats        inbox.Stats
}

func (p *proc[T]) procID() ID       { return p.id }
func (p *proc[T]) procName() string { return p.name }

// Wake implements inbox.Waker. The inbox calls it when a message lands
// while the wake flag is armed, or when the producer side disconnects.
func (p *proc[T]) Wake() {
	p.schedule()
}

// schedule moves the proc to Scheduled and hands it to its worker. Safe
// from any goroutine, the CAS admits one enqueue per park cycle.
func (p *proc[T]) schedule() {
	if p.state.CompareAndSwap(procStateNotScheduled, procStateScheduled) {
		p.w.enqueue(p)
	}
}

func (p *proc[T]) requestStop() {
	p.stopRequested.Store(true)
	p.schedule()
}

// runStep runs one resumption of the actor: deliver the stop poll if the
// actor or the system is stopping, otherwise drain a batch, poll the body
// and park or finish depending on the outcome.
func (p *proc[T]) runStep() {
	if !p.state.CompareAndSwap(procStateScheduled, procStateRunning) {
		log.Panic("actor proc ran in unexpected state",
			zap.Uint64("id", uint64(p.id)), zap.String("name", p.name),
			zap.Int32("state", p.state.Load()))
	}

	if p.stopRequested.Load() || p.sys.isStopping() {
		p.deliverStop()
		return
	}

	disconnected := p.drainBatch()
	initial := p.needsInitialPoll
	p.needsInitialPoll = false

	if len(p.batch) == 0 && !initial {
		if disconnected && p.armedTimers == 0 && len(p.watches) == 0 {
			// Every sender is gone and nothing can ever wake this actor
			// again. Supervisors do not see this, it is not a failure.
			p.finish(finishReasonDisconnect)
			return
		}
		// Spurious wake, typically a send that raced a previous drain.
		p.park()
		return
	}

	running, err := p.poll(p.batch)
	p.releaseBatch()
	if err != nil {
		p.handleFailure(err)
		return
	}
	if !running {
		p.finish(finishReasonGraceful)
		return
	}
	p.park()
}

// drainBatch fills p.batch with up to throughput inbox messages followed by
// the timer fires and I/O events staged since the last step. It reports
// whether the inbox is disconnected.
func (p *proc[T]) drainBatch() bool {
	p.batch = p.batch[:0]
	disconnected := false
	values := 0
	for len(p.batch) < p.throughput {
		v, ok, err := p.consumer.TryReceive()
		if err != nil {
			disconnected = true
			break
		}
		if !ok {
			break
		}
		p.batch = append(p.batch, message.ValueMessage(v))
		values++
	}
	for _, fire := range p.firedTimers {
		p.batch = append(p.batch, message.TimerMessage[T](fire))
	}
	p.firedTimers = p.firedTimers[:0]
	for _, ev := range p.ioEvents {
		p.batch = append(p.batch, message.IOMessage[T](ev))
	}
	p.ioEvents = p.ioEvents[:0]
	if values > 0 {
		p.metrics.messagesDelivered.Add(float64(values))
	}
	return disconnected
}

// releaseBatch drops references held by the last batch so a parked actor
// does not pin delivered messages.
func (p *proc[T]) releaseBatch() {
	var zero message.Message[T]
	for i := range p.batch {
		p.batch[i] = zero
	}
	p.batch = p.batch[:0]
}

// park moves the proc from Running back to NotScheduled, then re-checks
// every wake source. A send, stop request or disconnect that raced the poll
// re-schedules the proc immediately, so no wake is ever lost to the gap
// between the drain and the state store.
func (p *proc[T]) park() {
	p.flushStats()
	p.state.Store(procStateNotScheduled)

	pending := p.stopRequested.Load() || p.sys.isStopping()
	if !pending && !p.consumer.ArmWake() {
		// Arming failed, either messages are buffered or the inbox is
		// disconnected.
		if p.consumer.Len() > 0 || p.consumer.IsConnected() {
			pending = true
		} else if p.armedTimers == 0 && len(p.watches) == 0 {
			// Disconnected and drained. Re-schedule once more so the next
			// step observes the disconnect and finishes.
			pending = true
		}
		// Otherwise stay parked. The inbox can only disconnect, armed
		// timers and watches remain live wake sources.
	}
	if pending && p.state.CompareAndSwap(procStateNotScheduled, procStateScheduled) {
		p.w.enqueue(p)
	}
}

// poll invokes the actor body, fencing panics into errors.
func (p *proc[T]) poll(msgs []message.Message[T]) (running bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("actor poll panic",
				zap.Uint64("id", uint64(p.id)), zap.String("name", p.name),
				zap.Any("panic", r), zap.Stack("stacktrace"))
			p.metrics.panics.Inc()
			running = false
			err = cerrors.ErrActorPanic.GenWithStackByArgs(r)
		}
	}()
	failpoint.Inject("actorPollDelay", func(val failpoint.Value) {
		if ms, ok := val.(int); ok {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
	})
	start := time.Now()
	running, err = p.actor.Poll(p.ctx, msgs)
	p.metrics.pollDuration.Observe(time.Since(start).Seconds())
	p.metrics.batchSize.Observe(float64(len(msgs)))
	return
}

func (p *proc[T]) handleFailure(cause error) {
	switch p.decide(cause) {
	case DirectiveRestart:
		p.restart(cause)
	case DirectivePropagate:
		log.Error("actor failure escalated to the system",
			zap.Uint64("id", uint64(p.id)), zap.String("name", p.name),
			zap.Error(cause))
		p.finish(finishReasonFailure)
		p.sys.propagate(p.id, p.name, cause)
	default:
		log.Error("actor stopped on failure",
			zap.Uint64("id", uint64(p.id)), zap.String("name", p.name),
			zap.Error(cause))
		p.finish(finishReasonFailure)
	}
}

// decide consults the supervisor. A panicking supervisor downgrades to
// DirectiveStop.
func (p *proc[T]) decide(cause error) (d Directive) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("supervisor panic, stopping the actor",
				zap.Uint64("id", uint64(p.id)), zap.String("name", p.name),
				zap.Any("panic", r), zap.Stack("stacktrace"))
			d = DirectiveStop
		}
	}()
	return p.sup.Decide(cause)
}

// restart swaps in a fresh actor instance from the factory. The ID, inbox
// and queued messages survive, timers and watches of the failed incarnation
// do not.
func (p *proc[T]) restart(cause error) {
	log.Warn("restarting actor",
		zap.Uint64("id", uint64(p.id)), zap.String("name", p.name),
		zap.Error(cause))
	p.metrics.restarts.Inc()
	p.closeActor()
	p.dropWatches()
	// Bumping the epoch voids every timer armed by the failed incarnation,
	// wheel entries with a stale epoch are dropped at fire time.
	p.timerEpoch++
	p.armedTimers = 0
	p.firedTimers = p.firedTimers[:0]
	p.ioEvents = p.ioEvents[:0]
	p.actor = p.factory()
	p.needsInitialPoll = true
	p.state.Store(procStateScheduled)
	p.w.enqueue(p)
}

// deliverStop runs the final poll with a single StopMessage. Messages still
// queued in the inbox are dropped, and failures are logged rather than
// supervised, the actor is finishing either way.
func (p *proc[T]) deliverStop() {
	p.batch = p.batch[:0]
	p.batch = append(p.batch, message.StopMessage[T]())
	if _, err := p.poll(p.batch); err != nil {
		log.Error("actor failed during stop",
			zap.Uint64("id", uint64(p.id)), zap.String("name", p.name),
			zap.Error(err))
	}
	p.releaseBatch()
	p.finish(finishReasonStop)
}

func (p *proc[T]) finish(reason string) {
	p.state.Store(procStateFinished)
	p.closeActor()
	p.consumer.Close()
	p.dropWatches()
	p.timerEpoch++
	p.armedTimers = 0
	p.flushStats()
	p.metrics.finishes.WithLabelValues(p.sys.name, reason).Inc()
	log.Info("actor finished",
		zap.Uint64("id", uint64(p.id)), zap.String("name", p.name),
		zap.String("reason", reason))
	p.w.live.Dec()
	p.sys.procFinished(p.id)
}

// discard finishes a proc that never ran, which happens when the system is
// stopped before Run. Registry accounting is the caller's job.
func (p *proc[T]) discard() {
	p.state.Store(procStateFinished)
	p.closeActor()
	p.consumer.Close()
}

// closeActor runs OnClose, shielding the runtime from panics in cleanup.
func (p *proc[T]) closeActor() {
	defer func() {
		if r := recover(); r != nil {
			log.Error("actor OnClose panic",
				zap.Uint64("id", uint64(p.id)), zap.String("name", p.name),
				zap.Any("panic", r), zap.Stack("stacktrace"))
		}
	}()
	p.actor.OnClose()
}

// deliverTimer stages a timer fire and schedules the proc. Fires tagged
// with a stale epoch belong to a finished or restarted incarnation and are
// dropped. Owning worker only.
func (p *proc[T]) deliverTimer(fire message.TimerFire, epoch uint64) {
	if epoch != p.timerEpoch {
		return
	}
	p.armedTimers--
	p.firedTimers = append(p.firedTimers, fire)
	p.metrics.timersFired.Inc()
	p.schedule()
}

// deliverIO stages an I/O readiness event and schedules the proc. Owning
// worker only.
func (p *proc[T]) deliverIO(ev message.IOReady) {
	p.ioEvents = append(p.ioEvents, ev)
	p.metrics.ioEvents.Inc()
	p.schedule()
}

// dropWatches deregisters every connection this proc watches.
func (p *proc[T]) dropWatches() {
	if len(p.watches) == 0 {
		return
	}
	for key := range p.watches {
		if err := p.w.removeWatch(key); err != nil {
			log.Warn("actor unwatch failed",
				zap.Uint64("id", uint64(p.id)), zap.String("name", p.name),
				zap.Uint64("key", key), zap.Error(err))
		}
		delete(p.watches, key)
	}
}

// flushStats exports inbox counter deltas. Sends hit the inbox directly,
// so rejections and disconnected sends are only visible through its stats.
func (p *proc[T]) flushStats() {
	cur := p.consumer.Stats()
	if d := cur.Rejected - p.lastStats.Rejected; d > 0 {
		p.metrics.sendsRejected.Add(float64(d))
	}
	if d := cur.Disconnected - p.lastStats.Disconnected; d > 0 {
		p.metrics.sendsDisconnected.Add(float64(d))
	}
	p.lastStats = cur
}
