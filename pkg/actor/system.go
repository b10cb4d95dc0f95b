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
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/config"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/inbox"
	"github.com/pingcap/tiactor/pkg/reactor"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// maxWorkerNum caps the worker pool, more schedulers than this buys
	// nothing but wakeup traffic.
	maxWorkerNum = 128

	defaultInboxCapacity  = 8
	defaultThroughput     = 64
	defaultTimerTick      = time.Millisecond
	defaultTimerWheelSize = 256
)

type sysState int

const (
	sysStateInit sysState = iota
	sysStateStarted
	sysStateStopping
	sysStateStopped
)

func (s sysState) String() string {
	switch s {
	case sysStateInit:
		return "init"
	case sysStateStarted:
		return "started"
	case sysStateStopping:
		return "stopping"
	case sysStateStopped:
		return "stopped"
	}
	return "unknown"
}

// propagation records the first escalated actor failure.
type propagation struct {
	id    ID
	name  string
	cause error
}

type runContextBox struct {
	ctx context.Context
}

// System schedules actors over a fixed pool of workers. Each actor is
// pinned to one worker at spawn, workers multiplex their actors
// cooperatively and sleep when none is runnable.
//
// Build a System with SystemBuilder or NewSystemFromConfig, add actors
// with Spawn, then call Run. Run blocks until the system stops.
type System struct {
	name       string
	inboxCap   int
	throughput int
	clk        clock.Clock

	workers []*worker

	stateMu sync.Mutex
	state   sysState
	procs   map[ID]runner
	live    int

	// stopping mirrors state >= sysStateStopping for lock-free reads on
	// the worker hot path.
	stopping   atomic.Bool
	runDone    chan struct{}
	runCtx     atomic.Pointer[runContextBox]
	nextID     atomic.Uint64
	nextWorker atomic.Uint64
	propagated atomic.Pointer[propagation]

	metrics *systemMetrics
}

// SystemBuilder is a builder of an actor system.
type SystemBuilder struct {
	name      string
	workerNum int
	inboxCap  int
	// throughput is the number of inbox messages an actor can handle per
	// resumption before yielding its worker.
	throughput int
	tick       time.Duration
	wheelSize  int
	clk        clock.Clock
}

// NewSystemBuilder returns a SystemBuilder with the default options.
func NewSystemBuilder(name string) *SystemBuilder {
	workerNum := runtime.GOMAXPROCS(0)
	if workerNum > maxWorkerNum {
		workerNum = maxWorkerNum
	}
	return &SystemBuilder{
		name:       name,
		workerNum:  workerNum,
		inboxCap:   defaultInboxCapacity,
		throughput: defaultThroughput,
		tick:       defaultTimerTick,
		wheelSize:  defaultTimerWheelSize,
		clk:        clock.New(),
	}
}

// WorkerNumber sets the number of workers.
func (b *SystemBuilder) WorkerNumber(n int) *SystemBuilder {
	b.workerNum = n
	return b
}

// InboxCapacity sets the default inbox capacity of spawned actors. Spawn
// can override it per actor with WithCapacity.
func (b *SystemBuilder) InboxCapacity(n int) *SystemBuilder {
	b.inboxCap = n
	return b
}

// Throughput sets how many inbox messages an actor handles per resumption
// before it yields to the other actors on its worker.
func (b *SystemBuilder) Throughput(n int) *SystemBuilder {
	b.throughput = n
	return b
}

// TimerTick sets the timer wheel resolution. Timer lateness is bounded by
// one tick plus scheduling delay.
func (b *SystemBuilder) TimerTick(d time.Duration) *SystemBuilder {
	b.tick = d
	return b
}

// TimerWheelSize sets the bucket count of each worker's timer wheel,
// rounded up to a power of two.
func (b *SystemBuilder) TimerWheelSize(n int) *SystemBuilder {
	b.wheelSize = n
	return b
}

// Clock substitutes the time source, tests use a mock.
func (b *SystemBuilder) Clock(clk clock.Clock) *SystemBuilder {
	b.clk = clk
	return b
}

// Build validates the options and creates the system together with its
// workers and their reactors. Reactor setup is the only fallible part of
// startup, failures surface here rather than at Run.
//
// The caller must eventually Run or Stop the returned system, reactors
// hold file descriptors until then.
func (b *SystemBuilder) Build() (*System, error) {
	if b.workerNum <= 0 || b.workerNum > maxWorkerNum {
		return nil, cerrors.ErrInvalidSystemOption.GenWithStackByArgs("worker number", b.workerNum)
	}
	if b.inboxCap <= 0 {
		return nil, cerrors.ErrInvalidSystemOption.GenWithStackByArgs("inbox capacity", b.inboxCap)
	}
	if b.throughput <= 0 {
		return nil, cerrors.ErrInvalidSystemOption.GenWithStackByArgs("throughput", b.throughput)
	}
	if b.tick <= 0 {
		return nil, cerrors.ErrInvalidSystemOption.GenWithStackByArgs("timer tick", b.tick)
	}
	if b.wheelSize <= 0 {
		return nil, cerrors.ErrInvalidSystemOption.GenWithStackByArgs("timer wheel size", b.wheelSize)
	}

	sys := &System{
		name:       b.name,
		inboxCap:   b.inboxCap,
		throughput: b.throughput,
		clk:        b.clk,
		procs:      make(map[ID]runner),
		runDone:    make(chan struct{}),
		metrics:    newSystemMetrics(b.name),
	}
	for i := 0; i < b.workerNum; i++ {
		r, err := reactor.New()
		if err != nil {
			for _, w := range sys.workers {
				_ = w.reactor.Close()
			}
			return nil, errors.Trace(err)
		}
		sys.workers = append(sys.workers, newWorker(i, sys, r, b.tick, b.wheelSize))
	}
	return sys, nil
}

// NewSystemFromConfig builds a system from a configuration, applying
// defaults to unset fields.
func NewSystemFromConfig(cfg *config.SystemConfig) (*System, error) {
	if err := cfg.ValidateAndAdjust(); err != nil {
		return nil, errors.Trace(err)
	}
	return NewSystemBuilder(cfg.Name).
		WorkerNumber(cfg.WorkerNumber).
		InboxCapacity(cfg.InboxCapacity).
		Throughput(cfg.Throughput).
		TimerTick(time.Duration(cfg.TimerTick)).
		TimerWheelSize(cfg.TimerWheelSize).
		Build()
}

// spawnOptions collects per-actor overrides.
type spawnOptions struct {
	capacity int
}

// SpawnOption tweaks one spawned actor.
type SpawnOption func(*spawnOptions)

// WithCapacity overrides the system default inbox capacity for one actor.
func WithCapacity(n int) SpawnOption {
	return func(o *spawnOptions) { o.capacity = n }
}

// Spawn creates an actor and returns a strong ref to it. The factory is
// invoked immediately for the first incarnation and again on every
// restart. A nil supervisor stops the actor on its first failure.
//
// The new actor is pinned to a worker round-robin and receives an initial
// poll with an empty batch, its chance to arm timers and watches before
// any message arrives. Spawning is allowed before Run, such actors run
// once the system starts.
//
// Spawn is a free function rather than a method because each actor brings
// its own message type, one system schedules actors of many types.
func Spawn[T any](sys *System, name string, factory Factory[T], sup Supervisor, opts ...SpawnOption) (*Ref[T], error) {
	if factory == nil {
		log.Panic("actor factory must not be nil",
			zap.String("system", sys.name), zap.String("name", name))
	}
	if sup == nil {
		sup = StopSupervisor
	}
	so := spawnOptions{capacity: sys.inboxCap}
	for _, opt := range opts {
		opt(&so)
	}
	if so.capacity <= 0 {
		return nil, cerrors.ErrInboxCapacity.GenWithStackByArgs(so.capacity)
	}

	producer, consumer := inbox.New[T](so.capacity)
	id := ID(sys.nextID.Inc())
	w := sys.workers[int((sys.nextWorker.Inc()-1)%uint64(len(sys.workers)))]
	p := &proc[T]{
		id:         id,
		name:       name,
		sys:        sys,
		w:          w,
		consumer:   consumer,
		factory:    factory,
		sup:        sup,
		metrics:    sys.metrics,
		throughput: sys.throughput,
		actor:      factory(),
	}
	ref := &Ref[T]{id: id, name: name, p: producer}
	p.ctx = newContext(p, ref.Downgrade())
	consumer.RegisterWaker(p)

	sys.stateMu.Lock()
	if sys.state >= sysStateStopping {
		sys.stateMu.Unlock()
		p.discard()
		producer.Close()
		return nil, cerrors.ErrSystemStopped.GenWithStackByArgs()
	}
	sys.procs[id] = p
	sys.live++
	sys.stateMu.Unlock()

	w.live.Inc()
	sys.metrics.liveActors.Inc()
	p.needsInitialPoll = true
	p.schedule()
	log.Debug("spawned actor", zap.String("system", sys.name),
		zap.Uint64("id", uint64(id)), zap.String("name", name))
	return ref, nil
}

// Run starts the workers and blocks until the system stops. It returns nil
// when the system stopped by Stop or because every actor finished, the
// escalated failure when a supervisor propagated one, and the context
// error when ctx was canceled. Run can be called once.
func (s *System) Run(ctx context.Context) error {
	s.stateMu.Lock()
	switch s.state {
	case sysStateInit:
		s.state = sysStateStarted
	default:
		state := s.state
		s.stateMu.Unlock()
		return cerrors.ErrSystemState.GenWithStackByArgs(state)
	}
	s.stateMu.Unlock()

	log.Info("actor system running",
		zap.String("name", s.name), zap.Int("workers", len(s.workers)))
	s.metrics.workers.Set(float64(len(s.workers)))

	errg, gctx := errgroup.WithContext(ctx)
	s.runCtx.Store(&runContextBox{ctx: gctx})

	// The reactor wait cannot select on a context, a watcher turns
	// cancellation into an orderly stop instead.
	watcherDone := make(chan struct{})
	go func() {
		select {
		case <-gctx.Done():
			s.beginStop("context done")
		case <-watcherDone:
		}
	}()
	for _, w := range s.workers {
		errg.Go(w.run)
	}
	err := errg.Wait()
	close(watcherDone)

	var closeErr error
	for _, w := range s.workers {
		closeErr = multierr.Append(closeErr, w.reactor.Close())
	}
	if closeErr != nil {
		log.Warn("actor system reactor close failed",
			zap.String("name", s.name), zap.Error(closeErr))
	}

	s.stateMu.Lock()
	s.state = sysStateStopped
	s.stateMu.Unlock()
	close(s.runDone)
	s.metrics.workers.Set(0)

	if prop := s.propagated.Load(); prop != nil {
		log.Error("actor system stopped on escalated failure",
			zap.String("name", s.name), zap.Uint64("id", uint64(prop.id)),
			zap.String("actor", prop.name), zap.Error(prop.cause))
		return cerrors.WrapError(
			cerrors.ErrActorFailurePropagated, prop.cause, prop.name, prop.cause)
	}
	if err != nil {
		return errors.Trace(err)
	}
	if ctx.Err() != nil {
		return errors.Trace(ctx.Err())
	}
	log.Info("actor system stopped", zap.String("name", s.name))
	return nil
}

// Stop shuts the system down, delivering one final stop poll to every live
// actor, and waits until the workers exited. It is idempotent and safe
// from any goroutine, except from inside Poll, where it would wait for the
// caller's own worker.
//
// Stopping a system that never ran finishes the spawned actors inline.
func (s *System) Stop() {
	s.stateMu.Lock()
	switch s.state {
	case sysStateInit:
		s.state = sysStateStopped
		s.stopping.Store(true)
		procs := make([]runner, 0, len(s.procs))
		for id, r := range s.procs {
			procs = append(procs, r)
			delete(s.procs, id)
		}
		s.live = 0
		s.stateMu.Unlock()
		for _, r := range procs {
			r.discard()
			s.metrics.liveActors.Dec()
			s.metrics.finishes.WithLabelValues(s.name, finishReasonStop).Inc()
		}
		var closeErr error
		for _, w := range s.workers {
			closeErr = multierr.Append(closeErr, w.reactor.Close())
		}
		if closeErr != nil {
			log.Warn("actor system reactor close failed",
				zap.String("name", s.name), zap.Error(closeErr))
		}
		close(s.runDone)
		log.Info("actor system stopped before running", zap.String("name", s.name))
		return
	case sysStateStarted:
		s.stateMu.Unlock()
		s.beginStop("stop requested")
	default:
		s.stateMu.Unlock()
	}
	<-s.runDone
}

// beginStop moves the system to stopping and schedules the final stop poll
// for every live actor. It is the join point of Stop, context
// cancellation, failure propagation and the natural drain, only the first
// caller does the work.
func (s *System) beginStop(cause string) {
	s.stateMu.Lock()
	if s.state != sysStateStarted {
		s.stateMu.Unlock()
		return
	}
	s.state = sysStateStopping
	s.stopping.Store(true)
	procs := make([]runner, 0, len(s.procs))
	for _, r := range s.procs {
		procs = append(procs, r)
	}
	s.stateMu.Unlock()

	log.Info("actor system stopping",
		zap.String("name", s.name), zap.String("cause", cause),
		zap.Int("liveActors", len(procs)))
	for _, r := range procs {
		r.requestStop()
	}
	s.wakeAll()
}

// wakeAll kicks every worker out of its reactor wait so stop progress does
// not depend on traffic.
func (s *System) wakeAll() {
	for _, w := range s.workers {
		if w.polling.Load() {
			if err := w.reactor.Wake(); err != nil && !cerrors.ErrReactorClosed.Equal(err) {
				log.Warn("actor worker wake failed",
					zap.Int("worker", w.id), zap.Error(err))
			}
		}
	}
}

// propagate records the first escalated failure and shuts the system down.
func (s *System) propagate(id ID, name string, cause error) {
	if s.propagated.CompareAndSwap(nil, &propagation{id: id, name: name, cause: cause}) {
		s.beginStop("failure propagated")
	}
}

// procFinished removes a finished proc from the registry. The last one out
// stops the system, a running system with zero live actors can never do
// work again.
func (s *System) procFinished(id ID) {
	s.stateMu.Lock()
	delete(s.procs, id)
	s.live--
	drained := s.live == 0 && s.state == sysStateStarted
	s.stateMu.Unlock()
	s.metrics.liveActors.Dec()
	if drained {
		s.beginStop("all actors finished")
	}
}

// runtimeContext returns the context actor bodies observe through their
// Context. Before Run it is the background context.
func (s *System) runtimeContext() context.Context {
	if box := s.runCtx.Load(); box != nil {
		return box.ctx
	}
	return context.Background()
}

func (s *System) isStopping() bool {
	return s.stopping.Load()
}

// Name returns the system name.
func (s *System) Name() string {
	return s.name
}

// LiveActors returns the number of actors that have not finished.
func (s *System) LiveActors() int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.live
}
