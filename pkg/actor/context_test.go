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
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pingcap/errors"
	"github.com/pingcap/tiactor/pkg/actor/message"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestTimerFiresWithZeroTraffic(t *testing.T) {
	t.Parallel()
	sys := mustBuild(t, NewSystemBuilder("timer-zero-traffic").WorkerNumber(1))

	type firing struct {
		fire       message.TimerFire
		deadline   time.Time
		observedAt time.Time
		tokenID    uint64
	}
	out := make(chan firing, 1)
	_, err := Spawn(sys, "alarm", func() Actor[int] {
		var tok TimerToken
		var deadline time.Time
		return ActorFunc[int](func(ctx *Context[int], msgs []message.Message[int]) (bool, error) {
			if len(msgs) == 0 {
				deadline = ctx.Clock().Now().Add(20 * time.Millisecond)
				tok = ctx.SetTimerAt(deadline)
				return true, nil
			}
			for _, m := range msgs {
				if m.Tp == message.TypeTimer {
					out <- firing{
						fire:       m.Timer,
						deadline:   deadline,
						observedAt: time.Now(),
						tokenID:    tok.ID(),
					}
					return false, nil
				}
			}
			return true, nil
		})
	}, nil)
	require.Nil(t, err)

	// No messages are ever sent, the timer is the only wake source.
	done := runSystem(context.Background(), sys)
	select {
	case got := <-out:
		require.Equal(t, got.tokenID, got.fire.ID)
		require.True(t, got.fire.Deadline.Equal(got.deadline))
		require.False(t, got.observedAt.Before(got.deadline),
			"timer fired %v before its deadline", got.deadline.Sub(got.observedAt))
	case <-time.After(5 * time.Second):
		t.Fatal("timer never fired")
	}
	require.Nil(t, waitRun(t, done))
}

func TestTimerMockClockDeterministic(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	sys := mustBuild(t, NewSystemBuilder("timer-mock").WorkerNumber(1).Clock(mock))
	deadline := mock.Now().Add(50 * time.Millisecond)

	armed := make(chan struct{})
	fired := make(chan message.TimerFire, 1)
	_, err := Spawn(sys, "mock-alarm", func() Actor[int] {
		return ActorFunc[int](func(ctx *Context[int], msgs []message.Message[int]) (bool, error) {
			if len(msgs) == 0 {
				ctx.SetTimerAt(deadline)
				close(armed)
				return true, nil
			}
			for _, m := range msgs {
				if m.Tp == message.TypeTimer {
					fired <- m.Timer
					return false, nil
				}
			}
			return true, nil
		})
	}, nil)
	require.Nil(t, err)

	done := runSystem(context.Background(), sys)
	// The timer must be armed before the clock moves, a deadline that is
	// already past when registered is left for the next advance.
	select {
	case <-armed:
	case <-time.After(5 * time.Second):
		t.Fatal("actor never armed its timer")
	}
	mock.Add(100 * time.Millisecond)

	select {
	case fire := <-fired:
		require.True(t, fire.Deadline.Equal(deadline))
	case <-time.After(5 * time.Second):
		t.Fatal("timer never fired after the mock clock advanced")
	}
	require.Nil(t, waitRun(t, done))
}

func TestCancelTimerSystem(t *testing.T) {
	t.Parallel()
	sys := mustBuild(t, NewSystemBuilder("cancel-timer").WorkerNumber(1))

	type armReport struct {
		cancelArmed bool
		cancelAgain bool
		cancelZero  bool
	}
	type fireReport struct {
		fire            message.TimerFire
		keepID          uint64
		cancelAfterFire bool
	}
	armed := make(chan armReport, 1)
	fires := make(chan fireReport, 2)
	_, err := Spawn(sys, "canceler", func() Actor[int] {
		var tokKeep TimerToken
		return ActorFunc[int](func(ctx *Context[int], msgs []message.Message[int]) (bool, error) {
			if len(msgs) == 0 {
				tokDrop := ctx.SetTimer(10 * time.Millisecond)
				tokKeep = ctx.SetTimer(30 * time.Millisecond)
				armed <- armReport{
					cancelArmed: ctx.CancelTimer(tokDrop),
					cancelAgain: ctx.CancelTimer(tokDrop),
					cancelZero:  ctx.CancelTimer(TimerToken{}),
				}
				return true, nil
			}
			for _, m := range msgs {
				if m.Tp == message.TypeTimer {
					fires <- fireReport{
						fire:            m.Timer,
						keepID:          tokKeep.ID(),
						cancelAfterFire: ctx.CancelTimer(tokKeep),
					}
					return false, nil
				}
			}
			return true, nil
		})
	}, nil)
	require.Nil(t, err)

	done := runSystem(context.Background(), sys)
	select {
	case got := <-armed:
		require.True(t, got.cancelArmed)
		require.False(t, got.cancelAgain)
		require.False(t, got.cancelZero)
	case <-time.After(5 * time.Second):
		t.Fatal("actor never armed its timers")
	}
	// The first fire to arrive must be the surviving timer, the canceled
	// one had the earlier deadline.
	select {
	case got := <-fires:
		require.Equal(t, got.keepID, got.fire.ID)
		require.False(t, got.cancelAfterFire)
	case <-time.After(5 * time.Second):
		t.Fatal("surviving timer never fired")
	}
	require.Nil(t, waitRun(t, done))
	require.Len(t, fires, 0)
}

func TestWatchReadDeliversReadiness(t *testing.T) {
	t.Parallel()
	rd, wr, err := os.Pipe()
	require.Nil(t, err)
	defer rd.Close()
	defer wr.Close()

	sys := mustBuild(t, NewSystemBuilder("watch-read").WorkerNumber(1))

	type ioReport struct {
		ev         message.IOReady
		key        uint64
		unwatchErr error
	}
	watched := make(chan error, 1)
	events := make(chan ioReport, 1)
	_, err = Spawn(sys, "reader", func() Actor[int] {
		var tok WatchToken
		return ActorFunc[int](func(ctx *Context[int], msgs []message.Message[int]) (bool, error) {
			if len(msgs) == 0 {
				var werr error
				tok, werr = ctx.WatchRead(rd)
				watched <- werr
				return werr == nil, nil
			}
			for _, m := range msgs {
				if m.Tp == message.TypeIO {
					events <- ioReport{
						ev:         m.IO,
						key:        tok.Key(),
						unwatchErr: ctx.Unwatch(tok),
					}
					return false, nil
				}
			}
			return true, nil
		})
	}, nil)
	require.Nil(t, err)

	done := runSystem(context.Background(), sys)
	select {
	case werr := <-watched:
		if werr != nil {
			require.True(t, cerrors.ErrWatchNotSupported.Equal(werr))
			require.Nil(t, waitRun(t, done))
			t.Skip("no readiness backend on this platform")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("actor never registered its watch")
	}

	// The watch is registered, make the pipe readable.
	_, err = wr.Write([]byte("x"))
	require.Nil(t, err)

	select {
	case got := <-events:
		require.Equal(t, got.key, got.ev.Key)
		require.True(t, got.ev.Readable)
		require.Nil(t, got.unwatchErr)
	case <-time.After(5 * time.Second):
		t.Fatal("readiness event never arrived")
	}
	require.Nil(t, waitRun(t, done))
}

func TestContextCapabilityOutsidePollPanics(t *testing.T) {
	t.Parallel()
	sys := mustBuild(t, NewSystemBuilder("foreign-goroutine").WorkerNumber(1))

	ctxCh := make(chan *Context[string], 1)
	ref, err := Spawn(sys, "leaky", func() Actor[string] {
		return ActorFunc[string](func(ctx *Context[string], msgs []message.Message[string]) (bool, error) {
			if len(msgs) == 0 {
				ctxCh <- ctx
			}
			return true, nil
		})
	}, nil)
	require.Nil(t, err)

	done := runSystem(context.Background(), sys)
	var c *Context[string]
	select {
	case c = <-ctxCh:
	case <-time.After(5 * time.Second):
		t.Fatal("actor never ran its initial poll")
	}
	// Nothing can wake the actor, once parked it stays parked.
	require.Eventually(t, func() bool {
		return c.p.state.Load() == procStateNotScheduled
	}, 5*time.Second, time.Millisecond)

	require.Panics(t, func() { c.SetTimer(time.Millisecond) })
	require.Panics(t, func() { c.CancelTimer(TimerToken{}) })
	require.Panics(t, func() { _ = c.Unwatch(WatchToken{}) })

	ref.Close()
	require.Nil(t, waitRun(t, done))
}

func TestContextCarriesRunContextValues(t *testing.T) {
	t.Parallel()
	sys := mustBuild(t, NewSystemBuilder("run-ctx").WorkerNumber(1))

	type testKey struct{}
	type seen struct {
		val any
		err error
	}
	out := make(chan seen, 1)
	ref, err := Spawn(sys, "observer", func() Actor[int] {
		return ActorFunc[int](func(ctx *Context[int], msgs []message.Message[int]) (bool, error) {
			if len(msgs) == 0 {
				out <- seen{val: ctx.Value(testKey{}), err: ctx.Err()}
			}
			return true, nil
		})
	}, nil)
	require.Nil(t, err)

	rctx := context.WithValue(context.Background(), testKey{}, "carried")
	done := runSystem(rctx, sys)
	select {
	case got := <-out:
		require.Equal(t, "carried", got.val)
		require.Nil(t, got.err)
	case <-time.After(5 * time.Second):
		t.Fatal("actor never ran its initial poll")
	}

	ref.Close()
	require.Nil(t, waitRun(t, done))
}

func TestWeakRefLifecycle(t *testing.T) {
	t.Parallel()
	sys := mustBuild(t, NewSystemBuilder("weak-ref").WorkerNumber(1))

	out := make(chan string, 4)
	ref, err := Spawn(sys, "watched", func() Actor[string] {
		return ActorFunc[string](func(ctx *Context[string], msgs []message.Message[string]) (bool, error) {
			for _, m := range msgs {
				if m.Tp != message.TypeValue {
					continue
				}
				if m.Value == "quit" {
					return false, nil
				}
				out <- m.Value
			}
			return true, nil
		})
	}, nil)
	require.Nil(t, err)
	weak := ref.Downgrade()
	require.Equal(t, ref.ID(), weak.ID())
	require.Equal(t, ref.Name(), weak.Name())

	done := runSystem(context.Background(), sys)

	// While the actor lives an upgrade mints a working strong ref.
	strong, ok := weak.Upgrade()
	require.True(t, ok)
	require.Nil(t, strong.SendB(context.Background(), "hello"))
	select {
	case got := <-out:
		require.Equal(t, "hello", got)
	case <-time.After(5 * time.Second):
		t.Fatal("message sent through the upgraded ref never arrived")
	}
	strong.Close()
	require.True(t, weak.IsConnected())

	require.Nil(t, ref.SendB(context.Background(), "quit"))
	require.Nil(t, waitRun(t, done))

	// The actor finished, a weak ref cannot resurrect it.
	_, ok = weak.Upgrade()
	require.False(t, ok)
	require.False(t, weak.IsConnected())
	ref.Close()
}

func TestSpawnChildFromActor(t *testing.T) {
	t.Parallel()
	sys := mustBuild(t, NewSystemBuilder("spawn-child").WorkerNumber(2))

	out := make(chan int, 1)
	childRefs := make(chan *Ref[int], 1)
	parent, err := Spawn(sys, "parent", func() Actor[string] {
		return ActorFunc[string](func(ctx *Context[string], msgs []message.Message[string]) (bool, error) {
			for _, m := range msgs {
				if m.Tp != message.TypeValue {
					continue
				}
				child, err := Spawn(ctx.System(), "child", func() Actor[int] {
					return ActorFunc[int](func(_ *Context[int], msgs []message.Message[int]) (bool, error) {
						for _, m := range msgs {
							if m.Tp == message.TypeValue {
								out <- m.Value + 1
							}
						}
						return true, nil
					})
				}, nil)
				if err != nil {
					return false, errors.Trace(err)
				}
				if err := child.Send(41); err != nil {
					return false, errors.Trace(err)
				}
				childRefs <- child
			}
			return true, nil
		})
	}, nil)
	require.Nil(t, err)

	done := runSystem(context.Background(), sys)
	require.Nil(t, parent.SendB(context.Background(), "spawn"))

	select {
	case got := <-out:
		require.Equal(t, 42, got)
	case <-time.After(5 * time.Second):
		t.Fatal("child actor never answered")
	}

	var child *Ref[int]
	select {
	case child = <-childRefs:
	case <-time.After(5 * time.Second):
		t.Fatal("parent never handed out the child ref")
	}
	child.Close()
	parent.Close()
	require.Nil(t, waitRun(t, done))
}
