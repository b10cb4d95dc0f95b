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
	"testing"
	"time"

	"github.com/pingcap/tiactor/pkg/actor/message"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/leakutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestMain(m *testing.M) {
	leakutil.SetUpLeakTest(m)
}

// testActor wires closures into the Actor interface so tests can assert on
// OnClose as well as Poll.
type testActor[T any] struct {
	poll    func(ctx *Context[T], msgs []message.Message[T]) (bool, error)
	onClose func()
}

func (a *testActor[T]) Poll(ctx *Context[T], msgs []message.Message[T]) (bool, error) {
	return a.poll(ctx, msgs)
}

func (a *testActor[T]) OnClose() {
	if a.onClose != nil {
		a.onClose()
	}
}

func mustBuild(t *testing.T, b *SystemBuilder) *System {
	sys, err := b.Build()
	require.Nil(t, err)
	return sys
}

// runSystem starts sys in the background and returns the channel Run's
// result lands on.
func runSystem(ctx context.Context, sys *System) <-chan error {
	done := make(chan error, 1)
	go func() { done <- sys.Run(ctx) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("actor system did not stop in time")
		return nil
	}
}

func TestActorReceivesValuesInOrder(t *testing.T) {
	t.Parallel()
	const total = 200
	sys := mustBuild(t, NewSystemBuilder("recv-order").WorkerNumber(2))

	out := make(chan int, total)
	closes := atomic.NewInt32(0)
	ref, err := Spawn(sys, "collector", func() Actor[int] {
		return &testActor[int]{
			poll: func(ctx *Context[int], msgs []message.Message[int]) (bool, error) {
				for _, m := range msgs {
					if m.Tp == message.TypeValue {
						out <- m.Value
					}
				}
				return true, nil
			},
			onClose: func() { closes.Inc() },
		}
	}, nil)
	require.Nil(t, err)

	done := runSystem(context.Background(), sys)
	for i := 0; i < total; i++ {
		require.Nil(t, ref.SendB(context.Background(), i))
	}
	for i := 0; i < total; i++ {
		select {
		case got := <-out:
			require.Equal(t, i, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}

	// Dropping the last strong ref lets the actor drain and finish, and the
	// last finished actor stops the system.
	ref.Close()
	require.Nil(t, waitRun(t, done))
	require.Equal(t, int32(1), closes.Load())
}

func TestActorInitialPollAndGracefulStop(t *testing.T) {
	t.Parallel()
	sys := mustBuild(t, NewSystemBuilder("initial-poll").WorkerNumber(1))

	firstLen := make(chan int, 1)
	closes := atomic.NewInt32(0)
	first := true
	ref, err := Spawn(sys, "oneshot", func() Actor[string] {
		return &testActor[string]{
			poll: func(ctx *Context[string], msgs []message.Message[string]) (bool, error) {
				if first {
					first = false
					firstLen <- len(msgs)
				}
				for _, m := range msgs {
					if m.Tp == message.TypeValue && m.Value == "quit" {
						return false, nil
					}
				}
				return true, nil
			},
			onClose: func() { closes.Inc() },
		}
	}, nil)
	require.Nil(t, err)

	// Spawned before Run: the initial poll happens once the system starts,
	// with an empty batch.
	done := runSystem(context.Background(), sys)
	select {
	case n := <-firstLen:
		require.Equal(t, 0, n)
	case <-time.After(5 * time.Second):
		t.Fatal("initial poll did not happen")
	}

	// Returning false finishes the actor gracefully; senders observe the
	// disconnect.
	require.Nil(t, ref.SendB(context.Background(), "quit"))
	require.Nil(t, waitRun(t, done))
	require.Equal(t, int32(1), closes.Load())
	require.True(t, cerrors.ErrInboxDisconnected.Equal(ref.Send("late")))
	require.False(t, ref.IsConnected())
}

func TestSystemStopDeliversStopMessage(t *testing.T) {
	t.Parallel()
	sys := mustBuild(t, NewSystemBuilder("stop-delivery").WorkerNumber(2))

	gotStop := make(chan struct{})
	closes := atomic.NewInt32(0)
	ref, err := Spawn(sys, "watcher", func() Actor[int] {
		return &testActor[int]{
			poll: func(ctx *Context[int], msgs []message.Message[int]) (bool, error) {
				for _, m := range msgs {
					if m.Tp == message.TypeStop {
						close(gotStop)
					}
				}
				return true, nil
			},
			onClose: func() { closes.Inc() },
		}
	}, nil)
	require.Nil(t, err)
	defer ref.Close()

	done := runSystem(context.Background(), sys)
	require.Nil(t, ref.SendB(context.Background(), 1))

	// Stop is idempotent and safe from several goroutines at once.
	stopped := make(chan struct{}, 2)
	go func() { sys.Stop(); stopped <- struct{}{} }()
	go func() { sys.Stop(); stopped <- struct{}{} }()
	for i := 0; i < 2; i++ {
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Fatal("Stop did not return")
		}
	}

	select {
	case <-gotStop:
	case <-time.After(5 * time.Second):
		t.Fatal("stop message was not delivered")
	}
	require.Nil(t, waitRun(t, done))
	require.Equal(t, int32(1), closes.Load())
}

func TestDisconnectTerminatesWithoutSupervisor(t *testing.T) {
	t.Parallel()
	sys := mustBuild(t, NewSystemBuilder("disconnect").WorkerNumber(1))

	supCalls := atomic.NewInt32(0)
	sup := SupervisorFunc(func(err error) Directive {
		supCalls.Inc()
		return DirectiveStop
	})
	out := make(chan int, 3)
	closes := atomic.NewInt32(0)
	ref, err := Spawn(sys, "drainer", func() Actor[int] {
		return &testActor[int]{
			poll: func(ctx *Context[int], msgs []message.Message[int]) (bool, error) {
				for _, m := range msgs {
					if m.Tp == message.TypeValue {
						out <- m.Value
					}
				}
				return true, nil
			},
			onClose: func() { closes.Inc() },
		}
	}, sup)
	require.Nil(t, err)

	done := runSystem(context.Background(), sys)
	for i := 1; i <= 3; i++ {
		require.Nil(t, ref.SendB(context.Background(), i))
	}
	ref.Close()

	// Everything accepted before the disconnect is still delivered.
	for i := 1; i <= 3; i++ {
		select {
		case got := <-out:
			require.Equal(t, i, got)
		case <-time.After(5 * time.Second):
			t.Fatal("queued message lost on disconnect")
		}
	}
	require.Nil(t, waitRun(t, done))
	require.Equal(t, int32(1), closes.Load())
	// Termination by disconnect is not a failure, no supervisor call.
	require.Equal(t, int32(0), supCalls.Load())
}

func TestActorFuncAdapter(t *testing.T) {
	t.Parallel()
	sys := mustBuild(t, NewSystemBuilder("actor-func").WorkerNumber(1))

	out := make(chan string, 1)
	ref, err := Spawn(sys, "fn", func() Actor[string] {
		return ActorFunc[string](func(ctx *Context[string], msgs []message.Message[string]) (bool, error) {
			for _, m := range msgs {
				if m.Tp == message.TypeValue {
					out <- m.Value
					return false, nil
				}
			}
			return true, nil
		})
	}, nil)
	require.Nil(t, err)

	done := runSystem(context.Background(), sys)
	require.Nil(t, ref.SendB(context.Background(), "ping"))
	select {
	case got := <-out:
		require.Equal(t, "ping", got)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
	ref.Close()
	require.Nil(t, waitRun(t, done))
}
