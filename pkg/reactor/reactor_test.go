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

package reactor

import (
	"os"
	"testing"
	"time"

	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/leakutil"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	leakutil.SetUpLeakTest(m)
}

func TestInterestString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "readable", Readable.String())
	require.Equal(t, "writable", Writable.String())
	require.Equal(t, "readable|writable", (Readable | Writable).String())
	require.Equal(t, "none", Interest(0).String())
	require.True(t, (Readable | Writable).Has(Readable))
	require.False(t, Readable.Has(Writable))
}

func TestWaitTimeout(t *testing.T) {
	t.Parallel()
	r, err := New()
	require.Nil(t, err)
	defer func() { require.Nil(t, r.Close()) }()

	events := make([]Event, 4)
	start := time.Now()
	n, err := r.Wait(events, 50*time.Millisecond)
	require.Nil(t, err)
	require.Equal(t, 0, n)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	// Zero timeout polls and returns immediately.
	start = time.Now()
	n, err = r.Wait(events, 0)
	require.Nil(t, err)
	require.Equal(t, 0, n)
	require.Less(t, time.Since(start), time.Second)
}

func TestWakeUnblocksWait(t *testing.T) {
	t.Parallel()
	r, err := New()
	require.Nil(t, err)
	defer func() { require.Nil(t, r.Close()) }()

	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		require.Nil(t, r.Wake())
		close(done)
	}()
	events := make([]Event, 4)
	n, err := r.Wait(events, 10*time.Second)
	require.Nil(t, err)
	require.Equal(t, 0, n)
	<-done
}

func TestWakeBeforeWait(t *testing.T) {
	t.Parallel()
	r, err := New()
	require.Nil(t, err)
	defer func() { require.Nil(t, r.Close()) }()

	// A wake issued before Wait is not lost, and several coalesce into
	// one wakeup.
	require.Nil(t, r.Wake())
	require.Nil(t, r.Wake())
	require.Nil(t, r.Wake())
	events := make([]Event, 4)
	start := time.Now()
	n, err := r.Wait(events, 10*time.Second)
	require.Nil(t, err)
	require.Equal(t, 0, n)
	require.Less(t, time.Since(start), time.Second)
}

func TestClosedReactor(t *testing.T) {
	t.Parallel()
	r, err := New()
	require.Nil(t, err)
	require.Nil(t, r.Close())
	// Close is idempotent.
	require.Nil(t, r.Close())

	events := make([]Event, 4)
	_, err = r.Wait(events, 0)
	require.True(t, cerrors.ErrReactorClosed.Equal(err))
	err = r.Wake()
	require.True(t, cerrors.ErrReactorClosed.Equal(err))
}

func TestRegisterReadable(t *testing.T) {
	t.Parallel()
	r, err := New()
	require.Nil(t, err)
	defer func() { require.Nil(t, r.Close()) }()

	rd, wr, err := os.Pipe()
	require.Nil(t, err)
	defer rd.Close()
	defer wr.Close()

	err = r.Register(rd, 42, Readable)
	if cerrors.ErrWatchNotSupported.Equal(err) {
		t.Skip("no readiness backend on this platform")
	}
	require.Nil(t, err)

	// Nothing readable yet.
	events := make([]Event, 4)
	n, err := r.Wait(events, 0)
	require.Nil(t, err)
	require.Equal(t, 0, n)

	_, err = wr.Write([]byte("x"))
	require.Nil(t, err)
	n, err = r.Wait(events, 10*time.Second)
	require.Nil(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, uint64(42), events[0].Key)
	require.True(t, events[0].Ready.Has(Readable))

	// Level triggered: the event repeats until the data is consumed.
	n, err = r.Wait(events, 0)
	require.Nil(t, err)
	require.Equal(t, 1, n)

	buf := make([]byte, 1)
	_, err = rd.Read(buf)
	require.Nil(t, err)
	n, err = r.Wait(events, 0)
	require.Nil(t, err)
	require.Equal(t, 0, n)

	require.Nil(t, r.Deregister(rd))
	_, err = wr.Write([]byte("y"))
	require.Nil(t, err)
	n, err = r.Wait(events, 50*time.Millisecond)
	require.Nil(t, err)
	require.Equal(t, 0, n)
}

func TestRegisterWritable(t *testing.T) {
	t.Parallel()
	r, err := New()
	require.Nil(t, err)
	defer func() { require.Nil(t, r.Close()) }()

	rd, wr, err := os.Pipe()
	require.Nil(t, err)
	defer rd.Close()
	defer wr.Close()

	err = r.Register(wr, 7, Writable)
	if cerrors.ErrWatchNotSupported.Equal(err) {
		t.Skip("no readiness backend on this platform")
	}
	require.Nil(t, err)

	// An empty pipe is writable right away.
	events := make([]Event, 4)
	n, err := r.Wait(events, 10*time.Second)
	require.Nil(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, uint64(7), events[0].Key)
	require.True(t, events[0].Ready.Has(Writable))
	require.Nil(t, r.Deregister(wr))
}

func TestHangup(t *testing.T) {
	t.Parallel()
	r, err := New()
	require.Nil(t, err)
	defer func() { require.Nil(t, r.Close()) }()

	rd, wr, err := os.Pipe()
	require.Nil(t, err)
	defer rd.Close()

	err = r.Register(rd, 3, Readable)
	if cerrors.ErrWatchNotSupported.Equal(err) {
		t.Skip("no readiness backend on this platform")
	}
	require.Nil(t, err)

	// Closing the write end hangs up the read end.
	require.Nil(t, wr.Close())
	events := make([]Event, 4)
	n, err := r.Wait(events, 10*time.Second)
	require.Nil(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, uint64(3), events[0].Key)
	require.True(t, events[0].Hangup)
	require.Nil(t, r.Deregister(rd))
}

func TestWakeFromManyGoroutines(t *testing.T) {
	t.Parallel()
	r, err := New()
	require.Nil(t, err)
	defer func() { require.Nil(t, r.Close()) }()

	const wakers = 16
	done := make(chan struct{})
	for i := 0; i < wakers; i++ {
		go func() {
			require.Nil(t, r.Wake())
			done <- struct{}{}
		}()
	}
	// Concurrent wakes coalesce into at least one pending wakeup, so the
	// Wait below returns without sleeping out its timeout.
	events := make([]Event, 4)
	for i := 0; i < wakers; i++ {
		<-done
	}
	n, err := r.Wait(events, 10*time.Second)
	require.Nil(t, err)
	require.Equal(t, 0, n)
}
