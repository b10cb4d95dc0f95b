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

//go:build linux

package reactor

import (
	"encoding/binary"
	"sync"
	"syscall"
	"time"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// epollReactor is the linux backend: a level-triggered epoll instance
// plus an eventfd for the cross-goroutine wake.
type epollReactor struct {
	epfd   int
	wakefd int
	closed atomic.Bool

	mu   sync.RWMutex
	keys map[int32]uint64

	// epoll_wait scratch, owned by the single Wait caller.
	epevents []unix.EpollEvent
}

// New creates the platform reactor.
func New() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Trace(err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, errors.Trace(err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(wakefd)
		return nil, errors.Trace(err)
	}
	return &epollReactor{
		epfd:   epfd,
		wakefd: wakefd,
		keys:   make(map[int32]uint64),
	}, nil
}

func (r *epollReactor) Register(conn syscall.Conn, key uint64, interest Interest) error {
	if r.closed.Load() {
		return cerrors.ErrReactorClosed.GenWithStackByArgs()
	}
	fd, err := connFD(conn)
	if err != nil {
		return err
	}
	var events uint32
	if interest.Has(Readable) {
		events |= unix.EPOLLIN
	}
	if interest.Has(Writable) {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	r.mu.Lock()
	defer r.mu.Unlock()
	op := unix.EPOLL_CTL_ADD
	if _, ok := r.keys[int32(fd)]; ok {
		op = unix.EPOLL_CTL_MOD
	}
	if err := unix.EpollCtl(r.epfd, op, fd, &ev); err != nil {
		return errors.Trace(err)
	}
	r.keys[int32(fd)] = key
	return nil
}

func (r *epollReactor) Deregister(conn syscall.Conn) error {
	if r.closed.Load() {
		return cerrors.ErrReactorClosed.GenWithStackByArgs()
	}
	fd, err := connFD(conn)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return errors.Trace(err)
	}
	delete(r.keys, int32(fd))
	return nil
}

func (r *epollReactor) Wait(events []Event, timeout time.Duration) (int, error) {
	if r.closed.Load() {
		return 0, cerrors.ErrReactorClosed.GenWithStackByArgs()
	}
	if cap(r.epevents) < len(events)+1 {
		r.epevents = make([]unix.EpollEvent, len(events)+1)
	}
	epevents := r.epevents[:len(events)+1]

	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
		if timeout > 0 && msec == 0 {
			msec = 1
		}
	}
	var n int
	var err error
	for {
		n, err = unix.EpollWait(r.epfd, epevents, msec)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		if r.closed.Load() {
			return 0, cerrors.ErrReactorClosed.GenWithStackByArgs()
		}
		return 0, errors.Trace(err)
	}

	filled := 0
	r.mu.RLock()
	for i := 0; i < n && filled < len(events); i++ {
		ep := epevents[i]
		if int(ep.Fd) == r.wakefd {
			r.drainWake()
			continue
		}
		key, ok := r.keys[ep.Fd]
		if !ok {
			// Deregistered while the event was in flight.
			continue
		}
		var ready Interest
		if ep.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
			ready |= Readable
		}
		if ep.Events&unix.EPOLLOUT != 0 {
			ready |= Writable
		}
		hangup := ep.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0
		if hangup {
			// Let the owner read the connection to observe the state.
			ready |= Readable
		}
		events[filled] = Event{Key: key, Ready: ready, Hangup: hangup}
		filled++
	}
	r.mu.RUnlock()
	return filled, nil
}

func (r *epollReactor) Wake() error {
	if r.closed.Load() {
		return cerrors.ErrReactorClosed.GenWithStackByArgs()
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(r.wakefd, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			// EAGAIN means the counter is saturated, the wake is already
			// pending.
			return nil
		case unix.EINTR:
			continue
		default:
			return errors.Trace(err)
		}
	}
}

func (r *epollReactor) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(r.wakefd, buf[:])
		if err != unix.EINTR {
			return
		}
	}
}

func (r *epollReactor) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	err := unix.Close(r.epfd)
	if werr := unix.Close(r.wakefd); err == nil {
		err = werr
	}
	return errors.Trace(err)
}
