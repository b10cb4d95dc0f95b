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

//go:build darwin || freebsd

package reactor

import (
	"sync"
	"syscall"
	"time"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// wakeIdent is the EVFILT_USER identity reserved for the cross-goroutine
// wake. Registered connections are keyed by fd, which is never negative,
// so the identity cannot collide.
const wakeIdent = ^uint64(0)

// kqueueReactor is the darwin/freebsd backend: one kqueue instance with
// an EVFILT_USER event for the cross-goroutine wake.
type kqueueReactor struct {
	kq     int
	closed atomic.Bool

	mu   sync.RWMutex
	keys map[uint64]uint64

	// kevent scratch, owned by the single Wait caller.
	kevents []unix.Kevent_t
}

// New creates the platform reactor.
func New() (Reactor, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := unix.CloseOnExec(kq); err != nil {
		_ = unix.Close(kq)
		return nil, errors.Trace(err)
	}
	userEv := unix.Kevent_t{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}
	if _, err := unix.Kevent(kq, []unix.Kevent_t{userEv}, nil, nil); err != nil {
		_ = unix.Close(kq)
		return nil, errors.Trace(err)
	}
	return &kqueueReactor{
		kq:   kq,
		keys: make(map[uint64]uint64),
	}, nil
}

func (r *kqueueReactor) Register(conn syscall.Conn, key uint64, interest Interest) error {
	if r.closed.Load() {
		return cerrors.ErrReactorClosed.GenWithStackByArgs()
	}
	fd, err := connFD(conn)
	if err != nil {
		return err
	}
	// kqueue keeps read and write filters separate; disable the one that
	// is not wanted so a re-register with narrower interest sticks.
	readFlags := uint16(unix.EV_ADD | unix.EV_DISABLE)
	if interest.Has(Readable) {
		readFlags = unix.EV_ADD | unix.EV_ENABLE
	}
	writeFlags := uint16(unix.EV_ADD | unix.EV_DISABLE)
	if interest.Has(Writable) {
		writeFlags = unix.EV_ADD | unix.EV_ENABLE
	}
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: readFlags},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: writeFlags},
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := unix.Kevent(r.kq, changes, nil, nil); err != nil {
		return errors.Trace(err)
	}
	r.keys[uint64(fd)] = key
	return nil
}

func (r *kqueueReactor) Deregister(conn syscall.Conn) error {
	if r.closed.Load() {
		return cerrors.ErrReactorClosed.GenWithStackByArgs()
	}
	fd, err := connFD(conn)
	if err != nil {
		return err
	}
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// Filters are deleted one by one, a registration may only carry one
	// of the two. ENOENT for the missing one is expected.
	for _, change := range changes {
		if _, err := unix.Kevent(r.kq, []unix.Kevent_t{change}, nil, nil); err != nil &&
			err != unix.ENOENT {
			return errors.Trace(err)
		}
	}
	delete(r.keys, uint64(fd))
	return nil
}

func (r *kqueueReactor) Wait(events []Event, timeout time.Duration) (int, error) {
	if r.closed.Load() {
		return 0, cerrors.ErrReactorClosed.GenWithStackByArgs()
	}
	if cap(r.kevents) < len(events)+1 {
		r.kevents = make([]unix.Kevent_t, len(events)+1)
	}
	kevents := r.kevents[:len(events)+1]

	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	var n int
	var err error
	for {
		n, err = unix.Kevent(r.kq, nil, kevents, ts)
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
		kev := kevents[i]
		if kev.Filter == unix.EVFILT_USER {
			// EV_CLEAR resets the user event on delivery; coalesced wakes
			// surface as this single event.
			continue
		}
		key, ok := r.keys[uint64(kev.Ident)]
		if !ok {
			// Deregistered while the event was in flight.
			continue
		}
		var ready Interest
		switch kev.Filter {
		case unix.EVFILT_READ:
			ready = Readable
		case unix.EVFILT_WRITE:
			ready = Writable
		}
		hangup := kev.Flags&unix.EV_EOF != 0
		events[filled] = Event{Key: key, Ready: ready, Hangup: hangup}
		filled++
	}
	r.mu.RUnlock()
	return filled, nil
}

func (r *kqueueReactor) Wake() error {
	if r.closed.Load() {
		return cerrors.ErrReactorClosed.GenWithStackByArgs()
	}
	trigger := unix.Kevent_t{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}
	for {
		_, err := unix.Kevent(r.kq, []unix.Kevent_t{trigger}, nil, nil)
		switch err {
		case nil:
			return nil
		case unix.EINTR:
			continue
		default:
			return errors.Trace(err)
		}
	}
}

func (r *kqueueReactor) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return errors.Trace(unix.Close(r.kq))
}
