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

//go:build !linux && !darwin && !freebsd

package reactor

import (
	"syscall"
	"time"

	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"go.uber.org/atomic"
)

// chanReactor is the portable backend for platforms without a readiness
// facility this package knows. Wait, Wake and timeouts work; connection
// watching reports ErrWatchNotSupported, matching the runtime contract
// that io readiness is best effort off the unix platforms.
type chanReactor struct {
	wakeCh chan struct{}
	doneCh chan struct{}
	closed atomic.Bool
}

// New creates the platform reactor.
func New() (Reactor, error) {
	return &chanReactor{
		wakeCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}, nil
}

func (r *chanReactor) Register(syscall.Conn, uint64, Interest) error {
	if r.closed.Load() {
		return cerrors.ErrReactorClosed.GenWithStackByArgs()
	}
	return cerrors.ErrWatchNotSupported.GenWithStackByArgs()
}

func (r *chanReactor) Deregister(syscall.Conn) error {
	if r.closed.Load() {
		return cerrors.ErrReactorClosed.GenWithStackByArgs()
	}
	return cerrors.ErrWatchNotSupported.GenWithStackByArgs()
}

func (r *chanReactor) Wait(events []Event, timeout time.Duration) (int, error) {
	if r.closed.Load() {
		return 0, cerrors.ErrReactorClosed.GenWithStackByArgs()
	}
	if timeout == 0 {
		select {
		case <-r.wakeCh:
		case <-r.doneCh:
			return 0, cerrors.ErrReactorClosed.GenWithStackByArgs()
		default:
		}
		return 0, nil
	}
	if timeout < 0 {
		select {
		case <-r.wakeCh:
		case <-r.doneCh:
			return 0, cerrors.ErrReactorClosed.GenWithStackByArgs()
		}
		return 0, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.wakeCh:
	case <-timer.C:
	case <-r.doneCh:
		return 0, cerrors.ErrReactorClosed.GenWithStackByArgs()
	}
	return 0, nil
}

func (r *chanReactor) Wake() error {
	if r.closed.Load() {
		return cerrors.ErrReactorClosed.GenWithStackByArgs()
	}
	select {
	case r.wakeCh <- struct{}{}:
	default:
		// A wake is already pending; wakes coalesce.
	}
	return nil
}

func (r *chanReactor) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	close(r.doneCh)
	return nil
}
