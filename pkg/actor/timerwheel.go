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

	"github.com/benbjohnson/clock"
	"github.com/pingcap/tiactor/pkg/actor/message"
)

// TimerToken identifies an armed timer. It is returned by Context.SetTimer
// and can be passed to Context.CancelTimer. The zero value is not a valid
// timer. Tokens are only meaningful to the actor that armed them, canceling
// a fired, canceled or foreign token is a no-op.
type TimerToken struct {
	entry *timerEntry
	id    uint64
}

// ID returns the timer's ID. A fired timer is delivered as a
// message.TimerFire carrying the same ID, which lets an actor with several
// armed timers tell them apart.
func (t TimerToken) ID() uint64 {
	return t.id
}

type timerEntry struct {
	target   runner
	deadline time.Time
	tickNo   uint64
	epoch    uint64
	id       uint64
	laps     int
	fired    bool
	canceled bool
}

// timerWheel is a hashed timing wheel. Deadlines hash into size buckets by
// tick number, entries whose deadline lies laps full revolutions ahead skip
// that many visits before firing. A timer never fires before its deadline,
// it fires at the first wheel advance at or after it, so lateness is
// bounded by one tick plus scheduling delay.
//
// Each worker owns one wheel and is its only user, there is no locking.
// Registration and cancellation happen inside Poll, advancing happens in
// the worker loop, all on the same goroutine.
type timerWheel struct {
	clk  clock.Clock
	tick time.Duration
	mask uint64

	buckets     [][]*timerEntry
	start       time.Time
	currentTick uint64
	count       int
	nextID      uint64

	// cachedNext is the earliest fire boundary among live entries, the
	// wall time of the first advance that can fire one. It can run early,
	// which at worst wakes the worker ahead of time, it must never run
	// late. nextValid is cleared whenever an entry fires or is canceled.
	cachedNext time.Time
	nextValid  bool
}

func newTimerWheel(clk clock.Clock, tick time.Duration, size int) *timerWheel {
	n := 1
	for n < size {
		n <<= 1
	}
	buckets := make([][]*timerEntry, n)
	return &timerWheel{
		clk:     clk,
		tick:    tick,
		mask:    uint64(n - 1),
		buckets: buckets,
		start:   clk.Now(),
	}
}

// tickAt converts a wall time to the last tick boundary at or before it.
func (tw *timerWheel) tickAt(now time.Time) uint64 {
	elapsed := now.Sub(tw.start)
	if elapsed <= 0 {
		return 0
	}
	return uint64(elapsed / tw.tick)
}

// tickFor converts a deadline to the first tick boundary at or after it.
// Rounding up keeps the wheel from firing ahead of the deadline.
func (tw *timerWheel) tickFor(deadline time.Time) uint64 {
	d := deadline.Sub(tw.start)
	if d <= 0 {
		return 0
	}
	return uint64((d + tw.tick - 1) / tw.tick)
}

// boundary is the wall time of a tick, the earliest instant an advance can
// fire an entry scheduled for it.
func (tw *timerWheel) boundary(tickNo uint64) time.Time {
	return tw.start.Add(time.Duration(tickNo) * tw.tick)
}

// register arms a timer for target at deadline. Deadlines in the past fire
// at the next advance. epoch tags the owning actor incarnation, deliverTimer
// drops fires whose epoch is stale.
func (tw *timerWheel) register(deadline time.Time, target runner, epoch uint64) TimerToken {
	entryTick := tw.tickFor(deadline)
	if entryTick <= tw.currentTick {
		entryTick = tw.currentTick + 1
	}
	size := uint64(len(tw.buckets))
	tw.nextID++
	e := &timerEntry{
		target:   target,
		deadline: deadline,
		tickNo:   entryTick,
		epoch:    epoch,
		id:       tw.nextID,
		laps:     int((entryTick - tw.currentTick - 1) / size),
	}
	b := entryTick & tw.mask
	tw.buckets[b] = append(tw.buckets[b], e)
	tw.count++
	fireAt := tw.boundary(entryTick)
	if tw.nextValid && fireAt.Before(tw.cachedNext) {
		tw.cachedNext = fireAt
	} else if !tw.nextValid && tw.count == 1 {
		tw.cachedNext = fireAt
		tw.nextValid = true
	}
	return TimerToken{entry: e, id: e.id}
}

// cancel disarms the timer behind tok. It reports whether the timer was
// still armed and owned by owner.
func (tw *timerWheel) cancel(tok TimerToken, owner runner) bool {
	e := tok.entry
	if e == nil || e.id != tok.id || e.target != owner || e.fired || e.canceled {
		return false
	}
	e.canceled = true
	b := e.tickNo & tw.mask
	bucket := tw.buckets[b]
	for i := range bucket {
		if bucket[i] == e {
			last := len(bucket) - 1
			bucket[i] = bucket[last]
			bucket[last] = nil
			tw.buckets[b] = bucket[:last]
			break
		}
	}
	tw.count--
	// The canceled entry may have been the cached minimum. Leaving it
	// cached would wake the worker at a time no advance can fire anything,
	// which degrades into a poll loop until the true next boundary.
	tw.nextValid = false
	return true
}

// advance moves the wheel to now and fires every due timer. When more than
// a full revolution elapsed it sweeps each bucket once instead of stepping
// tick by tick.
func (tw *timerWheel) advance(now time.Time) {
	target := tw.tickAt(now)
	if target <= tw.currentTick {
		return
	}
	if tw.count == 0 {
		tw.currentTick = target
		return
	}
	size := uint64(len(tw.buckets))
	if target-tw.currentTick >= size {
		tw.sweepAll(target)
		tw.currentTick = target
		return
	}
	for tickNo := tw.currentTick + 1; tickNo <= target; tickNo++ {
		bucket := tw.buckets[tickNo&tw.mask]
		kept := bucket[:0]
		for _, e := range bucket {
			if e.laps > 0 {
				e.laps--
				kept = append(kept, e)
				continue
			}
			tw.fire(e)
		}
		for i := len(kept); i < len(bucket); i++ {
			bucket[i] = nil
		}
		tw.buckets[tickNo&tw.mask] = kept
	}
	tw.currentTick = target
}

// sweepAll visits every bucket once after a long idle stretch, firing due
// entries and recomputing laps for the rest relative to target.
func (tw *timerWheel) sweepAll(target uint64) {
	size := uint64(len(tw.buckets))
	for b, bucket := range tw.buckets {
		kept := bucket[:0]
		for _, e := range bucket {
			if e.tickNo <= target {
				tw.fire(e)
				continue
			}
			e.laps = int((e.tickNo - target - 1) / size)
			kept = append(kept, e)
		}
		for i := len(kept); i < len(bucket); i++ {
			bucket[i] = nil
		}
		tw.buckets[b] = kept
	}
}

func (tw *timerWheel) fire(e *timerEntry) {
	e.fired = true
	tw.count--
	tw.nextValid = false
	e.target.deliverTimer(message.TimerFire{ID: e.id, Deadline: e.deadline}, e.epoch)
}

// nextDeadline returns the earliest time an advance can fire a live entry.
// It is at or after the earliest deadline, the worker sleeping until it
// neither misses a timer nor wakes before the wheel can act.
func (tw *timerWheel) nextDeadline() (time.Time, bool) {
	if tw.count == 0 {
		return time.Time{}, false
	}
	if !tw.nextValid {
		var next time.Time
		found := false
		for _, bucket := range tw.buckets {
			for _, e := range bucket {
				fireAt := tw.boundary(e.tickNo)
				if !found || fireAt.Before(next) {
					next = fireAt
					found = true
				}
			}
		}
		tw.cachedNext = next
		tw.nextValid = true
	}
	return tw.cachedNext, true
}

func (tw *timerWheel) len() int {
	return tw.count
}
