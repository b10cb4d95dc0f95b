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

// Package message defines the envelope delivered to an actor's Poll.
// Value messages travel through the actor's inbox; timer, io and stop
// messages are synthesized by the runtime at delivery time and take no
// inbox capacity.
package message

import (
	"time"
)

// Type is the type of a Message.
type Type int

// types of Message
const (
	TypeUnknown Type = iota
	// TypeValue carries one value of the actor's message type.
	TypeValue
	// TypeTimer reports a fired timer.
	TypeTimer
	// TypeIO reports io readiness on a watched connection.
	TypeIO
	// TypeStop asks the actor to stop. It is the last message an actor
	// ever receives.
	TypeStop
)

func (t Type) String() string {
	switch t {
	case TypeValue:
		return "value"
	case TypeTimer:
		return "timer"
	case TypeIO:
		return "io"
	case TypeStop:
		return "stop"
	}
	return "unknown"
}

// TimerFire describes one fired timer.
type TimerFire struct {
	// ID matches the token the timer was armed with, see TimerToken.ID.
	ID uint64
	// Deadline is the absolute time the timer was armed for. Delivery
	// happens at or after it, never before.
	Deadline time.Time
}

// IOReady describes one readiness notification on a watched connection.
type IOReady struct {
	// Key matches the token the watch was registered with, see
	// WatchToken.Key.
	Key uint64
	// Readable reports that a read would not block.
	Readable bool
	// Writable reports that a write would not block.
	Writable bool
	// Hangup reports peer close or an error condition; read the
	// connection to observe the exact state.
	Hangup bool
}

// Message is a vehicle for transferring information to an actor. The
// fields are concrete rather than an interface to save per-message
// allocations on the delivery hot path; only the field selected by Tp
// is meaningful.
type Message[T any] struct {
	Tp    Type
	Value T
	Timer TimerFire
	IO    IOReady
}

// ValueMessage creates the message of a value.
func ValueMessage[T any](val T) Message[T] {
	return Message[T]{Tp: TypeValue, Value: val}
}

// TimerMessage creates the message of a fired timer.
func TimerMessage[T any](fire TimerFire) Message[T] {
	return Message[T]{Tp: TypeTimer, Timer: fire}
}

// IOMessage creates the message of an io readiness notification.
func IOMessage[T any](ready IOReady) Message[T] {
	return Message[T]{Tp: TypeIO, IO: ready}
}

// StopMessage creates a message of stop.
func StopMessage[T any]() Message[T] {
	return Message[T]{Tp: TypeStop}
}
