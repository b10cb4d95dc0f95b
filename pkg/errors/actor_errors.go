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

package errors

import (
	"github.com/pingcap/errors"
)

// inbox errors
var (
	ErrInboxFull = errors.Normalize(
		"inbox is full",
		errors.RFCCodeText("ACTOR:ErrInboxFull"),
	)
	ErrInboxDisconnected = errors.Normalize(
		"inbox is disconnected",
		errors.RFCCodeText("ACTOR:ErrInboxDisconnected"),
	)
	ErrInboxCapacity = errors.Normalize(
		"invalid inbox capacity %d",
		errors.RFCCodeText("ACTOR:ErrInboxCapacity"),
	)
	ErrConsumerConnected = errors.Normalize(
		"inbox already has a connected consumer",
		errors.RFCCodeText("ACTOR:ErrConsumerConnected"),
	)
)

// runtime errors
var (
	ErrSystemStopped = errors.Normalize(
		"actor system is stopped",
		errors.RFCCodeText("ACTOR:ErrSystemStopped"),
	)
	ErrSystemState = errors.Normalize(
		"unexpected actor system state %s",
		errors.RFCCodeText("ACTOR:ErrSystemState"),
	)
	ErrActorPanic = errors.Normalize(
		"actor poll panic, %v",
		errors.RFCCodeText("ACTOR:ErrActorPanic"),
	)
	ErrActorFailurePropagated = errors.Normalize(
		"actor %s failed, failure propagated by supervisor: %s",
		errors.RFCCodeText("ACTOR:ErrActorFailurePropagated"),
	)
	ErrInvalidSystemOption = errors.Normalize(
		"invalid system option %s, %v",
		errors.RFCCodeText("ACTOR:ErrInvalidSystemOption"),
	)
)

// reactor errors
var (
	ErrReactorClosed = errors.Normalize(
		"reactor is closed",
		errors.RFCCodeText("ACTOR:ErrReactorClosed"),
	)
	ErrWatchNotSupported = errors.Normalize(
		"readiness watching is not supported on this platform",
		errors.RFCCodeText("ACTOR:ErrWatchNotSupported"),
	)
)
