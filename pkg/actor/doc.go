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

// Package actor provides a cooperative actor system. A fixed pool of
// workers polls many actors concurrently, each actor owns an inbox, can
// arm timers and watch connections for I/O readiness, and is supervised
// on failure.
//
// The following diagram shows how a message becomes a poll.
//
//	,---.            ,-----.          ,-----.           ,------.          ,-----.
//	|Ref|            |Inbox|          |ready|           |Worker|          |Actor|
//	`-+-'            `--+--'          `--+--'           `--+---'          `--+--'
//	  |   Send(msg)     |                |                  |                 |
//	  | --------------->|                |                  |                 |
//	  |                 |                |                  |                 |
//	  |                 |--.             |                  |                 |
//	  |                 |  | publish slot|                  |                 |
//	  |                 |<-'             |                  |                 |
//	  |                 |                |                  |                 |
//	  |                 | wake(proc)     |                  |                 |
//	  |                 |--------------->|                  |                 |
//	  |                 |                |                  |                 |
//	  |                 |                |--.               |                 |
//	  |                 |                |  | push(proc)    |                 |
//	  |                 |                |<-'               |                 |
//	  |                 |                |                  |                 |
//	  |                 |                |  reactor.Wake()  |                 |
//	  |                 |                |----------------->|                 |
//	  |                 |                |                  |                 |
//	  |                 |                |      pop()       |                 |
//	  |                 |                |<-----------------|                 |
//	  |                 |                |                  |                 |
//	  |                 |                |   return proc    |                 |
//	  |                 |                |----------------->|                 |
//	  |                 |                |                  |                 |
//	  |                 |          drain batch              |                 |
//	  |                 |<----------------------------------|                 |
//	  |                 |                |                  |                 |
//	  |                 |          return msgs              |                 |
//	  |                 |---------------------------------->|                 |
//	  |                 |                |                  |   Poll(msgs)    |
//	  |                 |                |                  |---------------->|
//	  |                 |                |                  |                 |
//	,-+-.            ,--+--.          ,--+--.           ,--+---.          ,--+--.
//	|Ref|            |Inbox|          |ready|           |Worker|          |Actor|
//	`---'            `-----'          `-----'           `------'          `-----'
//
// A parked actor costs nothing but memory. The inbox wake fires only when
// a message lands while the actor is parked, timer fires and I/O readiness
// go through the worker's timer wheel and reactor, and an idle worker
// sleeps in its reactor until one of the three wake sources hands it work.
package actor
