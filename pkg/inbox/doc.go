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

// Package inbox provides a fixed-capacity lock-free channel for many
// producers and a single consumer. It is the mailbox primitive of the
// actor runtime, but it works standalone as well.
//
// Every slot of the ring moves through four states, tracked by a per-slot
// sequence number that doubles as a generation counter:
//
//	         CAS(tail)              store seq=pos+1
//	 Empty ------------> Writing ------------------> Ready
//	   ^                                               |
//	   |      store seq=pos+ring                       | consumer takes
//	   `--------------------------- Reading <----------'
//
// A send that finds no Empty slot fails immediately with ErrInboxFull.
// Nothing is overwritten and nobody blocks: under overload the newest
// messages are rejected and the sender is told so, which keeps loss
// accountable at the producer.
//
// The consumer can park between messages. It arms a wake flag, re-checks
// the ring and then waits; the producer that publishes next takes the
// flag and delivers exactly one wake. This is what lets an idle actor
// suspend without ever missing a message.
package inbox
