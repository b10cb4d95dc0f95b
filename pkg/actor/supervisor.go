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

// Directive tells the system what to do with a failed actor.
type Directive int

const (
	// DirectiveStop terminates the failed actor. Its inbox disconnects and
	// OnClose runs. This is the default when no supervisor is given.
	DirectiveStop Directive = iota
	// DirectiveRestart replaces the failed actor with a fresh instance from
	// its factory. The new instance keeps the ID, the inbox and any
	// messages still queued in it. Timers and I/O watches of the failed
	// incarnation are discarded.
	DirectiveRestart
	// DirectivePropagate terminates the failed actor and shuts the whole
	// system down. Run returns an error wrapping the actor's failure.
	DirectivePropagate
)

// String implements fmt.Stringer.
func (d Directive) String() string {
	switch d {
	case DirectiveStop:
		return "stop"
	case DirectiveRestart:
		return "restart"
	case DirectivePropagate:
		return "propagate"
	}
	return "unknown"
}

// Supervisor decides how the system reacts when an actor's Poll returns an
// error or panics. Decide runs on the failed actor's worker and must not
// block. A panic inside Decide falls back to DirectiveStop.
type Supervisor interface {
	Decide(err error) Directive
}

// SupervisorFunc adapts an ordinary function to the Supervisor interface.
type SupervisorFunc func(err error) Directive

// Decide implements Supervisor.
func (f SupervisorFunc) Decide(err error) Directive {
	return f(err)
}

var (
	// StopSupervisor stops the actor on any failure.
	StopSupervisor Supervisor = SupervisorFunc(func(error) Directive { return DirectiveStop })
	// RestartSupervisor restarts the actor on any failure.
	RestartSupervisor Supervisor = SupervisorFunc(func(error) Directive { return DirectiveRestart })
	// PropagateSupervisor escalates any failure to the whole system.
	PropagateSupervisor Supervisor = SupervisorFunc(func(error) Directive { return DirectivePropagate })
)
