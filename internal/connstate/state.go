// SPDX-License-Identifier: GPL-3.0-or-later

// Package connstate implements the per-connection state machine (spec
// §4.5) and the [Connection] type that owns the wire stream, the pinned
// transaction descriptor, and the pooling-relevant timestamps.
package connstate

import "fmt"

// State is one node of the connection lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Idle
	Executing
	Receiving
	Cancelling
	Dirty
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Authenticating:
		return "Authenticating"
	case Idle:
		return "Idle"
	case Executing:
		return "Executing"
	case Receiving:
		return "Receiving"
	case Cancelling:
		return "Cancelling"
	case Dirty:
		return "Dirty"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transitions enumerates every legal edge of the state machine (spec
// §4.5). Dirty has no outgoing edges: it is terminal, and connections in
// it are closed rather than transitioned further.
var transitions = map[State]map[State]bool{
	Disconnected:   {Connecting: true},
	Connecting:     {Authenticating: true, Dirty: true},
	Authenticating: {Idle: true, Dirty: true},
	Idle:           {Executing: true, Disconnected: true, Dirty: true},
	Executing:      {Receiving: true, Dirty: true},
	Receiving:      {Idle: true, Cancelling: true, Dirty: true},
	Cancelling:     {Dirty: true, Idle: true},
	Dirty:          {},
}

// Validate reports an error if transitioning from 'from' to 'to' is not a
// permitted edge of the state machine, per spec §4.5's invariant that
// "Cancel during idle is illegal" (Idle has no edge to Cancelling) and
// that any state may become Dirty on a protocol/framing/timeout/TLS
// error.
func Validate(from, to State) error {
	if to == Dirty {
		return nil
	}
	if edges, ok := transitions[from]; ok && edges[to] {
		return nil
	}
	return fmt.Errorf("connstate: illegal transition %s -> %s", from, to)
}
