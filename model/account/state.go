// Package account models a delegatable account and the state machine that
// moves write authority over its payload between the base layer and an
// ephemeral environment.
package account

import (
	"fmt"
)

// State is the ownership state of a delegatable account.
type State string

const (
	StateBaseOwned    State = "BaseOwned"
	StateDelegated    State = "Delegated"
	StateCommitting   State = "Committing"
	StateUndelegating State = "Undelegating"
	StateClosed       State = "Closed"
)

// Event drives a state transition.
type Event string

const (
	EventDelegate   Event = "delegate"
	EventMutate     Event = "mutate"
	EventCommit     Event = "commit"
	EventUndelegate Event = "undelegate"
	EventSettle     Event = "settle"
	EventClose      Event = "close"
)

// Side identifies the environment an actor operates in.
type Side string

const (
	SideBase      Side = "base"
	SideEphemeral Side = "ephemeral"
)

type transitionKey struct {
	from  State
	event Event
	side  Side
}

// transitions lists every legal (state, event, side) combination.
var transitions = map[transitionKey]State{
	{StateBaseOwned, EventDelegate, SideBase}:         StateDelegated,
	{StateBaseOwned, EventMutate, SideBase}:           StateBaseOwned,
	{StateBaseOwned, EventClose, SideBase}:            StateClosed,
	{StateDelegated, EventMutate, SideEphemeral}:      StateDelegated,
	{StateDelegated, EventCommit, SideEphemeral}:      StateCommitting,
	{StateDelegated, EventUndelegate, SideEphemeral}:  StateUndelegating,
	{StateCommitting, EventMutate, SideEphemeral}:     StateCommitting,
	{StateCommitting, EventCommit, SideEphemeral}:     StateCommitting,
	{StateCommitting, EventUndelegate, SideEphemeral}: StateUndelegating,
	{StateCommitting, EventSettle, SideBase}:          StateDelegated,
	{StateUndelegating, EventSettle, SideBase}:        StateBaseOwned,
}

// Next returns the state reached from `from` when side fires event, or an
// error when the combination is not legal.
func Next(from State, event Event, side Side) (State, error) {
	if to, ok := transitions[transitionKey{from, event, side}]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%s from %s on %s side is not allowed", event, from, side)
}

// Writer returns the side holding write authority over the payload in state.
func Writer(state State) (Side, bool) {
	switch state {
	case StateBaseOwned:
		return SideBase, true
	case StateDelegated, StateCommitting:
		return SideEphemeral, true
	}
	return "", false
}
