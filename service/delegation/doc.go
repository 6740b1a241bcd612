// Package delegation runs the delegation state machine of delegatable
// accounts against a store.Store. Every transition is a single atomic
// store update, and Close a single conditional delete, so the check of the current owner state and the move to
// the next one can not interleave with another transition on the same
// account.
//
// The Settler plays the bridge: it completes commits and undelegations once
// their settlement delay has elapsed.
package delegation
