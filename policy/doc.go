// Package policy holds the queue owner's executor policy: the minimum crank
// reward a task must offer, how long a failing task may hold its slot, and
// whether abandoned slots are reclaimed automatically.
package policy
