// Package idgen wraps the UUID generator so that it can be stubbed in tests.
// Transaction ids, event ids and crank job ids are produced here; callers
// treat them as opaque strings.
package idgen
