// Package progress keeps aggregated crank counters: how many due tasks were
// dispatched, confirmed, failed, retried, abandoned or reclaimed. The
// tracker can travel in a context so workers update it without a global
// registry.
package progress
