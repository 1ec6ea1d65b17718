// Package command turns operator requests into transport publishes or
// worker runs and resolves each request exactly once.
//
// Request lifecycle, logged with the request's correlation ID:
//
//	received -> validating -> rejected
//	                       -> dispatching -> publish | worker -> resolved (success | failure)
//
// Validation happens before any side effect. The orchestrator never touches
// the latest-value store.
package command
