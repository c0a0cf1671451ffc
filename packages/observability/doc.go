// Package observability builds zerolog loggers and the prometheus metrics
// fed by transport events.
package observability
