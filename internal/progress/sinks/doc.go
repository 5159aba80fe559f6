// Package sinks implements progress consumers: structured logs, completion
// notifications, result archives, and the outcome history table.
package sinks
