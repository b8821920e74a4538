// Package api defines the public contracts of the benchmark: messages, the
// MessageQ-style transport and the errors surfaced across package boundaries.
package api

// Lifecycle is the start/stop pair that brackets all use of a transport.
// Each is called once per run.
type Lifecycle interface {
	Start() error
	Stop() error
}
