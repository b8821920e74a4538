// Package shm provides the shared buffer a host and a remote processor exchange
// data through, and word-aligned, bounds-checked views into it.
//
// This package is instrumented with OpenTelemetry metrics and tracing (OTel Go SDK v1.30.0).
// Platform-specific helpers are in internal/shm.
//
// Example usage:
//
//	buf, err := shm.Open(ctx, shm.OpenOptions{
//	  Name:   "msgq",
//	  Size:   4 * 6300 * 16,
//	  Create: true,
//	  Meter:  myMeter,
//	  Tracer: myTracer,
//	})
//	// ...
//	views, err := shm.Partition(buf, []int{6300 * 16, 6300 * 16})
package shm
