// Package trace provides the tracing subsystem of an arbor session.
//
// Tracing follows a session through its mailbox batches and the lifecycle of
// containers and definitions, to diagnose slow syncs and stuck consumers.
//
// # Usage
//
// Enable tracing via command-line flags:
//
//	arbor replay --trace=- --trace-level=detail session.mp
//
// # Architecture
//
//   - Nop: zero-overhead no-op tracer when disabled
//   - StreamTracer: immediate write to output (file/stderr)
//   - RingTracer: circular buffer dumped on crash
//   - MultiTracer: combines multiple tracers
//
// # Levels
//
//   - LevelOff: no tracing
//   - LevelError: only crash dumps
//   - LevelPhase: session and batch boundaries
//   - LevelDetail: container lifecycle
//   - LevelDebug: everything including per-unit events
//
// # Context Propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//
//	span := trace.Begin(t, trace.ScopeBatch, "batch", parentID)
//	defer span.End("")
package trace
