// Package services defines shared utilities consumed by the conversion queue,
// the worker sessions, and the daemon surfaces.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, stage names, worker slots, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the event and retry behavior the queue applies (validation vs
//     conversion vs transport vs resource exhaustion vs illegal state).
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability, retries) stays uniform.
package services
