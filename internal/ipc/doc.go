// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. Queue
// summaries, history entries, and daemon info cross the wire in their
// canonical JSON forms, so the CLI renders exactly what the daemon reports.
// The client dials with a short timeout so commands fail fast when the
// daemon is offline.
//
// Reuse these types when adding new RPC endpoints to keep the protocol
// stable and compatible with existing command implementations.
package ipc
