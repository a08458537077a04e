// Package api defines wire-format types for the daemon's HTTP API and a
// client for consuming it. The daemon serves these payloads on its configured
// bind address; the CLI uses the client for the live event feed and for
// status queries against remote daemons.
//
// DTOs use camelCase JSON tags. Queue and history types already carry wire
// tags, so they cross unchanged; daemon runtime state is mirrored into
// DaemonInfo to keep consumers decoupled from the daemon package.
package api
