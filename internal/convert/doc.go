// Package convert defines the conversion engine boundary: supported target
// formats, the canonical stage progression with its percentage bands, success
// metadata, and a CLI-backed engine that shells out to an external
// decoder/encoder binary.
//
// The queue and workers treat an Engine as an opaque, slow, fallible call;
// every retry and cancellation decision lives above this boundary.
package convert
