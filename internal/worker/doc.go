// Package worker owns the pooled conversion sessions and the message
// protocol between them and the queue.
//
// The pool hands out slots of two kinds, single and batch, spawning
// sessions lazily up to a per-kind cap and replacing crashed ones. Each
// session is an isolated goroutine that receives one dispatch at a time
// and reports back exclusively through typed events on the shared event
// channel, so the queue's run loop never shares mutable state with a
// session. Pool state itself belongs to the queue's run loop and its
// methods are not safe for concurrent use.
package worker
