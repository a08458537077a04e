// Package notifications pushes conversion events to an ntfy topic.
//
// The daemon publishes task and queue milestones here; configuration decides
// which of them actually leave the process, and identical messages inside the
// dedup window are dropped. Without a configured topic every publish is a
// no-op, so callers never guard their calls.
package notifications
