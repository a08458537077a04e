// Package task defines the conversion task model shared by the queue, worker
// pool, and history journal: task kinds, lifecycle states with their legal
// transitions, file payloads, and submission validation.
package task
