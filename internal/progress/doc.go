// Package progress keeps per-task and aggregate conversion accounting.
//
// The tracker is pure bookkeeping: the queue registers every task with its
// file and byte totals, feeds it percent updates, and marks the terminal
// outcome. Aggregate counters, throughput, and the remaining-time estimate
// are derived on demand from the tracked state.
package progress
