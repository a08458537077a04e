// Package queue implements the conversion task orchestrator: a priority
// queue of single-file and batch conversion tasks dispatched to a bounded
// worker pool under a memory admission budget.
//
// One goroutine (the run loop) owns all orchestration state: the pending
// heap, the task table, the worker pool, retry and cancellation timers, and
// the admission wait. Public methods post closures to that goroutine and
// wait for them to run, so no lock guards the queue state itself. Workers
// are isolated goroutines that communicate back over a single ordered event
// channel. Subscribers receive typed events on a dedicated dispatcher
// goroutine so a slow handler never stalls scheduling.
package queue
