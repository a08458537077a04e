package queue

import (
	"container/heap"
	"sort"

	"carousel/internal/task"
)

// pendingHeap orders queued tasks by descending priority, with submission
// order (Seq) breaking ties so equal-priority tasks stay FIFO.
type pendingHeap []*task.Task

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}

func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) { *h = append(*h, x.(*task.Task)) }

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// pendingList wraps the heap with the operations the run loop needs.
type pendingList struct {
	heap pendingHeap
}

func newPendingList() *pendingList {
	return &pendingList{}
}

func (p *pendingList) push(t *task.Task) {
	heap.Push(&p.heap, t)
}

// peek returns the next task to schedule without removing it.
func (p *pendingList) peek() *task.Task {
	if len(p.heap) == 0 {
		return nil
	}
	return p.heap[0]
}

func (p *pendingList) pop() *task.Task {
	if len(p.heap) == 0 {
		return nil
	}
	return heap.Pop(&p.heap).(*task.Task)
}

// remove extracts the task with the given ID regardless of position.
func (p *pendingList) remove(taskID string) *task.Task {
	for i, t := range p.heap {
		if t.ID == taskID {
			return heap.Remove(&p.heap, i).(*task.Task)
		}
	}
	return nil
}

func (p *pendingList) len() int {
	return len(p.heap)
}

// drain empties the list and returns the tasks in scheduling order.
func (p *pendingList) drain() []*task.Task {
	out := make([]*task.Task, 0, len(p.heap))
	for p.len() > 0 {
		out = append(out, p.pop())
	}
	return out
}

// tasks returns a copy in scheduling order without disturbing the heap.
func (p *pendingList) tasks() []*task.Task {
	out := append([]*task.Task(nil), p.heap...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func sortTasksBySeq(tasks []*task.Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })
}
