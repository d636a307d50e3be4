package dispatch

import "container/heap"

// pendingQueue orders pending jobs by priority descending, then submission
// sequence ascending. Jobs cancelled while queued are skipped lazily when
// popped (their status is no longer PENDING).
type pendingQueue struct {
	items []*Job
}

func newPendingQueue() *pendingQueue {
	q := &pendingQueue{}
	heap.Init(q)
	return q
}

func (q *pendingQueue) Len() int { return len(q.items) }

func (q *pendingQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.seq < b.seq
}

func (q *pendingQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *pendingQueue) Push(x any) { q.items = append(q.items, x.(*Job)) }

func (q *pendingQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

func (q *pendingQueue) push(j *Job) { heap.Push(q, j) }

func (q *pendingQueue) pop() *Job { return heap.Pop(q).(*Job) }
