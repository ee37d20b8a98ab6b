package kernel

import (
	"sort"

	"github.com/me/kthreads/pkg/model"
)

// Queue is an ordered list of threads. A thread is linked into at most one
// queue at a time: the ready queue, a semaphore's waiters, or the sleep queue.
// Callers must have interrupts disabled.
type Queue struct {
	k       *Kernel
	name    string
	threads []*Thread
}

// NewQueue creates an empty queue. name appears in snapshots and faults.
func (k *Kernel) NewQueue(name string) *Queue {
	return &Queue{k: k, name: name}
}

// Name returns the queue's name.
func (q *Queue) Name() string { return q.name }

// Len returns the number of queued threads.
func (q *Queue) Len() int { return len(q.threads) }

// Empty reports whether no thread is queued.
func (q *Queue) Empty() bool { return len(q.threads) == 0 }

// Front returns the first thread without removing it, or nil.
func (q *Queue) Front() *Thread {
	if len(q.threads) == 0 {
		return nil
	}
	return q.threads[0]
}

func (q *Queue) link(t *Thread) {
	if t.queue != nil {
		q.k.fault(model.FaultInvariant, "thread %q already linked in %s queue, cannot join %s", t.name, t.queue.name, q.name)
	}
	t.queue = q
}

// PushBack appends t.
func (q *Queue) PushBack(t *Thread) {
	q.link(t)
	q.threads = append(q.threads, t)
}

// InsertOrdered inserts t before the first thread u for which less(t, u)
// holds, so threads that compare equal keep arrival order.
func (q *Queue) InsertOrdered(t *Thread, less func(a, b *Thread) bool) {
	q.link(t)
	i := sort.Search(len(q.threads), func(i int) bool { return less(t, q.threads[i]) })
	q.threads = append(q.threads, nil)
	copy(q.threads[i+1:], q.threads[i:])
	q.threads[i] = t
}

// PopFront removes and returns the first thread, or nil.
func (q *Queue) PopFront() *Thread {
	if len(q.threads) == 0 {
		return nil
	}
	t := q.threads[0]
	q.removeAt(0)
	return t
}

// Remove unlinks t. It reports whether t was in q.
func (q *Queue) Remove(t *Thread) bool {
	for i, x := range q.threads {
		if x == t {
			q.removeAt(i)
			return true
		}
	}
	return false
}

func (q *Queue) removeAt(i int) {
	t := q.threads[i]
	copy(q.threads[i:], q.threads[i+1:])
	q.threads[len(q.threads)-1] = nil
	q.threads = q.threads[:len(q.threads)-1]
	t.queue = nil
}

// Sort reorders the queue stably.
func (q *Queue) Sort(less func(a, b *Thread) bool) {
	sort.SliceStable(q.threads, func(i, j int) bool { return less(q.threads[i], q.threads[j]) })
}

// Highest returns the first thread of maximum effective priority, or nil.
func (q *Queue) Highest() *Thread {
	i := q.highestIndex()
	if i < 0 {
		return nil
	}
	return q.threads[i]
}

// PopHighest removes and returns the first thread of maximum effective
// priority, or nil.
func (q *Queue) PopHighest() *Thread {
	i := q.highestIndex()
	if i < 0 {
		return nil
	}
	t := q.threads[i]
	q.removeAt(i)
	return t
}

func (q *Queue) highestIndex() int {
	best := -1
	for i, t := range q.threads {
		if best < 0 || t.priority > q.threads[best].priority {
			best = i
		}
	}
	return best
}

// Threads returns a copy of the queue contents in order.
func (q *Queue) Threads() []*Thread {
	out := make([]*Thread, len(q.threads))
	copy(out, q.threads)
	return out
}

// HigherPriority orders threads by effective priority, highest first.
func HigherPriority(a, b *Thread) bool {
	return a.priority > b.priority
}

// EarlierWakeup orders threads by wakeup tick, earliest first.
func EarlierWakeup(a, b *Thread) bool {
	return a.wakeupTick < b.wakeupTick
}
