package kernel

import (
	"github.com/me/kthreads/internal/fixedpoint"
	"github.com/me/kthreads/pkg/model"
)

// threadMagic guards every thread control block. A thread whose magic no
// longer matches has overrun its stack.
const threadMagic uint32 = 0xcd6abf4b

// maxNameLen is the number of name bytes a thread control block keeps.
const maxNameLen = 15

// Func is a kernel thread body. Returning from it exits the thread.
type Func func(aux any)

// MemoryContext is a user address space that is activated whenever its
// thread is dispatched. Threads with a memory context count as user time.
type MemoryContext interface {
	Activate()
}

// Thread is a thread control block.
type Thread struct {
	tid    TID
	name   string
	status model.ThreadStatus

	// priority is the effective priority; originalPriority is the one the
	// thread set for itself, before donation.
	priority         int
	originalPriority int
	waitLock         *Lock
	donors           []*Thread

	wakeupTick int64
	nice       int
	recentCPU  fixedpoint.Value

	queue  *Queue
	mem    MemoryContext
	fn     Func
	aux    any
	resume chan struct{}
	magic  uint32
}

func (k *Kernel) newThread(name string, priority int) *Thread {
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	t := &Thread{
		tid:              k.nextTID,
		name:             name,
		status:           model.ThreadBlocked,
		priority:         priority,
		originalPriority: priority,
		nice:             NiceDefault,
		resume:           make(chan struct{}, 1),
		magic:            threadMagic,
	}
	k.nextTID++
	k.threads[t.tid] = t
	k.all = append(k.all, t)
	return t
}

// TID returns the thread's id.
func (t *Thread) TID() TID { return t.tid }

// Name returns the thread's name, truncated to fit the control block.
func (t *Thread) Name() string { return t.name }

// Status returns the thread's scheduling state.
func (t *Thread) Status() model.ThreadStatus { return t.status }

// Priority returns the effective priority, including donations.
func (t *Thread) Priority() int { return t.priority }

// OriginalPriority returns the priority the thread set for itself.
func (t *Thread) OriginalPriority() int { return t.originalPriority }

// Nice returns the thread's niceness.
func (t *Thread) Nice() int { return t.nice }

// WakeupTick is the tick at which a sleeping thread becomes due.
func (t *Thread) WakeupTick() int64 { return t.wakeupTick }

// SetWakeupTick records when a sleeping thread becomes due.
func (t *Thread) SetWakeupTick(tick int64) { t.wakeupTick = tick }

// WaitLock returns the lock the thread is blocked acquiring, if any.
func (t *Thread) WaitLock() *Lock { return t.waitLock }

// MemoryContext returns the thread's address space, or nil for a kernel thread.
func (t *Thread) MemoryContext() MemoryContext { return t.mem }

// SetMemoryContext attaches an address space to the thread.
func (t *Thread) SetMemoryContext(mc MemoryContext) { t.mem = mc }

func (t *Thread) addDonor(d *Thread) {
	for _, x := range t.donors {
		if x == d {
			return
		}
	}
	t.donors = append(t.donors, d)
}

// removeDonorsFor drops every donor waiting on l.
func (t *Thread) removeDonorsFor(l *Lock) {
	kept := t.donors[:0]
	for _, d := range t.donors {
		if d.waitLock != l {
			kept = append(kept, d)
		}
	}
	for i := len(kept); i < len(t.donors); i++ {
		t.donors[i] = nil
	}
	t.donors = kept
}

func (t *Thread) info() model.ThreadInfo {
	ti := model.ThreadInfo{
		TID:              int(t.tid),
		Name:             t.name,
		Status:           t.status,
		Priority:         t.priority,
		OriginalPriority: t.originalPriority,
		Nice:             t.nice,
		RecentCPU:        t.recentCPU.MulInt(100).ToIntRound(),
		WakeupTick:       t.wakeupTick,
	}
	if t.waitLock != nil {
		ti.WaitLock = t.waitLock.name
	}
	if t.queue != nil {
		ti.Queue = t.queue.name
	}
	for _, d := range t.donors {
		ti.Donors = append(ti.Donors, int(d.tid))
	}
	return ti
}
