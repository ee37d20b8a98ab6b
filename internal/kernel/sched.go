package kernel

import (
	"fmt"
	"runtime"

	"github.com/me/kthreads/internal/intr"
	"github.com/me/kthreads/pkg/model"
)

// exitSignal unwinds a thread body that called Exit.
type exitSignal struct{}

// Create starts a new thread running fn(aux) at the given priority and adds
// it to the ready queue. If the new thread outranks the caller, the caller
// yields before Create returns.
func (k *Kernel) Create(name string, priority int, fn Func, aux any) (TID, error) {
	return k.create(name, priority, fn, aux, k.cfg.MLFQS)
}

func (k *Kernel) create(name string, priority int, fn Func, aux any, inherit bool) (TID, error) {
	if fn == nil {
		k.fault(model.FaultMisuse, "create %q with nil function", name)
	}
	if priority < PriMin || priority > PriMax {
		k.fault(model.FaultMisuse, "create %q with priority %d outside [%d, %d]", name, priority, PriMin, PriMax)
	}
	if k.gate.InContext() {
		k.fault(model.FaultMisuse, "create %q in interrupt context", name)
	}

	old := k.gate.Disable()
	if len(k.threads) >= k.cfg.MaxThreads {
		k.gate.Restore(old)
		k.logger.Warn("thread table full", "name", name, "max_threads", k.cfg.MaxThreads)
		return TIDError, ErrNoMemory
	}

	t := k.newThread(name, priority)
	t.fn, t.aux = fn, aux
	if inherit {
		parent := k.current
		t.nice = parent.nice
		t.recentCPU = parent.recentCPU
		k.mlfqsPriority(t)
	}
	k.stats.Created++
	go k.threadMain(t)
	k.emit(model.EventCreate, t, fmt.Sprintf("by %s", k.current.name))
	k.Unblock(t)
	k.gate.Restore(old)

	k.preemptFor(t)
	return t.tid, nil
}

// threadMain is the first code every created thread runs once dispatched.
func (k *Kernel) threadMain(t *Thread) {
	k.park(t)
	k.gate.Enable()
	k.runBody(t)
	k.exit(t)
}

func (k *Kernel) runBody(t *Thread) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(exitSignal); ok {
				return
			}
			panic(r)
		}
	}()
	t.fn(t.aux)
}

// Exit terminates the running thread. Deferred calls in the thread body run
// before the thread is descheduled. Exit never returns.
func (k *Kernel) Exit() {
	if k.gate.InContext() {
		k.fault(model.FaultMisuse, "exit in interrupt context")
	}
	cur := k.current
	if cur == k.initial || cur == k.idle {
		k.fault(model.FaultMisuse, "thread %q cannot exit", cur.name)
	}
	panic(exitSignal{})
}

func (k *Kernel) exit(t *Thread) {
	if k.gate.InContext() {
		k.fault(model.FaultMisuse, "exit in interrupt context")
	}
	k.gate.Disable()
	k.emit(model.EventExit, t, "")
	k.setStatus(t, model.ThreadDying)
	k.schedule()
}

// Block puts the running thread to sleep until Unblock. Interrupts must be
// off and the caller must not be an interrupt handler.
func (k *Kernel) Block() {
	if k.gate.InContext() {
		k.fault(model.FaultMisuse, "block in interrupt context")
	}
	if k.gate.Level() != intr.Off {
		k.fault(model.FaultMisuse, "block with interrupts enabled")
	}
	cur := k.current
	k.setStatus(cur, model.ThreadBlocked)
	detail := ""
	if cur.queue != nil {
		detail = cur.queue.name
	}
	k.emit(model.EventBlock, cur, detail)
	k.schedule()
}

// Unblock moves a blocked thread to the ready queue. It never preempts the
// running thread; callers decide whether to yield.
func (k *Kernel) Unblock(t *Thread) {
	old := k.gate.Disable()
	defer k.gate.Restore(old)

	k.checkMagic(t)
	if t.status != model.ThreadBlocked {
		k.fault(model.FaultInvariant, "unblock of thread %q in state %s", t.name, t.status)
	}
	if t.queue != nil {
		t.queue.Remove(t)
	}
	k.setStatus(t, model.ThreadReady)
	k.ready.PushBack(t)
	k.emit(model.EventUnblock, t, "")
}

// Yield gives up the CPU. The running thread stays ready and may be
// dispatched again immediately.
func (k *Kernel) Yield() {
	if k.gate.InContext() {
		k.fault(model.FaultMisuse, "yield in interrupt context")
	}
	old := k.gate.Disable()
	cur := k.current
	k.setStatus(cur, model.ThreadReady)
	if cur != k.idle {
		k.ready.PushBack(cur)
	}
	k.emit(model.EventYield, cur, "")
	k.schedule()
	k.gate.Restore(old)
}

// preemptFor yields to t if it outranks the running thread. In interrupt
// context the yield is deferred until the handler returns.
func (k *Kernel) preemptFor(t *Thread) {
	if t == nil || t.priority <= k.current.priority {
		return
	}
	if k.gate.InContext() {
		k.gate.YieldOnReturn()
		return
	}
	k.Yield()
}

// yieldIfOutranked yields when some ready thread outranks the running one.
func (k *Kernel) yieldIfOutranked() {
	old := k.gate.Disable()
	top := k.ready.Highest()
	k.gate.Restore(old)
	k.preemptFor(top)
}

func (k *Kernel) nextToRun() *Thread {
	if k.ready.Empty() {
		if k.idle == nil {
			k.fault(model.FaultInvariant, "dispatch with an empty ready queue")
		}
		return k.idle
	}
	return k.ready.PopHighest()
}

// schedule switches to the next thread. The caller has already moved the
// running thread out of RUNNING. It returns when the caller is dispatched
// again, or immediately with the CPU given away if the caller is dying.
func (k *Kernel) schedule() {
	if k.gate.Level() != intr.Off {
		k.fault(model.FaultInvariant, "schedule with interrupts enabled")
	}
	cur := k.current
	if cur.status == model.ThreadRunning {
		k.fault(model.FaultInvariant, "schedule while %q is still running", cur.name)
	}
	k.checkMagic(cur)

	next := k.nextToRun()
	k.checkMagic(next)
	k.setStatus(next, model.ThreadRunning)
	k.sliceTicks = 0
	k.reap()

	if next == cur {
		return
	}
	k.current = next
	k.stats.Switches++
	if next.mem != nil {
		next.mem.Activate()
	}
	k.emit(model.EventDispatch, next, fmt.Sprintf("from %s", cur.name))

	dying := cur.status == model.ThreadDying
	if dying {
		k.dying = append(k.dying, cur)
	}
	next.resume <- struct{}{}
	if dying {
		return
	}
	k.park(cur)
}

// park waits until t is dispatched. A halted kernel never dispatches again,
// so the goroutine exits instead.
func (k *Kernel) park(t *Thread) {
	select {
	case <-t.resume:
	case <-k.halted:
		runtime.Goexit()
	}
}

// reap frees threads that died before the previous switch.
func (k *Kernel) reap() {
	if len(k.dying) == 0 {
		return
	}
	for _, t := range k.dying {
		delete(k.threads, t.tid)
		for i, x := range k.all {
			if x == t {
				k.all = append(k.all[:i], k.all[i+1:]...)
				break
			}
		}
		t.magic = 0
		k.logger.Debug("thread reaped", "tid", t.tid, "thread", t.name)
	}
	k.dying = k.dying[:0]
}

func (k *Kernel) setStatus(t *Thread, next model.ThreadStatus) {
	if !t.status.CanTransitionTo(next) {
		err := &model.InvalidTransitionError{Entity: "thread", ID: fmt.Sprint(t.tid), From: string(t.status), To: string(next)}
		k.fault(model.FaultInvariant, "%s: %v", t.name, err)
	}
	t.status = next
}

func (k *Kernel) checkMagic(t *Thread) {
	if t.magic != threadMagic {
		k.fault(model.FaultStackOverflow, "thread %q (tid %d) has a corrupt control block", t.name, t.tid)
	}
}

// Current returns the running thread.
func (k *Kernel) Current() *Thread {
	cur := k.current
	if cur == nil {
		k.fault(model.FaultMisuse, "no current thread before Init")
	}
	k.checkMagic(cur)
	if cur.status != model.ThreadRunning {
		k.fault(model.FaultInvariant, "current thread %q is %s", cur.name, cur.status)
	}
	return cur
}

// CurrentTID returns the running thread's id.
func (k *Kernel) CurrentTID() TID { return k.Current().tid }

// CurrentName returns the running thread's name.
func (k *Kernel) CurrentName() string { return k.Current().name }

// Lookup returns the live thread with the given id.
func (k *Kernel) Lookup(tid TID) (*Thread, bool) {
	t, ok := k.threads[tid]
	return t, ok
}

// Idle returns the idle thread, or nil before Start.
func (k *Kernel) Idle() *Thread {
	return k.idle
}

// Priority returns the running thread's effective priority.
func (k *Kernel) Priority() int {
	return k.Current().priority
}

// SetPriority sets the running thread's own priority. Donations still in
// effect keep the effective priority at least as high as the highest donor.
// It is ignored under the feedback-queue scheduler.
func (k *Kernel) SetPriority(p int) {
	if k.cfg.MLFQS {
		return
	}
	if p < PriMin || p > PriMax {
		k.fault(model.FaultMisuse, "priority %d outside [%d, %d]", p, PriMin, PriMax)
	}
	old := k.gate.Disable()
	cur := k.Current()
	cur.originalPriority = p
	k.refreshPriority(cur)
	k.emit(model.EventPriority, cur, fmt.Sprintf("original=%d", p))
	k.gate.Restore(old)
	k.yieldIfOutranked()
}

// Tick accounts one timer tick to the running thread. It is called from the
// timer interrupt handler with the current tick count.
func (k *Kernel) Tick(now int64) {
	k.now = now
	cur := k.current
	switch {
	case cur == k.idle:
		k.stats.IdleTicks++
	case cur.mem != nil:
		k.stats.UserTicks++
	default:
		k.stats.KernelTicks++
	}

	if k.cfg.MLFQS {
		k.mlfqsTick(now)
	}

	k.sliceTicks++
	if k.sliceTicks >= k.cfg.TimeSlice {
		k.gate.YieldOnReturn()
	}
}
