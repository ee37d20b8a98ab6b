package kernel

import (
	"fmt"
	"sort"

	"github.com/me/kthreads/pkg/model"
)

// Semaphore is a counting semaphore. Waiters are woken highest priority
// first, in arrival order among equals.
type Semaphore struct {
	k       *Kernel
	name    string
	value   int
	waiters *Queue
}

// NewSemaphore creates a semaphore with the given initial value.
func (k *Kernel) NewSemaphore(name string, value int) *Semaphore {
	if value < 0 {
		k.fault(model.FaultMisuse, "semaphore %q with negative value %d", name, value)
	}
	return &Semaphore{
		k:       k,
		name:    name,
		value:   value,
		waiters: k.NewQueue("sema:" + name),
	}
}

// Name returns the name the semaphore was created with.
func (s *Semaphore) Name() string { return s.name }

// Value returns the current count.
func (s *Semaphore) Value() int {
	old := s.k.gate.Disable()
	defer s.k.gate.Restore(old)
	return s.value
}

// Waiters returns the blocked threads in wake order.
func (s *Semaphore) Waiters() []*Thread {
	old := s.k.gate.Disable()
	defer s.k.gate.Restore(old)
	s.waiters.Sort(HigherPriority)
	return s.waiters.Threads()
}

// Down waits until the value is positive and decrements it. It must not be
// called from an interrupt handler.
func (s *Semaphore) Down() {
	k := s.k
	if k.gate.InContext() {
		k.fault(model.FaultMisuse, "down on semaphore %q in interrupt context", s.name)
	}
	old := k.gate.Disable()
	defer k.gate.Restore(old)

	if s.value > 0 {
		s.value--
		return
	}
	s.waiters.InsertOrdered(k.current, HigherPriority)
	// Up hands its unit straight to the thread it wakes.
	k.Block()
}

// TryDown decrements the value if it is positive, without blocking.
func (s *Semaphore) TryDown() bool {
	old := s.k.gate.Disable()
	defer s.k.gate.Restore(old)

	if s.value == 0 {
		return false
	}
	s.value--
	return true
}

// Up wakes the highest-priority waiter, or increments the value if there is
// none. If the woken thread outranks the caller, the caller yields. Up may be
// called from an interrupt handler.
func (s *Semaphore) Up() {
	k := s.k
	old := k.gate.Disable()
	var woken *Thread
	if s.waiters.Empty() {
		s.value++
	} else {
		// Donations may have changed priorities since the waiters queued.
		s.waiters.Sort(HigherPriority)
		woken = s.waiters.PopFront()
		k.Unblock(woken)
	}
	k.gate.Restore(old)

	k.preemptFor(woken)
}

// Lock is a semaphore with value one and an owner. Only the owner may
// release it, and a thread blocked acquiring it donates its priority to the
// owner, transitively along chains of locks.
type Lock struct {
	k      *Kernel
	name   string
	holder *Thread
	sema   *Semaphore
}

// NewLock creates an unheld lock.
func (k *Kernel) NewLock(name string) *Lock {
	return &Lock{k: k, name: name, sema: k.NewSemaphore("lock:"+name, 1)}
}

// Name returns the name the lock was created with.
func (l *Lock) Name() string { return l.name }

// Holder returns the owning thread, or nil.
func (l *Lock) Holder() *Thread {
	return l.holder
}

// HeldByCurrent reports whether the running thread owns l.
func (l *Lock) HeldByCurrent() bool {
	return l.holder != nil && l.holder == l.k.current
}

// Acquire waits for l and takes ownership. Without the feedback-queue
// scheduler, a caller that has to wait donates its priority to the holder.
func (l *Lock) Acquire() {
	k := l.k
	if k.gate.InContext() {
		k.fault(model.FaultMisuse, "acquire of lock %q in interrupt context", l.name)
	}
	if l.HeldByCurrent() {
		k.fault(model.FaultMisuse, "lock %q already held by %q", l.name, l.holder.name)
	}

	old := k.gate.Disable()
	defer k.gate.Restore(old)

	cur := k.current
	if l.holder != nil && !k.cfg.MLFQS {
		cur.waitLock = l
		l.holder.addDonor(cur)
		k.donate(cur)
	}
	l.sema.Down()

	cur.waitLock = nil
	l.holder = cur
	if !k.cfg.MLFQS {
		// Threads still queued on l now donate to the new holder.
		for _, w := range l.sema.waiters.threads {
			cur.addDonor(w)
		}
		k.refreshPriority(cur)
	}
	k.emit(model.EventAcquire, cur, l.name)
}

// TryAcquire takes l if it is free, without blocking or donating.
func (l *Lock) TryAcquire() bool {
	k := l.k
	if l.HeldByCurrent() {
		k.fault(model.FaultMisuse, "lock %q already held by %q", l.name, l.holder.name)
	}
	old := k.gate.Disable()
	defer k.gate.Restore(old)

	if !l.sema.TryDown() {
		return false
	}
	l.holder = k.current
	k.emit(model.EventAcquire, l.holder, l.name)
	return true
}

// Release gives up l. Donations received through l are withdrawn before the
// next waiter is woken, so the caller may be preempted immediately.
func (l *Lock) Release() {
	k := l.k
	if !l.HeldByCurrent() {
		holder := "nobody"
		if l.holder != nil {
			holder = l.holder.name
		}
		k.fault(model.FaultMisuse, "release of lock %q held by %s", l.name, holder)
	}

	old := k.gate.Disable()
	cur := k.current
	if !k.cfg.MLFQS {
		cur.removeDonorsFor(l)
		k.refreshPriority(cur)
	}
	l.holder = nil
	k.emit(model.EventRelease, cur, l.name)
	k.gate.Restore(old)

	l.sema.Up()
}

// donate raises the holders of the lock chain starting at t's wait lock to
// t's priority.
func (k *Kernel) donate(t *Thread) {
	for depth := 0; t.waitLock != nil; depth++ {
		if depth > len(k.all) {
			k.fault(model.FaultInvariant, "donation cycle through lock %q", t.waitLock.name)
		}
		holder := t.waitLock.holder
		if holder == nil {
			return
		}
		if holder == k.current && holder.waitLock != nil {
			k.fault(model.FaultInvariant, "running thread %q is waiting on lock %q", holder.name, holder.waitLock.name)
		}
		if holder.priority >= t.priority {
			return
		}
		holder.priority = t.priority
		k.emit(model.EventDonate, holder, fmt.Sprintf("from %s via %s", t.name, t.waitLock.name))
		t = holder
	}
}

// refreshPriority recomputes t's effective priority from its own priority
// and its donors, and carries any change down t's wait-lock chain.
func (k *Kernel) refreshPriority(t *Thread) {
	for depth := 0; t != nil; depth++ {
		if depth > len(k.all) {
			k.fault(model.FaultInvariant, "donation cycle at thread %q", t.name)
		}
		sort.SliceStable(t.donors, func(i, j int) bool { return t.donors[i].priority > t.donors[j].priority })
		p := t.originalPriority
		if len(t.donors) > 0 && t.donors[0].priority > p {
			p = t.donors[0].priority
		}
		if p == t.priority {
			return
		}
		prev := t.priority
		t.priority = p
		if p < prev {
			k.emit(model.EventRestore, t, fmt.Sprintf("%d -> %d", prev, p))
		} else {
			k.emit(model.EventDonate, t, fmt.Sprintf("%d -> %d", prev, p))
		}
		if t.waitLock == nil {
			return
		}
		t = t.waitLock.holder
	}
}

// Cond is a condition variable used together with a Lock.
type Cond struct {
	k       *Kernel
	name    string
	waiters []*condWaiter
}

type condWaiter struct {
	sema   *Semaphore
	thread *Thread
}

// NewCond creates a condition variable with no waiters.
func (k *Kernel) NewCond(name string) *Cond {
	return &Cond{k: k, name: name}
}

// Name returns the name the condition variable was created with.
func (c *Cond) Name() string { return c.name }

// Len returns the number of waiting threads.
func (c *Cond) Len() int { return len(c.waiters) }

// Wait atomically releases l and waits for a signal, then reacquires l
// before returning. The caller must hold l.
func (c *Cond) Wait(l *Lock) {
	k := c.k
	if k.gate.InContext() {
		k.fault(model.FaultMisuse, "wait on condition %q in interrupt context", c.name)
	}
	c.mustHold(l, "wait")

	w := &condWaiter{
		sema:   k.NewSemaphore(c.name, 0),
		thread: k.current,
	}
	c.waiters = append(c.waiters, w)
	l.Release()
	w.sema.Down()
	l.Acquire()
}

// Signal wakes the highest-priority waiter, if any. The caller must hold l.
func (c *Cond) Signal(l *Lock) {
	c.mustHold(l, "signal")
	if len(c.waiters) == 0 {
		return
	}
	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].thread.priority > c.waiters[j].thread.priority
	})
	w := c.waiters[0]
	c.waiters[0] = nil
	c.waiters = c.waiters[1:]
	w.sema.Up()
}

// Broadcast wakes every waiter. The caller must hold l.
func (c *Cond) Broadcast(l *Lock) {
	c.mustHold(l, "broadcast")
	for len(c.waiters) > 0 {
		c.Signal(l)
	}
}

func (c *Cond) mustHold(l *Lock, op string) {
	if !l.HeldByCurrent() {
		c.k.fault(model.FaultMisuse, "%s on condition %q without holding lock %q", op, c.name, l.name)
	}
}
