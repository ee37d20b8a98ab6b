// Package kernel is the thread scheduling and synchronization core: the thread
// control block store, the ready queue and dispatcher, blocking and unblocking,
// semaphores, locks with priority donation, condition variables, and the
// multi-level feedback queue policy.
//
// Each kernel thread runs on its own goroutine, but only the goroutine that
// owns the simulated CPU ever executes. A context switch hands the CPU to the
// next thread through its resume channel and parks the previous one on its
// own. All scheduler state is mutated with interrupts disabled through the
// intr.Gate; there are no other locks.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/me/kthreads/internal/config"
	"github.com/me/kthreads/internal/fixedpoint"
	"github.com/me/kthreads/internal/intr"
	"github.com/me/kthreads/internal/logging"
	"github.com/me/kthreads/pkg/model"
)

// Thread priorities.
const (
	PriMin     = 0
	PriDefault = 31
	PriMax     = 63
)

// Niceness bounds for the feedback-queue scheduler.
const (
	NiceMin     = -20
	NiceDefault = 0
	NiceMax     = 20
)

// TID identifies a thread.
type TID int

// TIDError is returned by Create when no thread was created.
const TIDError TID = -1

// ErrNoMemory is returned by Create when the thread table is full.
var ErrNoMemory = errors.New("kernel: no memory for thread control block")

// Observer receives every scheduler transition.
type Observer interface {
	Observe(model.Event)
}

// Option configures optional kernel collaborators.
type Option func(*Kernel)

// WithObserver sends scheduler events to obs.
func WithObserver(obs Observer) Option {
	return func(k *Kernel) {
		k.observer = obs
	}
}

// WithFaultHandler runs fn before the kernel halts on a fault. fn may exit
// the process; if it returns, the fault panics.
func WithFaultHandler(fn func(*model.KernelFault)) Option {
	return func(k *Kernel) {
		k.onFault = fn
	}
}

// WithHalt sets the idle thread's wait-for-interrupt hook. It returns false
// when no interrupt can ever arrive, which the idle thread reports as a
// deadlock.
func WithHalt(fn func() bool) Option {
	return func(k *Kernel) {
		k.halt = fn
	}
}

// WithClock sets the source of the tick stamped on events and faults.
func WithClock(fn func() int64) Option {
	return func(k *Kernel) {
		k.clock = fn
	}
}

// Kernel is the scheduler context. It is created once at boot and lives for
// the rest of the process.
type Kernel struct {
	cfg    config.KernelConfig
	gate   *intr.Gate
	logger *slog.Logger

	observer Observer
	onFault  func(*model.KernelFault)
	halt     func() bool
	clock    func() int64

	threads map[TID]*Thread
	all     []*Thread
	nextTID TID

	ready   *Queue
	current *Thread
	initial *Thread
	idle    *Thread
	dying   []*Thread

	halted   chan struct{}
	haltOnce sync.Once

	now        int64
	sliceTicks int
	loadAvg    fixedpoint.Value
	stats      model.KernelStats
}

// New creates a kernel. Call Init from the goroutine that becomes the initial
// thread, then Start.
func New(cfg config.KernelConfig, gate *intr.Gate, logger *slog.Logger, opts ...Option) *Kernel {
	k := &Kernel{
		cfg:     cfg,
		gate:    gate,
		logger:  logging.OrDiscard(logger).With("component", "kernel"),
		threads: make(map[TID]*Thread),
		nextTID: 1,
		halted:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.clock == nil {
		k.clock = func() int64 { return k.now }
	}
	k.ready = k.NewQueue("ready")
	gate.SetYieldHook(k.Yield)
	gate.SetFaultHook(func(kind model.FaultKind, msg string) {
		k.fault(kind, "%s", msg)
	})
	return k
}

// Config returns the boot parameters.
func (k *Kernel) Config() config.KernelConfig {
	return k.cfg
}

// Gate returns the interrupt controller the kernel runs on.
func (k *Kernel) Gate() *intr.Gate {
	return k.gate
}

// MLFQS reports whether the feedback-queue scheduler is active.
func (k *Kernel) MLFQS() bool {
	return k.cfg.MLFQS
}

// Init turns the calling goroutine into the initial thread, "main". It must
// run with interrupts off, before any other kernel call.
func (k *Kernel) Init() {
	if k.gate.Level() != intr.Off {
		k.fault(model.FaultMisuse, "Init with interrupts enabled")
	}
	if k.initial != nil {
		k.fault(model.FaultMisuse, "Init called twice")
	}
	t := k.newThread("main", PriDefault)
	if k.cfg.MLFQS {
		k.mlfqsPriority(t)
	}
	t.status = model.ThreadRunning
	k.initial = t
	k.current = t
	k.stats.Created++
	k.emit(model.EventCreate, t, "initial thread")
	k.logger.Info("kernel initialized", "mlfqs", k.cfg.MLFQS, "time_slice", k.cfg.TimeSlice, "max_threads", k.cfg.MaxThreads)
}

// Start creates the idle thread and enables interrupts. It returns once the
// idle thread has initialized.
func (k *Kernel) Start() {
	started := k.NewSemaphore("idle-started", 0)
	if _, err := k.create("idle", PriMin, k.idleLoop, started, false); err != nil {
		k.fault(model.FaultInvariant, "create idle thread: %v", err)
	}
	k.gate.Enable()
	started.Down()
	k.logger.Info("kernel started", "idle_tid", k.idle.tid)
}

// idleLoop runs when no other thread is ready. It is never on the ready
// queue once initialized; nextToRun returns it directly.
func (k *Kernel) idleLoop(aux any) {
	k.idle = k.current
	aux.(*Semaphore).Up()

	for {
		k.gate.Disable()
		k.Block()

		// Re-enable interrupts and wait for the next one.
		k.gate.Enable()
		if k.halt == nil || !k.halt() {
			k.fault(model.FaultDeadlock, "no runnable threads and no pending wakeups")
		}
	}
}

// Halt powers the kernel off. Interrupts stop and every parked thread's
// goroutine exits instead of waiting to be dispatched. Halt may be called
// from any goroutine once no kernel thread is running, typically after the
// initial thread finished or a fault handler took over; calling it again is
// harmless.
func (k *Kernel) Halt() {
	k.haltOnce.Do(func() {
		k.gate.Halt()
		close(k.halted)
		k.logger.Debug("kernel halted")
	})
}

// Fault halts the kernel on behalf of a device or subsystem. It never
// returns.
func (k *Kernel) Fault(kind model.FaultKind, format string, args ...any) {
	k.fault(kind, format, args...)
}

// fault halts the kernel. It never returns.
func (k *Kernel) fault(kind model.FaultKind, format string, args ...any) {
	f := &model.KernelFault{
		Kind:    kind,
		TID:     int(TIDError),
		Tick:    k.clock(),
		Message: fmt.Sprintf(format, args...),
	}
	if cur := k.current; cur != nil {
		f.Thread = cur.name
		f.TID = int(cur.tid)
	}
	k.logger.Error("kernel fault", "kind", f.Kind, "thread", f.Thread, "tid", f.TID, "tick", f.Tick, "message", f.Message)
	if k.onFault != nil {
		k.onFault(f)
	}
	panic(f)
}

func (k *Kernel) emit(kind model.EventKind, t *Thread, detail string) {
	if k.logger.Enabled(context.Background(), slog.LevelDebug) {
		k.logger.Debug(string(kind), "tid", t.tid, "thread", t.name, "priority", t.priority, "detail", detail)
	}
	if k.observer == nil {
		return
	}
	k.observer.Observe(model.Event{
		Tick:     k.clock(),
		Kind:     kind,
		TID:      int(t.tid),
		Thread:   t.name,
		Priority: t.priority,
		Detail:   detail,
	})
}

// Log records a free-form event on behalf of the running thread.
func (k *Kernel) Log(msg string) {
	k.emit(model.EventLog, k.current, msg)
}

// Record reports a transition observed outside the scheduler, such as a
// thread going to sleep or waking from the sleep queue.
func (k *Kernel) Record(kind model.EventKind, t *Thread, detail string) {
	k.emit(kind, t, detail)
}
