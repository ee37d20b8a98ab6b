// Package machine assembles a bootable simulated computer: the interrupt
// controller, the kernel, and the timer, wired together the way the boot
// sequence expects.
package machine

import (
	"context"
	"log/slog"

	"github.com/me/kthreads/internal/config"
	"github.com/me/kthreads/internal/intr"
	"github.com/me/kthreads/internal/kernel"
	"github.com/me/kthreads/internal/logging"
	"github.com/me/kthreads/internal/timer"
	"github.com/me/kthreads/pkg/model"
)

// Machine is one booted system. Its methods must be called from kernel
// threads, never from unrelated goroutines.
type Machine struct {
	Gate   *intr.Gate
	Kernel *kernel.Kernel
	Timer  *timer.Device

	ctx    context.Context
	cfg    config.KernelConfig
	logger *slog.Logger
}

// Option configures a Machine before boot.
type Option func(*options)

type options struct {
	ctx      context.Context
	observer kernel.Observer
	onFault  func(*model.KernelFault)
}

// WithContext bounds the machine's running time. Once ctx is done, the next
// simulated tick faults with FaultTimeout.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// WithObserver records every scheduler transition.
func WithObserver(obs kernel.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithFaultHandler is run after the machine halts on a fault. Threads other
// than the faulting one never run again; fn takes over the faulting thread.
func WithFaultHandler(fn func(*model.KernelFault)) Option {
	return func(o *options) { o.onFault = fn }
}

// Boot validates cfg and boots a machine. The calling goroutine becomes the
// initial thread; Boot returns with interrupts enabled and the idle thread
// running.
func Boot(cfg config.KernelConfig, logger *slog.Logger, opts ...Option) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.ctx == nil {
		o.ctx = context.Background()
	}

	logger = logging.OrDiscard(logger)
	m := &Machine{ctx: o.ctx, cfg: cfg, logger: logger.With("component", "machine")}
	m.Gate = intr.New(logger)

	kopts := []kernel.Option{
		kernel.WithHalt(m.halt),
		kernel.WithClock(m.now),
	}
	if o.observer != nil {
		kopts = append(kopts, kernel.WithObserver(o.observer))
	}
	if o.onFault != nil {
		kopts = append(kopts, kernel.WithFaultHandler(func(f *model.KernelFault) {
			m.Halt()
			o.onFault(f)
		}))
	}
	m.Kernel = kernel.New(cfg, m.Gate, logger, kopts...)

	m.Kernel.Init()
	m.Timer = timer.New(cfg, m.Gate, m.Kernel, logger)
	m.Timer.Init()
	m.Kernel.Start()

	m.logger.Info("boot complete", "timer_freq", cfg.TimerFreq, "mlfqs", cfg.MLFQS)
	return m, nil
}

func (m *Machine) now() int64 {
	if m.Timer == nil {
		return 0
	}
	return m.Timer.Now()
}

// halt is the idle thread's wait for the next interrupt. Only the timer can
// wake a thread when nothing is runnable, so with no sleepers the system is
// deadlocked.
func (m *Machine) halt() bool {
	if m.Timer.SleeperCount() == 0 {
		return false
	}
	m.pulse()
	return true
}

// Compute simulates the running thread executing for n ticks without
// blocking. It may be preempted along the way.
func (m *Machine) Compute(n int64) {
	for i := int64(0); i < n; i++ {
		m.pulse()
	}
}

// pulse advances simulated time by one tick unless the machine's context is
// done.
func (m *Machine) pulse() {
	if err := m.ctx.Err(); err != nil {
		m.Kernel.Fault(model.FaultTimeout, "run canceled: %v", err)
	}
	m.Timer.Pulse()
}

// Halt powers the machine off and releases the goroutines of every parked
// thread. Unlike the other methods it may be called from any goroutine, but
// only once no kernel thread is running.
func (m *Machine) Halt() {
	m.Kernel.Halt()
}

// Ticks returns the timer tick count.
func (m *Machine) Ticks() int64 {
	return m.Timer.Ticks()
}

// Shutdown prints the final statistics. The machine must not be used again.
func (m *Machine) Shutdown() Stats {
	m.Gate.Disable()
	s := Stats{
		Timer:  m.Timer.PrintStats(),
		Thread: m.Kernel.PrintStats(),
		Kernel: m.Kernel.Stats(),
		Ticks:  m.Timer.Now(),
	}
	m.logger.Info("powering off", "ticks", s.Ticks, "switches", s.Kernel.Switches)
	return s
}

// Stats is the shutdown report.
type Stats struct {
	Timer  string
	Thread string
	Kernel model.KernelStats
	Ticks  int64
}
