package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/me/kthreads/internal/config"
	"github.com/me/kthreads/internal/kernel"
	"github.com/me/kthreads/internal/logging"
	"github.com/me/kthreads/internal/machine"
	"github.com/me/kthreads/internal/trace"
	"github.com/me/kthreads/pkg/model"
)

// DefaultEventLimit bounds the trace kept for one run.
const DefaultEventLimit = 100_000

// Result is the outcome of a run.
type Result struct {
	Run    model.Run
	Events []model.Event
}

// Logs returns the messages recorded by log actions, in order.
func (r *Result) Logs() []string {
	var out []string
	for _, e := range r.Events {
		if e.Kind == model.EventLog {
			out = append(out, e.Detail)
		}
	}
	return out
}

// KernelConfig returns base with the scenario's overrides applied.
func (sc *Scenario) KernelConfig(base config.KernelConfig) config.KernelConfig {
	cfg := base
	if sc.MLFQS {
		cfg.MLFQS = true
	}
	if sc.TimerFreq != 0 {
		cfg.TimerFreq = sc.TimerFreq
	}
	if sc.TimeSlice != 0 {
		cfg.TimeSlice = sc.TimeSlice
	}
	if sc.MaxTicks != 0 {
		cfg.MaxTicks = sc.MaxTicks
	}
	return cfg
}

type outcome struct {
	fault *model.KernelFault
	err   error
}

type runner struct {
	ctx    context.Context
	sc     *Scenario
	m      *machine.Machine
	logger *slog.Logger

	locks   map[string]*kernel.Lock
	semas   map[string]*kernel.Semaphore
	conds   map[string]*kernel.Cond
	specs   map[string]ThreadSpec
	done    map[string]*kernel.Semaphore
	created []string
}

// Run boots a machine configured from base and sc, runs the workload to
// completion, and returns its summary and trace. A kernel fault ends the run
// with status FAULTED and no error; err is set only when the run could not
// start or ctx was canceled before it finished. Cancellation stops the
// machine at its next tick or action. Run returns only after the machine
// has halted and released its threads' goroutines.
func Run(ctx context.Context, sc *Scenario, base config.KernelConfig, logger *slog.Logger) (*Result, error) {
	if apiErr := sc.Validate(); apiErr != nil {
		return nil, apiErr
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run %s: %w", sc.Name, err)
	}
	cfg := sc.KernelConfig(base)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	logger = logging.OrDiscard(logger)
	rec := trace.NewRecorder(DefaultEventLimit, logger)
	r := &runner{
		ctx:    ctx,
		sc:     sc,
		logger: logger.With("component", "scenario", "scenario", sc.Name),
		locks:  make(map[string]*kernel.Lock),
		semas:  make(map[string]*kernel.Semaphore),
		conds:  make(map[string]*kernel.Cond),
		specs:  make(map[string]ThreadSpec),
		done:   make(map[string]*kernel.Semaphore),
	}

	results := make(chan outcome, 1)
	onFault := func(f *model.KernelFault) {
		results <- outcome{fault: f}
		runtime.Goexit()
	}

	start := time.Now()
	r.logger.Info("run starting", "mlfqs", cfg.MLFQS, "threads", len(sc.Threads))
	go func() {
		m, err := machine.Boot(cfg, logger,
			machine.WithContext(ctx),
			machine.WithObserver(rec),
			machine.WithFaultHandler(onFault),
		)
		if err != nil {
			results <- outcome{err: err}
			return
		}
		r.m = m
		r.main()
		results <- outcome{}
	}()

	o := <-results
	if r.m != nil {
		r.m.Halt()
	}
	if o.err != nil {
		return nil, fmt.Errorf("boot %s: %w", sc.Name, o.err)
	}
	if o.fault != nil && o.fault.Kind == model.FaultTimeout && ctx.Err() != nil {
		r.logger.Warn("run canceled", "ticks", o.fault.Tick, "err", ctx.Err())
		return nil, fmt.Errorf("run %s: %w", sc.Name, ctx.Err())
	}

	run := model.Run{
		ID:        "run_" + uuid.New().String(),
		Scenario:  sc.Name,
		MLFQS:     cfg.MLFQS,
		Status:    model.RunStatusCompleted,
		CreatedAt: start.UTC(),
		Duration:  time.Since(start).Round(time.Microsecond).String(),
	}
	if r.m != nil {
		run.Threads, run.Stats = r.m.Kernel.Dump()
		run.Ticks = r.m.Timer.Now()
	}
	if o.fault != nil {
		run.Status = model.RunStatusFaulted
		run.Fault = o.fault.Error()
		r.logger.Warn("run faulted", "fault", o.fault.Kind, "message", o.fault.Message, "ticks", run.Ticks)
	}

	events := rec.Events()
	run.EventCount = len(events)
	r.logger.Info("run finished", "id", run.ID, "status", run.Status, "ticks", run.Ticks, "events", run.EventCount)
	return &Result{Run: run, Events: events}, nil
}

// main runs as the initial thread.
func (r *runner) main() {
	k := r.m.Kernel
	for _, name := range r.sc.Locks {
		r.locks[name] = k.NewLock(name)
	}
	for name, value := range r.sc.Semaphores {
		r.semas[name] = k.NewSemaphore(name, value)
	}
	for _, name := range r.sc.Conds {
		r.conds[name] = k.NewCond(name)
	}
	for _, t := range r.sc.Threads {
		r.specs[t.Name] = t
	}

	if r.sc.MainPriority != nil {
		k.SetPriority(*r.sc.MainPriority)
	}
	for _, t := range r.sc.Threads {
		if !t.Manual {
			r.spawn(t.Name)
		}
	}
	r.exec(r.sc.Main)

	// Threads may create more threads while main is joining.
	for i := 0; i < len(r.created); i++ {
		r.done[r.created[i]].Down()
	}
	r.m.Shutdown()
}

func (r *runner) spawn(name string) {
	k := r.m.Kernel
	ts := r.specs[name]
	if _, started := r.done[name]; started {
		k.Fault(model.FaultMisuse, "thread %q created twice", name)
	}
	done := k.NewSemaphore("done:"+name, 0)
	r.done[name] = done
	r.created = append(r.created, name)

	body := func(any) {
		if ts.Nice != 0 {
			k.SetNice(ts.Nice)
		}
		r.exec(ts.Actions)
		done.Up()
	}
	if _, err := k.Create(name, ts.EffectivePriority(), body, nil); err != nil {
		k.Fault(model.FaultMisuse, "create %q: %v", name, err)
	}
}

func (r *runner) exec(acts []Action) {
	k := r.m.Kernel
	for _, a := range acts {
		if err := r.ctx.Err(); err != nil {
			k.Fault(model.FaultTimeout, "run canceled: %v", err)
		}
		switch a.Op {
		case OpCompute:
			r.m.Compute(a.Ticks)
		case OpSleep:
			r.m.Timer.Sleep(a.Ticks)
		case OpAcquire:
			r.locks[a.Lock].Acquire()
		case OpRelease:
			r.locks[a.Lock].Release()
		case OpDown:
			r.semas[a.Sema].Down()
		case OpUp:
			r.semas[a.Sema].Up()
		case OpWait:
			r.conds[a.Cond].Wait(r.locks[a.Lock])
		case OpSignal:
			r.conds[a.Cond].Signal(r.locks[a.Lock])
		case OpBroadcast:
			r.conds[a.Cond].Broadcast(r.locks[a.Lock])
		case OpYield:
			k.Yield()
		case OpSetPriority:
			k.SetPriority(a.Priority)
		case OpSetNice:
			k.SetNice(a.Nice)
		case OpCreate:
			r.spawn(a.Thread)
		case OpLog:
			k.Log(a.Message)
		}
	}
}
