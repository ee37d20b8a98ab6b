package kernel

import (
	"errors"
	"reflect"
	"runtime"
	"testing"

	"github.com/me/kthreads/internal/config"
	"github.com/me/kthreads/internal/intr"
	"github.com/me/kthreads/pkg/model"
)

// boot makes the test goroutine the kernel's initial thread.
func boot(t *testing.T, cfg config.KernelConfig, opts ...Option) *Kernel {
	t.Helper()
	g := intr.New(nil)
	k := New(cfg, g, nil, opts...)
	k.Init()
	k.Start()
	return k
}

// withTicker wires a bare timer to the kernel and returns a function that
// raises n timer interrupts.
func withTicker(k *Kernel) func(n int) {
	var ticks int64
	k.Gate().RegisterExternal(intr.TimerVector, "test timer", func(*intr.Frame) {
		ticks++
		k.Tick(ticks)
	})
	return func(n int) {
		for i := 0; i < n; i++ {
			k.Gate().Raise(intr.TimerVector)
		}
	}
}

func expectFault(t *testing.T, kind model.FaultKind, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("expected %s fault, got none", kind)
		}
		err, ok := r.(error)
		if !ok {
			t.Fatalf("panic value %v is not an error", r)
		}
		var f *model.KernelFault
		if !errors.As(err, &f) {
			t.Fatalf("panic value %v is not a *KernelFault", r)
		}
		if f.Kind != kind {
			t.Fatalf("fault kind = %s, want %s (%s)", f.Kind, kind, f.Message)
		}
	}()
	fn()
}

type eventLog struct {
	events []model.Event
}

func (l *eventLog) Observe(e model.Event) {
	l.events = append(l.events, e)
}

func (l *eventLog) kinds(kind model.EventKind) []model.Event {
	var out []model.Event
	for _, e := range l.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestStart(t *testing.T) {
	k := boot(t, config.DefaultKernelConfig())

	if got := k.CurrentName(); got != "main" {
		t.Errorf("CurrentName() = %q, want main", got)
	}
	if got := k.Priority(); got != PriDefault {
		t.Errorf("Priority() = %d, want %d", got, PriDefault)
	}
	if k.Idle() == nil {
		t.Fatal("Idle() = nil after Start")
	}
	if k.Gate().Level() != intr.On {
		t.Error("interrupts off after Start")
	}

	threads := k.Threads()
	if len(threads) != 2 {
		t.Fatalf("len(Threads()) = %d, want 2", len(threads))
	}
	if threads[0].Name != "main" || threads[0].Status != model.ThreadRunning {
		t.Errorf("threads[0] = %+v", threads[0])
	}
	if threads[1].Name != "idle" || threads[1].Status != model.ThreadBlocked || threads[1].Priority != PriMin {
		t.Errorf("threads[1] = %+v", threads[1])
	}
	if len(k.ReadyThreads()) != 0 {
		t.Errorf("ready queue = %v, want empty", k.ReadyThreads())
	}
}

func TestCreate_Preemption(t *testing.T) {
	tests := []struct {
		name     string
		priority int
		want     []string
	}{
		{"higher runs first", PriDefault + 1, []string{"child", "main"}},
		{"equal waits", PriDefault, []string{"main", "child"}},
		{"lower waits", PriDefault - 1, []string{"main", "child"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := boot(t, config.DefaultKernelConfig())
			done := k.NewSemaphore("done", 0)
			var order []string

			_, err := k.Create("child", tt.priority, func(any) {
				order = append(order, "child")
				done.Up()
			}, nil)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			order = append(order, "main")
			done.Down()

			if !reflect.DeepEqual(order, tt.want) {
				t.Errorf("order = %v, want %v", order, tt.want)
			}
		})
	}
}

func TestCreate_LongName(t *testing.T) {
	k := boot(t, config.DefaultKernelConfig())
	tid, err := k.Create("a-very-long-thread-name", PriMin+1, func(any) {}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	th, ok := k.Lookup(tid)
	if !ok {
		t.Fatal("Lookup failed for new thread")
	}
	if th.Name() != "a-very-long-thr" {
		t.Errorf("Name() = %q, want truncation to 15 bytes", th.Name())
	}
}

func TestCreate_NoMemory(t *testing.T) {
	cfg := config.DefaultKernelConfig()
	cfg.MaxThreads = 3
	k := boot(t, cfg)

	if _, err := k.Create("one", PriMin+1, func(any) {}, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	tid, err := k.Create("two", PriMin+1, func(any) {}, nil)
	if !errors.Is(err, ErrNoMemory) {
		t.Fatalf("Create error = %v, want ErrNoMemory", err)
	}
	if tid != TIDError {
		t.Errorf("tid = %d, want TIDError", tid)
	}
}

func TestReadyQueue_PriorityThenArrival(t *testing.T) {
	k := boot(t, config.DefaultKernelConfig())
	done := k.NewSemaphore("done", 0)
	var order []string

	spawn := func(name string, pri int) {
		t.Helper()
		if _, err := k.Create(name, pri, func(any) {
			order = append(order, name)
			done.Up()
		}, nil); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
	}
	spawn("low", 10)
	spawn("mid-1", 20)
	spawn("high", 30)
	spawn("mid-2", 20)
	spawn("mid-3", 20)

	for i := 0; i < 5; i++ {
		done.Down()
	}

	want := []string{"high", "mid-1", "mid-2", "mid-3", "low"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestSetPriority(t *testing.T) {
	k := boot(t, config.DefaultKernelConfig())
	ran := false
	if _, err := k.Create("worker", 20, func(any) { ran = true }, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	k.SetPriority(25)
	if ran {
		t.Fatal("lower-priority thread ran while main still outranked it")
	}
	k.SetPriority(10)
	if !ran {
		t.Fatal("SetPriority did not yield to a higher-priority ready thread")
	}
	if k.Priority() != 10 {
		t.Errorf("Priority() = %d, want 10", k.Priority())
	}

	expectFault(t, model.FaultMisuse, func() { k.SetPriority(PriMax + 1) })
}

func TestExit_RunsDeferredAndReaps(t *testing.T) {
	k := boot(t, config.DefaultKernelConfig())
	var order []string

	tid, err := k.Create("quitter", 20, func(any) {
		defer func() { order = append(order, "deferred") }()
		k.Exit()
		order = append(order, "unreachable")
	}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	k.SetPriority(10)

	if !reflect.DeepEqual(order, []string{"deferred"}) {
		t.Fatalf("order = %v", order)
	}
	k.Yield()
	if _, ok := k.Lookup(tid); ok {
		t.Error("exited thread still present after the next schedule")
	}
	if got := len(k.Threads()); got != 2 {
		t.Errorf("len(Threads()) = %d, want 2", got)
	}

	expectFault(t, model.FaultMisuse, k.Exit)
}

func TestBlockUnblock_Faults(t *testing.T) {
	t.Run("block with interrupts on", func(t *testing.T) {
		k := boot(t, config.DefaultKernelConfig())
		expectFault(t, model.FaultMisuse, k.Block)
	})
	t.Run("unblock ready thread", func(t *testing.T) {
		k := boot(t, config.DefaultKernelConfig())
		tid, _ := k.Create("ready", 10, func(any) {}, nil)
		th, _ := k.Lookup(tid)
		expectFault(t, model.FaultInvariant, func() { k.Unblock(th) })
	})
	t.Run("unblock running thread", func(t *testing.T) {
		k := boot(t, config.DefaultKernelConfig())
		expectFault(t, model.FaultInvariant, func() { k.Unblock(k.Current()) })
	})
	t.Run("corrupt control block", func(t *testing.T) {
		k := boot(t, config.DefaultKernelConfig())
		tid, _ := k.Create("victim", 10, func(any) {}, nil)
		th, _ := k.Lookup(tid)
		th.magic = 0
		expectFault(t, model.FaultStackOverflow, func() { k.Unblock(th) })
	})
}

func TestTimeSlice(t *testing.T) {
	cfg := config.DefaultKernelConfig()
	k := boot(t, cfg)
	tick := withTicker(k)

	ran := false
	if _, err := k.Create("peer", PriDefault, func(any) { ran = true }, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tick(cfg.TimeSlice - 1)
	if ran {
		t.Fatal("peer ran before the time slice expired")
	}
	tick(1)
	if !ran {
		t.Fatal("peer did not run after the time slice expired")
	}

	s := k.Stats()
	if s.KernelTicks != int64(cfg.TimeSlice) {
		t.Errorf("KernelTicks = %d, want %d", s.KernelTicks, cfg.TimeSlice)
	}
	if got := k.PrintStats(); got != "Thread: 0 idle ticks, 4 kernel ticks, 0 user ticks" {
		t.Errorf("PrintStats() = %q", got)
	}
}

type countingContext struct{ activations int }

func (c *countingContext) Activate() { c.activations++ }

func TestMemoryContext(t *testing.T) {
	k := boot(t, config.DefaultKernelConfig())
	tick := withTicker(k)
	mc := &countingContext{}
	done := k.NewSemaphore("done", 0)

	tid, err := k.Create("user", 20, func(any) {
		tick(1)
		done.Up()
	}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	th, _ := k.Lookup(tid)
	th.SetMemoryContext(mc)
	done.Down()

	if mc.activations != 1 {
		t.Errorf("activations = %d, want 1", mc.activations)
	}
	if s := k.Stats(); s.UserTicks != 1 {
		t.Errorf("UserTicks = %d, want 1", s.UserTicks)
	}
}

func TestObserver(t *testing.T) {
	log := &eventLog{}
	k := boot(t, config.DefaultKernelConfig(), WithObserver(log))
	done := k.NewSemaphore("done", 0)
	if _, err := k.Create("child", 40, func(any) { done.Up() }, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	done.Down()

	creates := log.kinds(model.EventCreate)
	if len(creates) != 3 {
		t.Fatalf("create events = %d, want 3 (main, idle, child)", len(creates))
	}
	if creates[2].Thread != "child" || creates[2].Priority != 40 {
		t.Errorf("create event = %+v", creates[2])
	}
	if len(log.kinds(model.EventDispatch)) == 0 {
		t.Error("no dispatch events")
	}
	if len(log.kinds(model.EventExit)) != 1 {
		t.Errorf("exit events = %d, want 1", len(log.kinds(model.EventExit)))
	}
}

func TestDeadlockDetected(t *testing.T) {
	faults := make(chan *model.KernelFault, 1)
	onFault := func(f *model.KernelFault) {
		faults <- f
		runtime.Goexit()
	}

	go func() {
		k := New(config.DefaultKernelConfig(), intr.New(nil), nil, WithFaultHandler(onFault))
		k.Init()
		k.Start()
		k.NewSemaphore("never", 0).Down()
	}()

	f := <-faults
	if f.Kind != model.FaultDeadlock {
		t.Fatalf("fault kind = %s, want DEADLOCK", f.Kind)
	}
	if f.Thread != "idle" {
		t.Errorf("fault thread = %q, want idle", f.Thread)
	}
}
