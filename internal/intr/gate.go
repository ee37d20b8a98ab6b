// Package intr models the interrupt controller of the simulated CPU.
//
// Disabling interrupts is the only mutual-exclusion primitive the kernel uses:
// the running thread disables them around every scheduler-state mutation and
// restores the previous level afterwards.
//
//	defer g.Restore(g.Disable())
package intr

import (
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/me/kthreads/internal/logging"
	"github.com/me/kthreads/pkg/model"
)

// Level is the interrupt-enable level.
type Level int

const (
	Off Level = iota
	On
)

func (l Level) String() string {
	if l == On {
		return "on"
	}
	return "off"
}

// TimerVector is the external vector the 8254 timer is wired to.
const TimerVector uint8 = 0x20

// Frame describes the interrupt being handled.
type Frame struct {
	Vector uint8
	Name   string
	Seq    uint64 // delivery count for this vector, starting at 1
}

// Handler services one interrupt. External handlers run with interrupts off
// and must not block or sleep.
type Handler func(*Frame)

type handlerEntry struct {
	name     string
	fn       Handler
	external bool
	count    uint64
}

// Gate is the interrupt controller. It is not safe for concurrent use; only
// the goroutine that currently owns the CPU may call it. Halt is the
// exception: once halted, every level change and raise is ignored, so
// threads unwinding after a halt never reach the scheduler again.
type Gate struct {
	halted atomic.Bool

	level         Level
	inExternal    bool
	yieldOnReturn bool

	handlers map[uint8]*handlerEntry
	pending  []uint8

	onYield func()
	onFault func(kind model.FaultKind, msg string)
	logger  *slog.Logger
}

// New creates a gate with interrupts disabled, as they are at boot.
func New(logger *slog.Logger) *Gate {
	return &Gate{
		level:    Off,
		handlers: make(map[uint8]*handlerEntry),
		logger:   logging.OrDiscard(logger).With("component", "intr"),
	}
}

// SetYieldHook installs the function run when a handler requested
// YieldOnReturn. The scheduler installs its yield here.
func (g *Gate) SetYieldHook(fn func()) {
	g.onYield = fn
}

// SetFaultHook installs the function run on controller misuse. It must not
// return; the default panics with a *model.KernelFault.
func (g *Gate) SetFaultHook(fn func(kind model.FaultKind, msg string)) {
	g.onFault = fn
}

func (g *Gate) fault(kind model.FaultKind, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if g.onFault != nil {
		g.onFault(kind, msg)
	}
	panic(&model.KernelFault{Kind: kind, Thread: "intr", TID: -1, Message: msg})
}

// Halt powers the controller off. It may be called from any goroutine.
func (g *Gate) Halt() {
	g.halted.Store(true)
}

// Halted reports whether Halt has been called.
func (g *Gate) Halted() bool {
	return g.halted.Load()
}

// Level returns the current interrupt level.
func (g *Gate) Level() Level {
	return g.level
}

// Disable turns interrupts off and returns the previous level.
func (g *Gate) Disable() Level {
	return g.SetLevel(Off)
}

// Enable turns interrupts on and returns the previous level. Pending
// interrupts are delivered before Enable returns.
func (g *Gate) Enable() Level {
	return g.SetLevel(On)
}

// Restore sets the level returned by an earlier Disable or Enable.
func (g *Gate) Restore(l Level) {
	g.SetLevel(l)
}

// SetLevel sets the interrupt level and returns the previous one.
func (g *Gate) SetLevel(l Level) Level {
	if g.halted.Load() {
		return Off
	}
	old := g.level
	if l == On {
		if g.inExternal {
			g.fault(model.FaultMisuse, "interrupts enabled inside an external interrupt handler")
		}
		g.level = On
		g.drain()
		return old
	}
	g.level = Off
	return old
}

// InContext reports whether an external interrupt is being handled.
func (g *Gate) InContext() bool {
	return g.inExternal
}

// YieldOnReturn asks for a yield once the current external handler returns.
func (g *Gate) YieldOnReturn() {
	if !g.inExternal {
		g.fault(model.FaultMisuse, "yield-on-return requested outside interrupt context")
	}
	g.yieldOnReturn = true
}

// RegisterExternal installs fn for a hardware interrupt vector.
func (g *Gate) RegisterExternal(vec uint8, name string, fn Handler) {
	g.register(vec, name, fn, true)
}

// RegisterInternal installs fn for a software interrupt vector invoked
// synchronously with Invoke.
func (g *Gate) RegisterInternal(vec uint8, name string, fn Handler) {
	g.register(vec, name, fn, false)
}

func (g *Gate) register(vec uint8, name string, fn Handler, external bool) {
	if fn == nil {
		g.fault(model.FaultMisuse, "nil handler for vector %#02x", vec)
	}
	if h, ok := g.handlers[vec]; ok {
		g.fault(model.FaultMisuse, "vector %#02x already registered to %q", vec, h.name)
	}
	g.handlers[vec] = &handlerEntry{name: name, fn: fn, external: external}
	g.logger.Debug("handler registered", "vector", vec, "name", name, "external", external)
}

// Raise signals a hardware interrupt. It is delivered immediately when
// interrupts are on, otherwise it stays pending until they are re-enabled.
func (g *Gate) Raise(vec uint8) {
	if g.halted.Load() {
		return
	}
	h, ok := g.handlers[vec]
	if !ok || !h.external {
		g.fault(model.FaultInvariant, "unexpected external interrupt %#02x", vec)
	}
	if g.level == Off || g.inExternal {
		g.pending = append(g.pending, vec)
		return
	}
	g.deliver(vec)
}

// Pending returns the number of interrupts awaiting delivery.
func (g *Gate) Pending() int {
	return len(g.pending)
}

// Invoke runs a software interrupt handler synchronously at the current level.
func (g *Gate) Invoke(vec uint8) {
	h, ok := g.handlers[vec]
	if !ok || h.external {
		g.fault(model.FaultInvariant, "unexpected internal interrupt %#02x", vec)
	}
	h.count++
	h.fn(&Frame{Vector: vec, Name: h.name, Seq: h.count})
}

func (g *Gate) drain() {
	for len(g.pending) > 0 && g.level == On && !g.inExternal {
		vec := g.pending[0]
		g.pending = g.pending[1:]
		g.deliver(vec)
	}
}

func (g *Gate) deliver(vec uint8) {
	h := g.handlers[vec]
	h.count++

	g.level = Off
	g.inExternal = true
	h.fn(&Frame{Vector: vec, Name: h.name, Seq: h.count})
	g.inExternal = false
	g.level = On

	if g.yieldOnReturn {
		g.yieldOnReturn = false
		if g.onYield != nil {
			g.onYield()
		}
	}
}

// VectorStats is the delivery count for one registered vector.
type VectorStats struct {
	Vector   uint8
	Name     string
	External bool
	Count    uint64
}

// Stats returns delivery counts ordered by vector.
func (g *Gate) Stats() []VectorStats {
	out := make([]VectorStats, 0, len(g.handlers))
	for vec, h := range g.handlers {
		out = append(out, VectorStats{Vector: vec, Name: h.name, External: h.external, Count: h.count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Vector < out[j].Vector })
	return out
}
