// Package timer drives the 8254 programmable interval timer and implements
// the alarm clock: threads that sleep are parked on a sleep queue ordered by
// wakeup tick and unblocked by the timer interrupt once they are due.
package timer

import (
	"fmt"
	"log/slog"

	"github.com/me/kthreads/internal/config"
	"github.com/me/kthreads/internal/intr"
	"github.com/me/kthreads/internal/kernel"
	"github.com/me/kthreads/internal/logging"
	"github.com/me/kthreads/pkg/model"
)

// pitHz is the 8254 input clock.
const pitHz = 1193180

// Device is the timer. Ticks only advance when its interrupt is raised.
type Device struct {
	cfg    config.KernelConfig
	gate   *intr.Gate
	k      *kernel.Kernel
	logger *slog.Logger

	ticks     int64
	divisor   uint16
	sleepers  *kernel.Queue
	busyLoops int64
}

// New creates the timer for k. Call Init before raising its interrupt.
func New(cfg config.KernelConfig, gate *intr.Gate, k *kernel.Kernel, logger *slog.Logger) *Device {
	return &Device{
		cfg:      cfg,
		gate:     gate,
		k:        k,
		logger:   logging.OrDiscard(logger).With("component", "timer"),
		sleepers: k.NewQueue("sleep"),
	}
}

// Init programs the counter for TimerFreq interrupts per second and
// registers the interrupt handler.
func (d *Device) Init() {
	d.divisor = uint16((pitHz + d.cfg.TimerFreq/2) / d.cfg.TimerFreq)
	d.gate.RegisterExternal(intr.TimerVector, "8254 Timer", d.interrupt)
	d.logger.Info("timer initialized", "freq", d.cfg.TimerFreq, "divisor", d.divisor)
}

// Ticks returns the number of timer ticks since boot.
func (d *Device) Ticks() int64 {
	old := d.gate.Disable()
	defer d.gate.Restore(old)
	return d.ticks
}

// Now returns the tick count without touching the interrupt level. It is
// safe to call from any kernel context, including fault reporting.
func (d *Device) Now() int64 {
	return d.ticks
}

// Elapsed returns the ticks since then, a value returned by Ticks.
func (d *Device) Elapsed(then int64) int64 {
	return d.Ticks() - then
}

// Sleep suspends the running thread for about ticks timer ticks. It must be
// called with interrupts on. Non-positive durations return immediately.
func (d *Device) Sleep(ticks int64) {
	if d.gate.Level() != intr.On {
		d.k.Fault(model.FaultMisuse, "sleep with interrupts off")
	}
	if ticks <= 0 {
		return
	}
	start := d.Ticks()

	old := d.gate.Disable()
	cur := d.k.Current()
	cur.SetWakeupTick(start + ticks)
	d.sleepers.InsertOrdered(cur, kernel.EarlierWakeup)
	d.k.Record(model.EventSleep, cur, fmt.Sprintf("until tick %d", start+ticks))
	d.k.Block()
	d.gate.Restore(old)
}

// Msleep suspends the running thread for about ms milliseconds.
func (d *Device) Msleep(ms int64) { d.realTimeSleep(ms, 1000) }

// Usleep suspends the running thread for about us microseconds.
func (d *Device) Usleep(us int64) { d.realTimeSleep(us, 1000*1000) }

// Nsleep suspends the running thread for about ns nanoseconds.
func (d *Device) Nsleep(ns int64) { d.realTimeSleep(ns, 1000*1000*1000) }

// realTimeSleep sleeps for num/denom seconds, rounded down to whole ticks.
// Shorter delays spin without yielding.
func (d *Device) realTimeSleep(num, denom int64) {
	if d.gate.Level() != intr.On {
		d.k.Fault(model.FaultMisuse, "sleep with interrupts off")
	}
	ticks := num * int64(d.cfg.TimerFreq) / denom
	if ticks > 0 {
		d.Sleep(ticks)
		return
	}
	d.busyWait(d.cfg.LoopsPerTick * num / 1000 * int64(d.cfg.TimerFreq) / (denom / 1000))
}

func (d *Device) busyWait(loops int64) {
	for ; loops > 0; loops-- {
		d.busyLoops++
	}
}

// Pulse raises one timer interrupt, as the counter does once per period.
func (d *Device) Pulse() {
	d.gate.Raise(intr.TimerVector)
}

// interrupt runs once per tick with interrupts off.
func (d *Device) interrupt(*intr.Frame) {
	d.ticks++
	now := d.ticks
	if d.cfg.MaxTicks > 0 && now > d.cfg.MaxTicks {
		d.k.Fault(model.FaultTimeout, "tick limit %d exceeded", d.cfg.MaxTicks)
	}

	var woke []*kernel.Thread
	for !d.sleepers.Empty() {
		t := d.sleepers.Front()
		if t.WakeupTick() > now {
			break
		}
		d.sleepers.PopFront()
		d.k.Unblock(t)
		d.k.Record(model.EventWake, t, fmt.Sprintf("due at tick %d", t.WakeupTick()))
		woke = append(woke, t)
	}

	cur := d.k.Current()
	for _, t := range woke {
		if t.Priority() > cur.Priority() {
			d.gate.YieldOnReturn()
			break
		}
	}
	d.k.Tick(now)
}

// SleeperCount returns the number of sleeping threads.
func (d *Device) SleeperCount() int {
	old := d.gate.Disable()
	defer d.gate.Restore(old)
	return d.sleepers.Len()
}

// Sleepers returns the sleeping threads ordered by wakeup tick.
func (d *Device) Sleepers() []model.ThreadInfo {
	old := d.gate.Disable()
	defer d.gate.Restore(old)

	var out []model.ThreadInfo
	for _, t := range d.sleepers.Threads() {
		out = append(out, model.ThreadInfo{
			TID:        int(t.TID()),
			Name:       t.Name(),
			Status:     t.Status(),
			Priority:   t.Priority(),
			WakeupTick: t.WakeupTick(),
			Queue:      d.sleepers.Name(),
		})
	}
	return out
}

// BusyLoops returns the number of spin iterations used for sub-tick delays.
func (d *Device) BusyLoops() int64 {
	return d.busyLoops
}

// PrintStats logs the tick count and returns it formatted the way it is
// printed at shutdown.
func (d *Device) PrintStats() string {
	ticks := d.Ticks()
	d.logger.Info("timer stats", "ticks", ticks)
	return fmt.Sprintf("Timer: %d ticks", ticks)
}
