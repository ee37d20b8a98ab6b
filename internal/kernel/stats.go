package kernel

import (
	"fmt"

	"github.com/me/kthreads/pkg/model"
)

// Threads returns a snapshot of every live thread, ordered by id.
func (k *Kernel) Threads() []model.ThreadInfo {
	old := k.gate.Disable()
	defer k.gate.Restore(old)

	threads, _ := k.Dump()
	return threads
}

// ReadyThreads returns the ids on the ready queue in arrival order.
func (k *Kernel) ReadyThreads() []TID {
	old := k.gate.Disable()
	defer k.gate.Restore(old)

	var out []TID
	for _, t := range k.ready.threads {
		out = append(out, t.tid)
	}
	return out
}

// Stats returns the tick and switch counters.
func (k *Kernel) Stats() model.KernelStats {
	old := k.gate.Disable()
	defer k.gate.Restore(old)

	_, s := k.Dump()
	return s
}

// PrintStats logs the tick counters and returns them formatted the way they
// are printed at shutdown.
func (k *Kernel) PrintStats() string {
	s := k.Stats()
	k.logger.Info("thread stats",
		"idle_ticks", s.IdleTicks,
		"kernel_ticks", s.KernelTicks,
		"user_ticks", s.UserTicks,
		"switches", s.Switches,
	)
	return fmt.Sprintf("Thread: %d idle ticks, %d kernel ticks, %d user ticks", s.IdleTicks, s.KernelTicks, s.UserTicks)
}

// Dump returns the thread table and counters without touching the interrupt
// level. It is meant for post-mortem inspection once no kernel thread is
// running, such as after a fault.
func (k *Kernel) Dump() ([]model.ThreadInfo, model.KernelStats) {
	threads := make([]model.ThreadInfo, 0, len(k.all))
	for _, t := range k.all {
		threads = append(threads, t.info())
	}
	s := k.stats
	s.LoadAvg = k.loadAvg.MulInt(100).ToIntRound()
	return threads, s
}
