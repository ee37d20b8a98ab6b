package kernel

import (
	"fmt"

	"github.com/me/kthreads/internal/fixedpoint"
	"github.com/me/kthreads/pkg/model"
)

// mlfqsTick applies the feedback-queue bookkeeping for one timer tick:
// recent_cpu grows for the running thread, load_avg and every recent_cpu are
// recomputed once per second, and priorities every fourth tick.
func (k *Kernel) mlfqsTick(now int64) {
	cur := k.current
	if cur != k.idle {
		cur.recentCPU = cur.recentCPU.AddInt(1)
	}

	if now%int64(k.cfg.TimerFreq) == 0 {
		k.updateLoadAvg()
		for _, t := range k.all {
			if t != k.idle && !t.status.IsTerminal() {
				k.decayRecentCPU(t)
			}
		}
	}

	if now%4 == 0 {
		for _, t := range k.all {
			if t != k.idle && !t.status.IsTerminal() {
				k.mlfqsPriority(t)
			}
		}
		k.emit(model.EventRecompute, cur, fmt.Sprintf("load_avg=%d", k.loadAvg.MulInt(100).ToIntRound()))
		if top := k.ready.Highest(); top != nil && top.priority > cur.priority {
			k.gate.YieldOnReturn()
		}
	}
}

func (k *Kernel) updateLoadAvg() {
	ready := k.ready.Len()
	if k.current != k.idle {
		ready++
	}
	k.loadAvg = fixedpoint.Ratio(59, 60).Mul(k.loadAvg).Add(fixedpoint.Ratio(1, 60).MulInt(ready))
}

func (k *Kernel) decayRecentCPU(t *Thread) {
	twice := k.loadAvg.MulInt(2)
	coef := twice.Div(twice.AddInt(1))
	t.recentCPU = coef.Mul(t.recentCPU).AddInt(t.nice)
}

// mlfqsPriority sets priority = PriMax - recent_cpu/4 - 2*nice, clamped.
func (k *Kernel) mlfqsPriority(t *Thread) {
	p := fixedpoint.FromInt(PriMax).Sub(t.recentCPU.DivInt(4)).SubInt(2 * t.nice).ToIntTrunc()
	if p < PriMin {
		p = PriMin
	}
	if p > PriMax {
		p = PriMax
	}
	t.priority = p
	t.originalPriority = p
}

// Nice returns the running thread's niceness.
func (k *Kernel) Nice() int {
	return k.Current().nice
}

// SetNice sets the running thread's niceness, clamped to [NiceMin, NiceMax],
// and recomputes its priority. The caller yields if it no longer has the
// highest priority.
func (k *Kernel) SetNice(n int) {
	if n < NiceMin {
		n = NiceMin
	}
	if n > NiceMax {
		n = NiceMax
	}
	old := k.gate.Disable()
	cur := k.Current()
	cur.nice = n
	if k.cfg.MLFQS {
		k.mlfqsPriority(cur)
	}
	k.emit(model.EventPriority, cur, fmt.Sprintf("nice=%d", n))
	k.gate.Restore(old)
	k.yieldIfOutranked()
}

// RecentCPU returns 100 times the running thread's recent_cpu, rounded.
func (k *Kernel) RecentCPU() int {
	old := k.gate.Disable()
	defer k.gate.Restore(old)
	return k.Current().recentCPU.MulInt(100).ToIntRound()
}

// LoadAvg returns 100 times the system load average, rounded.
func (k *Kernel) LoadAvg() int {
	old := k.gate.Disable()
	defer k.gate.Restore(old)
	return k.loadAvg.MulInt(100).ToIntRound()
}
