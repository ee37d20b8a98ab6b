package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/me/kthreads/pkg/model"
)

// hundredths renders a value stored as 100x fixed point.
func hundredths(v int) string {
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func schedulerName(mlfqs bool) string {
	if mlfqs {
		return "mlfqs"
	}
	return "priority donation"
}

func printRun(w io.Writer, run *model.Run) {
	fmt.Fprintf(w, "Run:       %s\n", run.ID)
	fmt.Fprintf(w, "  Scenario:  %s (%s)\n", run.Scenario, schedulerName(run.MLFQS))
	fmt.Fprintf(w, "  Status:    %s\n", run.Status)
	if run.Fault != "" {
		fmt.Fprintf(w, "  Fault:     %s\n", run.Fault)
	}
	fmt.Fprintf(w, "  Ticks:     %s (%s idle, %s kernel, %s user)\n",
		humanize.Comma(run.Ticks), humanize.Comma(run.Stats.IdleTicks),
		humanize.Comma(run.Stats.KernelTicks), humanize.Comma(run.Stats.UserTicks))
	fmt.Fprintf(w, "  Switches:  %s\n", humanize.Comma(run.Stats.Switches))
	fmt.Fprintf(w, "  Threads:   %d created\n", run.Stats.Created)
	if run.MLFQS {
		fmt.Fprintf(w, "  Load avg:  %s\n", hundredths(run.Stats.LoadAvg))
	}
	fmt.Fprintf(w, "  Events:    %s\n", humanize.Comma(int64(run.EventCount)))
	if !run.CreatedAt.IsZero() {
		fmt.Fprintf(w, "  Created:   %s (%s)\n", humanize.Time(run.CreatedAt), run.Duration)
	}
}

func printThreads(w io.Writer, threads []model.ThreadInfo) {
	if len(threads) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%-4s  %-15s  %-8s  %4s  %4s  %5s  %10s  %s\n", "TID", "NAME", "STATUS", "PRI", "BASE", "NICE", "RECENT_CPU", "WAITING")
	for _, t := range threads {
		waiting := t.Queue
		if t.WaitLock != "" {
			waiting = "lock " + t.WaitLock
		}
		if t.WakeupTick > 0 && t.Queue == "sleep" {
			waiting = fmt.Sprintf("sleep until %d", t.WakeupTick)
		}
		line := fmt.Sprintf("%-4d  %-15s  %-8s  %4d  %4d  %5d  %10s  %s",
			t.TID, t.Name, t.Status, t.Priority, t.OriginalPriority, t.Nice, hundredths(t.RecentCPU), waiting)
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

func printEvents(w io.Writer, events []model.Event) {
	fmt.Fprintf(w, "%-6s  %-6s  %-10s  %-15s  %4s  %s\n", "SEQ", "TICK", "KIND", "THREAD", "PRI", "DETAIL")
	for _, e := range events {
		line := fmt.Sprintf("%-6d  %-6d  %-10s  %-15s  %4d  %s", e.Seq, e.Tick, e.Kind, e.Thread, e.Priority, e.Detail)
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
