package model

// ThreadInfo is a point-in-time snapshot of one thread control block.
type ThreadInfo struct {
	TID              int          `json:"tid"`
	Name             string       `json:"name"`
	Status           ThreadStatus `json:"status"`
	Priority         int          `json:"priority"`
	OriginalPriority int          `json:"original_priority"`
	Nice             int          `json:"nice"`
	RecentCPU        int          `json:"recent_cpu"` // 100x, rounded
	WaitLock         string       `json:"wait_lock,omitempty"`
	Donors           []int        `json:"donors,omitempty"`
	WakeupTick       int64        `json:"wakeup_tick,omitempty"`
	Queue            string       `json:"queue,omitempty"`
}

// KernelStats holds the tick and switch counters printed at shutdown.
type KernelStats struct {
	IdleTicks   int64 `json:"idle_ticks"`
	KernelTicks int64 `json:"kernel_ticks"`
	UserTicks   int64 `json:"user_ticks"`
	Switches    int64 `json:"switches"`
	Created     int64 `json:"created"`
	LoadAvg     int   `json:"load_avg"` // 100x, rounded
}
