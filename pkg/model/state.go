package model

// ThreadStatus represents the scheduling state of a kernel thread.
type ThreadStatus string

const (
	ThreadRunning ThreadStatus = "RUNNING"
	ThreadReady   ThreadStatus = "READY"
	ThreadBlocked ThreadStatus = "BLOCKED"
	ThreadDying   ThreadStatus = "DYING"
)

// String returns the string representation of the thread status.
func (s ThreadStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the thread will never run again.
func (s ThreadStatus) IsTerminal() bool {
	return s == ThreadDying
}

// ValidThreadTransitions defines the allowed status transitions for threads.
//
// READY -> READY is absent on purpose: unblocking or re-enqueuing a thread that is
// already on the ready queue would duplicate it.
var ValidThreadTransitions = map[ThreadStatus][]ThreadStatus{
	ThreadRunning: {ThreadReady, ThreadBlocked, ThreadDying, ThreadRunning},
	ThreadReady:   {ThreadRunning},
	ThreadBlocked: {ThreadReady, ThreadRunning},
}

// CanTransitionTo returns true if moving from the current status to next is valid.
//
// BLOCKED -> RUNNING only happens for the idle thread, which is dispatched
// directly when the ready queue is empty.
func (s ThreadStatus) CanTransitionTo(next ThreadStatus) bool {
	for _, allowed := range ValidThreadTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RunStatus represents the outcome of a scenario run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFaulted   RunStatus = "FAULTED"
)

// String returns the string representation of the run status.
func (s RunStatus) String() string {
	return string(s)
}
