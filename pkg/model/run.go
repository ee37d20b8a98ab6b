package model

import "time"

// Run is the summary of one scenario execution.
type Run struct {
	ID         string       `json:"id"`
	Scenario   string       `json:"scenario"`
	MLFQS      bool         `json:"mlfqs"`
	Status     RunStatus    `json:"status"`
	Ticks      int64        `json:"ticks"`
	Stats      KernelStats  `json:"stats"`
	Threads    []ThreadInfo `json:"threads"`
	EventCount int          `json:"event_count"`
	Fault      string       `json:"fault,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	Duration   string       `json:"duration"`
}
