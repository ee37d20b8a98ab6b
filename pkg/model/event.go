package model

// EventKind identifies a scheduler transition recorded in a trace.
type EventKind string

const (
	EventCreate    EventKind = "create"
	EventDispatch  EventKind = "dispatch"
	EventBlock     EventKind = "block"
	EventUnblock   EventKind = "unblock"
	EventYield     EventKind = "yield"
	EventExit      EventKind = "exit"
	EventDonate    EventKind = "donate"
	EventRestore   EventKind = "restore"
	EventPriority  EventKind = "priority"
	EventSleep     EventKind = "sleep"
	EventWake      EventKind = "wake"
	EventAcquire   EventKind = "acquire"
	EventRelease   EventKind = "release"
	EventRecompute EventKind = "recompute"
	EventLog       EventKind = "log"
)

// Event is one scheduler transition.
type Event struct {
	Seq      int64     `json:"seq"`
	Tick     int64     `json:"tick"`
	Kind     EventKind `json:"kind"`
	TID      int       `json:"tid"`
	Thread   string    `json:"thread"`
	Priority int       `json:"priority"`
	Detail   string    `json:"detail,omitempty"`
}
