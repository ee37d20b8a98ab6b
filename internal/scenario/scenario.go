// Package scenario loads YAML descriptions of thread workloads and runs them
// on a freshly booted machine.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/me/kthreads/internal/kernel"
	"github.com/me/kthreads/pkg/model"
)

// Op is a scenario action.
type Op string

const (
	OpCompute     Op = "compute"
	OpSleep       Op = "sleep"
	OpAcquire     Op = "acquire"
	OpRelease     Op = "release"
	OpDown        Op = "down"
	OpUp          Op = "up"
	OpWait        Op = "wait"
	OpSignal      Op = "signal"
	OpBroadcast   Op = "broadcast"
	OpYield       Op = "yield"
	OpSetPriority Op = "set_priority"
	OpSetNice     Op = "set_nice"
	OpCreate      Op = "create"
	OpLog         Op = "log"
)

// Scenario is a complete workload: the kernel parameters, the shared
// synchronization objects, and what every thread does.
type Scenario struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description,omitempty"`
	MLFQS        bool           `yaml:"mlfqs,omitempty"`
	TimerFreq    int            `yaml:"timer_freq,omitempty"`
	TimeSlice    int            `yaml:"time_slice,omitempty"`
	MaxTicks     int64          `yaml:"max_ticks,omitempty"`
	MainPriority *int           `yaml:"main_priority,omitempty"`
	Locks        []string       `yaml:"locks,omitempty"`
	Semaphores   map[string]int `yaml:"semaphores,omitempty"`
	Conds        []string       `yaml:"conds,omitempty"`
	Threads      []ThreadSpec   `yaml:"threads,omitempty"`
	Main         []Action       `yaml:"main,omitempty"`
}

// ThreadSpec describes one kernel thread. Threads are created at boot, in
// order, unless Manual is set; manual threads start with a create action.
type ThreadSpec struct {
	Name     string   `yaml:"name"`
	Priority *int     `yaml:"priority,omitempty"`
	Nice     int      `yaml:"nice,omitempty"`
	Manual   bool     `yaml:"manual,omitempty"`
	Actions  []Action `yaml:"actions"`
}

// EffectivePriority returns the configured priority or the default.
func (t ThreadSpec) EffectivePriority() int {
	if t.Priority == nil {
		return kernel.PriDefault
	}
	return *t.Priority
}

// Action is one step of a thread. Which fields apply depends on Op.
type Action struct {
	Op       Op     `yaml:"op"`
	Ticks    int64  `yaml:"ticks,omitempty"`
	Lock     string `yaml:"lock,omitempty"`
	Sema     string `yaml:"sema,omitempty"`
	Cond     string `yaml:"cond,omitempty"`
	Priority int    `yaml:"priority,omitempty"`
	Nice     int    `yaml:"nice,omitempty"`
	Thread   string `yaml:"thread,omitempty"`
	Message  string `yaml:"message,omitempty"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if apiErr := sc.Validate(); apiErr != nil {
		return nil, apiErr
	}
	return &sc, nil
}

// Validate checks the scenario for structural errors and returns every
// problem found.
func (sc *Scenario) Validate() *model.APIError {
	v := &validator{sc: sc}
	v.run()
	if len(v.errs) == 0 {
		return nil
	}
	return model.NewValidationError("invalid scenario", v.errs...)
}

type validator struct {
	sc      *Scenario
	errs    []model.FieldError
	locks   map[string]bool
	conds   map[string]bool
	threads map[string]ThreadSpec
}

func (v *validator) add(field, format string, args ...any) {
	v.errs = append(v.errs, model.FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) run() {
	sc := v.sc
	if sc.Name == "" {
		v.add("name", "is required")
	}
	if sc.MaxTicks < 0 {
		v.add("max_ticks", "must not be negative")
	}
	if sc.MainPriority != nil {
		v.checkPriority("main_priority", *sc.MainPriority)
	}

	v.locks = v.names("locks", sc.Locks)
	v.conds = v.names("conds", sc.Conds)
	for name, value := range sc.Semaphores {
		if value < 0 {
			v.add("semaphores."+name, "initial value %d is negative", value)
		}
	}

	v.threads = make(map[string]ThreadSpec, len(sc.Threads))
	for i, t := range sc.Threads {
		field := fmt.Sprintf("threads[%d]", i)
		switch {
		case t.Name == "":
			v.add(field+".name", "is required")
		case t.Name == "main" || t.Name == "idle":
			v.add(field+".name", "%q is reserved", t.Name)
		case len(t.Name) > 15:
			v.add(field+".name", "%q is longer than 15 bytes", t.Name)
		default:
			if _, dup := v.threads[t.Name]; dup {
				v.add(field+".name", "duplicate thread %q", t.Name)
			}
			v.threads[t.Name] = t
		}
		if t.Priority != nil {
			v.checkPriority(field+".priority", *t.Priority)
		}
		v.checkNice(field+".nice", t.Nice)
	}

	for i, t := range sc.Threads {
		v.actions(fmt.Sprintf("threads[%d].actions", i), t.Actions)
	}
	v.actions("main", sc.Main)
}

func (v *validator) names(field string, names []string) map[string]bool {
	seen := make(map[string]bool, len(names))
	for i, n := range names {
		if n == "" {
			v.add(fmt.Sprintf("%s[%d]", field, i), "name is required")
			continue
		}
		if seen[n] {
			v.add(fmt.Sprintf("%s[%d]", field, i), "duplicate name %q", n)
		}
		seen[n] = true
	}
	return seen
}

func (v *validator) checkPriority(field string, p int) {
	if p < kernel.PriMin || p > kernel.PriMax {
		v.add(field, "priority %d outside [%d, %d]", p, kernel.PriMin, kernel.PriMax)
	}
}

func (v *validator) checkNice(field string, n int) {
	if n < kernel.NiceMin || n > kernel.NiceMax {
		v.add(field, "nice %d outside [%d, %d]", n, kernel.NiceMin, kernel.NiceMax)
	}
}

func (v *validator) actions(prefix string, acts []Action) {
	for i, a := range acts {
		field := fmt.Sprintf("%s[%d]", prefix, i)
		switch a.Op {
		case OpCompute, OpSleep:
			if a.Ticks <= 0 {
				v.add(field+".ticks", "must be positive")
			}
		case OpAcquire, OpRelease:
			v.needLock(field, a.Lock)
		case OpDown, OpUp:
			if _, ok := v.sc.Semaphores[a.Sema]; !ok {
				v.add(field+".sema", "unknown semaphore %q", a.Sema)
			}
		case OpWait, OpSignal, OpBroadcast:
			v.needLock(field, a.Lock)
			if !v.conds[a.Cond] {
				v.add(field+".cond", "unknown condition %q", a.Cond)
			}
		case OpSetPriority:
			v.checkPriority(field+".priority", a.Priority)
		case OpSetNice:
			v.checkNice(field+".nice", a.Nice)
		case OpCreate:
			t, ok := v.threads[a.Thread]
			if !ok {
				v.add(field+".thread", "unknown thread %q", a.Thread)
			} else if !t.Manual {
				v.add(field+".thread", "thread %q is created at boot; mark it manual", a.Thread)
			}
		case OpYield, OpLog:
		case "":
			v.add(field+".op", "is required")
		default:
			v.add(field+".op", "unknown op %q", a.Op)
		}
	}
}

func (v *validator) needLock(field, name string) {
	if !v.locks[name] {
		v.add(field+".lock", "unknown lock %q", name)
	}
}
