package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// KernelConfig holds the boot-time parameters of a simulated kernel.
type KernelConfig struct {
	TimerFreq    int   `yaml:"timer_freq"`     // Timer interrupts per second (19..1000)
	TimeSlice    int   `yaml:"time_slice"`     // Ticks a thread may run before preemption
	MLFQS        bool  `yaml:"mlfqs"`          // Multi-level feedback queue scheduler instead of donation
	MaxThreads   int   `yaml:"max_threads"`    // Live TCB limit; Create fails beyond it
	LoopsPerTick int64 `yaml:"loops_per_tick"` // Busy-wait loops per tick for sub-tick delays
	MaxTicks     int64 `yaml:"max_ticks"`      // Fault if a run exceeds this many ticks (0 = unlimited)
}

// DefaultKernelConfig returns the stock boot parameters.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		TimerFreq:    100,
		TimeSlice:    4,
		MaxThreads:   128,
		LoopsPerTick: 1 << 10,
	}
}

// Validate reports the first out-of-range parameter.
func (c KernelConfig) Validate() error {
	if c.TimerFreq < 19 {
		return fmt.Errorf("timer_freq %d: must be >= 19", c.TimerFreq)
	}
	if c.TimerFreq > 1000 {
		return fmt.Errorf("timer_freq %d: must be <= 1000", c.TimerFreq)
	}
	if c.TimeSlice <= 0 {
		return fmt.Errorf("time_slice %d: must be positive", c.TimeSlice)
	}
	if c.MaxThreads < 2 {
		return fmt.Errorf("max_threads %d: need room for main and idle", c.MaxThreads)
	}
	if c.MaxTicks < 0 {
		return fmt.Errorf("max_ticks %d: must not be negative", c.MaxTicks)
	}
	return nil
}

// ServerConfig holds configuration for the kthreads run server.
type ServerConfig struct {
	Addr      string // Listen address (default ":8080")
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: text, json
	DBPath    string // SQLite database path (default ~/.kthreads/runs.db, ":memory:" for testing)

	Kernel       KernelConfig  // Boot parameters for scenarios submitted over HTTP
	RunTimeout   time.Duration // Wall-clock bound on one submitted run (default 30s)
	MaxBodyBytes int64         // Largest accepted scenario upload (default 1 MiB)
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		LogLevel:     "info",
		LogFormat:    "text",
		Kernel:       DefaultKernelConfig(),
		RunTimeout:   30 * time.Second,
		MaxBodyBytes: 1 << 20,
	}
}

// LogConfig selects the slog level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// File is the on-disk YAML configuration shared by the CLI and server.
type File struct {
	Kernel KernelConfig `yaml:"kernel"`
	Log    LogConfig    `yaml:"log"`
	DBPath string       `yaml:"db"`
}

// DefaultFile returns a File populated with defaults.
func DefaultFile() File {
	return File{
		Kernel: DefaultKernelConfig(),
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML config file on top of the defaults.
// Keys missing from the file keep their default values.
func Load(path string) (File, error) {
	f := DefaultFile()
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := f.Kernel.Validate(); err != nil {
		return f, fmt.Errorf("config %s: %w", path, err)
	}
	return f, nil
}
