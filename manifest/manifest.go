// Package manifest handles casm.toml runtime configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/casmkit/casm/vm"
)

// Manifest represents a casm.toml runtime configuration.
type Manifest struct {
	Runtime   Runtime   `toml:"runtime"`
	Memory    Memory    `toml:"memory"`
	Scheduler Scheduler `toml:"scheduler"`
	Store     Store     `toml:"store"`

	// Dir is the directory containing the casm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Runtime contains runtime metadata.
type Runtime struct {
	Name string `toml:"name"`
}

// Memory configures the sizes of the three flat address zones.
type Memory struct {
	GlobalSize uint64 `toml:"global-size"`
	StackSize  uint64 `toml:"stack-size"`
	HeapSize   uint64 `toml:"heap-size"`
}

// Scheduler configures the thread pool and scheduling policy.
type Scheduler struct {
	MaxThreads int    `toml:"max-threads"`
	Policy     string `toml:"policy"` // "completion" or "budget"
	TickBudget int    `toml:"tick-budget"`
}

// Store configures the program store database.
type Store struct {
	Path string `toml:"path"`
}

// Load parses a casm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "casm.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a casm.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "casm.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Default returns the configuration used when no casm.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Memory.GlobalSize == 0 {
		m.Memory.GlobalSize = vm.DefaultGlobalSize
	}
	if m.Memory.StackSize == 0 {
		m.Memory.StackSize = vm.DefaultStackSize
	}
	if m.Memory.HeapSize == 0 {
		m.Memory.HeapSize = vm.DefaultHeapSize
	}
	if m.Scheduler.MaxThreads == 0 {
		m.Scheduler.MaxThreads = vm.DefaultMaxThreads
	}
	if m.Scheduler.Policy == "" {
		m.Scheduler.Policy = "completion"
	}
	if m.Scheduler.TickBudget == 0 {
		m.Scheduler.TickBudget = vm.DefaultTickBudget
	}
	if m.Store.Path == "" {
		m.Store.Path = "casm.db"
	}
}

func (m *Manifest) validate() error {
	// The heap needs room for at least one minimum-size block; zones
	// smaller than the alignment cannot hold a single operand either.
	if m.Memory.HeapSize < 32 || m.Memory.HeapSize%vm.Alignment != 0 {
		return fmt.Errorf("heap-size %d must be a multiple of %d and at least 32", m.Memory.HeapSize, vm.Alignment)
	}
	if m.Memory.StackSize < vm.Alignment {
		return fmt.Errorf("stack-size %d too small", m.Memory.StackSize)
	}
	if m.Scheduler.MaxThreads < 1 || m.Scheduler.MaxThreads > 255 {
		return fmt.Errorf("max-threads %d out of range 1..255", m.Scheduler.MaxThreads)
	}
	switch m.Scheduler.Policy {
	case "completion", "budget":
	default:
		return fmt.Errorf("unknown policy %q", m.Scheduler.Policy)
	}
	if m.Scheduler.TickBudget < 1 {
		return fmt.Errorf("tick-budget %d must be positive", m.Scheduler.TickBudget)
	}
	return nil
}

// Geometry returns the configured zone layout.
func (m *Manifest) Geometry() vm.Geometry {
	return vm.Geometry{
		GlobalSize: m.Memory.GlobalSize,
		StackSize:  m.Memory.StackSize,
		HeapSize:   m.Memory.HeapSize,
	}
}

// Policy builds the configured scheduling policy.
func (m *Manifest) Policy() vm.SchedulingPolicy {
	if m.Scheduler.Policy == "budget" {
		return vm.NewBudgetPolicy(m.Scheduler.TickBudget)
	}
	return vm.RunToCompletion{}
}

// StorePath returns the program store path, resolved against the
// manifest directory when relative.
func (m *Manifest) StorePath() string {
	if filepath.IsAbs(m.Store.Path) || m.Dir == "" {
		return m.Store.Path
	}
	return filepath.Join(m.Dir, m.Store.Path)
}
