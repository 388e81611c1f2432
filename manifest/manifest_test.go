package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/casmkit/casm/vm"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "casm.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[runtime]
name = "demo"

[memory]
global-size = 1024
stack-size = 4096
heap-size = 8192

[scheduler]
max-threads = 8
policy = "budget"
tick-budget = 256

[store]
path = "programs.db"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Runtime.Name != "demo" {
		t.Errorf("name = %q, want demo", m.Runtime.Name)
	}
	geo := m.Geometry()
	if geo.GlobalSize != 1024 || geo.StackSize != 4096 || geo.HeapSize != 8192 {
		t.Errorf("geometry = %+v", geo)
	}
	if m.Scheduler.MaxThreads != 8 {
		t.Errorf("max-threads = %d, want 8", m.Scheduler.MaxThreads)
	}
	if _, ok := m.Policy().(*vm.BudgetPolicy); !ok {
		t.Errorf("policy = %T, want *vm.BudgetPolicy", m.Policy())
	}
	if got := m.StorePath(); got != filepath.Join(dir, "programs.db") {
		t.Errorf("store path = %q", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `[runtime]
name = "bare"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Geometry() != vm.DefaultGeometry() {
		t.Errorf("geometry = %+v, want defaults", m.Geometry())
	}
	if m.Scheduler.MaxThreads != vm.DefaultMaxThreads {
		t.Errorf("max-threads = %d, want %d", m.Scheduler.MaxThreads, vm.DefaultMaxThreads)
	}
	if _, ok := m.Policy().(vm.RunToCompletion); !ok {
		t.Errorf("policy = %T, want RunToCompletion", m.Policy())
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	for name, content := range map[string]string{
		"bad heap":    "[memory]\nheap-size = 20\n",
		"bad policy":  "[scheduler]\npolicy = \"turbo\"\n",
		"bad threads": "[scheduler]\nmax-threads = 300\n",
	} {
		dir := t.TempDir()
		writeManifest(t, dir, content)
		if _, err := Load(dir); err == nil {
			t.Errorf("%s: Load accepted invalid config", name)
		}
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[runtime]\nname = \"up\"\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if m == nil || m.Runtime.Name != "up" {
		t.Errorf("manifest = %+v, want name up", m)
	}
}

func TestFindAndLoadMissing(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if m != nil {
		t.Errorf("manifest = %+v, want nil", m)
	}
}
