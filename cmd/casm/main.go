// Casm CLI - loads, stores and runs program artifacts.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/casmkit/casm/manifest"
	"github.com/casmkit/casm/store"
	"github.com/casmkit/casm/vm"
	"github.com/casmkit/casm/wire"
)

var log = commonlog.GetLogger("casm")

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	dir := flag.String("C", ".", "Directory to search for casm.toml")
	saveName := flag.String("save", "", "Save the given program file into the store under this name")
	runName := flag.String("run", "", "Run a stored program by name")
	list := flag.Bool("list", false, "List stored programs")
	deleteName := flag.String("delete", "", "Delete a stored program by name")
	showTicks := flag.Bool("ticks", false, "Print the scheduler tick count after the run")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: casm [options] [program.casm]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a serialized program, with the memory geometry and scheduler\n")
		fmt.Fprintf(os.Stderr, "configured by the nearest casm.toml.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  casm prog.casm              # Run a program file\n")
		fmt.Fprintf(os.Stderr, "  casm -save hello prog.casm  # Store a program under a name\n")
		fmt.Fprintf(os.Stderr, "  casm -run hello             # Run a stored program\n")
		fmt.Fprintf(os.Stderr, "  casm -list                  # List stored programs\n")
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		fail("loading manifest: %v", err)
	}
	if m == nil {
		m = manifest.Default()
		log.Info("no casm.toml found, using defaults")
	} else {
		log.Infof("using manifest in %s", m.Dir)
	}

	switch {
	case *list:
		withStore(m, func(st *store.Store) error {
			names, err := st.List()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		})

	case *deleteName != "":
		withStore(m, func(st *store.Store) error {
			return st.Delete(*deleteName)
		})

	case *saveName != "":
		if flag.NArg() != 1 {
			fail("-save needs exactly one program file")
		}
		p := loadProgramFile(flag.Arg(0))
		withStore(m, func(st *store.Store) error {
			return st.Save(*saveName, p)
		})
		log.Infof("saved %q", *saveName)

	case *runName != "":
		var p *vm.Program
		withStore(m, func(st *store.Store) error {
			var err error
			p, err = st.Load(*runName)
			return err
		})
		run(m, p, *showTicks)

	case flag.NArg() == 1:
		run(m, loadProgramFile(flag.Arg(0)), *showTicks)

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func withStore(m *manifest.Manifest, fn func(*store.Store) error) {
	st, err := store.Open(m.StorePath())
	if err != nil {
		fail("opening store: %v", err)
	}
	defer st.Close()
	if err := fn(st); err != nil {
		fail("%v", err)
	}
}

func loadProgramFile(path string) *vm.Program {
	data, err := os.ReadFile(path)
	if err != nil {
		fail("reading %s: %v", path, err)
	}
	p, err := wire.UnmarshalProgram(data)
	if err != nil {
		fail("decoding %s: %v", path, err)
	}
	return p
}

func run(m *manifest.Manifest, p *vm.Program, showTicks bool) {
	mem := vm.NewMemory(m.Geometry())
	stdio := vm.NewStdIO(os.Stdout)
	sched := vm.NewScheduler(mem, stdio,
		vm.WithMaxThreads(m.Scheduler.MaxThreads),
		vm.WithPolicy(m.Policy()),
	)

	// Pump host stdin into the input gate so WAIT_STDIN threads wake.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			sched.StdIn().Feed(scanner.Bytes())
		}
	}()

	tid, err := sched.Spawn(p)
	if err != nil {
		fail("spawning root thread: %v", err)
	}
	log.Infof("root thread %d started", tid)

	if err := sched.Run(context.Background()); err != nil {
		var rerr *vm.RuntimeError
		if errors.As(err, &rerr) {
			fail("thread %d died at instruction %d: %v", rerr.Tid, rerr.At, rerr.Err)
		}
		fail("%v", err)
	}
	if showTicks {
		fmt.Fprintf(os.Stderr, "completed in %d ticks\n", sched.Ticks())
	}
}
