// ABOUTME: Command heapbridge loads a heap snapshot and runs collections over it
// ABOUTME: Prints per-collection reports, retention paths and the surviving objects

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/prateek/heapbridge"
	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/config"
	"github.com/prateek/heapbridge/graph"
	"github.com/prateek/heapbridge/internal/logging"
)

const usage = `usage: heapbridge [flags] snapshot.json

Loads a heap snapshot, runs one or more stop-the-world collections over it
and prints a report per collection.

Flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "heapbridge:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("heapbridge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "JSON or YAML configuration `file`")
	plan := fs.String("plan", "", "collection plan (marksweep or semispace), overrides the config")
	workers := fs.Int("workers", 0, "collector workers, overrides the config")
	cycles := fs.Int("cycles", 1, "number of collections to run")
	walk := fs.Bool("walk", false, "print the live object index after the last collection")
	why := fs.String("why", "", "print retention paths for the object at `addr` before collecting")
	dump := fs.String("dump", "", "describe the object at snapshot `addr` after the last collection, following every move")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected exactly one snapshot")
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *plan != "" {
		cfg.Plan = *plan
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	log := logging.New(stderr, level)
	log.Debug("configuration", "plan", cfg.Plan, "workers", cfg.Workers,
		"flush_capacity", cfg.FlushCapacity, "heap_size", cfg.HeapSize)

	s, err := heapbridge.OpenSnapshot(cfg, fs.Arg(0), log)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Fprintf(stdout, "loaded %d objects, %d roots (plan %s)\n",
		s.Heap.NumObjects(), len(s.Heap.Roots()), cfg.Plan)

	if *why != "" {
		target, err := parseAddr(*why)
		if err != nil {
			return err
		}
		printPaths(stdout, s.Heap, target)
	}

	var dumpAt address.Address
	if *dump != "" {
		if dumpAt, err = parseAddr(*dump); err != nil {
			return err
		}
	}

	// Relocations of the current collection. Semispace halves are reused,
	// so forwarding is applied one collection at a time.
	var mu sync.Mutex
	var moves map[address.Address]address.Address
	s.Upcalls.OnRelocate = func(from, to address.Address, _ uintptr) {
		mu.Lock()
		moves[from] = to
		mu.Unlock()
	}

	for i := 0; i < *cycles; i++ {
		mu.Lock()
		moves = make(map[address.Address]address.Address)
		mu.Unlock()
		rep, err := s.Binding.Collect(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, rep)

		mu.Lock()
		obj, tag := address.Strip(dumpAt)
		if to, ok := moves[obj]; ok {
			dumpAt = address.Reattach(to, tag)
		}
		mu.Unlock()
	}

	if *walk {
		b := s.Binding
		b.ResetIterator()
		for obj, ok := b.NextObject(); ok; obj, ok = b.NextObject() {
			fmt.Fprintf(stdout, "  %s %s\n", obj, b.ObjectToSpace(obj))
		}
	}

	if *dump != "" {
		s.Binding.Model().DumpObject(stdout, dumpAt)
	}
	return nil
}

func parseAddr(s string) (address.Address, error) {
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "address %q", s)
	}
	return address.Address(n), nil
}

func printPaths(w io.Writer, h *graph.Heap, target address.Address) {
	paths := graph.PathsToRoots(h, target, 5)
	if len(paths) == 0 {
		fmt.Fprintf(w, "%s is not reachable from any root\n", address.Canonical(target))
		return
	}
	for _, p := range paths {
		fmt.Fprint(w, "  ")
		for i, a := range p.Addrs {
			if i > 0 {
				fmt.Fprint(w, " <- ")
			}
			fmt.Fprint(w, a)
		}
		fmt.Fprintln(w)
	}
}
