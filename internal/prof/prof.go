// Package prof collects CPU, heap and runtime-trace profiles for a run.
package prof

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Options name the output files; empty paths disable that profile.
type Options struct {
	CPU   string
	Heap  string
	Trace string
}

func (o Options) Enabled() bool {
	return o.CPU != "" || o.Heap != "" || o.Trace != ""
}

// Run is an active profiling run. Stop it exactly once; later calls are no-ops.
type Run struct {
	cpu     *os.File
	trace   *os.File
	heap    string
	stopped bool
}

// Start begins the requested profiles. On error nothing is left running.
func Start(opts Options) (*Run, error) {
	r := &Run{}
	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		r.cpu = f
	}
	if opts.Trace != "" {
		f, err := os.Create(opts.Trace)
		if err != nil {
			_ = r.Stop()
			return nil, fmt.Errorf("runtime trace: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			_ = r.Stop()
			return nil, fmt.Errorf("runtime trace: %w", err)
		}
		r.trace = f
	}
	r.heap = opts.Heap
	return r, nil
}

// Stop ends the CPU profile and runtime trace, then writes the heap profile.
func (r *Run) Stop() error {
	if r == nil || r.stopped {
		return nil
	}
	r.stopped = true

	var errs []error
	if r.trace != nil {
		trace.Stop()
		errs = append(errs, r.trace.Close())
		r.trace = nil
	}
	if r.cpu != nil {
		pprof.StopCPUProfile()
		errs = append(errs, r.cpu.Close())
		r.cpu = nil
	}
	if r.heap != "" {
		errs = append(errs, writeHeap(r.heap))
	}
	return errors.Join(errs...)
}

func writeHeap(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("heap profile: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}
