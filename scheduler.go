// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package erlangrt

import "sync"

// Scheduler implements spec §5's concurrency model: a small pool of OS
// threads, each draining a shared run-queue of Processes, running each
// to a reduction-counted suspension point before re-enqueuing or
// retiring it. Grounded on cmd/dump.go's worker-pool shape (a
// sync.WaitGroup plus a channel of work items drained by N goroutines)
// generalized from "directories to scan" to "processes to run a
// quantum of".

// DefaultReductions is the quantum charged to a Process before the
// scheduler forces a yield (spec §4.10, §8 Testable Property S6).
const DefaultReductions = 2000

// Scheduler owns the run-queue and the fixed-size worker pool draining
// it. A Process is only ever on one run-queue at a time (spec §5:
// "ownership of a Process moves between run-queues but is never
// shared").
type Scheduler struct {
	vm         *CodeServer
	runQueue   chan *Process
	wg         sync.WaitGroup
	live       sync.WaitGroup
	reductions int
}

// NewScheduler creates a Scheduler with workers goroutines draining a
// run-queue of the given capacity.
func NewScheduler(vm *CodeServer, workers, queueCapacity int) *Scheduler {
	s := &Scheduler{
		vm:         vm,
		runQueue:   make(chan *Process, queueCapacity),
		reductions: DefaultReductions,
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.runWorker()
	}
	return s
}

// Spawn submits a fresh Process for execution and tracks it until it
// retires (finishes, waits, or dies on an uncaught exception).
// Submitting a Process already in StatusFinished is a caller error this
// scheduler does not guard against, matching spec §5's
// single-owner-at-a-time process model.
func (s *Scheduler) Spawn(p *Process) {
	s.live.Add(1)
	s.runQueue <- p
}

// Wait blocks until every spawned Process has retired. Re-enqueues after
// a yield keep the process live, so Wait observes true completion, not
// an empty queue.
func (s *Scheduler) Wait() {
	s.live.Wait()
}

// Close stops the workers once the queue drains. Call Wait first if
// spawned processes must run to completion; a yielding process
// re-enqueued after Close panics, same as submitting to a stopped node.
func (s *Scheduler) Close() {
	close(s.runQueue)
	s.wg.Wait()
}

// runWorker is one scheduler thread's loop: pop a Process, run it for
// one reduction-counted quantum, and re-enqueue it if it yielded (spec
// §5: "suspends exactly at opcode boundaries").
func (s *Scheduler) runWorker() {
	defer s.wg.Done()
	for p := range s.runQueue {
		s.runQuantum(p)
	}
}

// runQuantum executes p for up to s.reductions reductions and applies
// the resulting DispatchResult to p.Status, re-enqueuing p if it has
// more work to do.
func (s *Scheduler) runQuantum(p *Process) {
	ctx := NewContext(p.Module.Code, p.IP, s.reductions)
	result, err := Dispatch(s.vm, ctx, p)
	p.IP = ctx.IP
	if err != nil {
		p.Status = StatusFinished
		if exc, ok := err.(*RuntimeException); ok {
			p.ExitReason = exc.Reason
		} else {
			p.ExitReason = s.vm.Atoms.Intern("internal_error")
		}
		s.live.Done()
		return
	}
	switch result {
	case DispatchYield:
		s.runQueue <- p
	case DispatchWait:
		p.Status = StatusWaiting
		s.live.Done()
	case DispatchFinished:
		p.Status = StatusFinished
		s.live.Done()
	}
}
