// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/saferwall/erlangrt"
	"github.com/spf13/cobra"
)

// Exit codes for the load subcommand: 0 normal termination, 1 unhandled
// exception, 2 load error, 3 internal invariant violation.
const (
	exitOK = iota
	exitException
	exitLoadError
	exitInternal
)

// newLoadCmd implements the root command surface: `erlangrt load <mod>`
// loads mod.beam and runs its test/0 export as the root process to
// completion. Running several modules exits with the worst individual
// outcome.
func newLoadCmd() *cobra.Command {
	var heapWords int
	var skipSig bool
	var workers int

	cmd := &cobra.Command{
		Use:   "load [module]...",
		Short: "Load one or more .beam modules and run each module's test/0",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			worst := exitOK
			for _, path := range args {
				code := loadAndRun(path, heapWords, skipSig, workers)
				if code > worst {
					worst = code
				}
			}
			os.Exit(worst)
		},
	}

	cmd.Flags().IntVar(&heapWords, "heap-words", erlangrt.DefaultLiteralHeapWords, "words reserved for each module's literal heap")
	cmd.Flags().BoolVar(&skipSig, "skip-signature", false, "skip verifying an embedded Sign chunk")
	cmd.Flags().IntVar(&workers, "workers", 1, "scheduler worker goroutines")

	return cmd
}

func loadAndRun(path string, heapWords int, skipSig bool, workers int) int {
	if filepath.Ext(path) != ".beam" {
		path += ".beam"
	}
	cs := erlangrt.NewCodeServer()
	mod, err := cs.LoadFile(path, &erlangrt.Options{
		LiteralHeapWords:          heapWords,
		SkipSignatureVerification: skipSig,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", path, err)
		return exitLoadError
	}

	testFun := cs.Atoms.Intern("test")
	entry, ok := mod.Functions[erlangrt.FunArity{Function: testFun, Arity: 0}]
	if !ok {
		fmt.Fprintf(os.Stderr, "%s: no test/0 export\n", path)
		return exitLoadError
	}

	proc := erlangrt.NewProcess(mod, heapWords, entry)
	sched := erlangrt.NewScheduler(cs, workers, workers+1)
	sched.Spawn(proc)
	sched.Wait()
	sched.Close()

	switch {
	case proc.Status == erlangrt.StatusFinished && proc.ExitReason != 0:
		if proc.ExitReason.IsAtom() {
			fmt.Fprintf(os.Stderr, "%s: test/0 raised %s\n", path, cs.Atoms.Name(proc.ExitReason))
		} else {
			fmt.Fprintf(os.Stderr, "%s: test/0 raised an exception\n", path)
		}
		return exitException
	case proc.Status == erlangrt.StatusFinished:
		fmt.Printf("%s: test/0 completed\n", path)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "%s: test/0 did not run to completion (status=%d)\n", path, proc.Status)
		return exitInternal
	}
}
