// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// erlangrt's command surface (spec §6.2). Grounded on pedumper.go's
// rootCmd/dumpCmd/versionCmd cobra layout, trading its per-PE-table flags
// (dosHeader/richHeader/ntHeader/...) for erlangrt's own module tables
// (atoms/imports/exports/lambdas/code/anomalies/signature).

var version = "0.1.0"

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func walkTargets(paths []string, fn func(path string) error) error {
	var failures int
	for _, p := range paths {
		if isDirectory(p) {
			entries, err := os.ReadDir(p)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				if err := fn(filepath.Join(p, e.Name())); err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", e.Name(), err)
					failures++
				}
			}
			continue
		}
		if err := fn(p); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", p, err)
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d file(s) failed", failures)
	}
	return nil
}

func main() {
	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print erlangrt's version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd := &cobra.Command{
		Use:   "erlangrt",
		Short: "erlangrt loads and inspects compiled BEAM modules",
	}

	rootCmd.AddCommand(versionCmd, newLoadCmd(), newDumpCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
