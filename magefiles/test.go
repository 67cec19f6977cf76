//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Test groups test targets (all, unit, cover).
type Test mg.Namespace

// All runs every test with the race detector.
func (Test) All() error {
	return sh.RunV(binGo, "test", "-race", "-count=1", "./...")
}

// Unit runs the short suite, skipping tests that listen on sockets or wait
// on real timers.
func (Test) Unit() error {
	return sh.RunV(binGo, "test", "-short", "./...")
}

// Cover writes a coverage profile to bin/coverage.out and prints the summary.
func (Test) Cover() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	profile := filepath.Join(binaryDir, "coverage.out")
	if err := sh.RunV(binGo, "test", "-coverprofile", profile, "./..."); err != nil {
		return err
	}
	return sh.RunV(binGo, "tool", "cover", "-func", profile)
}
