//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides build targets for peermention using Mage.
//
// Usage:
//
//	mage build       Compile the peermention binary to bin/
//	mage test:all    Run every test with the race detector
//	mage test:unit   Run the short test suite
//	mage test:cover  Write coverage to bin/coverage.out
//	mage lint        Run golangci-lint
//	mage clean       Remove build artifacts
//	mage install     Install peermention to GOPATH/bin
//	mage stats       Print Go LOC and documentation word counts
package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo       = "go"
	binaryName  = "peermention"
	binaryDir   = "bin"
	cmdDir      = "./cmd/peermention"
	versionFlag = "github.com/mesh-intelligence/peermention/internal/cli.Version"
)

// version describes the checkout, or "dev" outside git.
func version() string {
	out, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil || strings.TrimSpace(out) == "" {
		return "dev"
	}
	return strings.TrimSpace(out)
}

// Build compiles the peermention binary to bin/ with the version stamped in.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	ldflags := "-X " + versionFlag + "=" + version()
	return sh.RunV(binGo, "build", "-v", "-ldflags", ldflags, "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	return sh.Copy(dst, src)
}
