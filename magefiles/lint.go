//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const binLint = "golangci-lint"

// Vet runs go vet.
func Vet() error {
	return sh.RunV(binGo, "vet", "./...")
}

// Lint runs go vet, then golangci-lint.
func Lint() error {
	mg.Deps(Vet)
	return sh.RunV(binLint, "run", "--timeout", "5m", "./...")
}
