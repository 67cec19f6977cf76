//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
)

// skipDirs are not counted as project code.
var skipDirs = map[string]bool{
	".git":      true,
	"vendor":    true,
	binaryDir:   true,
	"magefiles": true,
	"_examples": true,
}

type lineCount struct{ prod, test int }

// Stats prints Go line counts per package and documentation word counts.
func Stats() error {
	counts := map[string]*lineCount{}
	err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[path] {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		pkg := filepath.Dir(path)
		c := counts[pkg]
		if c == nil {
			c = &lineCount{}
			counts[pkg] = c
		}
		n := bytes.Count(data, []byte("\n"))
		if strings.HasSuffix(path, "_test.go") {
			c.test += n
		} else {
			c.prod += n
		}
		return nil
	})
	if err != nil {
		return err
	}

	pkgs := make([]string, 0, len(counts))
	for p := range counts {
		pkgs = append(pkgs, p)
	}
	sort.Strings(pkgs)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "package\tprod\ttest\t")
	var total lineCount
	for _, p := range pkgs {
		c := counts[p]
		total.prod += c.prod
		total.test += c.test
		fmt.Fprintf(w, "%s\t%d\t%d\t\n", p, c.prod, c.test)
	}
	fmt.Fprintf(w, "total\t%d\t%d\t\n", total.prod, total.test)
	if err := w.Flush(); err != nil {
		return err
	}

	for _, doc := range []string{"README.md", "DESIGN.md", "SPEC_FULL.md"} {
		data, err := os.ReadFile(doc)
		if err != nil {
			continue
		}
		fmt.Printf("%s: %d words\n", doc, len(strings.Fields(string(data))))
	}
	return nil
}
