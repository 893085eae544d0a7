// Command depgraph prints the internal package import graph of this
// module, one "importer -> imported" edge per line, restricted to
// packages under internal/ and cmd/ so the kernel's own subsystem
// wiring (PMM, VM, proc, sys, fs, ...) is visible without the noise of
// every transitive third-party dependency.
package main

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"golang.org/x/tools/go/packages"
)

const modulePrefix = "github.com/cmelnulabs/riscvkern/"

func main() {
	pattern := "./..."
	if len(os.Args) > 1 {
		pattern = os.Args[1]
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		log.Fatalf("depgraph: load %s: %v", pattern, err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		os.Exit(1)
	}

	var edges []string
	for _, pkg := range pkgs {
		if !strings.HasPrefix(pkg.PkgPath, modulePrefix) {
			continue
		}
		for path := range pkg.Imports {
			if !strings.HasPrefix(path, modulePrefix) {
				continue
			}
			edges = append(edges, fmt.Sprintf("%s -> %s", trim(pkg.PkgPath), trim(path)))
		}
	}
	sort.Strings(edges)
	for _, e := range edges {
		fmt.Println(e)
	}
}

func trim(pkgPath string) string {
	return strings.TrimPrefix(pkgPath, modulePrefix)
}
