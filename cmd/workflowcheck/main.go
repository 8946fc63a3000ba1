// Package main provides a standalone linter that reports non-deterministic
// calls in Temporal workflow code: wall-clock time, timers, math/rand and
// bare go statements. Test files are skipped.
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var verbose = flag.Bool("v", false, "Verbose output")

type issue struct {
	file    string
	line    int
	column  int
	message string
}

func (i issue) String() string {
	return fmt.Sprintf("%s:%d:%d: %s", i.file, i.line, i.column, i.message)
}

// forbiddenTime maps time package functions to their workflow replacement.
var forbiddenTime = map[string]string{
	"Now":       "workflow.Now",
	"Since":     "workflow.Now",
	"Until":     "workflow.Now",
	"Sleep":     "workflow.Sleep",
	"After":     "workflow.NewTimer",
	"AfterFunc": "workflow.NewTimer",
	"NewTimer":  "workflow.NewTimer",
	"NewTicker": "workflow.NewTimer",
	"Tick":      "workflow.NewTimer",
}

var randPackages = map[string]bool{
	"math/rand":    true,
	"math/rand/v2": true,
}

func main() {
	flag.Parse()

	dir := "internal/workflow"
	if flag.NArg() > 0 {
		dir = flag.Arg(0)
	}

	issues, err := checkDirectory(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(issues) > 0 {
		for _, i := range issues {
			fmt.Println(i)
		}
		os.Exit(1)
	}

	if *verbose {
		fmt.Println("no non-deterministic calls found in", dir)
	}
}

func checkDirectory(dir string) ([]issue, error) {
	var issues []issue

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "vendor" || d.Name() == "testdata" || d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		fileIssues, err := checkFile(path)
		if err != nil {
			if *verbose {
				fmt.Printf("Warning: skipping %s: %v\n", path, err)
			}
			return nil
		}
		issues = append(issues, fileIssues...)
		return nil
	})

	return issues, err
}

func checkFile(filename string) ([]issue, error) {
	src, err := os.ReadFile(filename) //nolint:gosec // path comes from the directory walk
	if err != nil {
		return nil, err
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, 0)
	if err != nil {
		return nil, err
	}

	timeName, randNames := importNames(file)

	var issues []issue
	report := func(pos token.Pos, msg string) {
		p := fset.Position(pos)
		issues = append(issues, issue{file: filename, line: p.Line, column: p.Column, message: msg})
	}

	ast.Inspect(file, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.GoStmt:
			report(n.Pos(), "go statement in workflow code; use workflow.Go")
		case *ast.CallExpr:
			sel, ok := n.Fun.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			pkg, ok := sel.X.(*ast.Ident)
			if !ok {
				return true
			}
			switch {
			case timeName != "" && pkg.Name == timeName:
				if repl, bad := forbiddenTime[sel.Sel.Name]; bad {
					report(n.Pos(), fmt.Sprintf("time.%s in workflow code; use %s", sel.Sel.Name, repl))
				}
			case randNames[pkg.Name]:
				report(n.Pos(), fmt.Sprintf("%s.%s in workflow code; use workflow.SideEffect", pkg.Name, sel.Sel.Name))
			}
		}
		return true
	})

	return issues, nil
}

// importNames returns the local names under which file imports the time
// package and the math/rand packages.
func importNames(file *ast.File) (string, map[string]bool) {
	var timeName string
	randNames := make(map[string]bool)
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		name := ""
		if imp.Name != nil {
			name = imp.Name.Name
		}
		switch {
		case path == "time":
			if name == "" {
				name = "time"
			}
			timeName = name
		case randPackages[path]:
			if name == "" {
				name = "rand"
			}
			randNames[name] = true
		}
	}
	return timeName, randNames
}
