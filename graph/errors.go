package graph

import (
	"fmt"
	"strings"
)

// DependencyCycleError reports a build-time dependency cycle. Cycle
// holds the build names in the order the unwinding recursion appended
// them; the rendered chain is the reverse.
type DependencyCycleError struct {
	Cycle []string
}

func (e *DependencyCycleError) Error() string {
	chain := make([]string, len(e.Cycle))
	for i, name := range e.Cycle {
		chain[len(e.Cycle)-1-i] = name
	}
	return "Dependency cycle detected: " + strings.Join(chain, " -> ")
}

// closed reports whether the chain has wrapped around to its start;
// once closed, further callers up the stack stop appending.
func (e *DependencyCycleError) closed() bool {
	return len(e.Cycle) > 1 && e.Cycle[0] == e.Cycle[len(e.Cycle)-1]
}

// extend appends name while the chain is still open.
func (e *DependencyCycleError) extend(name string) {
	if !e.closed() {
		e.Cycle = append(e.Cycle, name)
	}
}

// UnsatisfiableDependencyError reports a build-time OR-group with no
// available operand.
type UnsatisfiableDependencyError struct {
	Dep   string // rendered OR-group
	Build string
}

func (e *UnsatisfiableDependencyError) Error() string {
	return fmt.Sprintf("Build-time dependency '%s' of build '%s' can't be satisfied",
		e.Dep, e.Build)
}
