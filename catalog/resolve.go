package catalog

import (
	"fmt"

	"go-forge/log"
)

// PackageLike is the uniform view ResolveDeps takes of an installable
// thing: a catalog package or an already-built store record.
type PackageLike interface {
	PackageName() string
	PackageVersion() string
	PackageDeps() []OrGroup
}

// Provider resolves a dependency name to a PackageLike. Catalog package
// tables return the package itself; built-package stores return the
// record behind the "latest" version entry.
type Provider interface {
	Lookup(name string) (PackageLike, bool)
}

// MissingDependencyError reports a dependency group with no satisfiable
// operand.
type MissingDependencyError struct {
	Dep string // rendered OR-group
	Pkg string // dependent package
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("dependency '%s' of package '%s' can't be satisfied", e.Dep, e.Pkg)
}

const (
	unvisited = iota
	beingVisited
	doneVisited
)

// ResolveDeps orders targets so that every dependency precedes its
// dependents, without duplicates. If includeDeps is false only members
// of targets appear in the output, but transitive dependencies are still
// walked. Install-time dependency cycles are tolerated: the walk warns
// and breaks the cycle instead of failing, since install ordering is
// advisory.
func ResolveDeps(targets []PackageLike, table Provider, includeDeps bool, logger log.LibraryLogger) ([]PackageLike, error) {
	state := make(map[string]int)
	var order []PackageLike

	var visit func(pkg PackageLike) error
	visit = func(pkg PackageLike) error {
		name := pkg.PackageName()
		switch state[name] {
		case doneVisited:
			return nil
		case beingVisited:
			return nil
		}
		state[name] = beingVisited

		for _, group := range pkg.PackageDeps() {
			var dep PackageLike
			found := false
			for _, operand := range group {
				if d, ok := table.Lookup(operand.Name); ok {
					dep, found = d, true
					break
				}
			}
			if !found {
				return &MissingDependencyError{Dep: group.String(), Pkg: name}
			}

			if state[dep.PackageName()] == beingVisited {
				logger.Warn("package '%s' will be installed before its dependency '%s'",
					name, dep.PackageName())
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		state[name] = doneVisited
		order = append(order, pkg)
		return nil
	}

	for _, t := range targets {
		if err := visit(t); err != nil {
			return nil, err
		}
	}

	if includeDeps {
		return order, nil
	}

	wanted := make(map[string]bool, len(targets))
	for _, t := range targets {
		wanted[t.PackageName()] = true
	}
	var filtered []PackageLike
	for _, p := range order {
		if wanted[p.PackageName()] {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}
