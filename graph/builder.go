package graph

import (
	"errors"

	"go-forge/catalog"
	"go-forge/log"
	"go-forge/store"
)

// Builder constructs the job graph from targets, the catalog package
// table and the built-package store.
type Builder struct {
	Packages catalog.PackageTable
	Built    store.BuiltMap
	Logger   log.LibraryLogger
}

// depProvider resolves build-dependency names for the install-order
// expansion: store records win (they reflect what is actually on disk),
// catalog packages cover dependencies that are still to be built.
type depProvider struct {
	built    store.BuiltMap
	packages catalog.PackageTable
}

func (p depProvider) Lookup(name string) (catalog.PackageLike, bool) {
	if dep, ok := p.built.Lookup(name); ok {
		return dep, true
	}
	return p.packages.Lookup(name)
}

// CreateBuildJobGraph builds the DAG for targets. Builds whose every
// package is already in the store at the build's version become nop
// jobs; download jobs are deduplicated by (type, url); build-time
// dependency cycles are fatal.
func (b *Builder) CreateBuildJobGraph(targets []*catalog.Build) (*Graph, error) {
	g := NewGraph()
	jobs := make(map[string]*Job)         // memo, by build name
	visiting := make(map[string]bool)     // builds on the recursion stack
	downloads := make(map[string]*Job)    // dedup, by (type, url)
	table := depProvider{b.Built, b.Packages}

	var addJob func(build *catalog.Build) (*Job, error)
	addJob = func(build *catalog.Build) (*Job, error) {
		if visiting[build.Name] {
			return nil, &DependencyCycleError{Cycle: []string{build.Name}}
		}
		if job, ok := jobs[build.Name]; ok {
			return job, nil
		}

		needBuild := false
		for _, pkg := range build.Packages {
			if !b.Built.HasVersion(pkg.Name, build.Version) {
				needBuild = true
				break
			}
		}

		var job *Job
		if needBuild {
			job = NewBuildJob(build)
			g.JobCount++
		} else {
			job = NewNopJob(build.Name)
		}
		jobs[build.Name] = job
		visiting[build.Name] = true

		// built deps accumulate ahead of catalog deps: they are already
		// on disk and materialize first in the sandbox
		var builtDeps, pkgDeps []catalog.PackageLike
		for _, group := range build.BuildDeps {
			satisfied := false
			for _, dep := range group {
				if dep.SelectBuilt {
					if !b.Built.Has(dep.Name) {
						continue
					}
					if needBuild {
						builtDeps = append(builtDeps, b.Built.Latest(dep.Name))
					}
					satisfied = true
					break
				}

				pkg, ok := b.Packages[dep.Name]
				if !ok {
					continue
				}
				if needBuild {
					pkgDeps = append(pkgDeps, pkg)
				}
				depJob, err := addJob(pkg.Build)
				if err != nil {
					var cycle *DependencyCycleError
					if errors.As(err, &cycle) {
						cycle.extend(build.Name)
					}
					return nil, err
				}
				depJob.RequiredBy(job)
				satisfied = true
				break
			}
			if !satisfied {
				return nil, &UnsatisfiableDependencyError{
					Dep:   group.String(),
					Build: build.Name,
				}
			}
		}

		if needBuild {
			resolved, err := catalog.ResolveDeps(append(builtDeps, pkgDeps...), table, true, b.Logger)
			if err != nil {
				return nil, err
			}
			job.ResolvedBuildDeps = resolved
		}

		delete(visiting, build.Name)

		if needBuild {
			for _, src := range build.Sources {
				if src.Kind == catalog.SourceLocal {
					continue
				}
				key := src.Kind.String() + "\x00" + src.URL
				dl, ok := downloads[key]
				if !ok {
					dl = NewDownloadJob(src)
					downloads[key] = dl
					g.JobCount++
					g.Root.RequiredBy(dl)
				}
				dl.RequiredBy(job)
			}
		}

		if job.NumIncident == 0 {
			g.Root.RequiredBy(job)
		}

		return job, nil
	}

	for _, target := range targets {
		if _, err := addJob(target); err != nil {
			return nil, err
		}
	}

	calculatePriority(g.Root, make(map[*Job]int))

	return g, nil
}

// calculatePriority assigns each job one more than the maximum priority
// of its successors; leaves get 1. Deeper chains schedule earlier.
// Memoized against diamonds.
func calculatePriority(job *Job, memo map[*Job]int) int {
	if p, ok := memo[job]; ok {
		return p
	}

	max := 0
	for _, next := range job.Edges {
		if p := calculatePriority(next, memo); p > max {
			max = p
		}
	}

	job.Priority = max + 1
	memo[job] = job.Priority
	return job.Priority
}
