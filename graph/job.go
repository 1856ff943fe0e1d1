// Package graph turns build targets, the catalog and the on-disk store
// into an executable DAG of jobs. Jobs are a tagged union (nop, build,
// download); behavior is dispatched on the kind by the scheduler.
package graph

import (
	"fmt"
	"strings"

	"go-forge/catalog"
)

// JobKind discriminates the job union.
type JobKind int

const (
	// JobNop is a pure synchronization point carrying no work.
	JobNop JobKind = iota
	// JobBuild builds one catalog build.
	JobBuild
	// JobDownload fetches one source (payload plus optional signature).
	JobDownload
)

// Job is one node of the build job graph. Which fields are meaningful
// depends on Kind.
type Job struct {
	Kind JobKind

	// Name is the build name for nop and build jobs, the source URL for
	// download jobs.
	Name string

	// Build jobs.
	Build             *catalog.Build
	ResolvedBuildDeps []catalog.PackageLike

	// Download jobs.
	Source        *catalog.Source
	DownloadTotal int

	// NumIncident counts edges into this job; Edges lists the jobs that
	// must not start before this one completes.
	NumIncident int
	Edges       []*Job
	Priority    int

	preds map[*Job]bool
}

// NewNopJob creates a synchronization job.
func NewNopJob(name string) *Job {
	return &Job{Kind: JobNop, Name: name}
}

// NewBuildJob creates a job building b.
func NewBuildJob(b *catalog.Build) *Job {
	return &Job{Kind: JobBuild, Name: b.Name, Build: b}
}

// NewDownloadJob creates a job fetching src.
func NewDownloadJob(src *catalog.Source) *Job {
	return &Job{
		Kind:          JobDownload,
		Name:          src.URL,
		Source:        src,
		DownloadTotal: src.DownloadTotal(),
	}
}

// RequiredBy records that dependent must not start before j completes.
// Duplicate edges between the same pair are collapsed.
func (j *Job) RequiredBy(dependent *Job) {
	if dependent.preds == nil {
		dependent.preds = make(map[*Job]bool)
	}
	if dependent.preds[j] {
		return
	}
	dependent.preds[j] = true

	j.Edges = append(j.Edges, dependent)
	dependent.NumIncident++
}

func (j *Job) String() string {
	switch j.Kind {
	case JobNop:
		return fmt.Sprintf("NopJob(%s)", j.Name)
	case JobBuild:
		return fmt.Sprintf("BuildJob(%s)", j.Name)
	case JobDownload:
		return fmt.Sprintf("DownloadJob(%s)", j.Name)
	default:
		return "Job(?)"
	}
}

// Graph owns the job DAG. Root is a nop job every no-predecessor job
// hangs off; JobCount counts build and download jobs (nops excluded).
type Graph struct {
	Root     *Job
	JobCount int
}

// NewGraph creates a graph holding only the root job.
func NewGraph() *Graph {
	return &Graph{Root: NewNopJob("root")}
}

// Jobs returns every job reachable from the root in breadth-first,
// edge-insertion order (the root first).
func (g *Graph) Jobs() []*Job {
	var order []*Job
	seen := map[*Job]bool{g.Root: true}
	queue := []*Job{g.Root}
	for len(queue) > 0 {
		job := queue[0]
		queue = queue[1:]
		order = append(order, job)
		for _, next := range job.Edges {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return order
}

// Dump renders the graph in graphviz format. With dumpDeps, build jobs
// additionally list their resolved build dependencies.
func (g *Graph) Dump(dumpDeps bool) string {
	var sb strings.Builder
	sb.WriteString("digraph dump {\n")
	fmt.Fprintf(&sb, "  graph [label=\"job_count: %d\"];\n", g.JobCount)

	for _, job := range g.Jobs() {
		sb.WriteString("\n")

		label := fmt.Sprintf("%s\\nnum_incident: %d\\npriority: %d",
			job, job.NumIncident, job.Priority)
		if dumpDeps && job.Kind == JobBuild {
			label += "\\nresolved_build_deps:\\n"
			for _, dep := range job.ResolvedBuildDeps {
				label += fmt.Sprintf("%s-%s\\n", dep.PackageName(), dep.PackageVersion())
			}
		}
		fmt.Fprintf(&sb, "  \"%s\" [label=\"%s\"];\n", job, label)

		for _, next := range job.Edges {
			fmt.Fprintf(&sb, "  \"%s\" -> \"%s\";\n", job, next)
		}
	}

	sb.WriteString("}")
	return sb.String()
}
