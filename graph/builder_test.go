package graph

import (
	"errors"
	"testing"

	"go-forge/catalog"
	"go-forge/log"
	"go-forge/store"
)

func dep(name string) catalog.Dependency {
	return catalog.Dependency{Name: name}
}

func builtDep(name string) catalog.Dependency {
	return catalog.Dependency{Name: name, SelectBuilt: true}
}

func group(deps ...catalog.Dependency) catalog.OrGroup {
	return catalog.OrGroup(deps)
}

func pkgs(names ...string) map[string]*catalog.Package {
	result := make(map[string]*catalog.Package, len(names))
	for _, name := range names {
		result[name] = &catalog.Package{Name: name}
	}
	return result
}

func mustAdd(t *testing.T, c *catalog.Catalog, b *catalog.Build) *catalog.Build {
	t.Helper()
	if b.Version == "" {
		b.Version = "0.0.0"
	}
	if b.Packages == nil {
		b.Packages = pkgs(b.Name)
	}
	if err := c.AddBuild(b); err != nil {
		t.Fatal(err)
	}
	return b
}

func builtMap(records ...*store.BuiltPackage) store.BuiltMap {
	result := make(store.BuiltMap)
	for _, rec := range records {
		versions, ok := result[rec.Name]
		if !ok {
			versions = make(map[string]*store.BuiltPackage)
			result[rec.Name] = versions
		}
		versions[rec.Version] = rec
		versions[store.LatestKey] = rec
	}
	return result
}

func newBuilder(c *catalog.Catalog, built store.BuiltMap) *Builder {
	return &Builder{
		Packages: c.Packages,
		Built:    built,
		Logger:   log.NoOpLogger{},
	}
}

func TestCreateBuildJobGraph(t *testing.T) {
	c := catalog.New()
	foo := mustAdd(t, c, &catalog.Build{Name: "foo"})
	bar := mustAdd(t, c, &catalog.Build{Name: "bar"})

	g, err := newBuilder(c, builtMap()).CreateBuildJobGraph([]*catalog.Build{foo, bar})
	if err != nil {
		t.Fatal(err)
	}

	want := `digraph dump {
  graph [label="job_count: 2"];

  "NopJob(root)" [label="NopJob(root)\nnum_incident: 0\npriority: 2"];
  "NopJob(root)" -> "BuildJob(foo)";
  "NopJob(root)" -> "BuildJob(bar)";

  "BuildJob(foo)" [label="BuildJob(foo)\nnum_incident: 1\npriority: 1"];

  "BuildJob(bar)" [label="BuildJob(bar)\nnum_incident: 1\npriority: 1"];
}`
	if got := g.Dump(false); got != want {
		t.Errorf("dump mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildJobGraphDepHandling(t *testing.T) {
	c := catalog.New()
	mustAdd(t, c, &catalog.Build{Name: "build1st"})
	mustAdd(t, c, &catalog.Build{
		Name:      "dep-already-built-build",
		BuildDeps: []catalog.OrGroup{group(dep("build1st"))},
		Packages:  pkgs("dep-already-built-pkg1", "dep-already-built-pkg2"),
	})
	buildnext1 := mustAdd(t, c, &catalog.Build{
		Name:      "buildnext1",
		BuildDeps: []catalog.OrGroup{group(dep("dep-already-built-pkg1"))},
	})
	mustAdd(t, c, &catalog.Build{Name: "builtdep-notbuilt"})
	mustAdd(t, c, &catalog.Build{Name: "builtdep-built-dep"})
	mustAdd(t, c, &catalog.Build{Name: "builtdep-built", Version: "1.0.0"})
	buildnext2 := mustAdd(t, c, &catalog.Build{
		Name: "buildnext2",
		BuildDeps: []catalog.OrGroup{
			group(builtDep("builtdep-notbuilt"), dep("dep-already-built-pkg2")),
			group(builtDep("builtdep-built")),
		},
	})

	built := builtMap(
		&store.BuiltPackage{Name: "dep-already-built-pkg1", Version: "0.0.0"},
		&store.BuiltPackage{Name: "dep-already-built-pkg2", Version: "0.0.0"},
		&store.BuiltPackage{Name: "builtdep-built", Version: "0.0.0", Deps: []string{"builtdep-built-dep"}},
		&store.BuiltPackage{Name: "builtdep-built-dep", Version: "0.0.0"},
	)

	g, err := newBuilder(c, built).CreateBuildJobGraph([]*catalog.Build{buildnext1, buildnext2})
	if err != nil {
		t.Fatal(err)
	}

	want := `digraph dump {
  graph [label="job_count: 3"];

  "NopJob(root)" [label="NopJob(root)\nnum_incident: 0\npriority: 4"];
  "NopJob(root)" -> "BuildJob(build1st)";

  "BuildJob(build1st)" [label="BuildJob(build1st)\nnum_incident: 1\npriority: 3\nresolved_build_deps:\n"];
  "BuildJob(build1st)" -> "NopJob(dep-already-built-build)";

  "NopJob(dep-already-built-build)" [label="NopJob(dep-already-built-build)\nnum_incident: 1\npriority: 2"];
  "NopJob(dep-already-built-build)" -> "BuildJob(buildnext1)";
  "NopJob(dep-already-built-build)" -> "BuildJob(buildnext2)";

  "BuildJob(buildnext1)" [label="BuildJob(buildnext1)\nnum_incident: 1\npriority: 1\nresolved_build_deps:\ndep-already-built-pkg1-0.0.0\n"];

  "BuildJob(buildnext2)" [label="BuildJob(buildnext2)\nnum_incident: 1\npriority: 1\nresolved_build_deps:\nbuiltdep-built-dep-0.0.0\nbuiltdep-built-0.0.0\ndep-already-built-pkg2-0.0.0\n"];
}`
	if got := g.Dump(true); got != want {
		t.Errorf("dump mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildJobGraphMissingDep(t *testing.T) {
	c := catalog.New()
	build := mustAdd(t, c, &catalog.Build{
		Name:      "build",
		BuildDeps: []catalog.OrGroup{group(builtDep("nonexistent"), dep("nonexistent"))},
	})

	_, err := newBuilder(c, builtMap()).CreateBuildJobGraph([]*catalog.Build{build})
	if err == nil {
		t.Fatal("expected error")
	}

	var unsat *UnsatisfiableDependencyError
	if !errors.As(err, &unsat) {
		t.Fatalf("expected UnsatisfiableDependencyError, got %T", err)
	}
	want := "Build-time dependency 'nonexistent:built OR nonexistent' of build 'build' can't be satisfied"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestBuildJobGraphCircularDep(t *testing.T) {
	c := catalog.New()
	mustAdd(t, c, &catalog.Build{
		Name:      "loop-1",
		BuildDeps: []catalog.OrGroup{group(dep("loop-2"))},
	})
	mustAdd(t, c, &catalog.Build{
		Name:      "loop-2",
		BuildDeps: []catalog.OrGroup{group(dep("loop-1"))},
	})
	outside1 := mustAdd(t, c, &catalog.Build{
		Name:      "outside-1",
		BuildDeps: []catalog.OrGroup{group(dep("loop-1"))},
	})
	mustAdd(t, c, &catalog.Build{
		Name:      "loop2-1",
		BuildDeps: []catalog.OrGroup{group(dep("loop2-1"))},
	})
	outside2 := mustAdd(t, c, &catalog.Build{
		Name:      "outside-2",
		BuildDeps: []catalog.OrGroup{group(dep("loop2-1"))},
	})

	_, err := newBuilder(c, builtMap()).CreateBuildJobGraph([]*catalog.Build{outside1})
	if err == nil {
		t.Fatal("expected error")
	}
	var cycle *DependencyCycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected DependencyCycleError, got %T", err)
	}
	if want := "Dependency cycle detected: loop-1 -> loop-2 -> loop-1"; err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}

	_, err = newBuilder(c, builtMap()).CreateBuildJobGraph([]*catalog.Build{outside2})
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "Dependency cycle detected: loop2-1 -> loop2-1"; err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestBuildJobGraphSourceHandling(t *testing.T) {
	c := catalog.New()
	mustAdd(t, c, &catalog.Build{
		Name: "already-built",
		Sources: []*catalog.Source{
			{Kind: catalog.SourceHTTP, URL: "download-not-needed", SHA256Sum: "a"},
		},
	})
	pkg1 := mustAdd(t, c, &catalog.Build{
		Name:      "pkg1",
		BuildDeps: []catalog.OrGroup{group(dep("already-built"))},
		Sources: []*catalog.Source{
			{Kind: catalog.SourceHTTP, URL: "common-src", SHA256Sum: "a"},
		},
	})
	pkg2 := mustAdd(t, c, &catalog.Build{
		Name: "pkg2",
		Sources: []*catalog.Source{
			{Kind: catalog.SourceHTTP, URL: "common-src", SHA256Sum: "a"},
			{Kind: catalog.SourceHTTP, URL: "http-src", SHA256Sum: "a"},
			{Kind: catalog.SourceGit, URL: "git-src", Commit: "a", SHA256Sum: "a"},
			{Kind: catalog.SourceLocal, URL: "local-src", LocalPath: "/local-src"},
		},
	})

	built := builtMap(&store.BuiltPackage{Name: "already-built", Version: "0.0.0"})

	g, err := newBuilder(c, built).CreateBuildJobGraph([]*catalog.Build{pkg1, pkg2})
	if err != nil {
		t.Fatal(err)
	}

	want := `digraph dump {
  graph [label="job_count: 5"];

  "NopJob(root)" [label="NopJob(root)\nnum_incident: 0\npriority: 3"];
  "NopJob(root)" -> "NopJob(already-built)";
  "NopJob(root)" -> "DownloadJob(common-src)";
  "NopJob(root)" -> "DownloadJob(http-src)";
  "NopJob(root)" -> "DownloadJob(git-src)";

  "NopJob(already-built)" [label="NopJob(already-built)\nnum_incident: 1\npriority: 2"];
  "NopJob(already-built)" -> "BuildJob(pkg1)";

  "DownloadJob(common-src)" [label="DownloadJob(common-src)\nnum_incident: 1\npriority: 2"];
  "DownloadJob(common-src)" -> "BuildJob(pkg1)";
  "DownloadJob(common-src)" -> "BuildJob(pkg2)";

  "DownloadJob(http-src)" [label="DownloadJob(http-src)\nnum_incident: 1\npriority: 2"];
  "DownloadJob(http-src)" -> "BuildJob(pkg2)";

  "DownloadJob(git-src)" [label="DownloadJob(git-src)\nnum_incident: 1\npriority: 2"];
  "DownloadJob(git-src)" -> "BuildJob(pkg2)";

  "BuildJob(pkg1)" [label="BuildJob(pkg1)\nnum_incident: 2\npriority: 1"];

  "BuildJob(pkg2)" [label="BuildJob(pkg2)\nnum_incident: 3\npriority: 1"];
}`
	if got := g.Dump(false); got != want {
		t.Errorf("dump mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}

	// the same (type, url) pair appears in two builds but yields one job
	downloadJobs := 0
	for _, job := range g.Jobs() {
		if job.Kind == JobDownload {
			downloadJobs++
		}
	}
	if downloadJobs != 3 {
		t.Errorf("expected 3 download jobs, got %d", downloadJobs)
	}
}

func TestBuildJobGraphCalculatePriority(t *testing.T) {
	c := catalog.New()
	mustAdd(t, c, &catalog.Build{Name: "A"})
	mustAdd(t, c, &catalog.Build{Name: "B"})
	mustAdd(t, c, &catalog.Build{
		Name:      "C",
		BuildDeps: []catalog.OrGroup{group(dep("B"))},
	})
	mustAdd(t, c, &catalog.Build{
		Name:      "D",
		BuildDeps: []catalog.OrGroup{group(dep("A")), group(dep("C"))},
	})
	e := mustAdd(t, c, &catalog.Build{
		Name:      "E",
		BuildDeps: []catalog.OrGroup{group(dep("D"))},
	})
	f := mustAdd(t, c, &catalog.Build{
		Name:      "F",
		BuildDeps: []catalog.OrGroup{group(dep("D"))},
	})

	g, err := newBuilder(c, builtMap()).CreateBuildJobGraph([]*catalog.Build{e, f})
	if err != nil {
		t.Fatal(err)
	}

	wantPriorities := map[string]int{
		"NopJob(root)": 5,
		"BuildJob(A)":  3,
		"BuildJob(B)":  4,
		"BuildJob(C)":  3,
		"BuildJob(D)":  2,
		"BuildJob(E)":  1,
		"BuildJob(F)":  1,
	}
	for _, job := range g.Jobs() {
		if want := wantPriorities[job.String()]; job.Priority != want {
			t.Errorf("%s: priority %d, want %d", job, job.Priority, want)
		}
	}

	// every job's priority is one more than the maximum of its edges
	for _, job := range g.Jobs() {
		max := 0
		for _, next := range job.Edges {
			if next.Priority > max {
				max = next.Priority
			}
		}
		if job.Priority != max+1 {
			t.Errorf("%s: priority %d, want %d", job, job.Priority, max+1)
		}
	}
}

func TestBuildJobGraphEmptyTargets(t *testing.T) {
	c := catalog.New()
	g, err := newBuilder(c, builtMap()).CreateBuildJobGraph(nil)
	if err != nil {
		t.Fatal(err)
	}
	if g.JobCount != 0 {
		t.Errorf("job count %d, want 0", g.JobCount)
	}
	if len(g.Root.Edges) != 0 {
		t.Errorf("root has %d edges, want 0", len(g.Root.Edges))
	}
}

func TestDownloadJobNeverPrecedesDownloadJob(t *testing.T) {
	c := catalog.New()
	pkg1 := mustAdd(t, c, &catalog.Build{
		Name: "pkg1",
		Sources: []*catalog.Source{
			{Kind: catalog.SourceHTTP, URL: "src1", SHA256Sum: "a"},
			{Kind: catalog.SourceHTTP, URL: "src2", SHA256Sum: "a"},
		},
	})

	g, err := newBuilder(c, builtMap()).CreateBuildJobGraph([]*catalog.Build{pkg1})
	if err != nil {
		t.Fatal(err)
	}

	for _, job := range g.Jobs() {
		if job.Kind != JobDownload {
			continue
		}
		for _, next := range job.Edges {
			if next.Kind == JobDownload {
				t.Errorf("download job %s has download successor %s", job, next)
			}
		}
	}
}
