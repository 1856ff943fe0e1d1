package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeCatalog(t, `{
	  "builds": [
	    {
	      "name": "glibc",
	      "version": "2.36",
	      "build_deps": [[{"name": "linux-headers"}], [{"name": "gcc", "select_built": true}]],
	      "sources": [
	        {"type": "http", "url": "https://example.org/glibc-2.36.tar.xz", "sha256sum": "abc"}
	      ],
	      "build_steps": [{"command": "make", "expected_output": ""}],
	      "packages": [
	        {"name": "glibc", "deps": [[{"name": "linux-headers"}]], "install": true},
	        {"name": "glibc-dev"}
	      ]
	    },
	    {"name": "linux-headers", "version": "6.1"}
	  ]
	}`)

	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	glibc, ok := c.Builds["glibc"]
	if !ok {
		t.Fatal("glibc build missing")
	}
	if glibc.Version != "2.36" {
		t.Errorf("version %q", glibc.Version)
	}
	if len(glibc.BuildDeps) != 2 {
		t.Fatalf("build deps %d", len(glibc.BuildDeps))
	}
	if !glibc.BuildDeps[1][0].SelectBuilt {
		t.Error("gcc dep should be select_built")
	}
	if len(glibc.Sources) != 1 || glibc.Sources[0].Kind != SourceHTTP {
		t.Fatalf("sources %v", glibc.Sources)
	}
	if got := len(glibc.Packages); got != 2 {
		t.Fatalf("packages %d", got)
	}
	if c.Packages["glibc-dev"].Build != glibc {
		t.Error("package back-reference not wired")
	}

	// bare build produces a package of its own name
	if _, ok := c.Packages["linux-headers"]; !ok {
		t.Error("implicit package missing")
	}
}

func TestLoadFileSourceValidation(t *testing.T) {
	cases := []struct {
		name    string
		source  string
		wantErr string
	}{
		{
			name:    "http without checksum or signature",
			source:  `{"type": "http", "url": "https://x/y"}`,
			wantErr: "at least one of sha256sum, gpgsig is required",
		},
		{
			name:    "gpgsig without gpgkey",
			source:  `{"type": "http", "url": "https://x/y", "gpgsig": "https://x/y.sig"}`,
			wantErr: "options gpgsig and gpgkey require each other",
		},
		{
			name:    "git without sha256sum",
			source:  `{"type": "git", "url": "https://x/y.git", "commit": "c"}`,
			wantErr: "option 'sha256sum' is required",
		},
		{
			name:    "git branch without commit",
			source:  `{"type": "git", "url": "https://x/y.git", "sha256sum": "a", "branch": "main"}`,
			wantErr: "option 'branch' requires 'commit'",
		},
		{
			name:    "git with tag and commit",
			source:  `{"type": "git", "url": "https://x/y.git", "sha256sum": "a", "tag": "v1", "commit": "c"}`,
			wantErr: "exactly one of tag, commit, branch is required",
		},
		{
			name:    "git without ref",
			source:  `{"type": "git", "url": "https://x/y.git", "sha256sum": "a"}`,
			wantErr: "exactly one of tag, commit, branch is required",
		},
		{
			name:    "unknown type",
			source:  `{"type": "ftp", "url": "ftp://x/y"}`,
			wantErr: "invalid source type 'ftp'",
		},
		{
			name:    "missing url",
			source:  `{"type": "http"}`,
			wantErr: "source url must be specified",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeCatalog(t, `{"builds": [{"name": "b", "sources": [`+tc.source+`]}]}`)
			_, err := LoadFile(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestLoadFileValidGitSource(t *testing.T) {
	path := writeCatalog(t, `{"builds": [{"name": "b", "sources": [
	  {"type": "git", "url": "https://x/y.git", "sha256sum": "a", "branch": "main", "commit": "c"}
	]}]}`)
	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	src := c.Builds["b"].Sources[0]
	if src.Kind != SourceGit || src.Branch != "main" || src.Commit != "c" {
		t.Errorf("unexpected source %+v", src)
	}
	if src.DownloadTotal() != 1 {
		t.Errorf("download total %d", src.DownloadTotal())
	}
}

func TestLoadFileDuplicateBuild(t *testing.T) {
	path := writeCatalog(t, `{"builds": [{"name": "b"}, {"name": "b"}]}`)
	if _, err := LoadFile(path); err == nil || !strings.Contains(err.Error(), "duplicate build name 'b'") {
		t.Errorf("expected duplicate build error, got %v", err)
	}
}

func TestSourceDownloadTotal(t *testing.T) {
	plain := &Source{Kind: SourceHTTP, URL: "u", SHA256Sum: "a"}
	if plain.DownloadTotal() != 1 {
		t.Errorf("plain source total %d", plain.DownloadTotal())
	}
	signed := &Source{Kind: SourceHTTP, URL: "u", GPGSig: "u.sig", GPGKey: "k"}
	if signed.DownloadTotal() != 2 {
		t.Errorf("signed source total %d", signed.DownloadTotal())
	}
}

func TestOrGroupString(t *testing.T) {
	g := OrGroup{
		{Name: "a", SelectBuilt: true},
		{Name: "b"},
	}
	if got := g.String(); got != "a:built OR b" {
		t.Errorf("got %q", got)
	}
}
