package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CatalogError reports an invalid catalog document.
type CatalogError struct {
	Doc string
	Err error
}

func (e *CatalogError) Error() string {
	if e.Doc != "" {
		return fmt.Sprintf("catalog %s: %v", e.Doc, e.Err)
	}
	return fmt.Sprintf("catalog: %v", e.Err)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

// jsonSource mirrors Source for decoding.
type jsonSource struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	SHA256Sum string `json:"sha256sum,omitempty"`
	GPGSig    string `json:"gpgsig,omitempty"`
	GPGKey    string `json:"gpgkey,omitempty"`
	Tag       string `json:"tag,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Branch    string `json:"branch,omitempty"`
}

type jsonDependency struct {
	Name        string `json:"name"`
	SelectBuilt bool   `json:"select_built,omitempty"`
}

type jsonCommand struct {
	Command        string `json:"command"`
	ExpectedOutput string `json:"expected_output,omitempty"`
}

type jsonPackage struct {
	Name        string             `json:"name"`
	Deps        [][]jsonDependency `json:"deps,omitempty"`
	PreInstall  []jsonCommand      `json:"pre_install,omitempty"`
	PostInstall []jsonCommand      `json:"post_install,omitempty"`
	PreUpgrade  []jsonCommand      `json:"pre_upgrade,omitempty"`
	PostUpgrade []jsonCommand      `json:"post_upgrade,omitempty"`
	PreRemove   []jsonCommand      `json:"pre_remove,omitempty"`
	PostRemove  []jsonCommand      `json:"post_remove,omitempty"`
	Install     bool               `json:"install,omitempty"`
}

type jsonBuild struct {
	Name       string             `json:"name"`
	Version    string             `json:"version"`
	BuildDeps  [][]jsonDependency `json:"build_deps,omitempty"`
	Sources    []jsonSource       `json:"sources,omitempty"`
	Bootstrap  bool               `json:"bootstrap,omitempty"`
	BuildSteps []jsonCommand      `json:"build_steps,omitempty"`
	Packages   []jsonPackage      `json:"packages"`
}

// LoadFile reads a catalog interchange document (the serialized output
// of the documentation parser) and validates its source constraints.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CatalogError{Doc: path, Err: err}
	}

	var doc struct {
		Builds []jsonBuild `json:"builds"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &CatalogError{Doc: path, Err: err}
	}

	c := New()
	base := filepath.Dir(path)

	for _, jb := range doc.Builds {
		if jb.Name == "" {
			return nil, &CatalogError{Doc: path, Err: fmt.Errorf("build name must be specified")}
		}
		if jb.Version == "" {
			jb.Version = "0.0.0"
		}

		b := &Build{
			Name:      jb.Name,
			Version:   jb.Version,
			BuildDeps: convertDeps(jb.BuildDeps),
			Bootstrap: jb.Bootstrap,
			Packages:  make(map[string]*Package),
		}
		for _, cmd := range jb.BuildSteps {
			b.BuildSteps = append(b.BuildSteps, Command(cmd))
		}

		for _, js := range jb.Sources {
			src, err := convertSource(js, base)
			if err != nil {
				return nil, &CatalogError{Doc: path, Err: fmt.Errorf("build '%s': %w", jb.Name, err)}
			}
			b.Sources = append(b.Sources, src)
		}

		if len(jb.Packages) == 0 {
			// a bare package definition: the build produces one package
			// of its own name
			jb.Packages = []jsonPackage{{Name: jb.Name}}
		}
		for _, jp := range jb.Packages {
			b.Packages[jp.Name] = &Package{
				Name:        jp.Name,
				Deps:        convertDeps(jp.Deps),
				PreInstall:  convertCommands(jp.PreInstall),
				PostInstall: convertCommands(jp.PostInstall),
				PreUpgrade:  convertCommands(jp.PreUpgrade),
				PostUpgrade: convertCommands(jp.PostUpgrade),
				PreRemove:   convertCommands(jp.PreRemove),
				PostRemove:  convertCommands(jp.PostRemove),
				Install:     jp.Install,
			}
		}

		if err := c.AddBuild(b); err != nil {
			return nil, &CatalogError{Doc: path, Err: err}
		}
	}

	return c, nil
}

func convertDeps(groups [][]jsonDependency) []OrGroup {
	var result []OrGroup
	for _, group := range groups {
		og := make(OrGroup, len(group))
		for i, dep := range group {
			og[i] = Dependency{Name: dep.Name, SelectBuilt: dep.SelectBuilt}
		}
		result = append(result, og)
	}
	return result
}

func convertCommands(commands []jsonCommand) []Command {
	var result []Command
	for _, cmd := range commands {
		result = append(result, Command(cmd))
	}
	return result
}

func convertSource(js jsonSource, base string) (*Source, error) {
	src := &Source{
		URL:       js.URL,
		SHA256Sum: js.SHA256Sum,
		GPGSig:    js.GPGSig,
		GPGKey:    js.GPGKey,
		Tag:       js.Tag,
		Commit:    js.Commit,
		Branch:    js.Branch,
	}
	if js.URL == "" {
		return nil, fmt.Errorf("source url must be specified")
	}

	switch js.Type {
	case "http":
		src.Kind = SourceHTTP
		if js.SHA256Sum == "" && js.GPGSig == "" {
			return nil, fmt.Errorf("at least one of sha256sum, gpgsig is required")
		}
		if (js.GPGSig == "") != (js.GPGKey == "") {
			return nil, fmt.Errorf("options gpgsig and gpgkey require each other")
		}
		if js.Tag != "" || js.Commit != "" || js.Branch != "" {
			return nil, fmt.Errorf("git options are invalid for http sources")
		}

	case "git":
		src.Kind = SourceGit
		if js.SHA256Sum == "" {
			return nil, fmt.Errorf("option 'sha256sum' is required")
		}
		refs := 0
		for _, ref := range []string{js.Tag, js.Commit, js.Branch} {
			if ref != "" {
				refs++
			}
		}
		if js.Branch != "" {
			if js.Commit == "" {
				return nil, fmt.Errorf("option 'branch' requires 'commit'")
			}
			refs--
		}
		if refs != 1 {
			return nil, fmt.Errorf("exactly one of tag, commit, branch is required")
		}

	case "local":
		src.Kind = SourceLocal
		if filepath.IsAbs(js.URL) {
			src.LocalPath = filepath.Clean(js.URL)
		} else {
			src.LocalPath = filepath.Join(base, js.URL)
		}

	default:
		return nil, fmt.Errorf("invalid source type '%s'", js.Type)
	}

	return src, nil
}
