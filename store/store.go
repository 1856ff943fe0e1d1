// Package store reads the on-disk store of built packages under
// <rootfs>/usr/pkg. The layout is fixed: one directory per package, one
// subdirectory per built version, a `latest` symlink naming the current
// version, `.deps` symlinks naming runtime dependencies, and an
// `installed` directory of symlinks marking packages installed on the
// target.
package store

import (
	"os"
	"path/filepath"

	"go-forge/catalog"
)

// reserved entries at the store root that are not package directories
const (
	reservedVersion   = "version"
	reservedInstalled = "installed"
)

// LatestKey indexes the record of the version the `latest` symlink
// points at.
const LatestKey = "latest"

// BuiltPackage is a read-only snapshot of one built package version.
type BuiltPackage struct {
	Name    string
	Version string
	Deps    []string
}

// PackageName implements catalog.PackageLike.
func (b *BuiltPackage) PackageName() string { return b.Name }

// PackageVersion implements catalog.PackageLike.
func (b *BuiltPackage) PackageVersion() string { return b.Version }

// PackageDeps implements catalog.PackageLike. Store dependency links
// carry no alternatives; each name forms its own group.
func (b *BuiltPackage) PackageDeps() []catalog.OrGroup {
	groups := make([]catalog.OrGroup, len(b.Deps))
	for i, dep := range b.Deps {
		groups[i] = catalog.OrGroup{{Name: dep}}
	}
	return groups
}

// BuiltMap maps package name to version (or LatestKey) to record.
type BuiltMap map[string]map[string]*BuiltPackage

// Has reports whether any version of name is built.
func (m BuiltMap) Has(name string) bool {
	_, ok := m[name]
	return ok
}

// HasVersion reports whether name is built at exactly version.
func (m BuiltMap) HasVersion(name, version string) bool {
	versions, ok := m[name]
	if !ok {
		return false
	}
	_, ok = versions[version]
	return ok
}

// Latest returns the record behind the `latest` symlink, or nil.
func (m BuiltMap) Latest(name string) *BuiltPackage {
	versions, ok := m[name]
	if !ok {
		return nil
	}
	return versions[LatestKey]
}

// Lookup implements catalog.Provider over the latest entries.
func (m BuiltMap) Lookup(name string) (catalog.PackageLike, bool) {
	latest := m.Latest(name)
	if latest == nil {
		return nil, false
	}
	return latest, true
}

// Reader enumerates built and installed packages under a root
// filesystem.
type Reader struct {
	RootFS string
}

// NewReader creates a Reader over the given root filesystem path.
func NewReader(rootfs string) *Reader {
	return &Reader{RootFS: rootfs}
}

func (r *Reader) storeDir() string {
	return filepath.Join(r.RootFS, "usr", "pkg")
}

// builtPackageFromFS constructs a record from a version directory,
// reading the `.deps` link names if present.
func builtPackageFromFS(versionDir string) (*BuiltPackage, error) {
	b := &BuiltPackage{
		Name:    filepath.Base(filepath.Dir(versionDir)),
		Version: filepath.Base(versionDir),
	}

	depsDir := filepath.Join(versionDir, ".deps")
	entries, err := os.ReadDir(depsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, &StoreError{Op: "read deps", Path: depsDir, Err: err}
	}
	for _, entry := range entries {
		b.Deps = append(b.Deps, entry.Name())
	}
	return b, nil
}

// BuiltPackages enumerates every built package version in the store,
// additionally indexing the version named by each package's `latest`
// symlink under LatestKey. A missing or dangling `latest` link is fatal.
// A missing store yields an empty map.
func (r *Reader) BuiltPackages() (BuiltMap, error) {
	storeDir := r.storeDir()
	result := make(BuiltMap)

	packages, err := os.ReadDir(storeDir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, &StoreError{Op: "read store", Path: storeDir, Err: err}
	}

	for _, pkg := range packages {
		name := pkg.Name()
		if name == reservedVersion || name == reservedInstalled {
			continue
		}

		pkgDir := filepath.Join(storeDir, name)
		versions, err := os.ReadDir(pkgDir)
		if err != nil {
			return nil, &StoreError{Op: "read package", Path: pkgDir, Err: err}
		}

		byVersion := make(map[string]*BuiltPackage)
		for _, version := range versions {
			if version.Name() == LatestKey {
				continue
			}
			built, err := builtPackageFromFS(filepath.Join(pkgDir, version.Name()))
			if err != nil {
				return nil, err
			}
			byVersion[built.Version] = built
		}

		latestLink := filepath.Join(pkgDir, LatestKey)
		target, err := os.Readlink(latestLink)
		if err != nil {
			return nil, &StoreError{Op: "read latest link", Path: latestLink, Err: ErrLatestMissing}
		}
		latest, ok := byVersion[filepath.Base(target)]
		if !ok {
			return nil, &StoreError{Op: "resolve latest link", Path: latestLink, Err: ErrLatestMissing}
		}
		byVersion[LatestKey] = latest

		result[name] = byVersion
	}

	return result, nil
}

// InstalledPackages resolves each symlink under <store>/installed. Link
// targets must live exactly two levels below the store root.
func (r *Reader) InstalledPackages() (map[string]*BuiltPackage, error) {
	storeDir := r.storeDir()
	installedDir := filepath.Join(storeDir, reservedInstalled)
	result := make(map[string]*BuiltPackage)

	links, err := os.ReadDir(installedDir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, &StoreError{Op: "read installed", Path: installedDir, Err: err}
	}

	for _, link := range links {
		linkPath := filepath.Join(installedDir, link.Name())
		target, err := filepath.EvalSymlinks(linkPath)
		if err != nil {
			return nil, &StoreError{Op: "resolve installed link", Path: linkPath, Err: err}
		}

		realStore, err := filepath.EvalSymlinks(storeDir)
		if err != nil {
			return nil, &StoreError{Op: "resolve store", Path: storeDir, Err: err}
		}
		if filepath.Dir(filepath.Dir(target)) != realStore {
			return nil, &StoreError{Op: "check installed link", Path: linkPath, Err: ErrBadInstalledLink}
		}

		installed, err := builtPackageFromFS(target)
		if err != nil {
			return nil, err
		}
		result[installed.Name] = installed
	}

	return result, nil
}
