// Package environment abstracts sandboxed execution of build steps.
// The Environment interface keeps the scheduler ignorant of how builds
// are isolated; backends register themselves by name:
//   - "nsjail": sudo + nsjail user-namespace sandbox
//   - "mock": testing backend, no isolation
package environment

import (
	"context"
	"fmt"

	"go-forge/catalog"
	"go-forge/log"
)

// BuildConfig carries the configuration an environment needs without
// depending on the full config package.
type BuildConfig struct {
	RootFSPath string
	OutDir     string

	TargetTriplet   string
	Target32Triplet string
	HostTriplet     string
	Host32Triplet   string

	FinalCFlags   string
	FinalCXXFlags string
	FinalCPPFlags string
	FinalLDFlags  string
}

// Environment runs build steps in isolation.
type Environment interface {
	Setup(cfg BuildConfig, logger log.LibraryLogger) error

	// RunBuild executes every build step of build inside the sandbox.
	// deps are the resolved build dependencies in install order; the
	// nsjail backend passes them to each command as FORGE_DEPS
	// environment entries and does not install them into the sandbox.
	// Respects context cancellation.
	RunBuild(ctx context.Context, build *catalog.Build, deps []catalog.PackageLike, buildLog *log.BuildLogger) error

	// Pause suspends the build's process tree; Resume continues it.
	// Both are no-ops while nothing is running.
	Pause() error
	Resume() error

	// Cleanup tears the sandbox down. Idempotent.
	Cleanup() error
}

// NewEnvironmentFunc constructs a backend instance.
type NewEnvironmentFunc func() Environment

var backends = make(map[string]NewEnvironmentFunc)

// Register registers an environment backend. Panics on duplicates.
func Register(name string, fn NewEnvironmentFunc) {
	if _, exists := backends[name]; exists {
		panic(fmt.Sprintf("environment backend already registered: %s", name))
	}
	backends[name] = fn
}

// New creates an Environment for the named backend.
func New(backend string) (Environment, error) {
	fn, ok := backends[backend]
	if !ok {
		return nil, &ErrUnknownBackend{Backend: backend}
	}
	return fn(), nil
}

// ErrUnknownBackend is returned for unregistered backends.
type ErrUnknownBackend struct {
	Backend string
}

func (e *ErrUnknownBackend) Error() string {
	return fmt.Sprintf("unknown environment backend: %s", e.Backend)
}

// ErrExecutionFailed reports a failed build step.
type ErrExecutionFailed struct {
	Build    string
	Command  string
	ExitCode int
	Err      error
}

func (e *ErrExecutionFailed) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("build %s: command %q exited with code %d", e.Build, e.Command, e.ExitCode)
	}
	return fmt.Sprintf("build %s: command %q failed: %v", e.Build, e.Command, e.Err)
}

func (e *ErrExecutionFailed) Unwrap() error {
	return e.Err
}
