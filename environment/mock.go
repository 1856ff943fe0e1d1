package environment

import (
	"context"
	"sync"

	"go-forge/catalog"
	"go-forge/log"
)

func init() {
	Register("mock", func() Environment {
		return NewMockEnvironment()
	})
}

// MockEnvironment records calls instead of executing anything. After
// Hold, builds block until Release (or the context) fires, so tests can
// hold a build "running" deliberately.
type MockEnvironment struct {
	mu       sync.Mutex
	setup    bool
	paused   bool
	ranSteps []string

	FailWith error
	release  chan struct{}
}

// NewMockEnvironment creates a mock whose builds complete immediately.
func NewMockEnvironment() *MockEnvironment {
	return &MockEnvironment{}
}

// Hold makes subsequent RunBuild calls block until Release.
func (e *MockEnvironment) Hold() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.release = make(chan struct{})
}

// Release unblocks a held RunBuild.
func (e *MockEnvironment) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.release != nil {
		close(e.release)
		e.release = nil
	}
}

func (e *MockEnvironment) Setup(cfg BuildConfig, logger log.LibraryLogger) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setup = true
	return nil
}

func (e *MockEnvironment) RunBuild(ctx context.Context, build *catalog.Build, deps []catalog.PackageLike, buildLog *log.BuildLogger) error {
	e.mu.Lock()
	for _, step := range build.BuildSteps {
		e.ranSteps = append(e.ranSteps, step.Command)
	}
	release := e.release
	failWith := e.FailWith
	e.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return failWith
}

func (e *MockEnvironment) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	return nil
}

func (e *MockEnvironment) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	return nil
}

func (e *MockEnvironment) Cleanup() error {
	return nil
}

// Paused reports whether the environment is currently paused.
func (e *MockEnvironment) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// RanSteps returns the commands RunBuild has seen, in order.
func (e *MockEnvironment) RanSteps() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	steps := make([]string, len(e.ranSteps))
	copy(steps, e.ranSteps)
	return steps
}
