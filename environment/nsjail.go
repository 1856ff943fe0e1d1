//go:build linux

package environment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"go-forge/catalog"
	"go-forge/log"
)

func init() {
	Register("nsjail", func() Environment {
		return &NsjailEnvironment{}
	})
}

// NsjailEnvironment runs build steps under sudo nsjail in a user
// namespace, with the target root filesystem and the sources directory
// bind-mounted in. Pause and resume are delivered as SIGSTOP/SIGCONT to
// the sandbox process group.
type NsjailEnvironment struct {
	cfg    BuildConfig
	logger log.LibraryLogger

	mu      sync.Mutex
	current *exec.Cmd
}

// Setup records the configuration. The sandbox itself is per-command;
// there is nothing to mount ahead of time.
func (e *NsjailEnvironment) Setup(cfg BuildConfig, logger log.LibraryLogger) error {
	e.cfg = cfg
	e.logger = logger
	return nil
}

func (e *NsjailEnvironment) sandboxEnv(deps []catalog.PackageLike) []string {
	env := []string{
		"FORGE_TARGET=" + e.cfg.TargetTriplet,
		"FORGE_HOST=" + e.cfg.HostTriplet,
		"CFLAGS=" + e.cfg.FinalCFlags,
		"CXXFLAGS=" + e.cfg.FinalCXXFlags,
		"CPPFLAGS=" + e.cfg.FinalCPPFlags,
		"LDFLAGS=" + e.cfg.FinalLDFlags,
	}
	if e.cfg.Target32Triplet != "" {
		env = append(env, "FORGE_TARGET32="+e.cfg.Target32Triplet)
	}
	if e.cfg.Host32Triplet != "" {
		env = append(env, "FORGE_HOST32="+e.cfg.Host32Triplet)
	}
	for _, dep := range deps {
		env = append(env, "FORGE_DEPS="+dep.PackageName()+"-"+dep.PackageVersion())
	}
	return env
}

// RunBuild executes the build steps one at a time, each as a fresh
// nsjail invocation sharing the same binds and environment.
func (e *NsjailEnvironment) RunBuild(ctx context.Context, build *catalog.Build, deps []catalog.PackageLike, buildLog *log.BuildLogger) error {
	for _, step := range build.BuildSteps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.runStep(ctx, build, deps, step, buildLog); err != nil {
			return err
		}
	}
	return nil
}

func (e *NsjailEnvironment) runStep(ctx context.Context, build *catalog.Build, deps []catalog.PackageLike, step catalog.Command, buildLog *log.BuildLogger) error {
	args := []string{
		"nsjail",
		"--quiet",
		"--user", "0:100000:65536",
		"--group", "0:100000:65536",
		"--bindmount", e.cfg.RootFSPath + ":/",
		"--bindmount_ro", e.cfg.OutDir + "/sources:/sources",
	}
	for _, kv := range e.sandboxEnv(deps) {
		args = append(args, "--env", kv)
	}
	args = append(args, "--", "/bin/sh", "-c", "umask 022 && "+step.Command)

	cmd := exec.CommandContext(ctx, "sudo", args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	buildLog.WriteCommand(step.Command)

	if err := cmd.Start(); err != nil {
		return &ErrExecutionFailed{Build: build.Name, Command: step.Command, Err: err}
	}

	e.mu.Lock()
	e.current = cmd
	e.mu.Unlock()

	err := cmd.Wait()

	e.mu.Lock()
	e.current = nil
	e.mu.Unlock()

	if output.Len() > 0 {
		buildLog.WriteOutput(strings.TrimRight(output.String(), "\n"))
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ErrExecutionFailed{
				Build:    build.Name,
				Command:  step.Command,
				ExitCode: exitErr.ExitCode(),
				Err:      err,
			}
		}
		return &ErrExecutionFailed{Build: build.Name, Command: step.Command, Err: err}
	}

	if step.ExpectedOutput != "" && output.String() != step.ExpectedOutput {
		return &ErrExecutionFailed{
			Build:   build.Name,
			Command: step.Command,
			Err:     fmt.Errorf("unexpected output: %q", output.String()),
		}
	}

	return nil
}

// Pause stops the sandbox process group.
func (e *NsjailEnvironment) Pause() error {
	return e.signal(syscall.SIGSTOP)
}

// Resume continues the sandbox process group.
func (e *NsjailEnvironment) Resume() error {
	return e.signal(syscall.SIGCONT)
}

func (e *NsjailEnvironment) signal(sig syscall.Signal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil || e.current.Process == nil {
		return nil
	}
	return syscall.Kill(-e.current.Process.Pid, sig)
}

// Cleanup has nothing persistent to tear down.
func (e *NsjailEnvironment) Cleanup() error {
	return nil
}
