package environment

import (
	"context"
	"errors"
	"testing"

	"go-forge/catalog"
	"go-forge/log"
)

func TestRegistry(t *testing.T) {
	env, err := New("mock")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := env.(*MockEnvironment); !ok {
		t.Fatalf("got %T", env)
	}

	_, err = New("nonexistent")
	var unknown *ErrUnknownBackend
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestMockRunBuild(t *testing.T) {
	env := NewMockEnvironment()
	if err := env.Setup(BuildConfig{}, log.NoOpLogger{}); err != nil {
		t.Fatal(err)
	}

	build := &catalog.Build{
		Name: "b",
		BuildSteps: []catalog.Command{
			{Command: "./configure"},
			{Command: "make"},
		},
	}
	bl := log.NewBuildLogger(t.TempDir(), "b")
	defer bl.Close()

	if err := env.RunBuild(context.Background(), build, nil, bl); err != nil {
		t.Fatal(err)
	}
	steps := env.RanSteps()
	if len(steps) != 2 || steps[0] != "./configure" || steps[1] != "make" {
		t.Errorf("steps %v", steps)
	}
}

func TestMockHoldObservesCancellation(t *testing.T) {
	env := NewMockEnvironment()
	env.Hold()

	ctx, cancel := context.WithCancel(context.Background())
	bl := log.NewBuildLogger(t.TempDir(), "b")
	defer bl.Close()

	done := make(chan error, 1)
	go func() {
		done <- env.RunBuild(ctx, &catalog.Build{Name: "b"}, nil, bl)
	}()

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("got %v", err)
	}
}

func TestMockPauseResume(t *testing.T) {
	env := NewMockEnvironment()
	if env.Paused() {
		t.Error("paused before Pause")
	}
	if err := env.Pause(); err != nil {
		t.Fatal(err)
	}
	if !env.Paused() {
		t.Error("not paused after Pause")
	}
	if err := env.Resume(); err != nil {
		t.Fatal(err)
	}
	if env.Paused() {
		t.Error("paused after Resume")
	}
}
