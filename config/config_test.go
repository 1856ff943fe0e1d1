package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go-forge/download"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forge.ini")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.RootFSPath != "/" {
		t.Errorf("rootfs %q", cfg.RootFSPath)
	}
	if cfg.LoadSamplingPeriod != 125*time.Millisecond {
		t.Errorf("sampling period %v", cfg.LoadSamplingPeriod)
	}
	if cfg.LoadSampleSize != 15 {
		t.Errorf("sample size %d", cfg.LoadSampleSize)
	}
	if cfg.ConfigureDelay != 5*time.Second {
		t.Errorf("configure delay %v", cfg.ConfigureDelay)
	}
	if cfg.MaxConnections != 5 || cfg.MaxConnectionsPerHost != 1 {
		t.Errorf("connection caps %d/%d", cfg.MaxConnections, cfg.MaxConnectionsPerHost)
	}
	if cfg.LogsPath == "" {
		t.Error("logs path not derived")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
rootfs_path = /mnt/lfs
target_triplet = x86_64-linux-musl
final_cflags = -O2 -pipe
max_parallel_builds = 3
load_sampling_period = 0.125
load_sample_size = 5
configure_delay = 5
max_load = 6
max_connections = 8
max_connections_per_host = 2
mirror = https://main-server/ https://m1/ https://m2/
mirror = https://main-server/foo/ https://foo-mirror/
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.RootFSPath != "/mnt/lfs" {
		t.Errorf("rootfs %q", cfg.RootFSPath)
	}
	if cfg.TargetTriplet != "x86_64-linux-musl" {
		t.Errorf("target %q", cfg.TargetTriplet)
	}
	if cfg.FinalCFlags != "-O2 -pipe" {
		t.Errorf("cflags %q", cfg.FinalCFlags)
	}
	if cfg.MaxParallelBuilds != 3 || cfg.MaxLoad != 6 {
		t.Errorf("scheduler knobs %d/%d", cfg.MaxParallelBuilds, cfg.MaxLoad)
	}
	if cfg.LoadSamplingPeriod != 125*time.Millisecond || cfg.LoadSampleSize != 5 {
		t.Errorf("sampling %v/%d", cfg.LoadSamplingPeriod, cfg.LoadSampleSize)
	}
	if cfg.MaxConnections != 8 || cfg.MaxConnectionsPerHost != 2 {
		t.Errorf("connection caps %d/%d", cfg.MaxConnections, cfg.MaxConnectionsPerHost)
	}

	wantMirrors := []download.MirrorRule{
		{MainPrefix: "https://main-server/", Mirrors: []string{"https://m1/", "https://m2/"}},
		{MainPrefix: "https://main-server/foo/", Mirrors: []string{"https://foo-mirror/"}},
	}
	if diff := cmp.Diff(wantMirrors, cfg.Mirrors); diff != "" {
		t.Errorf("mirrors mismatch (-want +got):\n%s", diff)
	}

	if got := cfg.LoadDelay(); got != 625*time.Millisecond {
		t.Errorf("load delay %v", got)
	}
}

func TestLoadConfigMalformedMirror(t *testing.T) {
	path := writeConfig(t, "mirror = onlyonefield\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for malformed mirror rule")
	}
}

func TestTmpTriplet(t *testing.T) {
	if got := TmpTriplet("x86_64-linux-musl"); got != "x86_64-lfs-linux-musl" {
		t.Errorf("got %q", got)
	}
	if got := TmpTriplet("i686-linux-musl"); got != "i686-lfs-linux-musl" {
		t.Errorf("got %q", got)
	}
}

func TestPrebuildCheckTripletDerivation(t *testing.T) {
	// stub sudo and nsjail so the command checks pass
	bin := t.TempDir()
	for _, name := range []string{"sudo", "nsjail"} {
		if err := os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\n"), 0755); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("PATH", bin)

	cfg := &Config{}
	err := cfg.PrebuildCheck()
	if err == nil || err.Error() != "target_triplet is not set" {
		t.Fatalf("got %v", err)
	}

	cfg.TargetTriplet = "x86_64-linux-musl"
	if err := cfg.PrebuildCheck(); err != nil {
		t.Fatal(err)
	}
	if cfg.HostTriplet != "x86_64-lfs-linux-musl" {
		t.Errorf("host triplet %q", cfg.HostTriplet)
	}
	if cfg.Host32Triplet != "" {
		t.Errorf("host32 derived without target32: %q", cfg.Host32Triplet)
	}

	cfg.HostTriplet = "x86_64-foo-linux-musl"
	if err := cfg.PrebuildCheck(); err != nil {
		t.Fatal(err)
	}
	if cfg.HostTriplet != "x86_64-foo-linux-musl" {
		t.Errorf("explicit host triplet overwritten: %q", cfg.HostTriplet)
	}

	cfg.Target32Triplet = "i686-linux-musl"
	if err := cfg.PrebuildCheck(); err != nil {
		t.Fatal(err)
	}
	if cfg.Host32Triplet != "i686-lfs-linux-musl" {
		t.Errorf("host32 triplet %q", cfg.Host32Triplet)
	}
}

func TestPrebuildCheckMissingCommands(t *testing.T) {
	bin := t.TempDir()
	t.Setenv("PATH", bin)

	cfg := &Config{TargetTriplet: "x86_64-linux-musl"}
	err := cfg.PrebuildCheck()
	if err == nil || err.Error() != "command 'sudo' not available" {
		t.Fatalf("got %v", err)
	}

	if err := os.WriteFile(filepath.Join(bin, "sudo"), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	err = cfg.PrebuildCheck()
	if err == nil || err.Error() != "command 'nsjail' not available" {
		t.Fatalf("got %v", err)
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.TargetTriplet = "x86_64-linux-musl"

	path := filepath.Join(t.TempDir(), "forge.ini")
	if err := WriteDefaultConfig(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.TargetTriplet != "x86_64-linux-musl" {
		t.Errorf("round-trip target %q", loaded.TargetTriplet)
	}
	if loaded.LoadSamplingPeriod != cfg.LoadSamplingPeriod {
		t.Errorf("round-trip sampling period %v", loaded.LoadSamplingPeriod)
	}
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}

	cfg.MaxParallelBuilds = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero parallel builds")
	}

	cfg.MaxParallelBuilds = 1
	cfg.MaxConnectionsPerHost = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero per-host connections")
	}
}
