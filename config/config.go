// Package config loads and validates go-forge configuration from an
// INI file and derives the host toolchain triplets.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/renameio"
	"golang.org/x/sys/unix"
	"gopkg.in/ini.v1"

	"go-forge/download"
	"go-forge/util"
)

// Config holds all go-forge configuration.
type Config struct {
	// Paths
	RootFSPath string
	OutDir     string
	LogsPath   string

	// Toolchain triplets
	TargetTriplet   string
	Target32Triplet string
	HostTriplet     string
	Host32Triplet   string

	// Compiler and linker defaults
	FinalCFlags   string
	FinalCXXFlags string
	FinalCPPFlags string
	FinalLDFlags  string

	// Scheduler tuning
	MaxParallelBuilds  int
	LoadSamplingPeriod time.Duration
	LoadSampleSize     int
	ConfigureDelay     time.Duration
	MaxLoad            int

	// Network
	Mirrors               []download.MirrorRule
	MaxConnections        int
	MaxConnectionsPerHost int
}

// LoadConfig loads configuration from path, applying defaults for
// everything unset. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		RootFSPath:            "/",
		OutDir:                "build",
		MaxParallelBuilds:     runtime.NumCPU(),
		LoadSamplingPeriod:    125 * time.Millisecond,
		LoadSampleSize:        15,
		ConfigureDelay:        5 * time.Second,
		MaxLoad:               runtime.NumCPU() * 2,
		MaxConnections:        5,
		MaxConnectionsPerHost: 1,
	}

	if path != "" && util.FileExists(path) {
		if err := cfg.parseINI(path); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if cfg.LogsPath == "" {
		cfg.LogsPath = cfg.OutDir + "/logs"
	}

	return cfg, nil
}

func (cfg *Config) parseINI(path string) error {
	file, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, path)
	if err != nil {
		return err
	}

	section := file.Section("")

	readString := func(key string, dst *string) {
		if section.HasKey(key) {
			*dst = section.Key(key).String()
		}
	}
	readInt := func(key string, dst *int) {
		if section.HasKey(key) {
			if n, err := section.Key(key).Int(); err == nil {
				*dst = n
			}
		}
	}
	readSeconds := func(key string, dst *time.Duration) {
		if section.HasKey(key) {
			if f, err := section.Key(key).Float64(); err == nil {
				*dst = time.Duration(f * float64(time.Second))
			}
		}
	}

	readString("rootfs_path", &cfg.RootFSPath)
	readString("out_dir", &cfg.OutDir)
	readString("logs_path", &cfg.LogsPath)
	readString("target_triplet", &cfg.TargetTriplet)
	readString("target32_triplet", &cfg.Target32Triplet)
	readString("host_triplet", &cfg.HostTriplet)
	readString("host32_triplet", &cfg.Host32Triplet)
	readString("final_cflags", &cfg.FinalCFlags)
	readString("final_cxxflags", &cfg.FinalCXXFlags)
	readString("final_cppflags", &cfg.FinalCPPFlags)
	readString("final_ldflags", &cfg.FinalLDFlags)
	readInt("max_parallel_builds", &cfg.MaxParallelBuilds)
	readSeconds("load_sampling_period", &cfg.LoadSamplingPeriod)
	readInt("load_sample_size", &cfg.LoadSampleSize)
	readSeconds("configure_delay", &cfg.ConfigureDelay)
	readInt("max_load", &cfg.MaxLoad)
	readInt("max_connections", &cfg.MaxConnections)
	readInt("max_connections_per_host", &cfg.MaxConnectionsPerHost)

	// each mirror line reads "main-prefix mirror-prefix [mirror-prefix...]"
	if section.HasKey("mirror") {
		for _, line := range section.Key("mirror").ValueWithShadows() {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return fmt.Errorf("malformed mirror rule: %q", line)
			}
			cfg.Mirrors = append(cfg.Mirrors, download.MirrorRule{
				MainPrefix: fields[0],
				Mirrors:    fields[1:],
			})
		}
	}

	return nil
}

// TmpTriplet inserts the literal "lfs-" vendor after the architecture of
// a GCC-style triplet: x86_64-linux-musl becomes x86_64-lfs-linux-musl.
func TmpTriplet(triplet string) string {
	arch, rest, ok := strings.Cut(triplet, "-")
	if !ok {
		return triplet
	}
	return arch + "-lfs-" + rest
}

// PrebuildCheck verifies the host can run builds: the sandbox commands
// exist in PATH, the target triplet is set, and the host triplets are
// derived from the target triplets where unset.
func (cfg *Config) PrebuildCheck() error {
	if err := util.CheckCommand("sudo"); err != nil {
		return err
	}
	if err := util.CheckCommand("nsjail"); err != nil {
		return err
	}

	if cfg.TargetTriplet == "" {
		return fmt.Errorf("target_triplet is not set")
	}
	if cfg.HostTriplet == "" {
		cfg.HostTriplet = TmpTriplet(cfg.TargetTriplet)
	}
	if cfg.Target32Triplet != "" && cfg.Host32Triplet == "" {
		cfg.Host32Triplet = TmpTriplet(cfg.Target32Triplet)
	}

	return nil
}

// Validate checks configuration invariants.
func (cfg *Config) Validate() error {
	if cfg.MaxParallelBuilds < 1 {
		return fmt.Errorf("max_parallel_builds must be at least 1")
	}
	if cfg.LoadSampleSize < 1 {
		return fmt.Errorf("load_sample_size must be at least 1")
	}
	if cfg.LoadSamplingPeriod <= 0 {
		return fmt.Errorf("load_sampling_period must be positive")
	}
	if cfg.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be at least 1")
	}
	if cfg.MaxConnectionsPerHost < 1 {
		return fmt.Errorf("max_connections_per_host must be at least 1")
	}
	return nil
}

// LoadDelay is how long the scheduler waits after a scheduling decision
// for the load median to reflect it.
func (cfg *Config) LoadDelay() time.Duration {
	return time.Duration(cfg.LoadSampleSize) * cfg.LoadSamplingPeriod
}

// WriteDefaultConfig writes a commented configuration file atomically.
func WriteDefaultConfig(path string, cfg *Config) error {
	var sb strings.Builder
	sb.WriteString("# go-forge configuration file\n\n")
	sb.WriteString("# Store root of the target filesystem\n")
	fmt.Fprintf(&sb, "rootfs_path = %s\n\n", cfg.RootFSPath)
	sb.WriteString("# GCC-style target triplet (required)\n")
	fmt.Fprintf(&sb, "target_triplet = %s\n\n", cfg.TargetTriplet)
	sb.WriteString("# Scheduler tuning\n")
	fmt.Fprintf(&sb, "max_parallel_builds = %d\n", cfg.MaxParallelBuilds)
	fmt.Fprintf(&sb, "load_sampling_period = %g\n", cfg.LoadSamplingPeriod.Seconds())
	fmt.Fprintf(&sb, "load_sample_size = %d\n", cfg.LoadSampleSize)
	fmt.Fprintf(&sb, "configure_delay = %g\n", cfg.ConfigureDelay.Seconds())
	fmt.Fprintf(&sb, "max_load = %d\n\n", cfg.MaxLoad)
	sb.WriteString("# Network caps\n")
	fmt.Fprintf(&sb, "max_connections = %d\n", cfg.MaxConnections)
	fmt.Fprintf(&sb, "max_connections_per_host = %d\n", cfg.MaxConnectionsPerHost)

	return renameio.WriteFile(path, []byte(sb.String()), 0644)
}

// GetSystemInfo returns host OS information.
func GetSystemInfo() (osname, osversion, arch string, ncpus int) {
	var utsname unix.Utsname
	if err := unix.Uname(&utsname); err == nil {
		osname = strings.TrimRight(string(utsname.Sysname[:]), "\x00")
		osversion = strings.TrimRight(string(utsname.Release[:]), "\x00")
		arch = strings.TrimRight(string(utsname.Machine[:]), "\x00")
	}

	ncpus = runtime.NumCPU()

	return
}
