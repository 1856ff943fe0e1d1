package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go-forge/builddb"
	"go-forge/catalog"
	"go-forge/config"
	"go-forge/download"
	"go-forge/environment"
	"go-forge/graph"
	"go-forge/log"
	"go-forge/sched"
	"go-forge/store"
	"go-forge/ui"
)

var buildCmd = &cobra.Command{
	Use:   "build <catalog.json> [targets...]",
	Short: "Build target builds and their dependencies",
	Long: `Build reads the catalog, plans the dependency graph of build and
download jobs for the given targets and drives it to completion.
Without explicit targets, every build in the catalog is a target.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(flagConfig)
	if err != nil {
		return err
	}
	if flagRootFS != "" {
		cfg.RootFSPath = flagRootFS
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.PrebuildCheck(); err != nil {
		return err
	}

	logger, err := log.NewLogger(cfg.LogsPath)
	if err != nil {
		return err
	}
	defer logger.Close()

	cat, err := catalog.LoadFile(args[0])
	if err != nil {
		return err
	}

	var targets []*catalog.Build
	if len(args) > 1 {
		for _, name := range args[1:] {
			build, ok := cat.Builds[name]
			if !ok {
				return fmt.Errorf("unknown build '%s'", name)
			}
			targets = append(targets, build)
		}
	} else {
		for _, build := range cat.Builds {
			targets = append(targets, build)
		}
	}

	built, err := store.NewReader(cfg.RootFSPath).BuiltPackages()
	if err != nil {
		return err
	}

	builder := &graph.Builder{
		Packages: cat.Packages,
		Built:    built,
		Logger:   logger,
	}
	g, err := builder.CreateBuildJobGraph(targets)
	if err != nil {
		return err
	}
	logger.Info("planned %d jobs for %d targets", g.JobCount, len(targets))

	if err := os.MkdirAll(cfg.OutDir, 0755); err != nil {
		return err
	}
	db, err := builddb.OpenDB(filepath.Join(cfg.OutDir, "builds.db"))
	if err != nil {
		return err
	}
	defer db.Close()

	var monitor ui.Monitor
	if flagDisableUI {
		monitor = ui.NewStdoutMonitor()
	} else {
		monitor = ui.NewNcursesMonitor()
	}
	if err := monitor.Start(); err != nil {
		return err
	}
	defer monitor.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if nm, ok := monitor.(*ui.NcursesMonitor); ok {
		nm.SetInterruptHandler(stop)
	}

	runner := &buildRunner{
		cfg:     cfg,
		db:      db,
		logger:  logger,
		monitor: monitor,
		dl:      download.NewDownloader(cfg.OutDir, logger),
		envs:    make(map[*graph.Job]environment.Environment),
	}

	scheduler := sched.New(sched.Config{
		MaxParallelBuilds:     cfg.MaxParallelBuilds,
		LoadSamplingPeriod:    cfg.LoadSamplingPeriod,
		LoadSampleSize:        cfg.LoadSampleSize,
		ConfigureDelay:        cfg.ConfigureDelay,
		MaxLoad:               cfg.MaxLoad,
		MaxConnections:        cfg.MaxConnections,
		MaxConnectionsPerHost: cfg.MaxConnectionsPerHost,
	}, sched.Hooks{
		RunBuild:    runner.runBuild,
		PauseBuild:  runner.pauseBuild,
		ResumeBuild: runner.resumeBuild,
		Download:    runner.download,
		Verify:      runner.verify,
		FindMirrors: func(url string) []string {
			return download.FindMirrors(cfg.Mirrors, url)
		},
	}, logger)
	scheduler.OnSnapshot = monitor.OnSnapshot

	startTime := time.Now()

	group, runCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return scheduler.Run(runCtx, g)
	})
	err = group.Wait()

	monitor.Stop()
	buildJobs := 0
	for _, job := range g.Jobs() {
		if job.Kind == graph.JobBuild {
			buildJobs++
		}
	}
	logger.WriteSummary(buildJobs,
		int(runner.succeeded.Load()), int(runner.failed.Load()),
		time.Since(startTime))

	if err != nil {
		return err
	}

	fmt.Printf("Built %d jobs in %s\n", g.JobCount, time.Since(startTime).Round(time.Second))
	return nil
}

// buildRunner implements the scheduler hooks against the real sandbox,
// downloader and build database.
type buildRunner struct {
	cfg     *config.Config
	db      *builddb.DB
	logger  *log.Logger
	monitor ui.Monitor
	dl      *download.Downloader

	mu   sync.Mutex
	envs map[*graph.Job]environment.Environment

	succeeded atomic.Int64
	failed    atomic.Int64
}

func (r *buildRunner) runBuild(ctx context.Context, job *graph.Job) error {
	env, err := environment.New("nsjail")
	if err != nil {
		return err
	}
	if err := env.Setup(environment.BuildConfig{
		RootFSPath:      r.cfg.RootFSPath,
		OutDir:          r.cfg.OutDir,
		TargetTriplet:   r.cfg.TargetTriplet,
		Target32Triplet: r.cfg.Target32Triplet,
		HostTriplet:     r.cfg.HostTriplet,
		Host32Triplet:   r.cfg.Host32Triplet,
		FinalCFlags:     r.cfg.FinalCFlags,
		FinalCXXFlags:   r.cfg.FinalCXXFlags,
		FinalCPPFlags:   r.cfg.FinalCPPFlags,
		FinalLDFlags:    r.cfg.FinalLDFlags,
	}, r.logger); err != nil {
		return err
	}

	r.mu.Lock()
	r.envs[job] = env
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.envs, job)
		r.mu.Unlock()
		env.Cleanup()
	}()

	rec := &builddb.BuildRecord{
		UUID:      uuid.New().String(),
		Build:     job.Build.Name,
		Version:   job.Build.Version,
		Status:    builddb.StatusRunning,
		StartTime: time.Now(),
	}
	if err := r.db.SaveRecord(rec); err != nil {
		r.logger.Warn("failed to save build record for %s: %v", job.Build.Name, err)
	}

	buildLog := log.NewBuildLogger(r.cfg.LogsPath, job.Build.Name)
	defer buildLog.Close()
	buildLog.WriteHeader()

	runErr := env.RunBuild(ctx, job.Build, job.ResolvedBuildDeps, buildLog)
	duration := time.Since(rec.StartTime)

	status := builddb.StatusSuccess
	if runErr != nil {
		status = builddb.StatusFailed
	}
	if err := r.db.UpdateRecordStatus(rec.UUID, status, time.Now()); err != nil {
		r.logger.Warn("failed to update build record for %s: %v", job.Build.Name, err)
	}

	if runErr != nil {
		r.failed.Add(1)
		buildLog.WriteFailure(duration, runErr.Error())
		r.logger.Failed(job.Build.Name, runErr.Error())
		r.monitor.LogEvent(fmt.Sprintf("FAILED %s: %v", job.Build.Name, runErr))
		return runErr
	}

	r.succeeded.Add(1)
	buildLog.WriteSuccess(duration)
	r.logger.Success(job.Build.Name)
	r.monitor.LogEvent(fmt.Sprintf("built %s in %s", job.Build.Name, duration.Round(time.Second)))
	return nil
}

func (r *buildRunner) env(job *graph.Job) environment.Environment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.envs[job]
}

func (r *buildRunner) pauseBuild(job *graph.Job) error {
	if env := r.env(job); env != nil {
		return env.Pause()
	}
	return nil
}

func (r *buildRunner) resumeBuild(job *graph.Job) error {
	if env := r.env(job); env != nil {
		return env.Resume()
	}
	return nil
}

func (r *buildRunner) download(ctx context.Context, job *graph.Job, origURL, mirrorURL string) error {
	if job.Source.Kind != catalog.SourceHTTP {
		return &download.DownloadError{
			URL:    origURL,
			Reason: fmt.Sprintf("%s sources are not supported yet", job.Source.Kind),
		}
	}
	return r.dl.Fetch(ctx, origURL, mirrorURL)
}

func (r *buildRunner) verify(ctx context.Context, job *graph.Job) error {
	return r.dl.Verify(ctx, job.Source)
}
