// Package sched drives the build job graph to completion: it samples
// system load into a moving median, admits builds under bounded
// parallelism, pauses the youngest running build when the host is
// overloaded, dispatches downloads under per-host connection caps and
// cancels everything in flight when any task fails.
//
// One goroutine (the Run loop) owns all scheduling state. Build,
// download and verify work runs in task goroutines that communicate
// with the loop only through the completion channel, so no scheduling
// structure needs a lock.
package sched

import (
	"context"
	"time"

	"go-forge/download"
	"go-forge/graph"
	"go-forge/log"
	"go-forge/stats"
)

// Config tunes the scheduler.
type Config struct {
	MaxParallelBuilds     int
	LoadSamplingPeriod    time.Duration
	LoadSampleSize        int
	ConfigureDelay        time.Duration
	MaxLoad               int
	MaxConnections        int
	MaxConnectionsPerHost int
}

// Hooks are the injected task implementations. RunBuild, Download and
// Verify run in task goroutines and must return promptly once ctx is
// cancelled; PauseBuild and ResumeBuild are called from the scheduling
// loop. Load reads the instantaneous runnable-process count.
type Hooks struct {
	RunBuild    func(ctx context.Context, job *graph.Job) error
	PauseBuild  func(job *graph.Job) error
	ResumeBuild func(job *graph.Job) error
	Download    func(ctx context.Context, job *graph.Job, origURL, mirrorURL string) error
	Verify      func(ctx context.Context, job *graph.Job) error
	FindMirrors func(url string) []string
	Load        func() (int, error)
}

// Snapshot is the scheduler state surfaced to progress consumers on
// every sampling tick.
type Snapshot struct {
	LoadMedian  int
	Running     []string
	Paused      []string
	Runnable    int
	Downloading []string
	Verifying   []string
	WaitingDL   int
	Done        int
	JobCount    int
}

type eventKind int

const (
	buildDone eventKind = iota
	downloadDone
	verifyDone
)

type event struct {
	kind  eventKind
	build *buildTask
	dl    *dlTask
	vf    *verifyTask
	err   error
}

type buildTask struct {
	job *graph.Job
}

type dlTask struct {
	job    *graph.Job
	host   string
	url    string
	mirror string
}

type verifyTask struct {
	job *graph.Job
}

// Scheduler drives one graph run. A Scheduler is single-use.
type Scheduler struct {
	cfg    Config
	hooks  Hooks
	logger log.LibraryLogger

	// OnSnapshot, when set, receives a state snapshot every sampling
	// tick and a final one when the run ends.
	OnSnapshot func(Snapshot)

	window *stats.MedianWindow
	events chan event

	runnable  buildQueue
	waitingDL admissionList

	running []*buildTask // insertion-ordered; pause pops the youngest
	paused  []*buildTask // FIFO; resume takes the oldest

	downloading map[*dlTask]struct{}
	verifying   map[*verifyTask]struct{}

	hostConns  map[string]int
	totalConns int

	arrived map[*graph.Job]int // completed predecessors per job
	parts   map[*graph.Job]int // finished fetches per download job

	inflight int // task goroutines started and not yet reaped
	done     int // completed build+download jobs
	jobCount int

	taskCtx        context.Context // shared by all task goroutines
	nextScheduling time.Time

	loadWarned bool
}

// New creates a scheduler. Nil hooks get defaults: load from the OS
// sampler, mirror lookup returning the URL itself.
func New(cfg Config, hooks Hooks, logger log.LibraryLogger) *Scheduler {
	if hooks.FindMirrors == nil {
		hooks.FindMirrors = func(url string) []string { return []string{url} }
	}
	if hooks.Load == nil {
		hooks.Load = stats.GetLoad
	}
	if logger == nil {
		logger = log.NoOpLogger{}
	}

	return &Scheduler{
		cfg:         cfg,
		hooks:       hooks,
		logger:      logger,
		window:      stats.NewMedianWindow(cfg.LoadSampleSize),
		events:      make(chan event, 64),
		downloading: make(map[*dlTask]struct{}),
		verifying:   make(map[*verifyTask]struct{}),
		hostConns:   make(map[string]int),
		arrived:     make(map[*graph.Job]int),
		parts:       make(map[*graph.Job]int),
	}
}

// loadDelay is how long a scheduling decision needs before the load
// median reflects it: one full sample window.
func (s *Scheduler) loadDelay() time.Duration {
	return time.Duration(s.cfg.LoadSampleSize) * s.cfg.LoadSamplingPeriod
}

// Run executes the graph and returns when every job has completed or
// any task has failed. On failure all in-flight tasks are cancelled
// and awaited before the original error is returned.
func (s *Scheduler) Run(ctx context.Context, g *graph.Graph) error {
	s.jobCount = g.JobCount

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.taskCtx = runCtx

	// the root is a nop: completing it seeds the ready queues
	s.propagate(g.Root)

	s.sampleLoad()
	s.scheduleBuilds(time.Now())
	s.scheduleDownloads()
	s.snapshot()

	ticker := time.NewTicker(s.cfg.LoadSamplingPeriod)
	defer ticker.Stop()

	for !s.idle() {
		select {
		case <-ctx.Done():
			return s.cancelAll(cancel, ctx.Err())

		case ev := <-s.events:
			s.inflight--
			if ev.err != nil {
				return s.cancelAll(cancel, ev.err)
			}
			s.handleCompletion(ev)
			s.scheduleBuilds(time.Now())
			s.scheduleDownloads()

		case <-ticker.C:
			s.sampleLoad()
			s.scheduleBuilds(time.Now())
			s.scheduleDownloads()
			s.snapshot()
		}
	}

	s.snapshot()
	return nil
}

// idle reports whether every queue, stack and in-flight set is empty.
func (s *Scheduler) idle() bool {
	return s.runnable.Len() == 0 &&
		len(s.running) == 0 &&
		len(s.paused) == 0 &&
		s.waitingDL.Len() == 0 &&
		len(s.downloading) == 0 &&
		len(s.verifying) == 0
}

func (s *Scheduler) sampleLoad() {
	load, err := s.hooks.Load()
	if err != nil {
		if !s.loadWarned {
			s.logger.Warn("load sampling unavailable: %v", err)
			s.loadWarned = true
		}
		load = 0
	}
	s.window.Push(load)
}

// propagate records the completion of job at its successors; successors
// with all predecessors done become schedulable. Nop successors
// complete immediately and propagate on.
func (s *Scheduler) propagate(job *graph.Job) {
	for _, next := range job.Edges {
		s.arrived[next]++
		if s.arrived[next] < next.NumIncident {
			continue
		}
		switch next.Kind {
		case graph.JobBuild:
			s.runnable.Push(next)
		case graph.JobDownload:
			s.admit(next)
		case graph.JobNop:
			s.propagate(next)
		}
	}
}

// admit queues the fetches of a download job: the payload, plus the
// detached signature when the source has one.
func (s *Scheduler) admit(job *graph.Job) {
	s.waitingDL.Add(job, job.Source.URL)
	if job.Source.GPGSig != "" {
		s.waitingDL.Add(job, job.Source.GPGSig)
	}
}

// scheduleBuilds performs at most one build scheduling action per call:
// resume before start before pause, gated on the settle deadline.
func (s *Scheduler) scheduleBuilds(now time.Time) {
	if now.Before(s.nextScheduling) {
		return
	}

	median := s.window.Median()

	if len(s.paused) > 0 &&
		median < s.cfg.MaxParallelBuilds &&
		len(s.running) < s.cfg.MaxParallelBuilds {
		task := s.paused[0]
		s.paused = s.paused[1:]
		s.running = append(s.running, task)
		s.nextScheduling = now.Add(s.loadDelay())

		s.logger.Debug("resuming build %s", task.job.Name)
		if err := s.hooks.ResumeBuild(task.job); err != nil {
			s.logger.Error("failed to resume %s: %v", task.job.Name, err)
		}
		return
	}

	if s.runnable.Len() > 0 &&
		median < s.cfg.MaxParallelBuilds &&
		len(s.running) < s.cfg.MaxParallelBuilds {
		job := s.runnable.Pop()
		task := &buildTask{job: job}
		s.running = append(s.running, task)
		// configure scripts are mostly single-threaded and would
		// mislead the median, so give new builds extra settle time
		s.nextScheduling = now.Add(s.loadDelay() + s.cfg.ConfigureDelay)

		s.logger.Debug("starting build %s", job.Name)
		s.startBuild(task)
		return
	}

	if median >= s.cfg.MaxLoad && len(s.running) >= 2 {
		task := s.running[len(s.running)-1]
		s.running = s.running[:len(s.running)-1]
		s.paused = append(s.paused, task)
		s.nextScheduling = now.Add(s.loadDelay())

		s.logger.Debug("pausing build %s", task.job.Name)
		if err := s.hooks.PauseBuild(task.job); err != nil {
			s.logger.Error("failed to pause %s: %v", task.job.Name, err)
		}
	}
}

func (s *Scheduler) startBuild(task *buildTask) {
	s.spawn(func(ctx context.Context) event {
		err := s.hooks.RunBuild(ctx, task.job)
		return event{kind: buildDone, build: task, err: err}
	})
}

// scheduleDownloads admits waiting fetches in priority order. For each
// admission the mirror candidates are filtered to hosts below the
// per-host cap and the least busy host wins; admission stops at the
// total connection cap. Admissions whose every candidate host is
// saturated are skipped, letting lower-priority fetches to other hosts
// proceed.
func (s *Scheduler) scheduleDownloads() {
	i := 0
	for i < s.waitingDL.Len() && s.totalConns < s.cfg.MaxConnections {
		adm := s.waitingDL.At(i)

		bestURL := ""
		bestHost := ""
		bestCount := s.cfg.MaxConnectionsPerHost
		for _, mirror := range s.hooks.FindMirrors(adm.url) {
			host := download.Hostname(mirror)
			if s.hostConns[host] < bestCount {
				bestURL = mirror
				bestHost = host
				bestCount = s.hostConns[host]
			}
		}
		if bestURL == "" {
			i++
			continue
		}

		s.waitingDL.Remove(i)
		s.hostConns[bestHost]++
		s.totalConns++

		task := &dlTask{job: adm.job, host: bestHost, url: adm.url, mirror: bestURL}
		s.downloading[task] = struct{}{}

		s.logger.Debug("fetching %s via %s", task.url, task.mirror)
		s.spawn(func(taskCtx context.Context) event {
			err := s.hooks.Download(taskCtx, task.job, task.url, task.mirror)
			return event{kind: downloadDone, dl: task, err: err}
		})
	}
}

// handleCompletion updates live sets for a finished task and propagates
// job completion. A download job propagates only after its verify task
// has finished.
func (s *Scheduler) handleCompletion(ev event) {
	switch ev.kind {
	case buildDone:
		for i, task := range s.running {
			if task == ev.build {
				s.running = append(s.running[:i], s.running[i+1:]...)
				break
			}
		}
		for i, task := range s.paused {
			if task == ev.build {
				s.paused = append(s.paused[:i], s.paused[i+1:]...)
				break
			}
		}
		s.done++
		s.propagate(ev.build.job)

	case downloadDone:
		s.hostConns[ev.dl.host]--
		if s.hostConns[ev.dl.host] == 0 {
			delete(s.hostConns, ev.dl.host)
		}
		s.totalConns--
		delete(s.downloading, ev.dl)

		job := ev.dl.job
		s.parts[job]++
		if s.parts[job] == job.DownloadTotal {
			task := &verifyTask{job: job}
			s.verifying[task] = struct{}{}
			s.spawn(func(taskCtx context.Context) event {
				err := s.hooks.Verify(taskCtx, task.job)
				return event{kind: verifyDone, vf: task, err: err}
			})
		}

	case verifyDone:
		delete(s.verifying, ev.vf)
		s.done++
		s.propagate(ev.vf.job)
	}
}

// cancelAll implements failure shutdown: paused builds are resumed so
// their tasks observe cancellation, the shared context is cancelled,
// and every in-flight task is awaited before the original error is
// returned.
func (s *Scheduler) cancelAll(cancel context.CancelFunc, cause error) error {
	for _, task := range s.paused {
		if err := s.hooks.ResumeBuild(task.job); err != nil {
			s.logger.Error("failed to resume %s during cancellation: %v", task.job.Name, err)
		}
		s.running = append(s.running, task)
	}
	s.paused = nil

	cancel()

	for s.inflight > 0 {
		<-s.events
		s.inflight--
	}

	s.snapshot()
	return cause
}

type taskFunc func(ctx context.Context) event

func (s *Scheduler) spawn(fn taskFunc) {
	s.inflight++
	ctx := s.taskCtx
	go func() {
		s.events <- fn(ctx)
	}()
}

func (s *Scheduler) snapshot() {
	if s.OnSnapshot == nil {
		return
	}

	snap := Snapshot{
		LoadMedian: s.window.Median(),
		Runnable:   s.runnable.Len(),
		WaitingDL:  s.waitingDL.Len(),
		Done:       s.done,
		JobCount:   s.jobCount,
	}
	for _, task := range s.running {
		snap.Running = append(snap.Running, task.job.Name)
	}
	for _, task := range s.paused {
		snap.Paused = append(snap.Paused, task.job.Name)
	}
	for task := range s.downloading {
		snap.Downloading = append(snap.Downloading, task.url)
	}
	for task := range s.verifying {
		snap.Verifying = append(snap.Verifying, task.job.Name)
	}
	s.OnSnapshot(snap)
}
