package nix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/joescharf/nixpkgs-review/internal/models"
	"github.com/joescharf/nixpkgs-review/internal/runner"
)

// ErrBuildCancelled is returned when the build phase was interrupted;
// partial results are still valid and must be reported.
var ErrBuildCancelled = errors.New("build cancelled")

// attrRef ties an attribute back to the system it was evaluated for.
type attrRef struct {
	attr   *models.Attr
	system models.System
}

// buildJob is one derivation to realise, with every attribute that
// resolves to it. Derivations are deduplicated across systems.
type buildJob struct {
	drvPath string
	refs    []attrRef
}

// state machine: Pending -> Building -> {Built, Failed}. The external
// builder orders dependencies; this scheduler only rate-limits.

// Build realises every buildable derivation with bounded parallelism,
// streaming per-line output into each attribute's log file and marking
// BuildFailed on the attributes whose builds did not produce their
// outputs.
func (o *Options) Build(ctx context.Context, attrsPerSystem map[models.System][]*models.Attr) error {
	jobs := collectJobs(attrsPerSystem)
	if len(jobs) == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Join(o.CacheDir, "logs"), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	maxJobs := o.MaxJobs
	if maxJobs <= 0 {
		maxJobs = runtime.NumCPU()
	}

	graph, err := o.startBuildGraph(ctx)
	if err != nil {
		return err
	}
	defer graph.close()

	var (
		sem       = semaphore.NewWeighted(int64(maxJobs))
		wg        sync.WaitGroup
		cancelled bool
	)

	for _, job := range jobs {
		// Fair FIFO: acquisition order is dispatch order. A cancelled
		// context stops dispatching; in-flight builds get the
		// propagated signal and are reaped below.
		if err := sem.Acquire(ctx, 1); err != nil {
			cancelled = true
			break
		}
		wg.Add(1)
		go func(job buildJob) {
			defer wg.Done()
			defer sem.Release(1)
			o.buildOne(ctx, job, graph)
		}(job)
	}
	wg.Wait()

	if cancelled || ctx.Err() != nil {
		return ErrBuildCancelled
	}
	return nil
}

// collectJobs gathers buildable attributes into deduplicated jobs in
// deterministic (sorted drv path) order.
func collectJobs(attrsPerSystem map[models.System][]*models.Attr) []buildJob {
	byDrv := map[string]*buildJob{}
	for system, attrs := range attrsPerSystem {
		for _, a := range attrs {
			if a.Broken || a.Blacklisted || !a.Exists || a.DrvPath == "" {
				continue
			}
			j, ok := byDrv[a.DrvPath]
			if !ok {
				j = &buildJob{drvPath: a.DrvPath}
				byDrv[a.DrvPath] = j
			}
			j.refs = append(j.refs, attrRef{attr: a, system: system})
		}
	}
	jobs := make([]buildJob, 0, len(byDrv))
	for _, j := range byDrv {
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].drvPath < jobs[k].drvPath })
	return jobs
}

// buildOne runs the builder for a single derivation and classifies the
// outcome on every attribute referencing it.
func (o *Options) buildOne(ctx context.Context, job buildJob, graph *buildGraph) {
	logSink, closeLogs, err := o.openLogs(job)
	if err != nil {
		for _, ref := range job.refs {
			ref.attr.BuildFailed = true
		}
		return
	}
	defer closeLogs()

	sink := logSink
	if graph != nil && graph.stdin != nil {
		sink = io.MultiWriter(logSink, graph)
	}

	args := []string{"nix-build", "--no-link", "--keep-going", job.drvPath}
	args = append(args, o.BuildArgs...)

	res, err := runner.Run(ctx, runner.Command{
		Args:   args,
		Stdout: sink,
		Stderr: sink,
	})
	failed := err != nil || res.ExitCode != 0

	for _, ref := range job.refs {
		if failed || !o.outputsExist(ctx, ref.attr) {
			ref.attr.BuildFailed = true
		}
	}
}

// openLogs opens one log file per referencing attribute; the returned
// writer tees build output to all of them, flushed per line.
func (o *Options) openLogs(job buildJob) (io.Writer, func(), error) {
	var (
		writers []io.Writer
		files   []*os.File
	)
	for _, ref := range job.refs {
		f, err := os.Create(LogPath(o.CacheDir, ref.attr.Name, ref.system))
		if err != nil {
			for _, open := range files {
				_ = open.Close()
			}
			return nil, nil, err
		}
		files = append(files, f)
		writers = append(writers, f)
	}
	multi := io.MultiWriter(writers...)
	lw := runner.NewLineWriter(func(line string) {
		fmt.Fprintln(multi, line)
	})
	return lw, func() {
		lw.Flush()
		for _, f := range files {
			_ = f.Close()
		}
	}, nil
}

// outputsExist checks that every expected output path of the attribute
// is present and valid in the store.
func (o *Options) outputsExist(ctx context.Context, a *models.Attr) bool {
	if len(a.OutPaths) == 0 {
		return false
	}
	for _, path := range a.OutPaths {
		args := append([]string{"nix"}, experimentalFeatures...)
		args = append(args, "store", "verify", "--no-contents", "--no-trust", path)
		res, err := runner.Run(ctx, runner.Command{Args: args})
		if err != nil || res.ExitCode != 0 {
			return false
		}
	}
	return true
}

// buildGraph funnels the combined stdout of all concurrent builds
// through a single nom process for a readable build graph.
type buildGraph struct {
	mu    sync.Mutex
	stdin io.WriteCloser
	done  chan struct{}
}

func (g *buildGraph) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stdin.Write(p)
}

func (g *buildGraph) close() {
	if g == nil || g.stdin == nil {
		return
	}
	_ = g.stdin.Close()
	<-g.done
}

// startBuildGraph starts nom when requested and available; otherwise
// builds stream directly to their log files only.
func (o *Options) startBuildGraph(ctx context.Context) (*buildGraph, error) {
	if o.BuildGraph != "nom" || !NomAvailable() {
		return nil, nil
	}
	g := &buildGraph{done: make(chan struct{})}
	pr, pw := io.Pipe()
	g.stdin = pw
	go func() {
		defer close(g.done)
		_, _ = runner.Run(ctx, runner.Command{
			Args:        []string{"nom"},
			StdinReader: pr,
			Stdout:      os.Stdout,
			Stderr:      os.Stderr,
		})
		_ = pr.Close()
	}()
	return g, nil
}
