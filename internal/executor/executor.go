// Package executor drives a queue.Queue to completion: it pulls
// dispatchable jobs, runs each in its own OS subprocess via a bounded
// pool of workers, reaps finished workers, enforces per-job and
// session timeouts, and derives the aggregate exit code.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"testexec/internal/job"
	"testexec/internal/queue"
	"testexec/internal/worker"
)

// ExitCode mirrors the engine's documented process exit codes.
type ExitCode int

const (
	ExitOK            ExitCode = 0
	ExitInternalError ExitCode = 1
	ExitInterrupted   ExitCode = 3
	ExitTimeout       ExitCode = 5
	ExitNoTests       ExitCode = 7
)

// ErrFailFast is returned by Run when a job reaches a FAIL category and
// fail-fast is enabled; it carries the ids of jobs that triggered it.
type ErrFailFast struct {
	JobIDs []string
}

func (e *ErrFailFast) Error() string {
	return fmt.Sprintf("executor: fail-fast triggered by %v", e.JobIDs)
}

// ErrSessionTimeout is returned by Run when the configured session
// timeout elapses before the queue drains.
var ErrSessionTimeout = errors.New("executor: session timeout exceeded")

// CommandBuilder constructs the *exec.Cmd that will run one job. It is
// the Go analogue of the "runner" callable the original conductor
// passes to its executor: everything about how a job actually executes
// (subprocess to launch, working directory, argv) is up to the caller.
type CommandBuilder func(ctx context.Context, j job.Job) (*exec.Cmd, error)

// Config bundles the tunables a Pool is constructed with.
type Config struct {
	MaxWorkers        int
	BusyWait          time.Duration
	TimeoutMultiplier float64
	SessionTimeout    time.Duration
	FailFast          bool
	Grace             time.Duration
	Input             InputSource
	FS                afero.Fs
	Logger            *zap.SugaredLogger
}

func (c *Config) setDefaults() {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 1
	}
	if c.BusyWait <= 0 {
		c.BusyWait = 500 * time.Millisecond
	}
	if c.TimeoutMultiplier <= 0 {
		c.TimeoutMultiplier = 1.0
	}
	if c.Grace <= 0 {
		c.Grace = 2 * time.Second
	}
	if c.FS == nil {
		c.FS = afero.NewOsFs()
	}
}

type inflightEntry struct {
	w         *worker.MeasuredWorker
	j         job.Job
	started   time.Time
	effective time.Duration
}

// Pool is the concrete queue executor / worker pool.
type Pool struct {
	queue  *queue.Queue
	build  CommandBuilder
	cfg    Config
	sem    *semaphore.Weighted

	mu       sync.Mutex
	inflight map[int]*inflightEntry

	entered      bool
	snapshotPath string
}

func NewPool(q *queue.Queue, build CommandBuilder, cfg Config) *Pool {
	cfg.setDefaults()
	return &Pool{
		queue:    q,
		build:    build,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		inflight: make(map[int]*inflightEntry),
	}
}

// Enter archives the configuration snapshot (when snapshot is non-nil)
// to a uniquely named file under /tmp/testexec on the configured
// filesystem and returns its path, the Go equivalent of the original's
// __enter__ config-archival step. It does not set any environment
// variable itself.
func (p *Pool) Enter(snapshot []byte) (envPath string, err error) {
	if p.entered {
		return "", fmt.Errorf("executor: already entered")
	}
	if snapshot != nil {
		dir := "/tmp/testexec"
		if err := p.cfg.FS.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("executor: mkdir snapshot dir: %w", err)
		}
		path := fmt.Sprintf("%s/%s.json", dir, uuid.New().String()[:8])
		if err := afero.WriteFile(p.cfg.FS, path, snapshot, 0o644); err != nil {
			return "", fmt.Errorf("executor: write snapshot: %w", err)
		}
		p.snapshotPath = path
	}
	p.entered = true
	return p.snapshotPath, nil
}

// Exit removes the configuration snapshot file, if one was written.
func (p *Pool) Exit() error {
	p.entered = false
	if p.snapshotPath == "" {
		return nil
	}
	err := p.cfg.FS.Remove(p.snapshotPath)
	p.snapshotPath = ""
	return err
}

// Run drives the queue to completion. It requires Enter to have been
// called first.
func (p *Pool) Run(ctx context.Context) (ExitCode, error) {
	if !p.entered {
		return ExitInternalError, fmt.Errorf("executor: Run called before Enter")
	}

	sessionDeadline := time.Time{}
	if p.cfg.SessionTimeout > 0 {
		sessionDeadline = time.Now().Add(p.cfg.SessionTimeout)
	}

	for {
		if cmd, ok := p.pollInput(); ok {
			switch cmd {
			case InputStatus:
				if p.cfg.Logger != nil {
					p.cfg.Logger.Infow("queue status", "status", p.queue.Status())
				}
			case InputQuit:
				p.terminateAll(ctx)
				return ExitInterrupted, nil
			}
		}

		if !sessionDeadline.IsZero() && time.Now().After(sessionDeadline) {
			p.terminateAll(ctx)
			return ExitTimeout, ErrSessionTimeout
		}

		if failed := p.checkTimeouts(ctx); len(failed) > 0 && p.cfg.FailFast {
			p.terminateAll(ctx)
			return ExitInternalError, &ErrFailFast{JobIDs: failed}
		}

		if failed := p.cleanFinished(); len(failed) > 0 && p.cfg.FailFast {
			p.terminateAll(ctx)
			return ExitInternalError, &ErrFailFast{JobIDs: failed}
		}

		if !p.sem.TryAcquire(1) {
			time.Sleep(p.cfg.BusyWait)
			continue
		}

		j, err := p.queue.Get()
		if err != nil {
			p.sem.Release(1)
			if errors.Is(err, queue.ErrBusy) {
				time.Sleep(p.cfg.BusyWait)
				continue
			}
			if errors.Is(err, queue.ErrEmpty) {
				p.waitAll(ctx)
				return p.deriveExitCode(), nil
			}
			return ExitInternalError, err
		}

		if err := p.dispatch(ctx, j); err != nil {
			p.sem.Release(1)
			j.SetStatus(job.Error, err.Error())
			p.queue.Done(j)
		}
	}
}

func (p *Pool) dispatch(ctx context.Context, j job.Job) error {
	cmd, err := p.build(ctx, j)
	if err != nil {
		return fmt.Errorf("executor: build command for %s: %w", j.ID(), err)
	}
	w, err := worker.New(j, cmd)
	if err != nil {
		return fmt.Errorf("executor: new worker for %s: %w", j.ID(), err)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("executor: start worker for %s: %w", j.ID(), err)
	}
	j.SetStatus(job.Running, "")

	effective := time.Duration(float64(j.Timeout()) * p.cfg.TimeoutMultiplier)
	p.mu.Lock()
	p.inflight[w.Pid()] = &inflightEntry{w: w, j: j, started: w.StartedAt(), effective: effective}
	p.mu.Unlock()
	return nil
}

// checkTimeouts kills any in-flight worker whose wall time has exceeded
// its effective timeout, harvesting measurements and reconciling the job
// as TIMEOUT before the natural-completion sweep ever sees it.
func (p *Pool) checkTimeouts(ctx context.Context) []string {
	var failedIDs []string
	now := time.Now()

	p.mu.Lock()
	var timedOut []*inflightEntry
	for pid, e := range p.inflight {
		if e.effective > 0 && now.Sub(e.started) > e.effective {
			timedOut = append(timedOut, e)
			delete(p.inflight, pid)
		}
	}
	p.mu.Unlock()

	for _, e := range timedOut {
		e.w.Shutdown(ctx, p.cfg.Grace)
		e.w.Wait()
		e.j.SetStatus(job.Timeout, fmt.Sprintf("exceeded timeout of %s", e.effective))
		p.queue.Done(e.j)
		_ = e.j.Save()
		p.sem.Release(1)
		failedIDs = append(failedIDs, e.j.ID())
	}
	return failedIDs
}

// cleanFinished reaps any worker whose subprocess has already exited
// naturally: it drains the (possibly absent) result frame, applies it to
// the job, returns resources via queue.Done, and releases its pool slot.
func (p *Pool) cleanFinished() []string {
	var failedIDs []string

	p.mu.Lock()
	var candidates []*inflightEntry
	var candidatePids []int
	for pid, e := range p.inflight {
		select {
		case res, ok := <-e.w.ResultChan():
			if ok {
				e.j.ApplyResult(res.ReturnCode, res.Output)
			}
			candidates = append(candidates, e)
			candidatePids = append(candidatePids, pid)
		default:
		}
	}
	for _, pid := range candidatePids {
		delete(p.inflight, pid)
	}
	p.mu.Unlock()

	for _, e := range candidates {
		waitErr := e.w.Wait()
		if e.j.Status() == job.Running || e.j.Status() == job.Ready {
			// No result frame arrived; reconcile from the subprocess's own
			// exit status instead of leaving the job non-terminal.
			e.j.ApplyResult(exitCodeFromWait(waitErr), "")
		}
		p.queue.Done(e.j)
		_ = e.j.Save()
		p.sem.Release(1)
		if e.j.Status().Category() == job.CategoryFail {
			failedIDs = append(failedIDs, e.j.ID())
		}
	}
	return failedIDs
}

// exitCodeFromWait recovers the subprocess's real exit code from the
// error returned by (*worker.MeasuredWorker).Wait, the Go analogue of
// shelling out to waitpid and inspecting WEXITSTATUS. A nil error maps
// to 0; an *exec.ExitError yields its ExitCode() (-1 when the process
// was killed by a signal); any other error maps to 1.
func exitCodeFromWait(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func (p *Pool) waitAll(ctx context.Context) {
	for {
		p.mu.Lock()
		n := len(p.inflight)
		p.mu.Unlock()
		if n == 0 {
			return
		}
		p.checkTimeouts(ctx)
		p.cleanFinished()
		time.Sleep(p.cfg.BusyWait)
	}
}

// terminateAll force-shuts-down every in-flight worker (SIGTERM, short
// grace, SIGKILL), reports each as done so resources unwind, and clears
// the in-flight table.
func (p *Pool) terminateAll(ctx context.Context) error {
	p.mu.Lock()
	entries := make([]*inflightEntry, 0, len(p.inflight))
	for _, e := range p.inflight {
		entries = append(entries, e)
	}
	p.inflight = make(map[int]*inflightEntry)
	p.mu.Unlock()

	var result error
	for _, e := range entries {
		e.w.Shutdown(ctx, p.cfg.Grace)
		if err := e.w.Wait(); err != nil {
			result = multierror.Append(result, fmt.Errorf("job %s: %w", e.j.ID(), err))
		}
		e.j.SetStatus(job.Cancelled, "terminated")
		p.queue.Done(e.j)
		_ = e.j.Save()
		p.sem.Release(1)
	}
	return result
}

// deriveExitCode folds the terminal statuses of every job the queue
// knows about into one process exit code: ExitNoTests when the queue
// holds no cases; otherwise ExitTimeout if any case timed out, else
// ExitInternalError if any case is Failed, Diffed, Invalid or Error,
// else ExitOK (also when every case was skipped or cancelled).
func (p *Pool) deriveExitCode() ExitCode {
	cases := p.queue.Cases()
	if len(cases) == 0 {
		return ExitNoTests
	}
	sawTimeout, sawFail, sawOK := false, false, false
	for _, j := range cases {
		switch j.Status() {
		case job.Timeout:
			sawTimeout = true
		case job.Failed, job.Diffed, job.Invalid, job.Error:
			sawFail = true
		case job.Success:
			sawOK = true
		}
	}
	switch {
	case sawTimeout:
		return ExitTimeout
	case sawFail:
		return ExitInternalError
	case sawOK:
		return ExitOK
	default:
		return ExitOK
	}
}
