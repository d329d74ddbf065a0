// Package worker drives one job per OS subprocess: it starts the child,
// periodically samples its resource usage, and reads its length-prefixed
// JSON result off the child's stdout once it exits.
package worker

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	gopsutilprocess "github.com/shirou/gopsutil/v4/process"

	"testexec/internal/job"
)

// Result is what a worker subprocess reports about a finished job,
// framed on stdout as a 4-byte big-endian length prefix followed by this
// struct serialized as JSON — the length-prefixed stream this design
// substitutes for the original's subprocess+shared-memory pickling.
type Result struct {
	ReturnCode int    `json:"return_code"`
	Output     string `json:"output"`
}

// MeasuredWorker wraps one os/exec.Cmd, sampling its resource usage on
// a fixed interval while it runs.
type MeasuredWorker struct {
	cmd          *exec.Cmd
	job          job.Job
	sampleEvery  time.Duration
	stdout       io.ReadCloser

	mu      sync.Mutex
	started time.Time
	proc    *gopsutilprocess.Process

	resultCh chan Result
	sampleDone chan struct{}
}

// New builds a worker for the given job, wiring the command's stdout to
// a pipe this worker reads the result frame from. The caller supplies
// the command already configured with args/env/dir; New only attaches
// instrumentation.
func New(j job.Job, cmd *exec.Cmd) (*MeasuredWorker, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker: stdout pipe: %w", err)
	}
	return &MeasuredWorker{
		cmd:         cmd,
		job:         j,
		sampleEvery: 500 * time.Millisecond,
		stdout:      stdout,
		resultCh:    make(chan Result, 1),
		sampleDone:  make(chan struct{}),
	}, nil
}

// Start launches the subprocess and begins sampling and result-reading
// goroutines.
func (w *MeasuredWorker) Start() error {
	w.mu.Lock()
	w.started = time.Now()
	w.mu.Unlock()

	w.job.Measurements().Start()

	if err := w.cmd.Start(); err != nil {
		return fmt.Errorf("worker: start: %w", err)
	}

	if proc, err := gopsutilprocess.NewProcess(int32(w.cmd.Process.Pid)); err == nil {
		w.mu.Lock()
		w.proc = proc
		w.mu.Unlock()
	}

	go w.sampleLoop()
	go w.readResult()
	return nil
}

// Pid returns the subprocess pid, or 0 if it has not started.
func (w *MeasuredWorker) Pid() int {
	if w.cmd.Process == nil {
		return 0
	}
	return w.cmd.Process.Pid
}

// StartedAt returns the wall-clock instant the worker was started.
func (w *MeasuredWorker) StartedAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

func (w *MeasuredWorker) sampleLoop() {
	ticker := time.NewTicker(w.sampleEvery)
	defer ticker.Stop()
	for {
		select {
		case <-w.sampleDone:
			return
		case <-ticker.C:
			w.sampleOnce()
		}
	}
}

// sampleOnce takes one CPU%/RSS/VMS/thread-count reading. Errors (the
// process died mid-sample, or the platform denies access) are swallowed
// — a missed sample degrades measurement resolution, it is not fatal.
func (w *MeasuredWorker) sampleOnce() {
	w.mu.Lock()
	proc := w.proc
	w.mu.Unlock()
	if proc == nil {
		return
	}
	m := w.job.Measurements()
	if cpuPct, err := proc.CPUPercent(); err == nil {
		m.Add("cpu_percent", cpuPct)
	}
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		m.Add("rss_mb", float64(memInfo.RSS)/(1024*1024))
		m.Add("vms_mb", float64(memInfo.VMS)/(1024*1024))
	}
	if threads, err := proc.NumThreads(); err == nil {
		m.Add("threads", float64(threads))
	}
}

// readResult blocks reading the length-prefixed result frame from the
// child's stdout, forwarding it on resultCh. If the child exits without
// ever writing a frame (crash, kill), the channel is closed unsent and
// the caller falls back to the exit status returned by Wait.
func (w *MeasuredWorker) readResult() {
	defer close(w.resultCh)
	r := bufio.NewReader(w.stdout)
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > 64*1024*1024 {
		return
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return
	}
	var res Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return
	}
	w.resultCh <- res
}

// Wait blocks until the subprocess exits, then stops sampling.
func (w *MeasuredWorker) Wait() error {
	err := w.cmd.Wait()
	close(w.sampleDone)
	w.job.Measurements().Finish()
	return err
}

// ResultChan exposes the (single-value, then closed) result channel.
func (w *MeasuredWorker) ResultChan() <-chan Result {
	return w.resultCh
}

// Shutdown signals the subprocess to terminate, waiting up to grace for
// a clean exit before escalating to SIGKILL — the same terminate-then-
// kill sequence used for both per-job timeouts and whole-pool
// cancellation.
func (w *MeasuredWorker) Shutdown(ctx context.Context, grace time.Duration) {
	if w.cmd.Process == nil {
		return
	}
	_ = w.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		w.cmd.Process.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(grace):
	case <-ctx.Done():
	}
	_ = w.cmd.Process.Signal(syscall.SIGKILL)
}

// WriteResultFrame is the worker-subprocess-side helper: it writes one
// length-prefixed JSON Result frame to w, the counterpart readResult
// expects on the parent side.
func WriteResultFrame(w io.Writer, res Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}
