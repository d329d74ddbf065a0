// Package batchrunner submits packed batches to an external scheduler
// and reconciles member job state once the submission completes or is
// abandoned.
package batchrunner

import (
	"context"
	"time"

	"testexec/internal/batch"
	"testexec/internal/job"
)

// Allocation is the node/task layout computed for one bucket.
type Allocation struct {
	Nodes         int
	TasksPerNode  int
	CPUsPerTask   int
	WallTime      time.Duration
}

// Backend submits one packed bucket to an external scheduler and blocks
// until it completes, fails, or the context is cancelled.
type Backend interface {
	Name() string
	// Submit composes and runs the submission, returning a scheduler job
	// id used for polling/cancellation.
	Submit(ctx context.Context, bucket batch.Bucket, alloc Allocation) (schedulerJobID string, err error)
	// Poll reports whether the scheduler job has finished.
	Poll(ctx context.Context, schedulerJobID string) (done bool, err error)
	// Cancel asks the scheduler to terminate a still-running submission.
	Cancel(ctx context.Context, schedulerJobID string) error
}

// CalculateAllocation computes nodes/tasks-per-node/cpus-per-task for a
// bucket given the machine's cores-per-socket and sockets-per-node,
// mirroring the original Slurm runner's node-count arithmetic: the
// bucket's widest member sets tasksRequired, spread across as many
// sockets/nodes as needed.
func CalculateAllocation(bucket batch.Bucket, coresPerSocket, socketsPerNode int, wallTime time.Duration) Allocation {
	if coresPerSocket <= 0 {
		coresPerSocket = 1
	}
	if socketsPerNode <= 0 {
		socketsPerNode = 1
	}
	coresPerNode := coresPerSocket * socketsPerNode

	maxCPUs := 0
	for _, b := range bucket.Blocks {
		if b.Extent > maxCPUs {
			maxCPUs = b.Extent
		}
	}
	if maxCPUs == 0 {
		maxCPUs = 1
	}

	nodes := (maxCPUs + coresPerNode - 1) / coresPerNode
	if nodes < 1 {
		nodes = 1
	}
	tasksPerNode := coresPerNode
	if maxCPUs < coresPerNode {
		tasksPerNode = maxCPUs
	}

	return Allocation{
		Nodes:        nodes,
		TasksPerNode: tasksPerNode,
		CPUsPerTask:  1,
		WallTime:     wallTime,
	}
}

// Reconcile applies end-of-submission status to every job represented
// by bucket's blocks via the supplied lookup: a job still Running is
// recategorized Cancelled; a job still Ready (never started, e.g. a
// scheduler-side partial failure) becomes NotRun.
func Reconcile(bucket batch.Bucket, lookup func(id string) (job.Job, bool)) {
	for _, blk := range bucket.Blocks {
		j, ok := lookup(blk.ID)
		if !ok {
			continue
		}
		switch j.Status() {
		case job.Running:
			j.SetStatus(job.Cancelled, "batch ended while case was still running")
		case job.Ready, job.Pending:
			j.SetStatus(job.NotRun, "case failed to start")
		}
	}
}
