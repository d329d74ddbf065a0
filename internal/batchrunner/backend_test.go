package batchrunner

import (
	"testing"
	"time"

	"testexec/internal/batch"
	"testexec/internal/job"
)

type fakeJob struct {
	id     string
	status job.Status
	reason string
}

func (f *fakeJob) ID() string          { return f.id }
func (f *fakeJob) DisplayName() string { return f.id }
func (f *fakeJob) Status() job.Status  { return f.status }
func (f *fakeJob) SetStatus(s job.Status, reason string) {
	f.status = s
	f.reason = reason
}
func (f *fakeJob) Dependencies() []string            { return nil }
func (f *fakeJob) Exclusive() bool                    { return false }
func (f *fakeJob) RequiredResources() job.ResourceRequest { return nil }
func (f *fakeJob) AssignResources(a job.Acquired)     {}
func (f *fakeJob) FreeResources() job.Acquired        { return nil }
func (f *fakeJob) Timeout() time.Duration             { return time.Second }
func (f *fakeJob) RuntimeEstimate() time.Duration     { return time.Second }
func (f *fakeJob) Measurements() *job.Measurements    { return job.NewMeasurements() }
func (f *fakeJob) Refresh() error                     { return nil }
func (f *fakeJob) Save() error                        { return nil }
func (f *fakeJob) ApplyResult(returnCode int, output string) {
	f.status = job.DeriveOutcome(returnCode, nil, output, false, false)
}

func TestCalculateAllocation_SingleNodeFitsWithinSocket(t *testing.T) {
	bucket := batch.Bucket{Blocks: []batch.Block{
		{ID: "a", Extent: 4, Height: 10},
	}}
	alloc := CalculateAllocation(bucket, 8, 2, 30*time.Minute)
	if alloc.Nodes != 1 {
		t.Fatalf("expected 1 node, got %d", alloc.Nodes)
	}
	if alloc.TasksPerNode != 4 {
		t.Fatalf("expected 4 tasks per node, got %d", alloc.TasksPerNode)
	}
}

func TestCalculateAllocation_SpreadsAcrossMultipleNodes(t *testing.T) {
	bucket := batch.Bucket{Blocks: []batch.Block{
		{ID: "a", Extent: 40, Height: 10},
	}}
	alloc := CalculateAllocation(bucket, 8, 2, time.Hour)
	if alloc.Nodes != 3 {
		t.Fatalf("expected 3 nodes (40 cores / 16 per node), got %d", alloc.Nodes)
	}
}

func TestReconcile_RunningBecomesCancelled(t *testing.T) {
	running := &fakeJob{id: "a", status: job.Running}
	ready := &fakeJob{id: "b", status: job.Ready}
	success := &fakeJob{id: "c", status: job.Success}

	bucket := batch.Bucket{Blocks: []batch.Block{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	lookup := func(id string) (job.Job, bool) {
		switch id {
		case "a":
			return running, true
		case "b":
			return ready, true
		case "c":
			return success, true
		}
		return nil, false
	}

	Reconcile(bucket, lookup)

	if running.Status() != job.Cancelled {
		t.Fatalf("expected running job to become Cancelled, got %v", running.Status())
	}
	if ready.Status() != job.NotRun {
		t.Fatalf("expected ready job to become NotRun, got %v", ready.Status())
	}
	if success.Status() != job.Success {
		t.Fatalf("expected success job to remain Success, got %v", success.Status())
	}
}
