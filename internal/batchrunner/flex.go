package batchrunner

import (
	"context"
	"fmt"
	"sync"

	"testexec/internal/batch"
)

// FlexBackend is an in-process stand-in for a Flux-style backend: it
// never shells out, tracking submitted buckets in memory and reporting
// them done as soon as a caller marks them so via Complete. Useful both
// as a test double and as a degenerate local backend when no real
// scheduler is configured.
type FlexBackend struct {
	mu       sync.Mutex
	next     int
	done     map[string]bool
	canceled map[string]bool
}

func NewFlexBackend() *FlexBackend {
	return &FlexBackend{done: make(map[string]bool), canceled: make(map[string]bool)}
}

func (f *FlexBackend) Name() string { return "flex" }

func (f *FlexBackend) Submit(ctx context.Context, bucket batch.Bucket, alloc Allocation) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("flex-%d", f.next)
	f.done[id] = false
	return id, nil
}

func (f *FlexBackend) Poll(ctx context.Context, schedulerJobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.canceled[schedulerJobID] {
		return true, nil
	}
	return f.done[schedulerJobID], nil
}

func (f *FlexBackend) Cancel(ctx context.Context, schedulerJobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled[schedulerJobID] = true
	return nil
}

// Complete marks a previously submitted job as finished, letting tests
// (or a future real poll loop) drive FlexBackend without a live
// scheduler.
func (f *FlexBackend) Complete(schedulerJobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done[schedulerJobID] = true
}
