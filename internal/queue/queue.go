// Package queue implements the cost-ordered resource queue: it selects
// the next runnable job, gates it on dependencies, exclusivity and
// resource availability, and reserves its resources against a pool.
package queue

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"

	"testexec/internal/job"
	"testexec/internal/resourcepool"
)

// ErrBusy signals "nothing is runnable right now, but the queue is not
// empty" — callers should wait and retry. ErrEmpty signals the queue has
// been fully drained; callers should stop.
var (
	ErrBusy  = errors.New("queue: busy")
	ErrEmpty = errors.New("queue: empty")
)

// slot is one heap entry: negative cost so the largest-cost job pops
// first out of container/heap's min-heap.
type slot struct {
	negCost float64
	jobID   string
	index   int
}

type slotHeap []*slot

func (h slotHeap) Len() int            { return len(h) }
func (h slotHeap) Less(i, j int) bool  { return h[i].negCost < h[j].negCost }
func (h slotHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *slotHeap) Push(x any) {
	s := x.(*slot)
	s.index = len(*h)
	*h = append(*h, s)
}
func (h *slotHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return s
}

// Queue is the concrete ResourceQueue.
type Queue struct {
	mu sync.Mutex

	arena *job.Arena
	pool  *resourcepool.Pool

	heap      slotHeap
	busy      map[string]job.Job
	finished  map[string]job.Job
	dependents map[string][]string

	exclusiveHolder string
	prepared        bool

	Logger *AdaptiveDebugLogger
}

func New(arena *job.Arena, pool *resourcepool.Pool) *Queue {
	return &Queue{
		arena:      arena,
		pool:       pool,
		busy:       make(map[string]job.Job),
		finished:   make(map[string]job.Job),
		dependents: make(map[string][]string),
		Logger:     NewAdaptiveDebugLogger(),
	}
}

// Put primes the queue with jobs. Every job must be Ready or Pending and
// carry a non-empty resource request that the pool can eventually
// accommodate.
func (q *Queue) Put(jobs ...job.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, j := range jobs {
		if !j.Status().Runnable() {
			return fmt.Errorf("queue: put: job %s has non-runnable status %v", j.ID(), j.Status())
		}
		req := j.RequiredResources()
		if len(req) == 0 {
			return fmt.Errorf("queue: put: job %s has empty resource request", j.ID())
		}
		if res, err := q.pool.Accommodates(req); err != nil {
			return fmt.Errorf("queue: put: job %s: %w", j.ID(), err)
		} else if !res.Ok {
			return fmt.Errorf("queue: put: job %s can never be accommodated: %s", j.ID(), res.Reason)
		}
		heap.Push(&q.heap, &slot{negCost: -req.Cost(j.RuntimeEstimate().Seconds()), jobID: j.ID()})
	}
	q.dependents = q.arena.Dependents()
	return nil
}

// Prepare finalizes priming. Returns ErrEmpty if nothing was put.
func (q *Queue) Prepare() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return ErrEmpty
	}
	q.prepared = true
	return nil
}

// Get pops and returns the next dispatchable job, reserving its
// resources against the pool. Returns ErrBusy if jobs remain but none
// are currently dispatchable, or ErrEmpty if the queue has been drained.
func (q *Queue) Get() (job.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var deferred []*slot
	defer func() {
		for _, s := range deferred {
			heap.Push(&q.heap, s)
		}
	}()

	for q.heap.Len() > 0 {
		s := heap.Pop(&q.heap).(*slot)
		j, ok := q.arena.Get(s.jobID)
		if !ok {
			continue // job vanished; drop the slot
		}

		if q.exclusiveHolder != "" && q.exclusiveHolder != j.ID() {
			deferred = append(deferred, s)
			continue
		}

		st := j.Status()
		if st.Category() == job.CategorySkip {
			q.finished[j.ID()] = j
			continue
		}
		if !st.Runnable() {
			j.SetStatus(job.Error, "state became unrunnable before dispatch")
			q.finished[j.ID()] = j
			continue
		}
		if st == job.Pending {
			deferred = append(deferred, s)
			continue
		}

		acq, err := q.pool.Checkout(j.RequiredResources())
		if err != nil {
			if errors.Is(err, resourcepool.ErrUnavailable) {
				deferred = append(deferred, s)
				continue
			}
			return nil, fmt.Errorf("queue: get: %w", err)
		}

		j.AssignResources(acq)
		q.busy[j.ID()] = j
		if j.Exclusive() {
			q.exclusiveHolder = j.ID()
		}
		return j, nil
	}

	if len(deferred) > 0 {
		if q.Logger != nil {
			q.Logger.Emit(q.busySignatureLocked(), "queue busy", time.Now())
		}
		return nil, ErrBusy
	}
	return nil, ErrEmpty
}

// Done marks a job as finished: it leaves busy, its resources return to
// the pool, and every dependent is notified so stale dependency pointers
// observe the now-terminal state.
func (q *Queue) Done(j job.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.busy, j.ID())
	q.finished[j.ID()] = j
	if q.exclusiveHolder == j.ID() {
		q.exclusiveHolder = ""
	}
	q.pool.Checkin(j.FreeResources())
	q.updatePendingLocked(j)
}

// updatePendingLocked re-evaluates every dependent of a just-finished job
// so that pending jobs whose last dependency just completed become ready
// for the next Get() pass. Concrete Job implementations are expected to
// implement this transition themselves inside Refresh/SetStatus; here we
// merely ensure the dependents index stays informed.
func (q *Queue) updatePendingLocked(finished job.Job) {
	for _, depID := range q.dependents[finished.ID()] {
		if dep, ok := q.arena.Get(depID); ok {
			_ = dep.Refresh()
		}
	}
}

// Clear empties the heap, setting every not-yet-dispatched job's status.
func (q *Queue) Clear(status job.Status) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.heap.Len() > 0 {
		s := heap.Pop(&q.heap).(*slot)
		if j, ok := q.arena.Get(s.jobID); ok {
			j.SetStatus(status, "queue cleared")
			q.finished[j.ID()] = j
		}
	}
}

// Cases returns every job known to the queue across heap, busy and
// finished — the full membership for reporting purposes.
func (q *Queue) Cases() []job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]job.Job, 0, q.heap.Len()+len(q.busy)+len(q.finished))
	for _, s := range q.heap {
		if j, ok := q.arena.Get(s.jobID); ok {
			out = append(out, j)
		}
	}
	for _, j := range q.busy {
		out = append(out, j)
	}
	for _, j := range q.finished {
		out = append(out, j)
	}
	return out
}

// Status returns a human-readable summary of queue membership counts,
// used by the interactive "s" command and by periodic diagnostics.
func (q *Queue) Status() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return fmt.Sprintf("queued=%d busy=%d finished=%d", q.heap.Len(), len(q.busy), len(q.finished))
}

// BusySignature is a cheap fingerprint of queue membership used by
// AdaptiveDebugLogger to detect "nothing has changed" between polls.
func (q *Queue) BusySignature() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busySignatureLocked()
}

// busySignatureLocked is BusySignature without acquiring q.mu, for
// callers (Get) that already hold it.
func (q *Queue) busySignatureLocked() string {
	return fmt.Sprintf("%d/%d/%d", q.heap.Len(), len(q.busy), len(q.finished))
}
