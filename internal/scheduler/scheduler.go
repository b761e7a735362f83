// Package scheduler fires snipe jobs at their unlock instants. It runs
// a single timer-driven loop over an in-process min-heap and only ever
// hands work off; portal calls happen elsewhere.
package scheduler

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"time"

	"github.com/Hashim-K/X-Booking/internal/models"
	"github.com/Hashim-K/X-Booking/internal/telemetry"
)

// Store is the slice of the state store the scheduler needs. The
// MarkJobRunning compare-and-swap is what makes firing exactly-once:
// re-entry with the same job loses the swap and dispatches nothing.
type Store interface {
	MarkJobRunning(ctx context.Context, id string) (bool, error)
	GetSnipeJob(ctx context.Context, id string) (models.SnipeJob, error)
	ListSnipeJobs(ctx context.Context, status string) ([]models.SnipeJob, error)
}

// Executor receives a job that just transitioned to running.
type Executor interface {
	Execute(ctx context.Context, job models.SnipeJob)
}

// Scheduler owns the pending-job heap and the firing loop.
type Scheduler struct {
	store Store
	exec  Executor
	now   func() time.Time

	mu     sync.Mutex
	jobs   jobHeap
	queued map[string]bool
	wake   chan struct{}
}

func New(store Store, exec Executor) *Scheduler {
	return &Scheduler{
		store:  store,
		exec:   exec,
		now:    time.Now,
		queued: make(map[string]bool),
		wake:   make(chan struct{}, 1),
	}
}

// Register queues a job for firing. A job whose instant has already
// passed is not dropped; the loop fires it immediately, once. Jobs
// already in the heap are ignored, which makes repeated store rescans
// cheap.
func (s *Scheduler) Register(job models.SnipeJob) {
	s.mu.Lock()
	if s.queued[job.ID] {
		s.mu.Unlock()
		return
	}
	s.queued[job.ID] = true
	heap.Push(&s.jobs, job)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Restore re-scans scheduled jobs from the store, e.g. after a restart.
// Jobs another process already dispatched lose the running swap later
// and are skipped, so re-scanning is safe to repeat.
func (s *Scheduler) Restore(ctx context.Context) error {
	jobs, err := s.store.ListSnipeJobs(ctx, models.JobScheduled)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		s.Register(job)
	}
	return nil
}

// Run drives the loop until context cancellation. It blocks.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		job, wait, ok := s.popDue()
		if ok {
			s.fire(ctx, job)
			continue
		}
		if wait <= 0 {
			// Empty heap: sleep until something is registered.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.wake:
			// An earlier job may have been registered; re-evaluate.
			timer.Stop()
		case <-timer.C:
		}
	}
}

// popDue removes and returns the earliest job if its instant has
// arrived. Otherwise ok is false and wait says how long until the
// earliest job is due (<= 0 when the heap is empty).
func (s *Scheduler) popDue() (models.SnipeJob, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs.Len() == 0 {
		return models.SnipeJob{}, 0, false
	}
	wait := s.jobs[0].ScheduledExecution.Sub(s.now())
	if wait > 0 {
		return models.SnipeJob{}, wait, false
	}
	job := heap.Pop(&s.jobs).(models.SnipeJob)
	delete(s.queued, job.ID)
	return job, 0, true
}

// fire claims the job via the store CAS and hands it to the executor on
// its own goroutine. Losing the swap means another entrant dispatched
// it, or it was cancelled before running; either way there is nothing
// to do.
func (s *Scheduler) fire(ctx context.Context, job models.SnipeJob) {
	won, err := s.store.MarkJobRunning(ctx, job.ID)
	if err != nil {
		log.Printf("mark job %s running: %v", job.ID, err)
		job.ScheduledExecution = s.now().Add(time.Second)
		s.Register(job)
		return
	}
	if !won {
		return
	}
	// Re-fetch so the executor sees the freshest job row.
	fresh, err := s.store.GetSnipeJob(ctx, job.ID)
	if err != nil {
		log.Printf("reload job %s: %v", job.ID, err)
		fresh = job
		fresh.Status = models.JobRunning
	}
	telemetry.JobsFired.Inc()
	log.Printf("firing snipe job %s for %s %s", fresh.ID, fresh.TargetDate, fresh.WindowStart)
	go s.exec.Execute(ctx, fresh)
}

// jobHeap orders jobs by execution instant.
type jobHeap []models.SnipeJob

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	return h[i].ScheduledExecution.Before(h[j].ScheduledExecution)
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(models.SnipeJob)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
