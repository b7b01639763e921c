// Package scheduler admits test-rtmp-stream jobs onto the queue under a
// global concurrency cap, so a burst of simultaneous test requests across
// many rooms can't overwhelm the transcoder binary pool the way an
// unbounded publish would. Adapted from the teacher's priority job
// scheduler, generalized from priority/resource-aware video transcoding
// jobs to the relay's simpler FIFO test-job admission gate.
package scheduler

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/transcode/internal/session"
)

// JobPublisher defines the interface for publishing a test job to queue.
type JobPublisher interface {
	Dispatch(ctx context.Context, job session.TestJob) error
}

// TestJobScheduler FIFO-queues test-rtmp-stream jobs and releases them to
// the publisher as capacity frees up, implementing session.TestDispatcher
// so it can be wired in directly in place of the queue.
type TestJobScheduler struct {
	queue         *jobQueue
	mu            sync.Mutex
	maxConcurrent int
	activeJobs    int
	publisher     JobPublisher
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewScheduler creates a scheduler that admits at most maxConcurrent test
// jobs to the publisher at once.
func NewScheduler(publisher JobPublisher, maxConcurrent int) *TestJobScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	return &TestJobScheduler{
		queue:         &jobQueue{},
		maxConcurrent: maxConcurrent,
		publisher:     publisher,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins the scheduler's admission loop.
func (s *TestJobScheduler) Start() {
	heap.Init(s.queue)
	go s.scheduleLoop()
	log.Println("test job scheduler started")
}

// Stop stops the scheduler.
func (s *TestJobScheduler) Stop() {
	s.cancel()
	log.Println("test job scheduler stopped")
}

// Dispatch implements session.TestDispatcher: it enqueues the job for
// admission rather than publishing it immediately.
func (s *TestJobScheduler) Dispatch(ctx context.Context, job session.TestJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	heap.Push(s.queue, &queueItem{Job: job, Timestamp: time.Now()})
	return nil
}

func (s *TestJobScheduler) scheduleLoop() {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.processQueue()
		}
	}
}

func (s *TestJobScheduler) processQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.activeJobs < s.maxConcurrent && s.queue.Len() > 0 {
		item := heap.Pop(s.queue).(*queueItem)

		if err := s.publisher.Dispatch(s.ctx, item.Job); err != nil {
			log.Printf("failed to publish test job for room %s: %v", item.Job.RoomID, err)
			heap.Push(s.queue, item)
			break
		}

		s.activeJobs++
	}
}

// JobCompleted notifies the scheduler that an admitted test job finished,
// freeing a concurrency slot. Called by testworker once a job's child
// process exits.
func (s *TestJobScheduler) JobCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeJobs > 0 {
		s.activeJobs--
	}
}

// GetQueueDepth returns the current queue depth
func (s *TestJobScheduler) GetQueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// GetActiveJobs returns the number of active jobs
func (s *TestJobScheduler) GetActiveJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeJobs
}

// jobQueue implements a FIFO priority queue (ordered purely by arrival
// time; test-rtmp-stream jobs carry no priority concept).
type jobQueue []*queueItem

type queueItem struct {
	Job       session.TestJob
	Timestamp time.Time
	Index     int
}

func (pq jobQueue) Len() int { return len(pq) }

func (pq jobQueue) Less(i, j int) bool {
	return pq[i].Timestamp.Before(pq[j].Timestamp)
}

func (pq jobQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *jobQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*queueItem)
	item.Index = n
	*pq = append(*pq, item)
}

func (pq *jobQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	*pq = old[0 : n-1]
	return item
}
