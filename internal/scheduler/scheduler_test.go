package scheduler

import (
	"container/heap"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/therealutkarshpriyadarshi/transcode/internal/session"
)

func TestJobQueue_FIFOOrder(t *testing.T) {
	pq := &jobQueue{}
	heap.Init(pq)

	baseTime := time.Now()
	rooms := []string{"room-1", "room-2", "room-3"}
	for i, room := range rooms {
		heap.Push(pq, &queueItem{
			Job:       session.TestJob{RoomID: room},
			Timestamp: baseTime.Add(time.Duration(i) * time.Second),
		})
	}

	assert.Equal(t, 3, pq.Len())

	for _, expected := range rooms {
		item := heap.Pop(pq).(*queueItem)
		assert.Equal(t, expected, item.Job.RoomID)
	}
	assert.Equal(t, 0, pq.Len())
}

type recordingPublisher struct {
	dispatched []session.TestJob
}

func (p *recordingPublisher) Dispatch(ctx context.Context, job session.TestJob) error {
	p.dispatched = append(p.dispatched, job)
	return nil
}

func TestTestJobScheduler_AdmitsUnderConcurrencyCap(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewScheduler(pub, 2)

	for i := 0; i < 3; i++ {
		_ = s.Dispatch(context.Background(), session.TestJob{RoomID: "room"})
	}
	assert.Equal(t, 3, s.GetQueueDepth())

	s.processQueue()
	assert.Equal(t, 2, s.GetActiveJobs())
	assert.Equal(t, 1, s.GetQueueDepth())
	assert.Len(t, pub.dispatched, 2)

	s.JobCompleted()
	s.processQueue()
	assert.Equal(t, 2, s.GetActiveJobs())
	assert.Equal(t, 0, s.GetQueueDepth())
}
