package queue

import (
	"context"

	"github.com/therealutkarshpriyadarshi/transcode/internal/session"
)

// ChanJobSource adapts ConsumeTestJobs to testworker.JobSource via a
// buffered channel fed by the AMQP consumer goroutine.
type ChanJobSource struct {
	ch chan session.TestJob
}

// NewChanJobSource starts consuming test-rtmp-stream jobs from q and
// returns a JobSource a Worker can range over.
func NewChanJobSource(ctx context.Context, q *Queue, buffer int) (*ChanJobSource, error) {
	src := &ChanJobSource{ch: make(chan session.TestJob, buffer)}
	err := q.ConsumeTestJobs(ctx, func(job session.TestJob) error {
		select {
		case src.ch <- job:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Jobs implements testworker.JobSource.
func (s *ChanJobSource) Jobs() <-chan session.TestJob { return s.ch }
