// Package testworker executes test-rtmp-stream jobs off the Session
// Manager's own event loop (spec.md §4.5, SPEC_FULL.md §6.6): it consumes
// jobs published to internal/queue, spawns a synthetic lavfi test-pattern
// and sine-tone source for the requested duration, and reports the
// resulting platform status back through Manager.EmitPlatformStatus.
// Grounded on internal/relay/runner's child-process supervision and the
// teacher's internal/transcoder/ffmpeg.go argument-building style.
package testworker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/therealutkarshpriyadarshi/transcode/internal/metrics"
	"github.com/therealutkarshpriyadarshi/transcode/internal/relay/entry"
	"github.com/therealutkarshpriyadarshi/transcode/internal/relay/pipe"
	"github.com/therealutkarshpriyadarshi/transcode/internal/session"
)

// StatusReporter is the one-way bridge back into the Session Manager;
// satisfied by *session.Manager.
type StatusReporter interface {
	EmitPlatformStatus(roomID, platform, status, reason string)
}

// JobSource supplies test-rtmp-stream jobs to run, one at a time per
// worker goroutine; satisfied by (*queue.Queue).ConsumeTestJobs via a
// thin adapter in the caller, kept here as an interface so tests can
// inject a channel-backed fake.
type JobSource interface {
	Jobs() <-chan session.TestJob
}

// JobCompleter is notified when an admitted test job's child process
// exits, so an admission gate in front of the job source (e.g.
// *scheduler.TestJobScheduler) can free its concurrency slot. Optional:
// a Worker with no completer configured just skips the notification.
type JobCompleter interface {
	JobCompleted()
}

// Worker runs test-rtmp-stream jobs with a bounded concurrency, mirroring
// the teacher's worker-pool sizing knob (cmd/worker's WorkerCount).
type Worker struct {
	binaryPath string
	spawner    pipe.Spawner
	reporter   StatusReporter
	completer  JobCompleter
	logger     zerolog.Logger
	sem        chan struct{}
}

// Config configures a Worker.
type Config struct {
	BinaryPath  string
	Concurrency int
	Spawner     pipe.Spawner // nil -> pipe.RealSpawner
	Completer   JobCompleter // nil -> no admission gate to notify
}

// New creates a Worker bounded to cfg.Concurrency simultaneous test jobs.
func New(cfg Config, reporter StatusReporter, logger zerolog.Logger) *Worker {
	spawner := cfg.Spawner
	if spawner == nil {
		spawner = pipe.RealSpawner
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Worker{
		binaryPath: cfg.BinaryPath,
		spawner:    spawner,
		reporter:   reporter,
		completer:  cfg.Completer,
		logger:     logger.With().Str("component", "testworker").Logger(),
		sem:        make(chan struct{}, concurrency),
	}
}

// Run consumes jobs from src until ctx is canceled, running each under the
// worker's concurrency cap.
func (w *Worker) Run(ctx context.Context, src JobSource) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-src.Jobs():
			if !ok {
				return
			}
			select {
			case w.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(job session.TestJob) {
				defer func() { <-w.sem }()
				w.runJob(ctx, job)
			}(job)
		}
	}
}

// buildTestSourceArgs constructs the ffmpeg invocation for a synthetic
// test-pattern video plus sine-tone audio source, muxed to RTMP/RTMPS for
// the job's clamped duration.
func buildTestSourceArgs(rtmpURL string, durationS int) []string {
	return []string{
		"-f", "lavfi", "-i", fmt.Sprintf("testsrc=size=1280x720:rate=30:duration=%d", durationS),
		"-f", "lavfi", "-i", fmt.Sprintf("sine=frequency=1000:duration=%d", durationS),
		"-c:v", "libx264", "-preset", "veryfast", "-tune", "zerolatency",
		"-pix_fmt", "yuv420p", "-b:v", "1500k",
		"-c:a", "aac", "-ar", "44100", "-b:a", "128k",
		"-f", "flv", rtmpURL,
	}
}

func (w *Worker) runJob(ctx context.Context, job session.TestJob) {
	if w.completer != nil {
		defer w.completer.JobCompleted()
	}

	duration := job.Duration
	if duration <= 0 {
		duration = 10
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(duration+10)*time.Second)
	defer cancel()

	args := buildTestSourceArgs(job.URL, duration)
	child, err := w.spawner.Spawn(runCtx, w.binaryPath, args)
	if err != nil {
		metrics.RecordTestJob("spawn_error")
		w.reporter.EmitPlatformStatus(job.RoomID, job.Platform, "error", "failed to start test source: "+err.Error())
		return
	}

	e := entry.New(job.RoomID, job.Platform, child, 2*time.Second, nil)
	w.reporter.EmitPlatformStatus(job.RoomID, job.Platform, "testing", "")

	select {
	case <-child.Done():
		if err := child.Wait(); err != nil {
			metrics.RecordTestJob("error")
			w.reporter.EmitPlatformStatus(job.RoomID, job.Platform, "error", "test source exited: "+err.Error())
			e.Shutdown()
			return
		}
		metrics.RecordTestJob("ok")
		w.reporter.EmitPlatformStatus(job.RoomID, job.Platform, "idle", "")
	case <-runCtx.Done():
		metrics.RecordTestJob("timeout")
		e.Shutdown()
		w.reporter.EmitPlatformStatus(job.RoomID, job.Platform, "idle", "test duration elapsed")
	}
}
