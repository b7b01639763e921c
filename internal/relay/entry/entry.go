// Package entry implements the Transcoder Entry: the per-destination
// wrapper around one child transcoder process. It owns the process's
// standard input, serializes writes to it with backpressure honored,
// classifies its standard error, and reports stats. Adapted from the
// teacher's monitorFFmpegOutput scanning loop in
// internal/livestream/transcoder.go, generalized to the relay's
// write/backpressure/shutdown contract.
package entry

import (
	"context"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/transcode/internal/metrics"
	"github.com/therealutkarshpriyadarshi/transcode/internal/relay/runner"
	"github.com/therealutkarshpriyadarshi/transcode/internal/relayerr"
)

const stderrTailCap = 16 * 1024 // 16 KiB, per spec.md §5 memory bounds

// Stats holds the monotonically increasing counters and latest sampled
// rates for one destination.
type Stats struct {
	Chunks             int64
	Bytes              int64
	Frames             int64
	FPS                float64
	BackpressureEvents int64
}

// QueueStatus is the snapshot returned by GetQueueStatus.
type QueueStatus struct {
	IsWriting                bool
	CanAcceptData            bool
	ConsecutiveBackpressure  int64
}

// StatusEvent is emitted on a platform/fatal transition. The session layer
// turns these into rtmp-platform-status / rtmp-platform-metrics events.
type StatusEvent struct {
	RoomID   string
	Platform string
	PID      int
	Status   string // connecting | streaming | error | idle | metrics
	Reason   string
	Stats    Stats
	Queue    QueueStatus
	Stderr   string
}

// Entry wraps one transcoder child process for one destination.
type Entry struct {
	RoomID   string
	Platform string

	child *runner.ChildHandle

	mu                  sync.Mutex
	wroteHeader         bool
	dead                bool
	isWriting           bool
	consecutiveBackoffs int64
	stats               Stats
	stderrTail          []byte

	writeDone chan struct{} // closed/replaced each time a write completes

	events chan<- StatusEvent // optional, may be nil

	graceMs time.Duration

	stopTick chan struct{}
	stopOnce sync.Once
}

// New wraps a freshly spawned child as a Transcoder Entry. events, if
// non-nil, receives status and periodic metrics updates; the caller owns
// draining it.
func New(roomID, platform string, child *runner.ChildHandle, graceMs time.Duration, events chan<- StatusEvent) *Entry {
	e := &Entry{
		RoomID:    roomID,
		Platform:  platform,
		child:     child,
		writeDone: closedChan(),
		events:    events,
		graceMs:   graceMs,
		stopTick:  make(chan struct{}),
	}

	metrics.EntriesActive.WithLabelValues(platform).Inc()

	go e.watchStderr()
	go e.watchExit()
	go e.tickMetrics()

	return e
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// PID returns the child process id, for metrics/logging.
func (e *Entry) PID() int { return e.child.PID }

// WroteHeader reports whether the container header has already been
// delivered to this entry.
func (e *Entry) WroteHeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wroteHeader
}

// WriteHeader writes the captured container header to this entry and, on
// success, marks it as having received the header. The pipe calls this
// before the first media write on every entry, including ones that joined
// mid-stream.
func (e *Entry) WriteHeader(ctx context.Context, header []byte) bool {
	ok := e.WriteAsync(ctx, header)
	if ok {
		e.mu.Lock()
		e.wroteHeader = true
		e.mu.Unlock()
	}
	return ok
}

// CanAcceptData is true iff the entry is alive (not marked dead by a failed
// write, a fatal stderr line, exit or shutdown) and no write is currently in
// flight.
func (e *Entry) CanAcceptData() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.dead && !e.isWriting
}

// GetQueueStatus returns a snapshot of the entry's write/backpressure state.
func (e *Entry) GetQueueStatus() QueueStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return QueueStatus{
		IsWriting:               e.isWriting,
		CanAcceptData:           !e.dead && !e.isWriting,
		ConsecutiveBackpressure: e.consecutiveBackoffs,
	}
}

// Stats returns a copy of the current counters.
func (e *Entry) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Entry) isDead() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dead
}

// WaitForSpace blocks until the in-flight write, if any, has completed.
func (e *Entry) WaitForSpace() {
	e.mu.Lock()
	ch := e.writeDone
	e.mu.Unlock()
	<-ch
}

// WriteAsync writes buf to the child's standard input, completing only once
// that single buffer has been fully accepted by the OS pipe (backpressure
// honored). Calls are serialized: a concurrent call queues behind the
// in-flight write and completes in order. Returns false if the entry is
// dead, stdin is closed, or the OS write failed.
func (e *Entry) WriteAsync(ctx context.Context, buf []byte) bool {
	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return false
	}
	prev := e.writeDone
	done := make(chan struct{})
	e.writeDone = done
	e.isWriting = true
	e.mu.Unlock()

	<-prev // wait our turn behind any write already in flight

	writeStart := time.Now()
	_, err := e.child.Stdin.Write(buf)
	writeElapsed := time.Since(writeStart).Seconds()

	e.mu.Lock()
	e.isWriting = false
	if err != nil {
		// A blocking write on a full OS pipe returns no error — Write simply
		// takes longer — so this counts write *failures*, not genuine
		// backpressure stalls. Kept as the closest observable proxy given
		// Go's blocking-pipe semantics.
		e.consecutiveBackoffs++
	} else {
		e.consecutiveBackoffs = 0
		e.stats.Chunks++
		e.stats.Bytes += int64(len(buf))
	}
	backoffs := e.consecutiveBackoffs
	dead := e.dead
	e.mu.Unlock()
	close(done)

	if err != nil {
		metrics.RecordChunkWrite(e.Platform, "error", writeElapsed)
		if backoffs > 0 {
			metrics.RecordBackpressureEvent(e.Platform)
		}
		e.fail(relayerr.WithPlatform(relayerr.KindWriteError, e.Platform, "stdin write failed", err))
		return false
	}
	metrics.RecordChunkWrite(e.Platform, "ok", writeElapsed)
	return !dead
}

// Shutdown is idempotent: it marks the entry dead, sends SIGTERM, and
// schedules SIGKILL after graceMs if the process has not exited by then.
func (e *Entry) Shutdown() {
	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return
	}
	e.dead = true
	e.mu.Unlock()

	metrics.EntriesActive.WithLabelValues(e.Platform).Dec()
	e.stopOnce.Do(func() { close(e.stopTick) })

	_ = e.child.Terminate()
	go func() {
		select {
		case <-e.child.Done():
		case <-time.After(e.graceMs):
			_ = e.child.Kill()
		}
	}()
}

func (e *Entry) fail(err *relayerr.Error) {
	e.mu.Lock()
	already := e.dead
	e.dead = true
	e.mu.Unlock()

	if already {
		return
	}

	metrics.EntriesActive.WithLabelValues(e.Platform).Dec()
	metrics.RecordChildExit(e.Platform, "fatal")
	e.stopOnce.Do(func() { close(e.stopTick) })

	_ = e.child.Terminate()
	go func() {
		select {
		case <-e.child.Done():
		case <-time.After(e.graceMs):
			_ = e.child.Kill()
		}
	}()

	e.emit("error", err.Reason)
}

func (e *Entry) watchStderr() {
	for line := range e.child.StderrLines() {
		e.mu.Lock()
		e.stderrTail = appendCapped(e.stderrTail, []byte(line+"\n"), stderrTailCap)
		e.mu.Unlock()

		c := classify(line)
		switch c.kind {
		case lineFatal:
			e.fail(relayerr.WithPlatform(relayerr.KindFatalIngestSignal, e.Platform, "RTMP connection failed: "+c.reason, nil))
			return
		case lineProgress, lineStarted:
			e.mu.Lock()
			if c.frames > 0 {
				e.stats.Frames = c.frames
			}
			if c.fps > 0 {
				e.stats.FPS = c.fps
			}
			confirmed := c.confirmsStreaming
			e.mu.Unlock()
			if confirmed {
				e.emit("streaming", "")
			}
		}
	}
}

func appendCapped(buf, add []byte, limit int) []byte {
	buf = append(buf, add...)
	if len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	return buf
}

func (e *Entry) watchExit() {
	<-e.child.Done()
	e.mu.Lock()
	already := e.dead
	e.dead = true
	e.mu.Unlock()
	if !already {
		metrics.EntriesActive.WithLabelValues(e.Platform).Dec()
		metrics.RecordChildExit(e.Platform, "exited")
		e.stopOnce.Do(func() { close(e.stopTick) })
		e.emit("idle", "")
	}
}

func (e *Entry) tickMetrics() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopTick:
			return
		case <-ticker.C:
			q := e.GetQueueStatus()
			if !q.IsWriting && q.ConsecutiveBackpressure == 0 {
				continue
			}
			e.emit("metrics", "")
		}
	}
}

func (e *Entry) emit(status, reason string) {
	if e.events == nil {
		return
	}
	e.mu.Lock()
	tail := string(e.stderrTail)
	stats := e.stats
	e.mu.Unlock()

	ev := StatusEvent{
		RoomID:   e.RoomID,
		Platform: e.Platform,
		PID:      e.child.PID,
		Status:   status,
		Reason:   reason,
		Stats:    stats,
		Queue:    e.GetQueueStatus(),
		Stderr:   tail,
	}

	select {
	case e.events <- ev:
	default:
		// Drop rather than block the entry's own goroutines; metrics are
		// best-effort.
	}
}
