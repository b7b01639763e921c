// Package pipe implements the Stream Pipe: the per-room aggregate that
// captures the container header, holds the rolling buffer of recent
// chunks, and fans each incoming chunk out to every active Transcoder
// Entry under the cross-destination barrier. Adapted in shape from the
// teacher's RTMP Server's activeStreams bookkeeping
// (internal/rtmp/server.go) but generalized to the relay's own
// header-precedence and late-join invariants.
package pipe

import (
	"context"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/transcode/internal/metrics"
	"github.com/therealutkarshpriyadarshi/transcode/internal/relay/destination"
	"github.com/therealutkarshpriyadarshi/transcode/internal/relay/entry"
	"github.com/therealutkarshpriyadarshi/transcode/internal/relay/runner"
	"github.com/therealutkarshpriyadarshi/transcode/internal/tracing"
)

// DefaultRecentBuffer is the maximum number of chunks retained for
// late-joining destinations (spec.md §3, §4.4).
const DefaultRecentBuffer = 10

// Spawner spawns a transcoder child for a destination. Exists so tests can
// substitute an in-process fake instead of a real transcoder binary.
type Spawner interface {
	Spawn(ctx context.Context, binaryPath string, args []string) (*runner.ChildHandle, error)
}

type realSpawner struct{}

func (realSpawner) Spawn(ctx context.Context, binaryPath string, args []string) (*runner.ChildHandle, error) {
	return runner.Run(ctx, binaryPath, args)
}

// RealSpawner is the production Spawner, backed by os/exec.
var RealSpawner Spawner = realSpawner{}

type pendingDestination struct {
	dest destination.Destination
}

// FlushResult reports the outcome of draining pendingDestinations.
type FlushResult struct {
	Started []string
	Failed  []FlushFailure
}

// FlushFailure pairs a platform with why it failed to start.
type FlushFailure struct {
	Platform string
	Reason   string
}

// Pipe is the per-room fan-out aggregate.
type Pipe struct {
	RoomID string

	binaryPath         string
	graceMs            time.Duration
	maxRecentBuffer    int
	spawner            Spawner
	events             chan<- entry.StatusEvent

	mu           sync.RWMutex
	entries      []*entry.Entry
	pending      []pendingDestination
	headerChunk  []byte
	recentBuffer [][]byte
	recentSeq    int64 // total chunks ever appended to recentBuffer, monotonic
	flushMu      sync.Mutex // serializes FlushPending independent of mu
}

// Config configures a Pipe's behavior.
type Config struct {
	BinaryPath      string
	ShutdownGrace   time.Duration
	MaxRecentBuffer int
	Spawner         Spawner                   // nil -> RealSpawner
	Events          chan<- entry.StatusEvent  // nil -> events dropped
}

// New creates an empty Stream Pipe for a room.
func New(roomID string, cfg Config) *Pipe {
	spawner := cfg.Spawner
	if spawner == nil {
		spawner = RealSpawner
	}
	maxRecent := cfg.MaxRecentBuffer
	if maxRecent <= 0 {
		maxRecent = DefaultRecentBuffer
	}
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &Pipe{
		RoomID:          roomID,
		binaryPath:      cfg.BinaryPath,
		graceMs:         grace,
		maxRecentBuffer: maxRecent,
		spawner:         spawner,
		events:          cfg.Events,
	}
}

// MarkHeader records headerChunk once; later calls are ignored.
func (p *Pipe) MarkHeader(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.headerChunk != nil {
		return
	}
	p.headerChunk = append([]byte(nil), buf...)
}

// HasHeader reports whether a header has been captured yet.
func (p *Pipe) HasHeader() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.headerChunk != nil
}

// QueuePending appends a destination to the FIFO queue awaiting process
// start.
func (p *Pipe) QueuePending(dest destination.Destination) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, pendingDestination{dest: dest})
}

// EntryCount returns the number of currently active entries.
func (p *Pipe) EntryCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// PushChunk appends buf to the rolling buffer and, if there are active
// entries, writes it to every one of them in parallel, awaiting all
// completions (the cross-destination fan-out barrier). Before the media
// write, any entry that has not yet received the header gets it first; if
// that header write fails the entry is dropped and the rest proceed. The
// overall result is true iff every surviving entry's write succeeded.
func (p *Pipe) PushChunk(ctx context.Context, buf []byte) bool {
	span, ctx := tracing.StartSpan(ctx, "pipe.PushChunk")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "room_id", p.RoomID)

	p.mu.Lock()
	p.recentBuffer = append(p.recentBuffer, append([]byte(nil), buf...))
	p.recentSeq++
	if len(p.recentBuffer) > p.maxRecentBuffer {
		p.recentBuffer = p.recentBuffer[len(p.recentBuffer)-p.maxRecentBuffer:]
	}
	entries := append([]*entry.Entry(nil), p.entries...)
	header := p.headerChunk
	p.mu.Unlock()

	if len(entries) == 0 {
		return true
	}

	var wg sync.WaitGroup
	results := make([]bool, len(entries))
	toRemove := make([]*entry.Entry, 0)
	var removeMu sync.Mutex

	for i, e := range entries {
		wg.Add(1)
		go func(i int, e *entry.Entry) {
			defer wg.Done()

			if !e.WroteHeader() && header != nil {
				if !e.WriteHeader(ctx, header) {
					removeMu.Lock()
					toRemove = append(toRemove, e)
					removeMu.Unlock()
					results[i] = true // absence of a dead entry doesn't fail the barrier
					return
				}
			}

			results[i] = e.WriteAsync(ctx, buf)
		}(i, e)
	}
	wg.Wait()

	for _, e := range toRemove {
		p.RemoveEntry(e)
	}

	ok := true
	for i, e := range entries {
		if isRemoved(toRemove, e) {
			continue
		}
		if !results[i] {
			ok = false
		}
	}
	return ok
}

func isRemoved(removed []*entry.Entry, e *entry.Entry) bool {
	for _, r := range removed {
		if r == e {
			return true
		}
	}
	return false
}

// CanAcceptData is true iff there are zero entries or every entry reports
// CanAcceptData.
func (p *Pipe) CanAcceptData() bool {
	p.mu.RLock()
	entries := append([]*entry.Entry(nil), p.entries...)
	p.mu.RUnlock()

	if len(entries) == 0 {
		return true
	}
	for _, e := range entries {
		if !e.CanAcceptData() {
			return false
		}
	}
	return true
}

// FlushPending drains pendingDestinations: for each, it spawns a
// transcoder, constructs a Transcoder Entry, writes the captured header if
// present, replays the recent buffer in order, and classifies the outcome.
// Serialized by an internal mutex distinct from the pipe's main lock so a
// long-running flush does not block concurrent PushChunk calls against
// already-active entries.
func (p *Pipe) FlushPending(ctx context.Context, buildArgs func(rtmpURL string) []string) FlushResult {
	span, ctx := tracing.StartSpan(ctx, "pipe.FlushPending")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "room_id", p.RoomID)

	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	header := p.headerChunk
	recent := append([][]byte(nil), p.recentBuffer...)
	seq := p.recentSeq
	p.mu.Unlock()

	var result FlushResult

	for _, pd := range batch {
		args := buildArgs(pd.dest.RTMPURL)
		child, err := p.spawner.Spawn(ctx, p.binaryPath, args)
		if err != nil {
			metrics.RecordChildSpawn(string(pd.dest.Platform), "error")
			tracing.LogError(span, err)
			result.Failed = append(result.Failed, FlushFailure{
				Platform: string(pd.dest.Platform),
				Reason:   err.Error(),
			})
			continue
		}
		metrics.RecordChildSpawn(string(pd.dest.Platform), "ok")

		e := entry.New(p.RoomID, string(pd.dest.Platform), child, p.graceMs, p.events)

		if header != nil {
			if !e.WriteHeader(ctx, header) {
				result.Failed = append(result.Failed, FlushFailure{
					Platform: string(pd.dest.Platform),
					Reason:   "header write failed",
				})
				e.Shutdown()
				continue
			}
		}

		replayOK := true
		for _, chunk := range recent {
			if !e.WriteAsync(ctx, chunk) {
				replayOK = false
				break
			}
		}
		if !replayOK {
			result.Failed = append(result.Failed, FlushFailure{
				Platform: string(pd.dest.Platform),
				Reason:   "recent-buffer replay failed",
			})
			e.Shutdown()
			continue
		}

		// Spawning the child and replaying recent took real wall-clock time,
		// during which PushChunk may have appended further chunks that this
		// entry's snapshot missed. Catch up before splicing e into p.entries
		// so no PushChunk call can ever land between "caught up" and
		// "visible to new writes" — each round re-locks, copies only the
		// chunks appended since the last round, and on a round with nothing
		// new, appends e while still holding the lock.
		caughtUp := seq
		for {
			p.mu.Lock()
			if p.recentSeq == caughtUp {
				p.entries = append(p.entries, e)
				p.mu.Unlock()
				break
			}
			missed := p.recentSeq - caughtUp
			if missed > int64(len(p.recentBuffer)) {
				missed = int64(len(p.recentBuffer))
			}
			gap := append([][]byte(nil), p.recentBuffer[int64(len(p.recentBuffer))-missed:]...)
			caughtUp = p.recentSeq
			p.mu.Unlock()

			for _, chunk := range gap {
				if !e.WriteAsync(ctx, chunk) {
					replayOK = false
					break
				}
			}
			if !replayOK {
				break
			}
		}
		if !replayOK {
			result.Failed = append(result.Failed, FlushFailure{
				Platform: string(pd.dest.Platform),
				Reason:   "recent-buffer replay failed",
			})
			e.Shutdown()
			continue
		}

		result.Started = append(result.Started, string(pd.dest.Platform))
	}

	return result
}

// RemoveEntry removes and shuts down one entry.
func (p *Pipe) RemoveEntry(e *entry.Entry) {
	p.mu.Lock()
	for i, cand := range p.entries {
		if cand == e {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	e.Shutdown()
}

// RemoveEntryByPlatform removes the first active entry for platform, if
// any, returning whether one was found.
func (p *Pipe) RemoveEntryByPlatform(platform string) bool {
	p.mu.Lock()
	var found *entry.Entry
	for i, cand := range p.entries {
		if cand.Platform == platform {
			found = cand
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	if found == nil {
		return false
	}
	found.Shutdown()
	return true
}

// ShutdownAll shuts down every entry and clears pipe state.
func (p *Pipe) ShutdownAll() {
	p.mu.Lock()
	entries := p.entries
	p.entries = nil
	p.pending = nil
	p.mu.Unlock()

	for _, e := range entries {
		e.Shutdown()
	}
}
