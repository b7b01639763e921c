package pipe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/transcode/internal/relay/destination"
	"github.com/therealutkarshpriyadarshi/transcode/internal/relay/runner"
)

// fileSpawner is a test Spawner: instead of a real transcoder, it runs a
// shell pipeline that writes everything from stdin verbatim into a file so
// the test can assert on exact byte ordering. The destination's RTMPURL is
// repurposed as the output file path via buildArgsToFile below.
type fileSpawner struct{ t *testing.T }

func newTestSpawner(t *testing.T) *fileSpawner { return &fileSpawner{t: t} }

func (s *fileSpawner) Spawn(ctx context.Context, binaryPath string, args []string) (*runner.ChildHandle, error) {
	require.Len(s.t, args, 1)
	return runner.Run(ctx, binaryPath, []string{"-c", "cat > " + args[0]})
}

func buildArgsToFile(path string) []string { return []string{path} }

func dest(t *testing.T, dir string, platform destination.Platform) destination.Destination {
	return destination.Destination{
		Platform:  platform,
		StreamKey: "key",
		RTMPURL:   filepath.Join(dir, string(platform)+".out"),
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestPipe_HeaderPrecedenceAndOrdering(t *testing.T) {
	dir := t.TempDir()
	spawner := newTestSpawner(t)
	p := New("room1", Config{BinaryPath: "sh", Spawner: spawner, ShutdownGrace: 300 * time.Millisecond})

	p.MarkHeader([]byte("HEADER"))
	d := dest(t, dir, destination.PlatformYouTube)
	p.QueuePending(d)

	res := p.FlushPending(context.Background(), func(url string) []string { return buildArgsToFile(url) })
	require.Equal(t, []string{"youtube"}, res.Started)
	require.Empty(t, res.Failed)

	for i := 0; i < 5; i++ {
		ok := p.PushChunk(context.Background(), []byte("chunk"))
		assert.True(t, ok)
	}

	p.ShutdownAll()
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, "HEADER"+repeatStr("chunk", 5), readFile(t, d.RTMPURL))
}

func TestPipe_LateJoinReceivesHeaderThenRecentBuffer(t *testing.T) {
	dir := t.TempDir()
	spawner := newTestSpawner(t)
	p := New("room1", Config{BinaryPath: "sh", Spawner: spawner, ShutdownGrace: 300 * time.Millisecond, MaxRecentBuffer: 10})

	p.MarkHeader([]byte("HEADER"))
	for i := 0; i < 4; i++ {
		p.PushChunk(context.Background(), []byte("c"))
	}

	d := dest(t, dir, destination.PlatformTwitch)
	p.QueuePending(d)
	res := p.FlushPending(context.Background(), func(url string) []string { return buildArgsToFile(url) })
	require.Equal(t, []string{"twitch"}, res.Started)

	p.PushChunk(context.Background(), []byte("d"))

	p.ShutdownAll()
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, "HEADER"+"cccc"+"d", readFile(t, d.RTMPURL))
}

func TestPipe_CanAcceptDataTrueWhenNoEntries(t *testing.T) {
	p := New("room1", Config{BinaryPath: "sh"})
	assert.True(t, p.CanAcceptData())
	assert.True(t, p.PushChunk(context.Background(), []byte("x")))
}

func TestPipe_RemoveEntryByPlatform(t *testing.T) {
	dir := t.TempDir()
	spawner := newTestSpawner(t)
	p := New("room1", Config{BinaryPath: "sh", Spawner: spawner, ShutdownGrace: 300 * time.Millisecond})
	p.MarkHeader([]byte("H"))
	d := dest(t, dir, destination.PlatformYouTube)
	p.QueuePending(d)
	p.FlushPending(context.Background(), func(url string) []string { return buildArgsToFile(url) })

	require.Equal(t, 1, p.EntryCount())
	assert.True(t, p.RemoveEntryByPlatform("youtube"))
	assert.Equal(t, 0, p.EntryCount())
	assert.False(t, p.RemoveEntryByPlatform("youtube"))
}

func TestPipe_IsolationAcrossDestinations(t *testing.T) {
	dir := t.TempDir()
	spawner := newTestSpawner(t)
	p := New("room1", Config{BinaryPath: "sh", Spawner: spawner, ShutdownGrace: 300 * time.Millisecond})
	p.MarkHeader([]byte("H"))

	good := dest(t, dir, destination.PlatformYouTube)
	bad := dest(t, dir, destination.PlatformTwitch)
	p.QueuePending(good)
	p.QueuePending(bad)
	p.FlushPending(context.Background(), func(url string) []string { return buildArgsToFile(url) })

	require.Equal(t, 2, p.EntryCount())
	require.True(t, p.RemoveEntryByPlatform("twitch"))

	for i := 0; i < 3; i++ {
		assert.True(t, p.PushChunk(context.Background(), []byte("x")))
	}

	p.ShutdownAll()
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, "H"+"xxx", readFile(t, good.RTMPURL))
}

// slowSpawner delays Spawn to widen the window between FlushPending's
// recent-buffer snapshot and the new entry becoming visible in p.entries,
// so a concurrent PushChunk lands in that window deterministically.
type slowSpawner struct {
	inner Spawner
	delay time.Duration
}

func (s *slowSpawner) Spawn(ctx context.Context, binaryPath string, args []string) (*runner.ChildHandle, error) {
	time.Sleep(s.delay)
	return s.inner.Spawn(ctx, binaryPath, args)
}

// TestPipe_FlushPendingCatchesUpChunksPushedDuringSpawn is the regression
// case for the late-join gap: a PushChunk landing while FlushPending is
// still spawning/replaying must still reach the newly-joining entry, not
// just the entries that existed before the flush started.
func TestPipe_FlushPendingCatchesUpChunksPushedDuringSpawn(t *testing.T) {
	dir := t.TempDir()
	spawner := &slowSpawner{inner: newTestSpawner(t), delay: 150 * time.Millisecond}
	p := New("room1", Config{BinaryPath: "sh", Spawner: spawner, ShutdownGrace: 300 * time.Millisecond, MaxRecentBuffer: 20})

	p.MarkHeader([]byte("HEADER"))
	d := dest(t, dir, destination.PlatformYouTube)
	p.QueuePending(d)

	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		res := p.FlushPending(context.Background(), func(url string) []string { return buildArgsToFile(url) })
		assert.Equal(t, []string{"youtube"}, res.Started)
	}()

	// Give FlushPending time to snapshot recentBuffer and start spawning
	// before pushing chunks that must still be caught up.
	time.Sleep(30 * time.Millisecond)
	for i := 0; i < 3; i++ {
		assert.True(t, p.PushChunk(context.Background(), []byte("x")))
	}

	<-flushDone
	p.ShutdownAll()
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, "HEADER"+"xxx", readFile(t, d.RTMPURL))
}

func repeatStr(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
