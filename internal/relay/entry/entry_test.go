package entry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/transcode/internal/relay/runner"
)

func spawnCat(t *testing.T) *runner.ChildHandle {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	h, err := runner.Run(ctx, "sh", []string{"-c", "cat >/dev/null"})
	require.NoError(t, err)
	return h
}

func TestEntry_WriteAsyncThenShutdown(t *testing.T) {
	child := spawnCat(t)
	events := make(chan StatusEvent, 16)
	e := New("room1", "youtube", child, 200*time.Millisecond, events)

	ok := e.WriteHeader(context.Background(), []byte{0x1A, 0x45, 0xDF, 0xA3})
	assert.True(t, ok)
	assert.True(t, e.WroteHeader())

	ok = e.WriteAsync(context.Background(), []byte("media-chunk"))
	assert.True(t, ok)
	assert.Equal(t, int64(2), e.Stats().Chunks)

	e.Shutdown()
	select {
	case <-child.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("child did not exit after shutdown")
	}

	assert.False(t, e.WriteAsync(context.Background(), []byte("too late")))
}

func TestEntry_FatalStderrShutsDownAndEmitsError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	child, err := runner.Run(ctx, "sh", []string{"-c", "cat >/dev/null & echo 'Connection refused' >&2; wait"})
	require.NoError(t, err)

	events := make(chan StatusEvent, 16)
	_ = New("room1", "twitch", child, 200*time.Millisecond, events)

	var got StatusEvent
	select {
	case got = <-events:
	case <-time.After(3 * time.Second):
		t.Fatal("no status event received")
	}
	assert.Equal(t, "error", got.Status)
	assert.Contains(t, got.Reason, "Connection refused")
}

func TestEntry_CanAcceptDataReflectsWriteState(t *testing.T) {
	child := spawnCat(t)
	e := New("room1", "facebook", child, 200*time.Millisecond, nil)

	assert.True(t, e.CanAcceptData())
	e.Shutdown()
	assert.False(t, e.CanAcceptData())
}
