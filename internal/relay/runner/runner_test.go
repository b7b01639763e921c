package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRun_WritesStdinAndDrainsStderr uses the system `sh` to exercise the
// full pipe wiring: we feed stdin, the child script echoes a line to stderr,
// and we assert it shows up on StderrLines.
func TestRun_WritesStdinAndDrainsStderr(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := Run(ctx, "sh", []string{"-c", "cat >/dev/null; echo frame=1 fps=30 >&2"})
	require.NoError(t, err)
	assert.Greater(t, h.PID, 0)

	_, err = h.Stdin.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, h.Stdin.Close())

	select {
	case line, ok := <-h.StderrLines():
		require.True(t, ok)
		assert.Contains(t, line, "frame=1")
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for stderr line")
	}

	require.NoError(t, h.Wait())
}

func TestRun_SpawnErrorOnMissingBinary(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Run(ctx, "/nonexistent/transcoder-binary", nil)
	assert.Error(t, err)
}

func TestChildHandle_KillUnblocksWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := Run(ctx, "sh", []string{"-c", "sleep 30"})
	require.NoError(t, err)

	require.NoError(t, h.Kill())

	done := make(chan struct{})
	go func() {
		h.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("process did not exit after Kill")
	}
}
