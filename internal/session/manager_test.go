package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/transcode/internal/relay/entry"
	"github.com/therealutkarshpriyadarshi/transcode/internal/relay/pipe"
)

func newTestManager() *Manager {
	return New(Config{TranscoderBinaryPath: "sh"}, zerolog.Nop(), pipe.RealSpawner, nil, nil)
}

func headerBuf() []byte {
	return append([]byte{0x1A, 0x45, 0xDF, 0xA3}, []byte("header-rest")...)
}

func TestManager_StreamData_CapturesHeaderWithNoEntries(t *testing.T) {
	m := newTestManager()

	// No room exists yet: stream-data for an unknown room must not panic
	// and must refuse to continue.
	ack := m.StreamData(context.Background(), StreamDataPayload{RoomID: "r1", Data: []byte("x")})
	assert.False(t, ack.ShouldContinue)

	// Creating the room via getOrCreateRoom directly (as StartRTMPStream
	// would) lets us push a header-bearing chunk with zero active entries.
	m.getOrCreateRoom("r1")
	ack = m.StreamData(context.Background(), StreamDataPayload{RoomID: "r1", IsHeader: true, Data: headerBuf()})
	assert.True(t, ack.ShouldContinue)

	r, ok := m.lookupRoom("r1")
	require.True(t, ok)
	assert.True(t, r.pipe.HasHeader())
}

func TestManager_StreamData_Base64Normalization(t *testing.T) {
	m := newTestManager()
	m.getOrCreateRoom("r1")

	raw := headerBuf()
	ack := m.StreamData(context.Background(), StreamDataPayload{
		RoomID: "r1",
		Data:   base64.StdEncoding.EncodeToString(raw),
	})
	assert.True(t, ack.ShouldContinue)

	r, _ := m.lookupRoom("r1")
	assert.True(t, r.pipe.HasHeader())
}

func TestManager_StreamData_RejectsUnsupportedPayloadKind(t *testing.T) {
	m := newTestManager()
	m.getOrCreateRoom("r1")

	ack := m.StreamData(context.Background(), StreamDataPayload{RoomID: "r1", Data: 42})
	assert.False(t, ack.ShouldContinue)
	assert.NotEmpty(t, ack.Error)
}

// TestManager_PerRoomSerialization exercises P2: concurrent stream-data
// calls for the same room are mutually exclusive, so at most one of two
// racing calls proceeds; the other must observe shouldContinue=false
// immediately rather than blocking.
func TestManager_PerRoomSerialization(t *testing.T) {
	m := newTestManager()
	r := m.getOrCreateRoom("r1")

	// Hold the room's processing lock to simulate an in-flight stream-data
	// call, exactly as StreamData would while pushing a chunk.
	r.processing.Lock()

	ack := m.StreamData(context.Background(), StreamDataPayload{RoomID: "r1", Data: []byte("x")})
	assert.False(t, ack.ShouldContinue)

	r.processing.Unlock()
}

func TestManager_CanResume_ReflectsProcessingAndBackpressure(t *testing.T) {
	m := newTestManager()
	r := m.getOrCreateRoom("r1")

	resume := m.CanResume("r1")
	assert.True(t, resume.ShouldResume)

	r.processing.Lock()
	resume = m.CanResume("r1")
	assert.False(t, resume.ShouldResume)
	assert.Equal(t, "processing", resume.Status)
	r.processing.Unlock()

	resume = m.CanResume("unknown-room")
	assert.False(t, resume.ShouldResume)
}

func TestManager_JoinRoomAndDisconnectDoesNotStopStream(t *testing.T) {
	m := newTestManager()
	m.getOrCreateRoom("r1")

	// Disconnect must not remove the room; only an explicit stop does.
	m.Disconnect("nonexistent-conn")
	_, ok := m.lookupRoom("r1")
	assert.True(t, ok)
}

func TestManager_StopRTMPStream_RemovesRoom(t *testing.T) {
	m := newTestManager()
	m.getOrCreateRoom("r1")

	m.StopRTMPStream("r1", "")
	_, ok := m.lookupRoom("r1")
	assert.False(t, ok)
}

// TestManager_JoinThenStartWiresRoomEventsForBroadcast is the regression
// case for the canonical join-room-before-start-rtmp-stream ordering
// (scenarios 1-3): the room's event channel must be created once, at room
// creation, so an entry.Entry spawned by a later StartRTMPStream still has
// a live channel to emit on instead of the nil one it would get if
// getOrCreateRoom discarded a fresh channel because the room already
// existed.
func TestManager_JoinThenStartWiresRoomEventsForBroadcast(t *testing.T) {
	m := newTestManager()
	conn := &Connection{id: "c1", send: make(chan Envelope, 8)}

	m.JoinRoom("r1", "user-1", conn)

	r, ok := m.lookupRoom("r1")
	require.True(t, ok)
	require.NotNil(t, r.events)

	// Simulate an entry.Entry reporting a status transition, as it would
	// once a later StartRTMPStream spawns a transcoder for this same room.
	r.events <- entry.StatusEvent{Platform: "youtube", Status: "streaming"}

	select {
	case env := <-conn.send:
		assert.Equal(t, EventPlatformStatus, env.Event)
		var payload PlatformStatusPayload
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		assert.Equal(t, "youtube", payload.Platform)
		assert.Equal(t, "streaming", payload.Status)
	case <-time.After(time.Second):
		t.Fatal("entry-originated event was never broadcast to the room's members")
	}
}

// TestManager_StopRTMPStream_StopsRoomEventDrain confirms room teardown
// cancels the room's drain goroutine rather than leaking it, by checking
// the room is gone and a fresh getOrCreateRoom for the same id produces a
// distinct events channel (i.e. nothing still reads the old one).
func TestManager_StopRTMPStream_StopsRoomEventDrain(t *testing.T) {
	m := newTestManager()
	first := m.getOrCreateRoom("r1")

	m.StopRTMPStream("r1", "")
	_, ok := m.lookupRoom("r1")
	require.False(t, ok)

	second := m.getOrCreateRoom("r1")
	assert.NotSame(t, first, second)
	assert.NotEqual(t, first.events, second.events)
}

func TestClampDuration(t *testing.T) {
	assert.Equal(t, 3, clampDuration(0))
	assert.Equal(t, 120, clampDuration(999))
	assert.Equal(t, 45, clampDuration(45))
}

func TestManager_ConcurrentStreamDataDoesNotDeadlock(t *testing.T) {
	m := newTestManager()
	m.getOrCreateRoom("r1")

	var wg sync.WaitGroup
	results := make(chan bool, 2)

	barrier := make(chan struct{})
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			<-barrier
			ack := m.StreamData(context.Background(), StreamDataPayload{RoomID: "r1", Data: []byte("x")})
			results <- ack.ShouldContinue
		}()
	}
	close(barrier)
	wg.Wait()
	close(results)

	trueCount := 0
	for r := range results {
		if r {
			trueCount++
		}
	}
	// With zero active entries both could plausibly succeed serially, but
	// they must never run concurrently; this asserts the handler didn't
	// panic or deadlock under race, which go test -race would also catch.
	assert.LessOrEqual(t, trueCount, 2)
	_ = time.Millisecond
}
