package session

import (
	"context"
	"encoding/json"

	"github.com/therealutkarshpriyadarshi/transcode/internal/relay/destination"
)

// TestDispatcher publishes a synthetic-source test job for async execution
// (spec.md §4.5 test-rtmp-stream), off the Session Manager's own event
// loop. Implemented in production by internal/scheduler, which publishes to
// internal/queue for internal/testworker to consume;
// a no-op stub is fine for server configurations that don't support it.
type TestDispatcher interface {
	Dispatch(ctx context.Context, job TestJob) error
}

// TestJob describes one test-rtmp-stream request.
type TestJob struct {
	RoomID    string `json:"roomId"`
	Platform  string `json:"platform"`
	URL       string `json:"url,omitempty"`
	StreamKey string `json:"streamKey"`
	Duration  int    `json:"duration"`
}

// clampDuration enforces spec.md §4.5's clamp(duration, 3, 120).
func clampDuration(d int) int {
	if d < 3 {
		return 3
	}
	if d > 120 {
		return 120
	}
	return d
}

// SetTestDispatcher wires the async executor for test-rtmp-stream jobs.
func (m *Manager) SetTestDispatcher(d TestDispatcher) { m.testDispatcher = d }

// TestRTMPStream validates and dispatches a test-rtmp-stream request.
func (m *Manager) TestRTMPStream(ctx context.Context, p TestRTMPStreamPayload) {
	dest, err := destinationForTest(p)
	if err != nil {
		m.emitToRoom(p.RoomID, EventPlatformStatus, PlatformStatusPayload{Platform: p.Platform, Status: StatusError, Error: err.Error()})
		return
	}

	m.emitToRoom(p.RoomID, EventPlatformStatus, PlatformStatusPayload{Platform: p.Platform, Status: StatusTesting})

	job := TestJob{
		RoomID:    p.RoomID,
		Platform:  p.Platform,
		URL:       dest,
		StreamKey: p.StreamKey,
		Duration:  clampDuration(p.DurationS),
	}

	if m.testDispatcher == nil {
		m.emitToRoom(p.RoomID, EventPlatformStatus, PlatformStatusPayload{Platform: p.Platform, Status: StatusError, Error: "test dispatcher not configured"})
		return
	}

	if err := m.testDispatcher.Dispatch(ctx, job); err != nil {
		m.emitToRoom(p.RoomID, EventPlatformStatus, PlatformStatusPayload{Platform: p.Platform, Status: StatusError, Error: err.Error()})
	}
}

func destinationForTest(p TestRTMPStreamPayload) (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	return destination.Construct(destination.Platform(p.Platform), p.StreamKey, p.URL)
}

// EmitPlatformStatus lets an out-of-band executor (the test-stream worker)
// report status back through the same room broadcast and notifier path
// used by the core relay, without importing the session package from the
// worker (avoids an import cycle).
func (m *Manager) EmitPlatformStatus(roomID, platform, status, reason string) {
	m.emitToRoom(roomID, EventPlatformStatus, PlatformStatusPayload{
		Platform: platform,
		Status:   status,
		Error:    reason,
	})
	if m.notifier != nil && (status == StatusStreaming || status == StatusError) {
		m.notifier.NotifyPlatformStatus(context.Background(), roomID, platform, status, reason)
	}
}

// Dispatch handles one inbound envelope for a connection, routing it to
// the appropriate Manager method and replying as the protocol requires.
func (m *Manager) Dispatch(ctx context.Context, conn *Connection, env Envelope) {
	switch env.Event {
	case EventRegisterUser:
		var p RegisterUserPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			m.RegisterUser(conn.id, p.UserID)
		}

	case EventJoinRoom:
		var p JoinRoomPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			m.JoinRoom(p.RoomID, p.UserID, conn)
		}

	case EventStartRTMPStream:
		var p StartRTMPStreamPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			m.replyError(conn, "malformed start-rtmp-stream payload", "")
			return
		}
		m.StartRTMPStream(ctx, conn, p)

	case EventStopRTMPStream:
		var p StopRTMPStreamPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			m.StopRTMPStream(p.RoomID, p.Platform)
		}

	case EventTestRTMPStream:
		var p TestRTMPStreamPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			m.TestRTMPStream(ctx, p)
		}

	case EventStreamData:
		var p StreamDataPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			m.ackTo(conn, env.RequestID, StreamDataAck{ShouldContinue: false, Error: "malformed stream-data payload"})
			return
		}
		ack := m.StreamData(ctx, p)
		m.ackTo(conn, env.RequestID, ack)

	case EventCanResume:
		var p CanResumePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			ack := m.CanResume(p.RoomID)
			m.ackTo(conn, env.RequestID, ack)
		}

	case EventSignal:
		// Thin collaborator: forward verbatim to the other room members.
		var p SignalPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			m.forwardSignal(p)
		}
	}
}

func (m *Manager) ackTo(conn *Connection, requestID string, payload interface{}) {
	if conn == nil {
		return
	}
	body, _ := json.Marshal(payload)
	conn.Send(Envelope{Event: EventAck, RequestID: requestID, Payload: body})
}

func (m *Manager) forwardSignal(p SignalPayload) {
	r, ok := m.lookupRoom(p.RoomID)
	if !ok {
		return
	}
	body, _ := json.Marshal(p)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conn := range r.members {
		conn.Send(Envelope{Event: EventSignal, Payload: body})
	}
}
