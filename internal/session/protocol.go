// Package session implements the Session Manager: the single per-server
// instance owning the room -> Stream Pipe map and the message channel
// protocol documented in spec.md §6. Event envelopes here are the Go
// realization of that protocol; the wire events themselves (names and
// payload shapes) are carried verbatim.
package session

import "encoding/json"

// Envelope is the wire frame carried over the WebSocket connection: a named
// event plus its JSON payload. RequestID correlates an inbound event that
// expects an acknowledgement (stream-data, can-resume) with the matching
// "ack" envelope sent back on the same connection.
type Envelope struct {
	Event     string          `json:"event"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventAck is the event name used for acknowledgement replies.
const EventAck = "ack"

// Inbound payloads.

type RegisterUserPayload struct {
	UserID string `json:"userId"`
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type DestinationRequest struct {
	Platform  string `json:"platform"`
	StreamKey string `json:"streamKey"`
	URL       string `json:"url,omitempty"`
}

type StartRTMPStreamPayload struct {
	RoomID       string               `json:"roomId"`
	UserID       string               `json:"userId"`
	Destinations []DestinationRequest `json:"destinations"`
}

type StopRTMPStreamPayload struct {
	RoomID   string `json:"roomId"`
	Platform string `json:"platform,omitempty"`
}

type TestRTMPStreamPayload struct {
	RoomID     string `json:"roomId"`
	Platform   string `json:"platform"`
	URL        string `json:"url,omitempty"`
	StreamKey  string `json:"streamKey"`
	DurationS  int    `json:"duration,omitempty"`
}

type StreamDataPayload struct {
	RoomID   string      `json:"roomId"`
	Data     interface{} `json:"data"` // []byte, base64 string, or array-of-numbers view
	IsHeader bool        `json:"isHeader,omitempty"`
}

type CanResumePayload struct {
	RoomID string `json:"roomId"`
}

type SignalPayload struct {
	UserID       string          `json:"userId"`
	RoomID       string          `json:"roomId"`
	Signal       json.RawMessage `json:"signal"`
	TargetUserID string          `json:"targetUserId,omitempty"`
}

// Outbound payloads.

type StreamStartedPayload struct {
	Success      bool               `json:"success"`
	Message      string             `json:"message"`
	Destinations []string           `json:"destinations"`
	Failed       []FailedDestination `json:"failed,omitempty"`
}

type FailedDestination struct {
	Platform string `json:"platform"`
	Error    string `json:"error"`
}

type StreamStoppedPayload struct {
	Success  bool   `json:"success"`
	Platform string `json:"platform,omitempty"`
	Message  string `json:"message"`
}

type StreamErrorPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Platform string `json:"platform,omitempty"`
	Details string `json:"details,omitempty"`
}

type PlatformStatusPayload struct {
	Platform string `json:"platform"`
	Status   string `json:"status"` // idle|connecting|streaming|error|testing
	Error    string `json:"error,omitempty"`
}

type PlatformMetricsPayload struct {
	RoomID     string      `json:"roomId"`
	Platform   string      `json:"platform"`
	PID        int         `json:"pid"`
	Stats      interface{} `json:"stats"`
	Queue      interface{} `json:"queue"`
	LastStderr string      `json:"lastStderr"`
}

type RequestMediaHeaderPayload struct {
	RoomID string `json:"roomId"`
}

// StreamDataAck is the payload returned through the stream-data
// acknowledgement callback.
type StreamDataAck struct {
	ShouldContinue bool    `json:"shouldContinue"`
	ProcessingTime float64 `json:"processingTime,omitempty"`
	Timestamp      int64   `json:"timestamp,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// CanResumeAck is the payload returned through the can-resume callback.
type CanResumeAck struct {
	ShouldResume bool   `json:"shouldResume"`
	Status       string `json:"status,omitempty"`
}

const (
	EventRegisterUser     = "register-user"
	EventJoinRoom         = "join-room"
	EventSignal           = "signal"
	EventStartRTMPStream  = "start-rtmp-stream"
	EventStopRTMPStream   = "stop-rtmp-stream"
	EventTestRTMPStream   = "test-rtmp-stream"
	EventStreamData       = "stream-data"
	EventCanResume        = "can-resume"

	EventStreamStarted    = "rtmp-stream-started"
	EventStreamStopped    = "rtmp-stream-stopped"
	EventStreamError      = "rtmp-stream-error"
	EventPlatformStatus   = "rtmp-platform-status"
	EventPlatformMetrics  = "rtmp-platform-metrics"
	EventRequestHeader    = "request-media-header"
	EventUserConnected    = "user-connected"
	EventUserDisconnected = "user-disconnected"
)

const (
	StatusIdle       = "idle"
	StatusConnecting = "connecting"
	StatusStreaming  = "streaming"
	StatusError      = "error"
	StatusTesting    = "testing"
)
