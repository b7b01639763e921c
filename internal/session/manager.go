package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/therealutkarshpriyadarshi/transcode/internal/metrics"
	"github.com/therealutkarshpriyadarshi/transcode/internal/relay/destination"
	"github.com/therealutkarshpriyadarshi/transcode/internal/relay/entry"
	"github.com/therealutkarshpriyadarshi/transcode/internal/relay/pipe"
	"github.com/therealutkarshpriyadarshi/transcode/internal/relayerr"
)

// RoomID is the opaque, externally-minted room identifier (spec.md §3).
type RoomID = string

// StreamRecords is the external stream-record collaborator interface
// (spec.md §6). Manager keeps the collaborator passed to New, but none of
// its handlers call it; CreateStream/EndStream are not called anywhere in
// this repository.
type StreamRecords interface {
	FindActiveByRoom(ctx context.Context, roomID RoomID) (bool, error)
}

// Notifier receives lifecycle events for out-of-band delivery (webhooks,
// metrics). Both methods must not block the caller for long; Manager does
// not wait for them.
type Notifier interface {
	NotifyPlatformStatus(ctx context.Context, roomID, platform, status, reason string)
	NotifyStreamStopped(ctx context.Context, roomID, platform string)
}

// Config configures the Session Manager's defaults, mirroring
// spec.md §6 Configuration.
type Config struct {
	TranscoderBinaryPath string
	MaxRecentBuffer       int
	ChildShutdownGrace    time.Duration
	MetricsInterval       time.Duration
	HeaderScanLimit       int
}

func (c Config) withDefaults() Config {
	if c.MaxRecentBuffer <= 0 {
		c.MaxRecentBuffer = pipe.DefaultRecentBuffer
	}
	if c.ChildShutdownGrace <= 0 {
		c.ChildShutdownGrace = 2 * time.Second
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = time.Second
	}
	if c.HeaderScanLimit <= 0 {
		c.HeaderScanLimit = 8192
	}
	return c
}

var headerMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

type room struct {
	pipe       *pipe.Pipe
	members    map[string]*Connection
	processing sync.Mutex
	mu         sync.RWMutex

	events chan entry.StatusEvent
	cancel context.CancelFunc
}

// Manager is the single per-server Session Manager: it owns the room map,
// dispatches the message channel protocol, and serializes per-room chunk
// processing via a TryLock on each room's processing mutex (spec.md §9's
// redesign note for the processing[roomId] flag).
type Manager struct {
	cfg    Config
	logger zerolog.Logger
	spawner pipe.Spawner
	records StreamRecords
	notifier Notifier

	mu          sync.RWMutex
	rooms       map[RoomID]*room
	socketUsers map[string]string // connection id -> userId

	testDispatcher TestDispatcher
}

// New creates a Session Manager. records and notifier may be nil.
func New(cfg Config, logger zerolog.Logger, spawner pipe.Spawner, records StreamRecords, notifier Notifier) *Manager {
	if spawner == nil {
		spawner = pipe.RealSpawner
	}
	return &Manager{
		cfg:         cfg.withDefaults(),
		logger:      logger.With().Str("component", "session_manager").Logger(),
		spawner:     spawner,
		records:     records,
		notifier:    notifier,
		rooms:       make(map[RoomID]*room),
		socketUsers: make(map[string]string),
	}
}

// getOrCreateRoom returns the existing room for roomID, or creates one. The
// room's event channel and its single drainEvents goroutine are created
// exactly once, here, at room creation — not per StartRTMPStream call —
// since every entry.Entry the room's pipe ever spawns is wired to this same
// channel for the room's whole lifetime.
func (m *Manager) getOrCreateRoom(roomID RoomID) *room {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if ok {
		return r
	}

	events := make(chan entry.StatusEvent, 256)
	ctx, cancel := context.WithCancel(context.Background())

	r = &room{
		pipe: pipe.New(roomID, pipe.Config{
			BinaryPath:      m.cfg.TranscoderBinaryPath,
			ShutdownGrace:   m.cfg.ChildShutdownGrace,
			MaxRecentBuffer: m.cfg.MaxRecentBuffer,
			Spawner:         m.spawner,
			Events:          events,
		}),
		members: make(map[string]*Connection),
		events:  events,
		cancel:  cancel,
	}
	m.rooms[roomID] = r
	metrics.RoomsActive.Set(float64(len(m.rooms)))
	go m.drainEvents(ctx, roomID, events)
	return r
}

func (m *Manager) lookupRoom(roomID RoomID) (*room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	return r, ok
}

func (m *Manager) deleteRoom(roomID RoomID) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	delete(m.rooms, roomID)
	metrics.RoomsActive.Set(float64(len(m.rooms)))
	m.mu.Unlock()

	if ok {
		r.cancel()
	}
}

// RegisterUser associates a userId with a connection.
func (m *Manager) RegisterUser(connID, userID string) {
	m.mu.Lock()
	m.socketUsers[connID] = userID
	m.mu.Unlock()
}

// JoinRoom adds conn to the room's broadcast set and notifies the other
// members that userID connected.
func (m *Manager) JoinRoom(roomID RoomID, userID string, conn *Connection) {
	r := m.getOrCreateRoom(roomID)

	r.mu.Lock()
	r.members[conn.id] = conn
	r.mu.Unlock()

	m.broadcastToRoom(roomID, EventUserConnected, userID, conn.id)
}

// Disconnect removes a connection from whatever room(s) it belonged to and
// notifies the remaining members. It never stops an active RTMP relay: an
// explicit stop-rtmp-stream is required for that (spec.md §4.5).
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	userID := m.socketUsers[connID]
	delete(m.socketUsers, connID)
	rooms := make([]*room, 0, len(m.rooms))
	var roomIDs []RoomID
	for id, r := range m.rooms {
		r.mu.RLock()
		_, isMember := r.members[connID]
		r.mu.RUnlock()
		if isMember {
			rooms = append(rooms, r)
			roomIDs = append(roomIDs, id)
		}
	}
	m.mu.Unlock()

	for i, r := range rooms {
		r.mu.Lock()
		delete(r.members, connID)
		r.mu.Unlock()
		m.broadcastToRoom(roomIDs[i], EventUserDisconnected, userID, connID)
	}
}

func (m *Manager) broadcastToRoom(roomID RoomID, event string, userID string, exceptConnID string) {
	r, ok := m.lookupRoom(roomID)
	if !ok {
		return
	}
	payload, _ := json.Marshal(userID)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, conn := range r.members {
		if id == exceptConnID {
			continue
		}
		conn.Send(Envelope{Event: event, Payload: payload})
	}
}

func (m *Manager) emitToRoom(roomID RoomID, event string, payload interface{}) {
	r, ok := m.lookupRoom(roomID)
	if !ok {
		return
	}
	body, _ := json.Marshal(payload)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conn := range r.members {
		conn.Send(Envelope{Event: event, Payload: body})
	}
}

// StartRTMPStream validates and enqueues destinations for a room, emitting
// connecting status and either an immediate flush or a queued
// acknowledgement plus a request-media-header broadcast, exactly per
// spec.md §4.5.
func (m *Manager) StartRTMPStream(ctx context.Context, caller *Connection, p StartRTMPStreamPayload) {
	if len(p.Destinations) == 0 {
		m.replyError(caller, "no destinations specified", "")
		return
	}

	r := m.getOrCreateRoom(p.RoomID)

	var valid []destination.Destination
	var failed []FailedDestination

	for _, d := range p.Destinations {
		dest, err := destination.New(destination.Platform(d.Platform), d.StreamKey, d.URL)
		if err != nil {
			failed = append(failed, FailedDestination{Platform: d.Platform, Error: err.Error()})
			continue
		}
		valid = append(valid, dest)
	}

	for _, dest := range valid {
		r.pipe.QueuePending(dest)
		m.emitToRoom(p.RoomID, EventPlatformStatus, PlatformStatusPayload{
			Platform: string(dest.Platform),
			Status:   StatusConnecting,
		})
	}

	if len(valid) == 0 {
		m.replyTo(caller, EventStreamStarted, StreamStartedPayload{
			Success: false,
			Message: "all destinations invalid",
			Failed:  failed,
		})
		return
	}

	if r.pipe.HasHeader() {
		res := r.pipe.FlushPending(ctx, destination.BuildArgs)
		for _, platform := range res.Started {
			m.emitToRoom(p.RoomID, EventPlatformStatus, PlatformStatusPayload{Platform: platform, Status: StatusStreaming})
		}
		for _, f := range res.Failed {
			m.emitToRoom(p.RoomID, EventPlatformStatus, PlatformStatusPayload{Platform: f.Platform, Status: StatusError, Error: f.Reason})
			failed = append(failed, FailedDestination{Platform: f.Platform, Error: f.Reason})
		}
		m.replyTo(caller, EventStreamStarted, StreamStartedPayload{
			Success:      len(res.Started) > 0,
			Message:      "started",
			Destinations: res.Started,
			Failed:       failed,
		})
		return
	}

	m.replyTo(caller, EventStreamStarted, StreamStartedPayload{
		Success: true,
		Message: "queued",
		Failed:  failed,
	})
	m.emitToRoom(p.RoomID, EventRequestHeader, RequestMediaHeaderPayload{RoomID: p.RoomID})
}

// StreamData implements the stream-data handler of spec.md §4.5, returning
// the acknowledgement the caller must send back over the wire.
func (m *Manager) StreamData(ctx context.Context, p StreamDataPayload) StreamDataAck {
	start := time.Now()

	r, ok := m.lookupRoom(p.RoomID)
	if !ok {
		return StreamDataAck{ShouldContinue: false, Error: "unknown room"}
	}

	if !r.processing.TryLock() {
		return StreamDataAck{ShouldContinue: false}
	}
	defer r.processing.Unlock()

	buf, err := normalizeData(p.Data)
	if err != nil {
		return StreamDataAck{ShouldContinue: false, Error: err.Error()}
	}

	if p.IsHeader || m.looksLikeHeader(buf) {
		if !r.pipe.HasHeader() {
			pos := findHeaderMagic(buf, m.cfg.HeaderScanLimit)
			if pos >= 0 {
				r.pipe.MarkHeader(buf[pos:])
				res := r.pipe.FlushPending(ctx, destination.BuildArgs)
				for _, platform := range res.Started {
					m.emitToRoom(p.RoomID, EventPlatformStatus, PlatformStatusPayload{Platform: platform, Status: StatusStreaming})
				}
				for _, f := range res.Failed {
					m.emitToRoom(p.RoomID, EventPlatformStatus, PlatformStatusPayload{Platform: f.Platform, Status: StatusError, Error: f.Reason})
				}
			}
		}
	}

	ok2 := r.pipe.PushChunk(ctx, buf)
	canAccept := r.pipe.CanAcceptData()

	return StreamDataAck{
		ShouldContinue: ok2 && canAccept,
		ProcessingTime: time.Since(start).Seconds() * 1000,
		Timestamp:      time.Now().UnixMilli(),
	}
}

func (m *Manager) looksLikeHeader(buf []byte) bool {
	return findHeaderMagic(buf, m.cfg.HeaderScanLimit) >= 0
}

func findHeaderMagic(buf []byte, limit int) int {
	end := len(buf)
	if end > limit {
		end = limit
	}
	for i := 0; i+len(headerMagic) <= end; i++ {
		match := true
		for j, b := range headerMagic {
			if buf[i+j] != b {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// normalizeData accepts raw bytes, a []interface{} numeric view, or a
// base64 string, rejecting anything else (spec.md §9 buffer-type
// polymorphism note).
func normalizeData(data interface{}) ([]byte, error) {
	switch v := data.(type) {
	case []byte:
		return v, nil
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, relayerr.Wrap(relayerr.KindInvalidMessage, "invalid base64 stream-data payload", err)
		}
		return decoded, nil
	case []interface{}:
		out := make([]byte, len(v))
		for i, n := range v {
			f, ok := n.(float64)
			if !ok || f < 0 || f > 255 {
				return nil, relayerr.New(relayerr.KindInvalidMessage, "stream-data byte view contains a non-byte value")
			}
			out[i] = byte(f)
		}
		return out, nil
	default:
		return nil, relayerr.New(relayerr.KindInvalidMessage, fmt.Sprintf("unsupported stream-data payload kind %T", data))
	}
}

// CanResume implements the can-resume handler of spec.md §4.5.
func (m *Manager) CanResume(roomID RoomID) CanResumeAck {
	r, ok := m.lookupRoom(roomID)
	if !ok {
		return CanResumeAck{ShouldResume: false, Status: "no_active_stream"}
	}

	processing := !r.processing.TryLock()
	if !processing {
		r.processing.Unlock()
	}

	canAccept := r.pipe.CanAcceptData()
	status := "ready"
	if processing {
		status = "processing"
	} else if !canAccept {
		status = "backpressure"
	}

	return CanResumeAck{
		ShouldResume: !processing && canAccept,
		Status:       status,
	}
}

// StopRTMPStream implements spec.md §4.5's stop-rtmp-stream handler.
func (m *Manager) StopRTMPStream(roomID RoomID, platform string) {
	r, ok := m.lookupRoom(roomID)
	if !ok {
		return
	}

	if platform != "" {
		if r.pipe.RemoveEntryByPlatform(platform) {
			m.emitToRoom(roomID, EventPlatformStatus, PlatformStatusPayload{Platform: platform, Status: StatusIdle})
			if m.notifier != nil {
				m.notifier.NotifyStreamStopped(context.Background(), roomID, platform)
			}
		}
		return
	}

	r.pipe.ShutdownAll()
	m.emitToRoom(roomID, EventStreamStopped, StreamStoppedPayload{Success: true, Message: "stopped"})
	m.deleteRoom(roomID)
	if m.notifier != nil {
		m.notifier.NotifyStreamStopped(context.Background(), roomID, "")
	}
}

// ShutdownAllRooms tears down every active Stream Pipe; called on server
// shutdown (spec.md §5).
func (m *Manager) ShutdownAllRooms() {
	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[RoomID]*room)
	metrics.RoomsActive.Set(0)
	m.mu.Unlock()

	for _, r := range rooms {
		r.pipe.ShutdownAll()
		r.cancel()
	}
}

// ActiveRoomCount returns the number of rooms currently tracked, for the
// JSON health snapshot in internal/monitoring.
func (m *Manager) ActiveRoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// drainEvents is the room's single event-draining goroutine, started once
// in getOrCreateRoom and stopped via ctx when the room is torn down
// (deleteRoom, ShutdownAllRooms). It never closes events itself: entries
// keep emitting asynchronously after Shutdown() is called (SIGTERM, then a
// grace period before SIGKILL), so the channel would race a close against
// an in-flight send; cancellation lets drainEvents stop cleanly while any
// trailing, now-unread events are simply dropped with the room.
func (m *Manager) drainEvents(ctx context.Context, roomID RoomID, events <-chan entry.StatusEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Status {
			case "streaming", "error", "idle":
				m.emitToRoom(roomID, EventPlatformStatus, PlatformStatusPayload{
					Platform: ev.Platform,
					Status:   ev.Status,
					Error:    ev.Reason,
				})
				if m.notifier != nil && (ev.Status == "streaming" || ev.Status == "error") {
					m.notifier.NotifyPlatformStatus(context.Background(), roomID, ev.Platform, ev.Status, ev.Reason)
				}
			default:
				m.emitToRoom(roomID, EventPlatformMetrics, PlatformMetricsPayload{
					RoomID:     roomID,
					Platform:   ev.Platform,
					PID:        ev.PID,
					Stats:      ev.Stats,
					Queue:      ev.Queue,
					LastStderr: ev.Stderr,
				})
			}
		}
	}
}

func (m *Manager) replyTo(conn *Connection, event string, payload interface{}) {
	if conn == nil {
		return
	}
	body, _ := json.Marshal(payload)
	conn.Send(Envelope{Event: event, Payload: body})
}

func (m *Manager) replyError(conn *Connection, message, platform string) {
	m.replyTo(conn, EventStreamError, StreamErrorPayload{
		Success:  false,
		Message:  message,
		Platform: platform,
	})
}
