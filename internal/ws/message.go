package ws

import (
	"time"

	"vigil/internal/event"
)

// ConnectionMessage is the welcome frame sent to every new subscriber.
type ConnectionMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// PongMessage answers a client {"type":"ping"} control frame.
type PongMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// MotionEventMessage is the broadcast frame for a motion start or stop.
type MotionEventMessage struct {
	Type           string  `json:"type"`
	CameraID       string  `json:"camera_id"`
	MotionDetected bool    `json:"motion_detected"`
	Timestamp      string  `json:"timestamp"`
	VideoPath      *string `json:"video_path"`
}

// ShutdownMessage is broadcast once before the hub closes all sockets.
type ShutdownMessage struct {
	Type string `json:"type"`
}

// clientMessage is the decoded shape of inbound client frames.
type clientMessage struct {
	Type string `json:"type"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// NewConnectionMessage builds the welcome frame.
func NewConnectionMessage() ConnectionMessage {
	return ConnectionMessage{
		Type:      "connection",
		Message:   "Connected to Motion Detection WebSocket Server",
		Timestamp: timestamp(),
	}
}

// NewPongMessage builds a pong frame.
func NewPongMessage() PongMessage {
	return PongMessage{Type: "pong", Timestamp: timestamp()}
}

// NewMotionEventMessage converts a bus event to its wire form. VideoPath is
// null when the session has no segment on disk yet.
func NewMotionEventMessage(ev event.MotionEvent) MotionEventMessage {
	msg := MotionEventMessage{
		Type:           "motion_event",
		CameraID:       ev.CameraID,
		MotionDetected: ev.Kind == event.KindStart,
		Timestamp:      ev.Timestamp.UTC().Format(time.RFC3339),
	}
	if ev.VideoPath != "" {
		path := ev.VideoPath
		msg.VideoPath = &path
	}
	return msg
}
