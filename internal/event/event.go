// Package event defines motion events and the in-process bus that fans
// them out from camera workers to the WebSocket hub.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the start and end of a recording session.
type Kind string

const (
	KindStart Kind = "start"
	KindStop  Kind = "stop"
)

// MotionEvent is an immutable record of a worker entering or leaving the
// recording state.
//
// At start, VideoPath is the session's segment template; at stop it is the
// newest segment the encoder wrote, or empty when none exists yet.
type MotionEvent struct {
	ID        string
	CameraID  string
	Kind      Kind
	Timestamp time.Time
	VideoPath string
}

// NewMotionEvent builds an event stamped with a fresh id and the current
// UTC time.
func NewMotionEvent(cameraID string, kind Kind, videoPath string) MotionEvent {
	return MotionEvent{
		ID:        uuid.New().String(),
		CameraID:  cameraID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		VideoPath: videoPath,
	}
}
