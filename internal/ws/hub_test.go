package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"vigil/internal/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startHub launches a hub on a loopback listener and returns its address
// and the channel test cases publish events into.
func startHub(t *testing.T) (string, chan event.MotionEvent, *Hub) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	events := make(chan event.MotionEvent, 16)
	hub := NewHub(ln, events, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("hub did not shut down")
		}
	})

	return "ws://" + ln.Addr().String(), events, hub
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

// readFrame reads one JSON frame into a generic map with a deadline.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

// TestWelcomeFrame verifies every new subscriber receives the connection
// frame with a timestamp.
func TestWelcomeFrame(t *testing.T) {
	url, _, _ := startHub(t)
	conn := dial(t, url)
	defer conn.Close()

	frame := readFrame(t, conn)
	if frame["type"] != "connection" {
		t.Errorf("welcome type = %v, want connection", frame["type"])
	}
	if frame["message"] == "" {
		t.Error("welcome message is empty")
	}
	if _, err := time.Parse(time.RFC3339, frame["timestamp"].(string)); err != nil {
		t.Errorf("welcome timestamp not RFC3339: %v", err)
	}
}

// TestPingPong verifies a client {"type":"ping"} elicits a timestamped pong.
func TestPingPong(t *testing.T) {
	url, _, _ := startHub(t)
	conn := dial(t, url)
	defer conn.Close()
	readFrame(t, conn) // welcome

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	frame := readFrame(t, conn)
	if frame["type"] != "pong" {
		t.Errorf("reply type = %v, want pong", frame["type"])
	}
	if frame["timestamp"] == nil {
		t.Error("pong has no timestamp")
	}
}

// TestInvalidJSONIgnored verifies malformed input does not close the
// connection: a ping afterwards is still answered.
func TestInvalidJSONIgnored(t *testing.T) {
	url, _, _ := startHub(t)
	conn := dial(t, url)
	defer conn.Close()
	readFrame(t, conn) // welcome

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if frame := readFrame(t, conn); frame["type"] != "pong" {
		t.Errorf("reply after garbage = %v, want pong", frame["type"])
	}
}

// TestMotionEventBroadcast verifies bus events reach subscribers in the
// standardized motion_event shape, including the null video_path on a
// stop without a segment.
func TestMotionEventBroadcast(t *testing.T) {
	url, events, _ := startHub(t)
	conn := dial(t, url)
	defer conn.Close()
	readFrame(t, conn) // welcome

	startEv := event.NewMotionEvent("cam1", event.KindStart, "/rec/cam1/2026-07-01/cam1_120000_chunk%03d.mp4")
	events <- startEv

	frame := readFrame(t, conn)
	if frame["type"] != "motion_event" {
		t.Fatalf("frame type = %v, want motion_event", frame["type"])
	}
	if frame["camera_id"] != "cam1" {
		t.Errorf("camera_id = %v, want cam1", frame["camera_id"])
	}
	if frame["motion_detected"] != true {
		t.Errorf("motion_detected = %v, want true", frame["motion_detected"])
	}
	if frame["video_path"] != startEv.VideoPath {
		t.Errorf("video_path = %v, want %v", frame["video_path"], startEv.VideoPath)
	}
	if _, err := time.Parse(time.RFC3339, frame["timestamp"].(string)); err != nil {
		t.Errorf("timestamp not RFC3339 UTC: %v", err)
	}

	events <- event.NewMotionEvent("cam1", event.KindStop, "")
	frame = readFrame(t, conn)
	if frame["motion_detected"] != false {
		t.Errorf("stop motion_detected = %v, want false", frame["motion_detected"])
	}
	if path, present := frame["video_path"]; !present || path != nil {
		t.Errorf("stop video_path = %v, want explicit null", path)
	}
}

// TestBroadcastIsolation verifies a dead subscriber is removed without
// affecting delivery to the healthy one.
func TestBroadcastIsolation(t *testing.T) {
	url, events, hub := startHub(t)

	healthy := dial(t, url)
	defer healthy.Close()
	readFrame(t, healthy)

	dying := dial(t, url)
	readFrame(t, dying)
	dying.Close()

	// The hub notices the closed peer via its read loop or the next
	// broadcast write; either way the healthy client keeps receiving.
	events <- event.NewMotionEvent("cam1", event.KindStart, "tmpl")
	events <- event.NewMotionEvent("cam1", event.KindStop, "seg")

	first := readFrame(t, healthy)
	second := readFrame(t, healthy)
	if first["motion_detected"] != true || second["motion_detected"] != false {
		t.Errorf("healthy client frames = %v, %v; want start then stop", first, second)
	}

	deadline := time.Now().Add(3 * time.Second)
	for hub.ClientCount() > 1 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if got := hub.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1 after dead subscriber removal", got)
	}
}

// TestShutdownBroadcast verifies subscribers receive server_shutdown before
// their sockets close.
func TestShutdownBroadcast(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	events := make(chan event.MotionEvent)
	hub := NewHub(ln, events, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Serve(ctx)
	}()

	conn := dial(t, "ws://"+ln.Addr().String())
	defer conn.Close()
	readFrame(t, conn) // welcome

	cancel()

	frame := readFrame(t, conn)
	if frame["type"] != "server_shutdown" {
		t.Errorf("frame after shutdown = %v, want server_shutdown", frame["type"])
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Error("hub did not exit after shutdown")
	}
}

// TestMotionEventMessageJSON verifies the wire encoding of the broadcast
// frame, in particular that an absent segment serializes as null.
func TestMotionEventMessageJSON(t *testing.T) {
	msg := NewMotionEventMessage(event.MotionEvent{
		CameraID:  "cam1",
		Kind:      event.KindStop,
		Timestamp: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
	})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	want := `{"type":"motion_event","camera_id":"cam1","motion_detected":false,"timestamp":"2026-07-01T12:00:00Z","video_path":null}`
	if got != want {
		t.Errorf("encoded frame = %s, want %s", got, want)
	}
}
