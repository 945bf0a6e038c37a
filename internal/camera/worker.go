// Package camera contains the per-camera worker state machine and the
// registry that supervises the camera fleet.
package camera

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"vigil/internal/config"
	"vigil/internal/detector"
	"vigil/internal/event"
	"vigil/internal/janitor"
	"vigil/internal/recorder"
	"vigil/internal/source"
)

// State is the worker's position in its lifecycle state machine.
type State int32

const (
	StateInitializing State = iota
	StateWatching
	StateRecording
	StateStopping
	StateCrashed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateWatching:
		return "watching"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateCrashed:
		return "crashed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// restartBackoff is the delay before a crashed worker reopens its stream.
const restartBackoff = 5 * time.Second

// FrameStream yields decoded frames from one camera stream.
type FrameStream interface {
	NextFrame(stop <-chan struct{}) (image.Image, error)
	Close()
}

// VideoRecorder owns the external encoder process for one camera.
type VideoRecorder interface {
	Start(template, rtspURL string) (bool, error)
	Stop() bool
	Alive() bool
	ActiveSegment() string
}

// Worker glues one camera's frame source, detector and recorder together
// and publishes motion events on the bus. Its run loop is self-supervised:
// stream trouble crashes the session, which is reopened after a fixed
// backoff until an external stop is requested. Encoder trouble does not
// crash the session: the recording ends and the worker keeps watching.
type Worker struct {
	cameraID  string
	rtspURL   string
	cfg       config.Config
	bus       *event.Bus
	log       *slog.Logger
	startedAt time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	state    atomic.Int32

	// Seams for tests; production wiring fills these with the real
	// ffmpeg-backed source and recorder.
	open        func() (FrameStream, error)
	newRecorder func() VideoRecorder
	now         func() time.Time
}

// NewWorker creates a worker for the given camera. Run must be called in
// its own goroutine.
func NewWorker(cameraID, rtspURL string, cfg config.Config, bus *event.Bus, log *slog.Logger) *Worker {
	w := &Worker{
		cameraID:  cameraID,
		rtspURL:   rtspURL,
		cfg:       cfg,
		bus:       bus,
		log:       log.With("camera", cameraID),
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	w.open = func() (FrameStream, error) {
		return source.Open(source.Config{
			URL:           rtspURL,
			BufferSize:    cfg.Performance.BufferSize,
			MaxInitFrames: cfg.Performance.MaxInitFrames,
			InitFrameWait: cfg.Performance.InitFrameWaitDuration(),
			FFmpegPath:    cfg.Recording.FFmpegPath,
			Logger:        w.log,
		})
	}
	w.newRecorder = func() VideoRecorder {
		return recorder.New(recorder.Config{
			FFmpegPath:           cfg.Recording.FFmpegPath,
			ChunkDurationSeconds: cfg.Recording.ChunkDurationSeconds,
			Reencode:             cfg.Recording.Reencode,
			Preset:               cfg.Recording.Preset,
			CRF:                  cfg.Recording.CRF,
			FPS:                  cfg.Recording.FPS,
			Resolution:           cfg.Recording.Resolution,
			AudioBitrate:         cfg.Recording.AudioBitrate,
			Threads:              cfg.Recording.Threads,
			Logger:               w.log,
		})
	}
	return w
}

// CameraID returns the worker's camera identity.
func (w *Worker) CameraID() string { return w.cameraID }

// RTSPURL returns the worker's stream URL.
func (w *Worker) RTSPURL() string { return w.rtspURL }

// StartedAt returns when the worker was created.
func (w *Worker) StartedAt() time.Time { return w.startedAt }

// State returns the worker's current state.
func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) { w.state.Store(int32(s)) }

// Alive reports whether the worker's run loop is still executing.
func (w *Worker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Stop signals the worker to exit. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Done is closed once the run loop has fully exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) stopped() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// Run executes the supervised session loop until Stop is observed.
func (w *Worker) Run() {
	defer close(w.done)

	w.log.Info("connecting to stream", "url", w.rtspURL)

	// Prune this camera's expired recordings once at startup; the janitor
	// handles the periodic global sweeps.
	janitor.SweepCamera(w.cfg.Recording.RecordingsDir, w.cameraID, w.cfg.Recording.Retention(), w.log)

	for {
		err := w.session()
		if w.stopped() {
			w.setState(StateStopping)
			w.log.Info("worker stopped")
			return
		}
		if err != nil {
			w.setState(StateCrashed)
			w.log.Error("camera session failed, restarting", "error", err, "backoff", restartBackoff)
			if !w.idle(restartBackoff) {
				w.setState(StateStopping)
				return
			}
		}
	}
}

// session runs one open-detect-record cycle. It returns nil only when the
// external stop signal was observed; any other exit is a crash that the
// run loop restarts after the backoff.
func (w *Worker) session() error {
	w.setState(StateInitializing)

	stream, err := w.open()
	if err != nil {
		return err
	}
	defer stream.Close()

	first, err := stream.NextFrame(w.stopCh)
	if err != nil {
		if w.stopped() {
			return nil
		}
		return fmt.Errorf("initial frame: %w", err)
	}

	det := detector.New(detector.Params{
		Threshold:  uint8(w.cfg.Motion.Threshold),
		MinArea:    w.cfg.Motion.MinArea,
		SkipFrames: w.cfg.Motion.SkipFrames,
		Width:      w.cfg.Motion.DetectWidth,
		Height:     w.cfg.Motion.DetectHeight,
		BlurKernel: w.cfg.Motion.BlurKernel,
	})
	det.Initialize(first)

	bounds := first.Bounds()
	w.log.Info("stream initialized", "width", bounds.Dx(), "height", bounds.Dy())

	rec := w.newRecorder()
	recording := false
	var motionSince, lastMotion time.Time
	postBuffer := w.cfg.Motion.PostBuffer()

	stopRecording := func(reason string) {
		rec.Stop()
		recording = false
		w.setState(StateWatching)
		w.publishStop(rec.ActiveSegment())
		w.log.Info("recording session ended", "reason", reason,
			"duration", w.now().Sub(motionSince).Round(time.Second))
	}

	w.setState(StateWatching)

	for {
		select {
		case <-w.stopCh:
			if recording {
				stopRecording("stop requested")
			}
			return nil
		default:
		}

		// Detect silent encoder crashes; exit the recording session via
		// the normal stop path so exactly one stop event is published.
		if recording && !rec.Alive() {
			w.log.Warn("encoder process ended unexpectedly")
			stopRecording("encoder exited")
		}

		frame, err := stream.NextFrame(w.stopCh)
		if err != nil {
			if recording {
				stopRecording("stream failure")
			}
			if w.stopped() {
				return nil
			}
			return fmt.Errorf("frame read: %w", err)
		}

		switch det.Process(frame) {
		case detector.DecisionMotion:
			if recording {
				lastMotion = w.now()
				break
			}
			template, err := w.sessionTemplate()
			if err != nil {
				w.log.Error("failed to prepare recording directory", "error", err)
				break
			}
			started, err := rec.Start(template, w.rtspURL)
			if err != nil {
				w.log.Error("failed to start encoder", "error", err)
				break
			}
			if started {
				now := w.now()
				motionSince = now
				lastMotion = now
				recording = true
				w.setState(StateRecording)
				w.publishStart(template)
				w.log.Info("motion detected, recording", "template", template)
			}

		case detector.DecisionNoMotion:
			if recording && w.now().Sub(lastMotion) > postBuffer {
				stopRecording("post-buffer elapsed")
			}

		case detector.DecisionSkipped:
			// Decimated frame; carries no information.
		}

		if det.ShouldLogStats() {
			stats := det.Stats()
			w.log.Info("performance",
				"fps", fmt.Sprintf("%.1f", stats.FPSActual),
				"detection_fps", fmt.Sprintf("%.1f", stats.DetectionFPS))
		}

		if !w.idle(det.SleepHint(recording)) {
			// Stop observed during the idle wait; handled at loop top.
			continue
		}
	}
}

// sessionTemplate builds the segment filename template for a new recording
// session and ensures its directory exists.
func (w *Worker) sessionTemplate() (string, error) {
	now := w.now()
	dir := filepath.Join(w.cfg.Recording.RecordingsDir, w.cameraID, now.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s_chunk%%03d.mp4", w.cameraID, now.Format("150405"))
	return filepath.Join(dir, name), nil
}

func (w *Worker) publishStart(template string) {
	w.bus.Publish(event.NewMotionEvent(w.cameraID, event.KindStart, template))
}

func (w *Worker) publishStop(segment string) {
	w.bus.Publish(event.NewMotionEvent(w.cameraID, event.KindStop, segment))
}

// idle sleeps for d unless the stop signal arrives first. Reports false
// when the worker should exit instead of continuing.
func (w *Worker) idle(d time.Duration) bool {
	if d <= 0 {
		return !w.stopped()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
