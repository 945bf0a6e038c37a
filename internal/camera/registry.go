package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"vigil/internal/config"
	"vigil/internal/event"
)

var (
	// ErrAlreadyExists is returned by Add when the camera id is taken.
	ErrAlreadyExists = errors.New("camera already exists")
	// ErrNotFound is returned by Delete for an unknown camera id.
	ErrNotFound = errors.New("camera not found")
	// ErrEmptyCameraID is returned by Add for an empty camera id.
	ErrEmptyCameraID = errors.New("camera id cannot be empty")
	// ErrInvalidStreamURL is returned by Add for a malformed stream URL.
	ErrInvalidStreamURL = errors.New("invalid stream url")
)

// deleteTimeout is how long Delete waits for a worker to observe its stop
// signal before removing the entry anyway.
const deleteTimeout = 10 * time.Second

// admissibleSchemes are the stream URL schemes a camera may use.
var admissibleSchemes = map[string]bool{
	"rtsp":  true,
	"rtsps": true,
	"http":  true,
	"https": true,
	"file":  true,
}

// Status is a point-in-time snapshot of one registered camera.
type Status struct {
	CameraID      string
	RTSPURL       string
	StartedAt     time.Time
	UptimeSeconds int64
	Alive         bool
	State         string
}

// Registry owns the camera fleet: exactly one worker per camera id. The
// mutex guards only membership changes; worker lifetimes run outside it.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*Worker

	cfg config.Config
	bus *event.Bus
	log *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg config.Config, bus *event.Bus, log *slog.Logger) *Registry {
	return &Registry{
		workers: make(map[string]*Worker),
		cfg:     cfg,
		bus:     bus,
		log:     log,
	}
}

// Add validates and registers a camera, spawning its worker. Startup is
// asynchronous: success means the worker exists, not that the stream is
// healthy.
func (r *Registry) Add(cameraID, rtspURL string) error {
	if cameraID == "" {
		return ErrEmptyCameraID
	}
	if err := validateStreamURL(rtspURL); err != nil {
		return err
	}

	w := NewWorker(cameraID, rtspURL, r.cfg, r.bus, r.log)

	r.mu.Lock()
	if _, exists := r.workers[cameraID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyExists, cameraID)
	}
	r.workers[cameraID] = w
	r.mu.Unlock()

	go w.Run()
	r.log.Info("camera added", "camera", cameraID, "url", rtspURL)
	return nil
}

// Delete signals the camera's worker to stop, waits up to the delete
// timeout for it to exit, and removes the entry. The entry is removed even
// when the worker misses the deadline; a warning is logged in that case.
func (r *Registry) Delete(cameraID string) error {
	r.mu.Lock()
	w, exists := r.workers[cameraID]
	r.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, cameraID)
	}

	w.Stop()
	select {
	case <-w.Done():
	case <-time.After(deleteTimeout):
		r.log.Warn("camera worker did not stop gracefully", "camera", cameraID, "timeout", deleteTimeout)
	}

	r.mu.Lock()
	// Guard against a concurrent delete/re-add cycle having replaced the
	// entry while we waited outside the lock.
	if current, ok := r.workers[cameraID]; ok && current == w {
		delete(r.workers, cameraID)
	}
	r.mu.Unlock()

	r.log.Info("camera removed", "camera", cameraID)
	return nil
}

// List returns a snapshot of all registered cameras, ordered by creation.
func (r *Registry) List() []Status {
	r.mu.Lock()
	workers := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.Unlock()

	sort.Slice(workers, func(i, j int) bool {
		return workers[i].StartedAt().Before(workers[j].StartedAt())
	})

	now := time.Now()
	statuses := make([]Status, 0, len(workers))
	for _, w := range workers {
		statuses = append(statuses, Status{
			CameraID:      w.CameraID(),
			RTSPURL:       w.RTSPURL(),
			StartedAt:     w.StartedAt(),
			UptimeSeconds: int64(now.Sub(w.StartedAt()).Seconds()),
			Alive:         w.Alive(),
			State:         w.State().String(),
		})
	}
	return statuses
}

// Count returns the number of registered cameras.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// StopAll deletes every camera; used during process shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Delete(id); err != nil && !errors.Is(err, ErrNotFound) {
			r.log.Warn("failed to stop camera", "camera", id, "error", err)
		}
	}
}

// validateStreamURL checks syntactic admissibility of a stream URL.
func validateStreamURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty", ErrInvalidStreamURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStreamURL, err)
	}
	if !admissibleSchemes[u.Scheme] {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidStreamURL, u.Scheme)
	}
	if u.Scheme != "file" && u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidStreamURL)
	}
	return nil
}
