package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"

	"vigil/internal/camera"
)

// cameraRequest is the /addCamera body.
type cameraRequest struct {
	CameraID string `json:"camera_id"`
	RTSPURL  string `json:"rtsp_url"`
}

// cameraResponse is the envelope for camera mutations.
type cameraResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	CameraID string `json:"camera_id,omitempty"`
}

// statusResponse is the /status envelope.
type statusResponse struct {
	Success       bool           `json:"success"`
	APIStatus     string         `json:"api_status"`
	ActiveCameras int            `json:"active_cameras"`
	Cameras       []cameraStatus `json:"cameras"`
}

type cameraStatus struct {
	CameraID      string `json:"camera_id"`
	RTSPURL       string `json:"rtsp_url"`
	Status        string `json:"status"`
	StartedAt     string `json:"started_at"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// controlHandler adapts the registry to the HTTP control surface.
type controlHandler struct {
	registry *camera.Registry
	log      *slog.Logger
}

// newControlMux builds the control plane handler: the goa muxer with the
// camera routes mounted, wrapped in CORS, request logging and request-id
// middleware.
func newControlMux(registry *camera.Registry, logger *slog.Logger) http.Handler {
	h := &controlHandler{registry: registry, log: logger}

	mux := goahttp.NewMuxer()
	mux.Handle("POST", "/addCamera", h.addCamera)
	mux.Handle("DELETE", "/deleteCamera", h.deleteCamera)
	mux.Handle("GET", "/status", h.status)
	mux.Handle("OPTIONS", "/", h.preflight)
	mux.Handle("OPTIONS", "/{*path}", h.preflight)
	for _, method := range []string{"GET", "POST", "DELETE"} {
		mux.Handle(method, "/", h.notFound)
		mux.Handle(method, "/{*path}", h.notFound)
	}

	adapter := middleware.NewLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	var handler http.Handler = mux
	handler = corsMiddleware(handler)
	handler = httpmdlwr.Log(adapter)(handler)
	handler = httpmdlwr.RequestID()(handler)
	return handler
}

// corsMiddleware applies the permissive CORS policy of the control surface.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *controlHandler) preflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *controlHandler) notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, cameraResponse{Success: false, Message: "Endpoint not found"})
}

func (h *controlHandler) addCamera(w http.ResponseWriter, r *http.Request) {
	var req cameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, cameraResponse{Success: false, Message: "Invalid JSON format"})
		return
	}
	if req.CameraID == "" || req.RTSPURL == "" {
		writeJSON(w, http.StatusBadRequest, cameraResponse{
			Success: false,
			Message: "Missing required fields: camera_id and rtsp_url",
		})
		return
	}

	if err := h.registry.Add(req.CameraID, req.RTSPURL); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, camera.ErrAlreadyExists) {
			status = http.StatusConflict
		}
		writeJSON(w, status, cameraResponse{Success: false, Message: err.Error(), CameraID: req.CameraID})
		return
	}

	writeJSON(w, http.StatusOK, cameraResponse{
		Success:  true,
		Message:  "Camera " + req.CameraID + " started successfully",
		CameraID: req.CameraID,
	})
}

func (h *controlHandler) deleteCamera(w http.ResponseWriter, r *http.Request) {
	cameraID := r.URL.Query().Get("camera_id")
	if cameraID == "" {
		writeJSON(w, http.StatusBadRequest, cameraResponse{
			Success: false,
			Message: "Missing required query parameter: camera_id",
		})
		return
	}

	if err := h.registry.Delete(cameraID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, camera.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, cameraResponse{Success: false, Message: err.Error(), CameraID: cameraID})
		return
	}

	writeJSON(w, http.StatusOK, cameraResponse{
		Success:  true,
		Message:  "Camera " + cameraID + " stopped successfully",
		CameraID: cameraID,
	})
}

func (h *controlHandler) status(w http.ResponseWriter, r *http.Request) {
	statuses := h.registry.List()
	cameras := make([]cameraStatus, 0, len(statuses))
	for _, s := range statuses {
		status := "stopped"
		if s.Alive {
			status = "running"
		}
		cameras = append(cameras, cameraStatus{
			CameraID:      s.CameraID,
			RTSPURL:       s.RTSPURL,
			Status:        status,
			StartedAt:     s.StartedAt.UTC().Format(time.RFC3339),
			UptimeSeconds: s.UptimeSeconds,
		})
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Success:       true,
		APIStatus:     "running",
		ActiveCameras: len(cameras),
		Cameras:       cameras,
	})
}

// httpService runs the control plane server under the supervisor.
type httpService struct {
	listener net.Listener
	handler  http.Handler
	log      *slog.Logger
}

// String names the service for the supervisor's logs.
func (s *httpService) String() string { return "http-control" }

// Serve runs the HTTP server until the context is cancelled, then shuts it
// down gracefully.
func (s *httpService) Serve(ctx context.Context) error {
	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 60 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http shutdown failed", "error", err)
		}
	}()

	s.log.Info("http control listening", "addr", s.listener.Addr().String())
	err := srv.Serve(s.listener)
	if err == http.ErrServerClosed {
		return ctx.Err()
	}
	return err
}
