// Package console serves the operator-facing HTTP surface: live preview,
// capture and recording controls, the artifact gallery and the simulated
// detection feed.
package console

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/h-takeyama/riskwatch/internal/logger"
	"github.com/h-takeyama/riskwatch/internal/media"
	"github.com/h-takeyama/riskwatch/internal/metrics"
	"github.com/h-takeyama/riskwatch/internal/overlay"
	"github.com/h-takeyama/riskwatch/internal/source"
	"github.com/h-takeyama/riskwatch/pkg/types"
)

// Config holds console server settings.
type Config struct {
	// MJPEGInterval paces the preview stream.
	MJPEGInterval time.Duration
}

// DefaultConfig returns console defaults.
func DefaultConfig() Config {
	return Config{MJPEGInterval: 200 * time.Millisecond}
}

// Server wires the media pipeline, gallery and detection feed to HTTP.
type Server struct {
	cfg      Config
	pipeline *media.Pipeline
	gallery  *Gallery
	feed     *Feed
	met      *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewServer returns a configured console server.
func NewServer(cfg Config, pipeline *media.Pipeline, gallery *Gallery, feed *Feed, met *metrics.Metrics) *Server {
	if cfg.MJPEGInterval <= 0 {
		cfg.MJPEGInterval = DefaultConfig().MJPEGInterval
	}
	return &Server{
		cfg:      cfg,
		pipeline: pipeline,
		gallery:  gallery,
		feed:     feed,
		met:      met,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Get("/stream", s.handleStream)

	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", s.handleSessionStatus)
		r.Post("/", s.handleSessionSet)
		r.Post("/retry", s.handleSessionRetry)
	})

	r.Post("/api/capture", s.handleCapture)

	r.Route("/api/recording", func(r chi.Router) {
		r.Post("/start", s.handleRecordingStart)
		r.Post("/stop", s.handleRecordingStop)
		r.Get("/status", s.handleRecordingStatus)
	})

	r.Route("/api/artifacts", func(r chi.Router) {
		r.Get("/", s.handleArtifactList)
		r.Get("/{id}/download", s.handleArtifactDownload)
		r.Get("/{id}/thumbnail", s.handleArtifactThumbnail)
	})

	r.Route("/api/detections", func(r chi.Router) {
		r.Get("/", s.handleDetections)
		r.Get("/stream", s.handleDetectionsStream)
		r.Get("/ws", s.handleDetectionsWS)
	})

	r.Get("/api/overlays/projected", s.handleOverlaysProjected)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":    "ok",
		"live":      s.pipeline.Source().Live(),
		"source":    s.pipeline.Source().Name(),
		"artifacts": s.gallery.Len(),
		"timestamp": float64(time.Now().Unix()),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	streamMJPEG(w, s.cfg.MJPEGInterval, func() ([]byte, bool) {
		data := s.pipeline.Preview()
		return data, data != nil
	})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	whepSrc, ok := s.pipeline.Source().(*source.WHEP)
	if !ok {
		writeJSON(w, map[string]any{
			"source": s.pipeline.Source().Name(),
			"live":   s.pipeline.Source().Live(),
		})
		return
	}
	writeJSON(w, whepSrc.Status())
}

func (s *Server) handleSessionSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeJSONWithStatus(w, map[string]any{"error": "endpoint required"}, http.StatusBadRequest)
		return
	}

	if err := s.pipeline.SetEndpoint(req.Endpoint); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"status": sessionState(s.pipeline.Source()), "endpoint": req.Endpoint})
}

func (s *Server) handleSessionRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.RetrySession(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"status": sessionState(s.pipeline.Source())})
}

// sessionState names the source's current session state. A successful
// offer/answer exchange leaves the negotiator connecting until the track
// arrives, so responses report the real state rather than assuming
// connected.
func sessionState(src source.Source) string {
	if w, ok := src.(*source.WHEP); ok {
		return w.Status().State.String()
	}
	if src.Live() {
		return "live"
	}
	return "down"
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	data := s.pipeline.CaptureFrame()
	if data == nil {
		writeJSONWithStatus(w, map[string]any{"error": "no frame available"}, http.StatusConflict)
		return
	}

	width, height := s.pipeline.Surface().Dimensions()
	artifact := &types.CaptureArtifact{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Image:     data,
		Width:     width,
		Height:    height,
		Overlays:  s.feed.Latest(),
	}
	s.gallery.Add(types.NewImageArtifact(artifact))

	logger.Info("Console", "Capture %s stored (%dx%d, %d bytes)", artifact.ID, width, height, len(data))
	writeJSON(w, map[string]any{
		"id":         artifact.ID,
		"width":      width,
		"height":     height,
		"size_bytes": len(data),
	})
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.StartRecording(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"status":     "recording",
		"started_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.pipeline.StopRecording(s.feed.Latest())
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	s.gallery.Add(types.NewVideoArtifact(artifact))

	writeJSON(w, map[string]any{
		"status":      "stopped",
		"id":          artifact.ID,
		"file":        artifact.Filename,
		"duration_ms": artifact.Duration.Milliseconds(),
		"size_bytes":  len(artifact.Clip),
		"stopped_at":  float64(artifact.Timestamp.Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.pipeline.RecordingStatus())
}

func (s *Server) handleArtifactList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"artifacts": s.gallery.List()})
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	a, err := s.gallery.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusNotFound)
		return
	}

	payload, contentType, err := a.Payload()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}

	filename := a.ID() + ".jpg"
	if a.Kind == types.MediaVideo {
		filename = a.Video.Filename
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(payload)
}

func (s *Server) handleArtifactThumbnail(w http.ResponseWriter, r *http.Request) {
	thumb, err := s.gallery.Thumbnail(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(thumb)
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"latest":  s.feed.Latest(),
		"history": s.feed.History(),
	})
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.feed.Subscribe()
	defer s.feed.Unsubscribe(id)
	streamDetectionEvents(w, r, eventCh)
}

func (s *Server) handleDetectionsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Console", "WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	id, eventCh := s.feed.Subscribe()
	defer s.feed.Unsubscribe(id)

	// Discard reads so client close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ev := range eventCh {
		if err := conn.WriteJSON(ev); err != nil {
			logger.Debug("Console", "WebSocket client gone: %v", err)
			return
		}
	}
}

// handleOverlaysProjected maps the current overlay set onto a concrete
// viewport at a zoom factor, for clients that render boxes themselves.
func (s *Server) handleOverlaysProjected(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	width, _ := strconv.Atoi(q.Get("width"))
	height, _ := strconv.Atoi(q.Get("height"))
	zoom := 1.0
	if z := q.Get("zoom"); z != "" {
		if parsed, err := strconv.ParseFloat(z, 64); err == nil {
			zoom = parsed
		}
	}

	vp := overlay.Viewport{Width: width, Height: height}
	projected := overlay.Project(s.feed.Latest(), vp, zoom)
	if projected == nil && (width <= 0 || height <= 0 || zoom <= 0) {
		writeJSONWithStatus(w, map[string]any{"error": "width, height and zoom must be positive"}, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"overlays": projected, "zoom": zoom})
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
