package console

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/h-takeyama/riskwatch/internal/media"
	"github.com/h-takeyama/riskwatch/internal/metrics"
	"github.com/h-takeyama/riskwatch/internal/recorder"
	"github.com/h-takeyama/riskwatch/internal/source"
	"github.com/h-takeyama/riskwatch/internal/whep"
	"github.com/h-takeyama/riskwatch/pkg/types"
)

// stubSource is a controllable media source for handler tests.
type stubSource struct {
	units chan *types.AccessUnit

	mu   sync.Mutex
	live bool
}

func newStubSource() *stubSource {
	return &stubSource{units: make(chan *types.AccessUnit, 16)}
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = true
	return nil
}

func (s *stubSource) Units() <-chan *types.AccessUnit { return s.units }

func (s *stubSource) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *stubSource) setLive(live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = live
}

func (s *stubSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = false
	return nil
}

type fixture struct {
	src      *stubSource
	pipeline *media.Pipeline
	gallery  *Gallery
	feed     *Feed
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	src := newStubSource()
	cfg := media.DefaultConfig()
	cfg.Recorder = recorder.Config{ChunkInterval: 50 * time.Millisecond}
	pipeline, err := media.New(cfg, src, nil, metrics.New())
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := pipeline.Start(ctx); err != nil {
		t.Fatalf("pipeline start: %v", err)
	}

	gallery := NewGallery(10, nil)
	pipeline.OnForcedStop(gallery.Add)
	feed := NewFeed(time.Hour, 10) // never ticks during a test
	pipeline.SetOverlaySource(feed.Latest)

	srv := NewServer(DefaultConfig(), pipeline, gallery, feed, metrics.New())
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		_ = pipeline.Close()
		cancel()
	})

	return &fixture{src: src, pipeline: pipeline, gallery: gallery, feed: feed, server: ts}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func (f *fixture) post(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	resp, err := http.Post(f.server.URL+path, "application/json", body)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode JSON: %v (%s)", err, body)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	if payload["status"] != "ok" {
		t.Fatalf("health status = %v", payload["status"])
	}
	if payload["source"] != "stub" {
		t.Fatalf("source = %v", payload["source"])
	}
}

func TestCaptureNotReady(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/api/capture", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	if payload["error"] == nil {
		t.Fatal("missing error message")
	}
	if f.gallery.Len() != 0 {
		t.Fatal("failed capture stored an artifact")
	}
}

func TestCaptureStoresArtifact(t *testing.T) {
	f := newFixture(t)

	frame := &types.RasterFrame{
		Data:   make([]byte, types.NV12Size(320, 240)),
		Width:  320,
		Height: 240,
	}
	if !f.pipeline.Surface().Publish(frame) {
		t.Fatal("publish failed")
	}

	resp, body := f.post(t, "/api/capture", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	payload := decodeJSONMap(t, body)
	id, _ := payload["id"].(string)
	if id == "" {
		t.Fatal("capture response missing id")
	}
	if payload["width"].(float64) != 320 || payload["height"].(float64) != 240 {
		t.Fatalf("capture dimensions wrong: %v", payload)
	}

	if f.gallery.Len() != 1 {
		t.Fatalf("gallery holds %d artifacts, want 1", f.gallery.Len())
	}

	// The stored still downloads as a JPEG.
	resp, body = f.get(t, "/api/artifacts/"+id+"/download")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Fatalf("download content type = %q", resp.Header.Get("Content-Type"))
	}
	if len(body) == 0 {
		t.Fatal("empty download")
	}
}

func TestRecordingLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	// Not live yet: start is rejected.
	f.src.setLive(false)
	resp, _ := f.post(t, "/api/recording/start", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("start without stream status = %d, want 400", resp.StatusCode)
	}

	f.src.setLive(true)
	resp, body := f.post(t, "/api/recording/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d: %s", resp.StatusCode, body)
	}

	// Double start is rejected.
	resp, _ = f.post(t, "/api/recording/start", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("double start status = %d, want 400", resp.StatusCode)
	}

	resp, body = f.get(t, "/api/recording/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint = %d", resp.StatusCode)
	}
	status := decodeJSONMap(t, body)
	if status["recording"] != true {
		t.Fatalf("recording = %v, want true", status["recording"])
	}

	// Feed a few units so the clip is non-empty.
	for i := 0; i < 3; i++ {
		f.src.units <- &types.AccessUnit{Data: []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9a}, Timestamp: time.Now()}
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if f.pipeline.RecordingStatus().Bytes > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, body = f.post(t, "/api/recording/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d: %s", resp.StatusCode, body)
	}
	stop := decodeJSONMap(t, body)
	if stop["status"] != "stopped" {
		t.Fatalf("stop status = %v", stop["status"])
	}
	if stop["id"] == nil || stop["file"] == nil {
		t.Fatalf("stop response incomplete: %v", stop)
	}

	if f.gallery.Len() != 1 {
		t.Fatalf("gallery holds %d artifacts after stop, want 1", f.gallery.Len())
	}

	// Stop while idle is rejected.
	resp, _ = f.post(t, "/api/recording/stop", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("idle stop status = %d, want 400", resp.StatusCode)
	}
}

func TestArtifactListAndMissingDownload(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/api/artifacts/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	if artifacts, ok := payload["artifacts"].([]any); !ok || len(artifacts) != 0 {
		t.Fatalf("expected empty artifact list, got %v", payload["artifacts"])
	}

	resp, _ = f.get(t, "/api/artifacts/nope/download")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing artifact status = %d, want 404", resp.StatusCode)
	}
}

func TestSessionEndpointsRejectNonGatewaySource(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.post(t, "/api/session/retry", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("retry status = %d, want 502", resp.StatusCode)
	}

	resp, _ = f.post(t, "/api/session/", map[string]string{"endpoint": "http://gw/whep"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("set endpoint status = %d, want 502", resp.StatusCode)
	}

	resp, _ = f.post(t, "/api/session/", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty endpoint status = %d, want 400", resp.StatusCode)
	}
}

func TestSessionStateReflectsNegotiator(t *testing.T) {
	// A gateway source that never negotiated must not be reported as
	// connected.
	whepSrc := source.NewWHEP(whep.NewNegotiator(whep.DefaultConfig()), "http://127.0.0.1:1/whep")
	if got := sessionState(whepSrc); got != "new" {
		t.Fatalf("state = %q, want %q before any negotiation", got, "new")
	}

	stub := newStubSource()
	if got := sessionState(stub); got != "down" {
		t.Fatalf("idle stub state = %q, want %q", got, "down")
	}
	stub.setLive(true)
	if got := sessionState(stub); got != "live" {
		t.Fatalf("live stub state = %q, want %q", got, "live")
	}
}

func TestOverlayProjectionEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/api/overlays/projected?width=640&height=480&zoom=2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	payload := decodeJSONMap(t, body)
	if payload["zoom"].(float64) != 2 {
		t.Fatalf("zoom = %v", payload["zoom"])
	}

	resp, _ = f.get(t, "/api/overlays/projected?width=0&height=480&zoom=1")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid viewport status = %d, want 400", resp.StatusCode)
	}
}

func TestDetectionsEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/api/detections/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	if _, ok := payload["history"]; !ok {
		t.Fatal("detections response missing history")
	}
}
