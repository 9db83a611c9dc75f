package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/star/orbitviz/internal/propagation"
	"github.com/star/orbitviz/internal/scene"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func testScene(name string) *scene.Scene {
	t0 := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	traj := &propagation.Trajectory{Index: 0, Name: name, NORADID: 25544}
	for i := 0; i <= 120; i++ {
		traj.Times = append(traj.Times, t0.Add(time.Duration(i)*time.Minute))
		traj.Steps = append(traj.Steps, i)
		traj.Lats = append(traj.Lats, float64(i%50))
		traj.Lons = append(traj.Lons, float64(i*3%360)-180)
		traj.Alts = append(traj.Alts, 420e3)
		traj.Speeds = append(traj.Speeds, 7660)
	}
	return scene.Build([]*propagation.Trajectory{traj})
}

func lookupFor(anim *scene.Animator) Lookup {
	return func(*http.Request) (*scene.Animator, bool) { return anim, true }
}

// lockedRecorder lets a test read the body while the handler is writing.
type lockedRecorder struct {
	mu  sync.Mutex
	rec *httptest.ResponseRecorder
}

func newLockedRecorder() *lockedRecorder {
	return &lockedRecorder{rec: httptest.NewRecorder()}
}

func (l *lockedRecorder) Header() http.Header { return l.rec.Header() }

func (l *lockedRecorder) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.Write(p)
}

func (l *lockedRecorder) WriteHeader(code int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rec.WriteHeader(code)
}

func (l *lockedRecorder) Flush() {}

func (l *lockedRecorder) body() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.Body.String()
}

// messages decodes every "data:" line of an SSE body.
func messages(t *testing.T, body string) []map[string]any {
	t.Helper()
	var out []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
			t.Fatalf("invalid JSON in SSE data line: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

// TestSceneStreamFormat verifies headers, the leading scene message and the
// frames that follow it.
func TestSceneStreamFormat(t *testing.T) {
	anim := scene.NewAnimator(5*time.Millisecond, testLogger())
	anim.Start(testScene("ISS"))
	defer anim.Stop()

	handler := NewHandler(lookupFor(anim), DefaultConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/scene", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithTimeout(req.Context(), 200*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	handler.HandleScene(w, req)

	resp := w.Result()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", resp.Header.Get("Cache-Control"))
	}

	body := w.Body.String()
	if !strings.Contains(body, "retry: ") {
		t.Error("missing retry directive")
	}

	msgs := messages(t, body)
	if len(msgs) < 2 {
		t.Fatalf("messages = %d, want scene plus frames", len(msgs))
	}
	first := msgs[0]
	if first["type"] != "scene" || first["active"] != true {
		t.Fatalf("first message = %v, want active scene", first)
	}
	sc := first["scene"].(map[string]any)
	if sc["earthRadius"].(float64) != scene.EarthRadius {
		t.Errorf("earthRadius = %v", sc["earthRadius"])
	}
	if groups := sc["groups"].([]any); len(groups) != 1 {
		t.Errorf("groups = %d, want 1", len(groups))
	}

	gen := first["generation"].(float64)
	for i, msg := range msgs[1:] {
		if msg["type"] != "frame" {
			t.Errorf("message %d type = %v, want frame", i+1, msg["type"])
			continue
		}
		if msg["generation"].(float64) != gen {
			t.Errorf("frame generation = %v, want %v", msg["generation"], gen)
		}
		if _, ok := msg["markers"].([]any); !ok {
			t.Errorf("frame %d missing markers", i+1)
		}
	}

	for _, line := range strings.Split(body, "\n") {
		if line == "" || line == ":" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") && !strings.HasPrefix(line, "retry: ") {
			t.Errorf("unexpected SSE line: %q", line)
		}
	}
}

// TestSceneStreamIdle verifies an idle animator yields an inactive scene and
// no frames.
func TestSceneStreamIdle(t *testing.T) {
	anim := scene.NewAnimator(time.Millisecond, testLogger())
	handler := NewHandler(lookupFor(anim), DefaultConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/scene", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 50*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	handler.HandleScene(w, req)

	msgs := messages(t, w.Body.String())
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0]["type"] != "scene" || msgs[0]["active"] != false {
		t.Errorf("message = %v, want inactive scene", msgs[0])
	}
	if _, ok := msgs[0]["scene"]; ok {
		t.Error("inactive scene message should omit scene")
	}
}

// TestSceneStreamResendsOnRebuild verifies a new scene message precedes the
// frames of a rebuilt scene.
func TestSceneStreamResendsOnRebuild(t *testing.T) {
	anim := scene.NewAnimator(time.Hour, testLogger())
	anim.Reset(testScene("FIRST"))

	handler := NewHandler(lookupFor(anim), DefaultConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/scene", nil)
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)

	w := newLockedRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.HandleScene(w, req)
	}()

	waitFor := func(substr string) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for !strings.Contains(w.body(), substr) {
			if time.Now().After(deadline) {
				cancel()
				<-done
				t.Fatalf("timed out waiting for %q", substr)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	waitFor(`"name":"FIRST"`)
	anim.Reset(testScene("SECOND"))
	anim.Step(1)
	waitFor(`"name":"SECOND"`)
	waitFor(`"seq":1`)
	cancel()
	<-done

	var scenes []float64
	for _, msg := range messages(t, w.body()) {
		if msg["type"] == "scene" {
			scenes = append(scenes, msg["generation"].(float64))
		}
	}
	if len(scenes) != 2 || scenes[0] != 1 || scenes[1] != 2 {
		t.Errorf("scene generations = %v, want [1 2]", scenes)
	}
}

// TestNoSession verifies the handler refuses requests it cannot resolve.
func TestNoSession(t *testing.T) {
	handler := NewHandler(func(*http.Request) (*scene.Animator, bool) {
		return nil, false
	}, DefaultConfig(), testLogger())

	w := httptest.NewRecorder()
	handler.HandleScene(w, httptest.NewRequest("GET", "/api/v1/stream/scene", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// TestFrameMessageJSON verifies frame fields are flattened beside the type.
func TestFrameMessageJSON(t *testing.T) {
	data, err := json.Marshal(frameMessage{
		Type:  "frame",
		Frame: scene.Frame{Seq: 7, Generation: 2, Index: 3, EarthRotation: 0.0035},
	})
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed["type"] != "frame" {
		t.Errorf("type = %v, want frame", parsed["type"])
	}
	if parsed["seq"].(float64) != 7 || parsed["generation"].(float64) != 2 {
		t.Errorf("seq/generation = %v/%v", parsed["seq"], parsed["generation"])
	}
	if parsed["index"].(float64) != 3 {
		t.Errorf("index = %v, want 3", parsed["index"])
	}
}

// TestRateLimiting verifies per-IP concurrent stream limits.
func TestRateLimiting(t *testing.T) {
	limiter := newStreamLimiter(3, 1000)

	var releases []func()
	for i := 0; i < 3; i++ {
		release, ok := limiter.acquire("10.0.0.1")
		if !ok {
			t.Fatalf("acquire %d should succeed", i+1)
		}
		releases = append(releases, release)
	}

	if _, ok := limiter.acquire("10.0.0.1"); ok {
		t.Error("acquire beyond limit should fail")
	}
	if _, ok := limiter.acquire("10.0.0.2"); !ok {
		t.Error("different IP should not be rate limited")
	}

	// Release one, twice: the second call is a no-op.
	releases[0]()
	releases[0]()
	if c := limiter.count("10.0.0.1"); c != 2 {
		t.Errorf("count after double release = %d, want 2", c)
	}
	if _, ok := limiter.acquire("10.0.0.1"); !ok {
		t.Error("acquire after release should succeed")
	}

	if c := limiter.count("10.0.0.1"); c != 3 {
		t.Errorf("count = %d, want 3", c)
	}
	if c := limiter.count("10.0.0.2"); c != 1 {
		t.Errorf("count = %d, want 1", c)
	}
	if c := limiter.active(); c != 4 {
		t.Errorf("active = %d, want 4", c)
	}
}

// TestRateLimitingGlobalCap verifies the cap across all IPs.
func TestRateLimitingGlobalCap(t *testing.T) {
	limiter := newStreamLimiter(10, 2)

	if _, ok := limiter.acquire("10.0.0.1"); !ok {
		t.Fatal("first acquire should succeed")
	}
	release, ok := limiter.acquire("10.0.0.2")
	if !ok {
		t.Fatal("second acquire should succeed")
	}
	if _, ok := limiter.acquire("10.0.0.3"); ok {
		t.Error("acquire beyond the global cap should fail")
	}
	release()
	if _, ok := limiter.acquire("10.0.0.3"); !ok {
		t.Error("acquire after release should succeed")
	}
}

// TestRateLimitingConcurrent verifies rate limiter thread safety.
func TestRateLimitingConcurrent(t *testing.T) {
	limiter := newStreamLimiter(100, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, ok := limiter.acquire("10.0.0.1"); ok {
				defer release()
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
	if c := limiter.active(); c != 0 {
		t.Errorf("active after all released = %d, want 0", c)
	}
}

// TestRateLimitHTTPResponse verifies 429 response when limit exceeded.
func TestRateLimitHTTPResponse(t *testing.T) {
	anim := scene.NewAnimator(time.Hour, testLogger())
	handler := NewHandler(lookupFor(anim), Config{
		MaxConcurrentPerIP: 1,
		KeepaliveInterval:  30 * time.Second,
	}, testLogger())

	// Hold the first connection open.
	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest("GET", "/api/v1/stream/scene", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		ctx, cancel := context.WithCancel(req.Context())
		req = req.WithContext(ctx)
		w := httptest.NewRecorder()

		go func() {
			time.Sleep(50 * time.Millisecond)
			close(ready)
			time.Sleep(200 * time.Millisecond)
			cancel()
		}()

		handler.HandleScene(w, req)
	}()

	<-ready

	// Second connection from same IP should get 429.
	req := httptest.NewRequest("GET", "/api/v1/stream/scene", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	handler.HandleScene(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	<-done
}

// TestKeepalive verifies comment lines are sent while no frames flow.
func TestKeepalive(t *testing.T) {
	anim := scene.NewAnimator(time.Hour, testLogger())
	handler := NewHandler(lookupFor(anim), Config{
		KeepaliveInterval: 10 * time.Millisecond,
	}, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/scene", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 100*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	handler.HandleScene(w, req)

	if !strings.Contains(w.Body.String(), ":\n\n") {
		t.Error("no keepalive comment in body")
	}
}
