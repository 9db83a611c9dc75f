// Package stream serves a session's 3D animation frames as Server-Sent Events.
// Clients connect via GET /api/v1/stream/scene.
//
// SSE message format:
//
//	data: {"type":"frame","seq":42,"generation":3,"index":2,"earthRotation":0.021,"markers":[...]}\n\n
//
// The first message on every connection describes the static scene:
//
//	data: {"type":"scene","generation":3,"active":true,"scene":{"earthRadius":2,...}}\n\n
//
// A new scene message is sent whenever the session rebuilds its scene, before
// the first frame of the new generation. Keep-alive comments (:\n\n) are sent
// every KeepaliveInterval without frames.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/star/orbitviz/internal/httputil"
	"github.com/star/orbitviz/internal/metrics"
	"github.com/star/orbitviz/internal/scene"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxConcurrent      int           // Global cap on open streams (default: 1000).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	TrustProxy         bool          // Read client IP from proxy headers.
}

// DefaultConfig returns the default stream limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		MaxConcurrent:      1000,
		KeepaliveInterval:  30 * time.Second,
	}
}

// Lookup resolves the animator whose frames a request should receive.
type Lookup func(r *http.Request) (*scene.Animator, bool)

// Handler manages SSE streaming connections.
type Handler struct {
	lookup  Lookup
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(lookup Lookup, config Config, logger *slog.Logger) *Handler {
	def := DefaultConfig()
	if config.MaxConcurrentPerIP < 1 {
		config.MaxConcurrentPerIP = def.MaxConcurrentPerIP
	}
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = def.MaxConcurrent
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = def.KeepaliveInterval
	}
	return &Handler{
		lookup:  lookup,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxConcurrent),
		logger:  logger,
	}
}

// HandleScene serves the SSE frame stream for the caller's session.
// GET /api/v1/stream/scene
func (h *Handler) HandleScene(w http.ResponseWriter, r *http.Request) {
	anim, ok := h.lookup(r)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no session")
		return
	}

	// Rate limiting: enforce concurrent stream limit per IP.
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	release, ok := h.limiter.acquire(ip)
	if !ok {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"active_streams", h.limiter.active(),
	)

	defer func() {
		release()
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default WriteTimeout for this connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{
		w:       w,
		flusher: flusher,
		rc:      rc,
		ip:      ip,
		logger:  h.logger,
	}

	// Jittered retry interval (3-7s) so a server restart does not bring
	// every page back at once.
	retryMs := 3000 + rand.Intn(4000)
	fmt.Fprintf(w, "retry: %d\n\n", retryMs)
	flusher.Flush()

	frames, unsubscribe := anim.Subscribe()
	defer unsubscribe()

	sc, gen := anim.Scene()
	if err := c.sendJSON(newSceneMessage(sc, gen)); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (scene)", "remote_ip", ip, "error", err)
		return
	}
	sentGen := gen

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case f, ok := <-frames:
			if !ok {
				return
			}
			if f.Generation != sentGen {
				sc, gen := anim.Scene()
				if err := c.sendJSON(newSceneMessage(sc, gen)); err != nil {
					metrics.IncStreamErrors("send_error")
					h.logger.Warn("stream send error (scene)", "remote_ip", ip, "error", err)
					return
				}
				sentGen = gen
				if f.Generation != gen {
					// Frame from a scene that has already been replaced.
					continue
				}
			}

			data, err := json.Marshal(frameMessage{Type: "frame", Frame: f})
			if err != nil {
				metrics.IncStreamErrors("marshal_error")
				h.logger.Warn("stream marshal error", "remote_ip", ip, "error", err)
				continue
			}
			if err := c.sendRaw(data); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}

			// Reset keepalive since we just sent data.
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// SSE message payload types.

type sceneMessage struct {
	Type       string       `json:"type"`
	Generation uint64       `json:"generation"`
	Active     bool         `json:"active"`
	Scene      *scene.Scene `json:"scene,omitempty"`
}

func newSceneMessage(sc *scene.Scene, gen uint64) sceneMessage {
	return sceneMessage{
		Type:       "scene",
		Generation: gen,
		Active:     sc != nil,
		Scene:      sc,
	}
}

type frameMessage struct {
	Type string `json:"type"`
	scene.Frame
}
