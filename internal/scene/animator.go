package scene

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/star/orbitviz/internal/metrics"
)

// DefaultFrameInterval is one display frame at 60 Hz.
const DefaultFrameInterval = time.Second / 60

// Animator owns the animation loop for one scene at a time.
//
// Each tick rotates the Earth by EarthRotationStep, advances the fractional
// frame position by SpeedFactor modulo HorizonFrames, and publishes the
// resulting frame. Subscribers get the newest frame only; a slow reader
// skips frames instead of blocking the loop.
type Animator struct {
	interval time.Duration
	logger   *slog.Logger

	runMu  sync.Mutex // serializes Start/Stop
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	scene    *Scene
	gen      uint64
	pos      float64
	rotation float64
	seq      uint64
	latest   Frame
	subs     map[uint64]chan Frame
	nextSub  uint64
}

// NewAnimator creates an idle animator ticking every interval.
func NewAnimator(interval time.Duration, logger *slog.Logger) *Animator {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Animator{
		interval: interval,
		logger:   logger,
		subs:     make(map[uint64]chan Frame),
	}
}

// Start stops any running loop, waits for it to exit, and starts a new one
// on s from frame 0.
func (a *Animator) Start(s *Scene) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.stopLocked()
	a.install(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.cancel, a.done = cancel, done

	metrics.IncAnimationsActive()
	go a.loop(ctx, done)

	a.logger.Debug("animation started", "groups", len(s.Groups), "interval", a.interval)
}

// Reset stops any running loop and installs s at frame 0 without starting
// a new one. Step drives it from there.
func (a *Animator) Reset(s *Scene) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.stopLocked()
	a.install(s)
}

// Stop cancels the loop and waits for it to exit, then drops the scene.
// No frames are published after Stop returns.
func (a *Animator) Stop() {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	if a.stopLocked() {
		a.logger.Debug("animation stopped")
	}

	a.mu.Lock()
	a.scene = nil
	a.mu.Unlock()
}

// Running reports whether the loop goroutine is active.
func (a *Animator) Running() bool {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.cancel != nil
}

func (a *Animator) stopLocked() bool {
	if a.cancel == nil {
		return false
	}
	a.cancel()
	<-a.done
	a.cancel, a.done = nil, nil
	return true
}

func (a *Animator) install(s *Scene) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.gen++
	a.scene = s
	a.pos = 0
	a.rotation = 0
	a.seq = 0
	a.latest = a.frameLocked()
	a.publishLocked()
}

func (a *Animator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer metrics.DecAnimationsActive()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// Check again so a tick racing with cancellation is dropped.
		if ctx.Err() != nil {
			return
		}
		a.tick()
	}
}

// Step advances n ticks synchronously and returns the last frame.
func (a *Animator) Step(n int) Frame {
	for i := 0; i < n; i++ {
		a.tick()
	}
	f, _ := a.Latest()
	return f
}

func (a *Animator) tick() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.scene == nil {
		return
	}
	a.rotation += EarthRotationStep
	a.pos = math.Mod(a.pos+SpeedFactor, HorizonFrames)
	a.seq++
	a.latest = a.frameLocked()
	a.publishLocked()
	metrics.IncSceneFrames()
}

func (a *Animator) frameLocked() Frame {
	f := a.scene.FrameAt(a.pos, a.rotation)
	f.Seq = a.seq
	f.Generation = a.gen
	return f
}

func (a *Animator) publishLocked() {
	for _, ch := range a.subs {
		select {
		case ch <- a.latest:
		default:
			// Replace the unread frame with the newer one.
			select {
			case <-ch:
			default:
			}
			ch <- a.latest
		}
	}
}

// Latest returns the most recent frame, if a scene is installed.
func (a *Animator) Latest() (Frame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scene == nil {
		return Frame{}, false
	}
	return a.latest, true
}

// Scene returns the installed scene and its generation, which changes on
// every Start or Reset.
func (a *Animator) Scene() (*Scene, uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scene, a.gen
}

// Subscribe returns a channel of frames and a func that unsubscribes and
// closes it. The current frame, if any, is delivered first.
func (a *Animator) Subscribe() (<-chan Frame, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextSub
	a.nextSub++
	ch := make(chan Frame, 1)
	if a.scene != nil {
		ch <- a.latest
	}
	a.subs[id] = ch

	return ch, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(ch)
		}
	}
}
