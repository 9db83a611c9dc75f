// Package session holds per-browser selection state and orchestrates
// propagation and rendering for it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/star/orbitviz/internal/chart"
	"github.com/star/orbitviz/internal/propagation"
	"github.com/star/orbitviz/internal/scene"
	"github.com/star/orbitviz/internal/tle"
)

var (
	ErrUnknownMode     = errors.New("unknown mode")
	ErrNoDataset       = errors.New("no TLE dataset loaded")
	ErrIndexOutOfRange = errors.New("satellite index out of range")
)

// Display says which container the page shows.
type Display string

const (
	DisplayNone Display = "none"
	DisplayPlot Display = "plot"
	Display3D   Display = "3d"
)

// View is the result of rendering the session's current state.
type View struct {
	Display    Display       `json:"display"`
	Mode       chart.Mode    `json:"mode"`
	Selection  []int         `json:"selection"`
	Figure     *chart.Figure `json:"figure,omitempty"`
	Scene      *scene.Scene  `json:"scene,omitempty"`
	Generation uint64        `json:"generation,omitempty"`
}

// Entry is one row of the checkbox list.
type Entry struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	NORADID int    `json:"noradId,omitempty"`
	Checked bool   `json:"checked"`
}

// Session is the state behind one browser page: which satellites are
// checked, the active mode, the trajectories for the checked set, and the
// animation loop when the 3D view is active. All methods are safe for
// concurrent use; operations on one session are serialized.
type Session struct {
	id       string
	dataset  *tle.Dataset
	prop     *propagation.Propagator
	animator *scene.Animator
	logger   *slog.Logger
	now      func() time.Time

	mu           sync.Mutex
	selected     map[int]bool
	mode         chart.Mode
	trajectories []*propagation.Trajectory
	view         View
	computed     bool
}

// New creates a session over ds with record 0 checked and the ground track
// mode active. Nothing is propagated until the first operation.
func New(id string, ds *tle.Dataset, prop *propagation.Propagator, animator *scene.Animator, logger *slog.Logger) *Session {
	s := &Session{
		id:       id,
		dataset:  ds,
		prop:     prop,
		animator: animator,
		logger:   logger.With("session_id", id),
		now:      time.Now,
		selected: make(map[int]bool),
		mode:     chart.ModeOrbit,
	}
	if ds != nil && len(ds.Records) > 0 {
		s.selected[0] = true
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Dataset returns the records the session was created over.
func (s *Session) Dataset() *tle.Dataset { return s.dataset }

// Animator returns the session's animation loop.
func (s *Session) Animator() *scene.Animator { return s.animator }

// Entries lists every record with its checked state.
func (s *Session) Entries() ([]Entry, error) {
	if s.dataset == nil {
		return nil, ErrNoDataset
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.dataset.Records))
	for i, rec := range s.dataset.Records {
		out[i] = Entry{
			Index:   rec.Index,
			Name:    rec.Name,
			NORADID: rec.NORADID,
			Checked: s.selected[rec.Index],
		}
	}
	return out, nil
}

// Selection returns the checked indices in ascending order.
func (s *Session) Selection() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectionLocked()
}

func (s *Session) selectionLocked() []int {
	out := make([]int, 0, len(s.selected))
	for i := range s.selected {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Mode returns the active mode.
func (s *Session) Mode() chart.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Trajectories returns the trajectories of the checked set, in selection
// order.
func (s *Session) Trajectories() []*propagation.Trajectory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*propagation.Trajectory(nil), s.trajectories...)
}

// Primary returns the trajectory used by the 2D views: the first checked
// satellite that could be propagated.
func (s *Session) Primary() (*propagation.Trajectory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.trajectories) == 0 {
		return nil, false
	}
	return s.trajectories[0], true
}

// Toggle checks or unchecks one record, then recomputes and re-renders.
func (s *Session) Toggle(ctx context.Context, index int, checked bool) (View, error) {
	if err := s.checkIndex(index); err != nil {
		return View{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[int]bool, len(s.selected)+1)
	for i := range s.selected {
		next[i] = true
	}
	if checked {
		next[index] = true
	} else {
		delete(next, index)
	}
	return s.reselectLocked(ctx, next)
}

// SetSelection replaces the checked set, then recomputes and re-renders.
func (s *Session) SetSelection(ctx context.Context, indices []int) (View, error) {
	for _, i := range indices {
		if err := s.checkIndex(i); err != nil {
			return View{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[int]bool, len(indices))
	for _, i := range indices {
		next[i] = true
	}
	return s.reselectLocked(ctx, next)
}

// SetMode switches the active view. Trajectories are reused.
func (s *Session) SetMode(ctx context.Context, mode string) (View, error) {
	m, ok := chart.ParseMode(mode)
	if !ok {
		return View{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if s.dataset == nil {
		return View{}, ErrNoDataset
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.mode
	s.mode = m
	var (
		v   View
		err error
	)
	if !s.computed {
		v, err = s.updateLocked(ctx)
	} else {
		v, err = s.renderLocked(ctx)
	}
	if err != nil {
		// The animator may already be stopped; rebuild on the next View.
		s.mode = prev
		s.computed = false
		return View{}, err
	}
	return v, nil
}

// View returns the current view, computing it on first use.
func (s *Session) View(ctx context.Context) (View, error) {
	if s.dataset == nil {
		return View{}, ErrNoDataset
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.computed {
		return s.updateLocked(ctx)
	}
	return s.view, nil
}

// Close stops the animation loop.
func (s *Session) Close() {
	s.animator.Stop()
}

func (s *Session) checkIndex(i int) error {
	if s.dataset == nil {
		return ErrNoDataset
	}
	if _, ok := s.dataset.Record(i); !ok {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	return nil
}

// reselectLocked swaps in next as the checked set and recomputes. On failure
// the previous selection and trajectories are put back so the stored view
// still matches the selection.
func (s *Session) reselectLocked(ctx context.Context, next map[int]bool) (View, error) {
	prevSelected, prevTrajs, prevComputed := s.selected, s.trajectories, s.computed
	s.selected = next
	v, err := s.updateLocked(ctx)
	if err != nil {
		s.selected, s.trajectories, s.computed = prevSelected, prevTrajs, prevComputed
		return View{}, err
	}
	return v, nil
}

// updateLocked recomputes every checked trajectory from scratch and renders.
func (s *Session) updateLocked(ctx context.Context) (View, error) {
	sel := s.selectionLocked()
	trajs, err := s.prop.Trajectories(ctx, s.dataset, sel, s.now())
	if err != nil {
		return View{}, fmt.Errorf("propagating selection: %w", err)
	}
	s.trajectories = trajs
	s.computed = true

	s.logger.Debug("selection recomputed",
		"selected", len(sel),
		"trajectories", len(trajs),
	)
	return s.renderLocked(ctx)
}

func (s *Session) renderLocked(ctx context.Context) (View, error) {
	v := View{
		Mode:      s.mode,
		Selection: s.selectionLocked(),
	}

	switch {
	case len(s.trajectories) == 0:
		s.animator.Stop()
		v.Display = DisplayNone

	case s.mode == chart.ModeOrbit3D:
		sc := scene.Build(s.trajectories)
		s.animator.Start(sc)
		_, gen := s.animator.Scene()
		v.Display = Display3D
		v.Scene = sc
		v.Generation = gen

	default:
		s.animator.Stop()
		fig, err := chart.Render(ctx, s.mode, s.trajectories[0])
		if err != nil {
			return View{}, err
		}
		v.Display = DisplayPlot
		v.Figure = fig
	}

	s.view = v
	s.logger.Debug("view rendered", "mode", v.Mode, "display", v.Display)
	return v, nil
}
