package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/star/orbitviz/internal/chart"
	"github.com/star/orbitviz/internal/scene"
	"github.com/star/orbitviz/internal/session"
)

// SessionCookie names the cookie holding the session id.
const SessionCookie = "orbitviz_session"

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

type satellitesResponse struct {
	Source     string          `json:"source"`
	LoadedAt   time.Time       `json:"loadedAt"`
	Satellites []session.Entry `json:"satellites"`
}

type selectionRequest struct {
	Indices []int `json:"indices"`
}

type toggleRequest struct {
	Checked bool `json:"checked"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

// session returns the caller's session, creating one and setting the cookie
// when needed. It writes the error response itself and reports false on
// failure.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	var id string
	if c, err := r.Cookie(SessionCookie); err == nil {
		id = c.Value
	}

	sess, created, err := s.sessions.GetOrCreate(id)
	if err != nil {
		s.writeSessionError(w, err)
		return nil, false
	}
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    sess.ID(),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return sess, true
}

// animatorFor resolves the stream's animator from the session cookie. Streams
// never create sessions.
func (s *Server) animatorFor(r *http.Request) (*scene.Animator, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, false
	}
	sess, ok := s.sessions.Get(c.Value)
	if !ok {
		return nil, false
	}
	return sess.Animator(), true
}

// GET /api/v1/satellites
func (s *Server) handleSatellites(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	entries, err := sess.Entries()
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	ds := sess.Dataset()
	writeJSON(w, http.StatusOK, satellitesResponse{
		Source:     ds.Source,
		LoadedAt:   ds.LoadedAt,
		Satellites: entries,
	})
}

// PUT /api/v1/selection
func (s *Server) handleSetSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	view, err := sess.SetSelection(r.Context(), req.Indices)
	s.writeView(w, view, err)
}

// POST /api/v1/selection/{index}
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid satellite index")
		return
	}
	var req toggleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	view, err := sess.Toggle(r.Context(), index, req.Checked)
	s.writeView(w, view, err)
}

// PUT /api/v1/mode
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	view, err := sess.SetMode(r.Context(), req.Mode)
	s.writeView(w, view, err)
}

// GET /api/v1/view
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	view, err := sess.View(r.Context())
	s.writeView(w, view, err)
}

// GET /api/v1/chart.svg
func (s *Server) handleChartSVG(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	view, err := sess.View(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	if view.Figure == nil {
		writeError(w, http.StatusNotFound, "current view has no 2D chart")
		return
	}

	var buf bytes.Buffer
	if err := view.Figure.RenderSVG(&buf); err != nil {
		s.logger.Error("chart render failed", "mode", view.Mode, "error", err)
		writeError(w, http.StatusInternalServerError, "chart render failed")
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

// GET /api/v1/groundtrack.geojson
func (s *Server) handleGroundTrack(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if _, err := sess.View(r.Context()); err != nil {
		s.writeSessionError(w, err)
		return
	}
	traj, ok := sess.Primary()
	if !ok {
		writeError(w, http.StatusNotFound, "no satellite selected")
		return
	}

	data, err := chart.GroundTrackGeoJSON(traj).MarshalJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding ground track failed")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Write(data)
}

func (s *Server) writeView(w http.ResponseWriter, view session.View, err error) {
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// writeSessionError maps session errors onto HTTP statuses.
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNoDataset):
		writeError(w, http.StatusServiceUnavailable, "TLE file not loaded")
	case errors.Is(err, session.ErrUnknownMode), errors.Is(err, session.ErrIndexOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error("session operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
