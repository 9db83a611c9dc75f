package propagation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/star/orbitviz/internal/metrics"
	"github.com/star/orbitviz/internal/tle"
	"github.com/star/orbitviz/internal/transform"
)

var tracer = otel.Tracer("github.com/star/orbitviz/internal/propagation")

// positioner yields a TEME state for a time; *SGP4Propagator is the
// production implementation.
type positioner interface {
	Propagate(t time.Time) (transform.PositionTEME, error)
}

// model is an initialised SGP4 propagator or the reason there is none.
type model struct {
	prop positioner
	err  error
}

// modelCache holds the SGP4 models for one dataset. Immutable after
// construction; safe for concurrent reads.
type modelCache struct {
	dataset *tle.Dataset
	models  []model
}

// Propagator turns records into trajectories.
type Propagator struct {
	pool    *WorkerPool
	config  Config
	logger  *slog.Logger
	cache   atomic.Pointer[modelCache]
	cacheMu sync.Mutex // serializes cache rebuilds
}

// NewPropagator creates a Propagator. Zero config fields fall back to
// DefaultConfig values.
func NewPropagator(config Config, logger *slog.Logger) *Propagator {
	def := DefaultConfig()
	if config.Workers < 1 {
		config.Workers = def.Workers
	}
	if config.Step <= 0 {
		config.Step = def.Step
	}
	if config.Steps < 1 {
		config.Steps = def.Steps
	}
	if config.GapPolicy == "" {
		config.GapPolicy = def.GapPolicy
	}
	return &Propagator{
		pool:   NewWorkerPool(config.Workers, logger),
		config: config,
		logger: logger,
	}
}

// Config returns the effective configuration.
func (p *Propagator) Config() Config {
	return p.config
}

// models returns the SGP4 models for ds, building them on first use.
// Rebuilds when the dataset changes (double-checked locking).
func (p *Propagator) models(ds *tle.Dataset) []model {
	if c := p.cache.Load(); c != nil && c.dataset == ds {
		return c.models
	}

	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	if c := p.cache.Load(); c != nil && c.dataset == ds {
		return c.models
	}

	models := make([]model, len(ds.Records))
	var failed int
	for i, rec := range ds.Records {
		sp, err := NewSGP4Propagator(rec.Line1, rec.Line2)
		if err != nil {
			models[i] = model{err: &InitError{Index: rec.Index, Name: rec.Name, Err: err}}
			failed++
			metrics.IncPropagationInitErrors()
			p.logger.Warn("sgp4 init failed", "index", rec.Index, "name", rec.Name, "error", err)
			continue
		}
		models[i] = model{prop: sp}
	}

	p.logger.Info("sgp4 model cache rebuilt",
		"records", len(ds.Records),
		"failed", failed,
		"dataset_loaded_at", ds.LoadedAt.UTC().Format(time.RFC3339),
	)
	p.cache.Store(&modelCache{dataset: ds, models: models})
	return models
}

// Trajectory propagates record index of ds over the configured horizon,
// starting at start.
func (p *Propagator) Trajectory(ctx context.Context, ds *tle.Dataset, index int, start time.Time) (*Trajectory, error) {
	rec, ok := ds.Record(index)
	if !ok {
		return nil, fmt.Errorf("record %d not in dataset of %d", index, len(ds.Records))
	}
	m := p.models(ds)[index]
	if m.err != nil {
		return nil, m.err
	}
	return p.run(ctx, rec, m.prop, start)
}

// Trajectories propagates the given records in parallel and returns their
// trajectories in the order of indices. Records that cannot be propagated are
// logged and left out.
func (p *Propagator) Trajectories(ctx context.Context, ds *tle.Dataset, indices []int, start time.Time) ([]*Trajectory, error) {
	ctx, span := tracer.Start(ctx, "propagation.Trajectories")
	defer span.End()
	span.SetAttributes(
		attribute.Int("satellites", len(indices)),
		attribute.Int("steps", p.config.Steps),
	)

	begin := time.Now()
	results := p.pool.Run(ctx, indices, func(ctx context.Context, index int) (*Trajectory, error) {
		return p.Trajectory(ctx, ds, index, start)
	})

	out := make([]*Trajectory, 0, len(results))
	var gaps int
	for i, res := range results {
		if res.err != nil {
			if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
				span.SetStatus(codes.Error, res.err.Error())
				return nil, res.err
			}
			p.logger.Warn("skipping satellite", "index", indices[i], "error", res.err)
			continue
		}
		gaps += res.traj.Gaps
		out = append(out, res.traj)
	}

	duration := time.Since(begin)
	metrics.RecordPropagation(duration, len(out), gaps)
	span.SetAttributes(attribute.Int("trajectories", len(out)), attribute.Int("gaps", gaps))

	p.logger.Debug("propagation complete",
		"requested", len(indices),
		"trajectories", len(out),
		"gaps", gaps,
		"duration_ms", duration.Milliseconds(),
	)
	return out, nil
}

// run samples one satellite at start + i*Step for i in [0, Steps].
func (p *Propagator) run(ctx context.Context, rec tle.SatelliteRecord, pos positioner, start time.Time) (*Trajectory, error) {
	start = start.UTC().Truncate(time.Second)
	traj := newTrajectory(rec.Index, rec.Name, rec.NORADID, p.config.Steps+1)

	var last *Sample
	for i := 0; i <= p.config.Steps; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		t := start.Add(time.Duration(i) * p.config.Step)
		s, err := sampleAt(pos, t, i)
		if err != nil {
			traj.Gaps++
			p.logger.Debug("propagation gap", "index", rec.Index, "name", rec.Name, "step", i, "error", err)
			if p.config.GapPolicy == GapPad && last != nil {
				padded := *last
				padded.Time = t
				padded.Step = i
				traj.add(padded)
			}
			continue
		}
		traj.add(s)
		last = &s
	}
	return traj, nil
}

func sampleAt(pos positioner, t time.Time, step int) (Sample, error) {
	teme, err := pos.Propagate(t)
	if err != nil {
		return Sample{}, err
	}
	ecef := transform.TEMEToECEF(teme, t)
	if !transform.ValidateECEF(ecef) {
		return Sample{}, fmt.Errorf("%w: position outside orbital range", ErrNoPosition)
	}
	geo := transform.ECEFToGeodetic(ecef)
	return Sample{
		Time:      t,
		Step:      step,
		Latitude:  geo.LatDeg,
		Longitude: geo.LonDeg,
		Altitude:  geo.AltM,
		Speed:     teme.Speed(),
	}, nil
}
