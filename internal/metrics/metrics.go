package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitviz_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbitviz_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	datasetRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitviz_tle_dataset_records",
		Help: "Number of satellite records in the loaded TLE dataset.",
	})

	datasetAgeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitviz_tle_dataset_age_seconds",
		Help: "Seconds since the TLE dataset was loaded.",
	})

	propagationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbitviz_propagation_duration_seconds",
		Help:    "Time to propagate one selection's trajectory set.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	trajectoriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitviz_trajectories_total",
		Help: "Trajectories computed.",
	})

	propagationGapsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitviz_propagation_gaps_total",
		Help: "Time steps skipped because SGP4 returned no position.",
	})

	propagationInitErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitviz_propagation_init_errors_total",
		Help: "Records whose SGP4 model failed to initialise.",
	})

	chartRendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitviz_chart_renders_total",
			Help: "2D figures rendered, by mode.",
		},
		[]string{"mode"},
	)

	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitviz_sessions_active",
		Help: "Live browser sessions.",
	})

	animationsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitviz_animations_active",
		Help: "Running 3D animation loops.",
	})

	sceneFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitviz_scene_frames_total",
		Help: "3D frames computed by animation loops.",
	})

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitviz_stream_connections_total",
			Help: "SSE connection events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitviz_streams_active",
		Help: "Open SSE streams.",
	})

	streamMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitviz_stream_messages_total",
		Help: "SSE data messages sent.",
	})

	streamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitviz_stream_bytes_total",
		Help: "Bytes written to SSE streams.",
	})

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitviz_stream_errors_total",
			Help: "SSE errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		datasetRecords,
		datasetAgeSeconds,
		propagationDuration,
		trajectoriesTotal,
		propagationGapsTotal,
		propagationInitErrors,
		chartRendersTotal,
		sessionsActive,
		animationsActive,
		sceneFramesTotal,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func SetDatasetRecords(n int) { datasetRecords.Set(float64(n)) }
func SetDatasetAge(seconds float64) { datasetAgeSeconds.Set(seconds) }
func IncPropagationInitErrors() { propagationInitErrors.Inc() }
func IncChartRenders(mode string) { chartRendersTotal.WithLabelValues(mode).Inc() }
func SetSessionsActive(n int) { sessionsActive.Set(float64(n)) }
func IncAnimationsActive() { animationsActive.Inc() }
func DecAnimationsActive() { animationsActive.Dec() }
func IncSceneFrames() { sceneFramesTotal.Inc() }
func IncStreamConnections(ev string) { streamConnectionsTotal.WithLabelValues(ev).Inc() }
func IncStreamsActive() { streamsActive.Inc() }
func DecStreamsActive() { streamsActive.Dec() }
func IncStreamMessages() { streamMessagesTotal.Inc() }
func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }
func IncStreamErrors(reason string) { streamErrorsTotal.WithLabelValues(reason).Inc() }

// RecordPropagation records one trajectory-set computation.
func RecordPropagation(d time.Duration, trajectories, gaps int) {
	propagationDuration.Observe(d.Seconds())
	trajectoriesTotal.Add(float64(trajectories))
	propagationGapsTotal.Add(float64(gaps))
}

// knownRoutes are recorded under their own path label.
var knownRoutes = map[string]bool{
	"/":                           true,
	"/index.html":                 true,
	"/app.js":                     true,
	"/styles.css":                 true,
	"/healthz":                    true,
	"/readyz":                     true,
	"/metrics":                    true,
	"/api/v1/satellites":          true,
	"/api/v1/selection":           true,
	"/api/v1/mode":                true,
	"/api/v1/view":                true,
	"/api/v1/chart.svg":           true,
	"/api/v1/groundtrack.geojson": true,
	"/api/v1/stream/scene":        true,
}

// normalizeRoute maps a request path to a bounded label set so scanners and
// per-record paths cannot blow up metric cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/selection/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return "/api/v1/selection/{index}"
	}
	if strings.HasPrefix(path, "/data/") {
		return "/data/{file}"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := normalizeRoute(r.URL.Path)
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.statusCode)).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
