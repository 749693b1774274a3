// Package api serves the intersection controller over HTTP: status, event
// history, start/stop control, statistics, charts and a live status stream.
package api

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/crossroads/internal/arbiter"
	"github.com/banshee-data/crossroads/internal/db"
	"github.com/banshee-data/crossroads/internal/httputil"
	"github.com/banshee-data/crossroads/internal/monitoring"
	"github.com/banshee-data/crossroads/internal/timeutil"
	"github.com/banshee-data/crossroads/internal/traffic"
	"github.com/banshee-data/crossroads/internal/version"
)

var logf = monitoring.Component("api")

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
	defaultEventHours = 24
)

// Controller is the engine handle the API drives.
type Controller interface {
	Start() error
	Stop(timeout time.Duration) error
	Running() bool
	// Stopping reports a run that was asked to stop but has not exited.
	Stopping() bool
	Status() traffic.Status
	Timing() arbiter.Timing
	RecentEvents(ctx context.Context, limit int, since time.Time) ([]traffic.Event, error)
}

// Store answers the history queries behind stats and charts.
type Store interface {
	Stats(ctx context.Context, since time.Time) (db.Stats, error)
	GreenPhases(ctx context.Context, since time.Time) ([]db.GreenPhase, error)
	StatusSamples(ctx context.Context, since time.Time) ([]traffic.Status, error)
}

// Options tunes a Server. Zero values select defaults.
type Options struct {
	// StopTimeout is passed to Controller.Stop.
	StopTimeout time.Duration
	// StreamInterval is the period of websocket status pushes; defaults to
	// the controller's poll interval.
	StreamInterval time.Duration
	Clock          timeutil.Clock
	// DetectionThreshold is the configured value, reported in status.
	DetectionThreshold float64
}

type Server struct {
	ctrl           Controller
	store          Store
	stopTimeout    time.Duration
	streamInterval time.Duration
	clock          timeutil.Clock
	threshold      float64

	done      chan struct{}
	closeOnce sync.Once
}

// NewServer builds a Server. store may be nil, in which case the stats and
// chart endpoints answer 503.
func NewServer(ctrl Controller, store Store, o Options) *Server {
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	if o.StreamInterval <= 0 {
		o.StreamInterval = ctrl.Timing().PollInterval
	}
	return &Server{
		ctrl:           ctrl,
		store:          store,
		stopTimeout:    o.StopTimeout,
		streamInterval: o.StreamInterval,
		clock:          o.Clock,
		threshold:      o.DetectionThreshold,
		done:           make(chan struct{}),
	}
}

// Close ends every open status stream. Hijacked websocket connections are
// not tracked by http.Server.Shutdown, so call this first.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.showDashboard)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/start", s.startSystem)
	mux.HandleFunc("/api/stop", s.stopSystem)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/charts/counts", s.showCountsChart)
	mux.HandleFunc("/api/charts/green-durations.png", s.showGreenDurationPlot)
	mux.HandleFunc("/api/ws", s.streamStatus)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

type statusResponse struct {
	traffic.Status
	MinGreenSeconds float64 `json:"min_green_duration"`
	MaxGreenSeconds float64 `json:"max_green_duration"`
	PollSeconds     float64 `json:"poll_interval"`
	Threshold       float64 `json:"detection_threshold"`
}

func (s *Server) statusResponse() statusResponse {
	t := s.ctrl.Timing()
	return statusResponse{
		Status:          s.ctrl.Status(),
		MinGreenSeconds: t.MinGreen.Seconds(),
		MaxGreenSeconds: t.MaxGreen.Seconds(),
		PollSeconds:     t.PollInterval.Seconds(),
		Threshold:       s.threshold,
	}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.statusResponse())
}

// positiveParam parses an optional positive integer query parameter.
func positiveParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, errors.New("invalid '" + name + "' parameter")
	}
	return v, nil
}

func (s *Server) since(hours int) time.Time {
	return s.clock.Now().Add(-time.Duration(hours) * time.Hour)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	limit, err := positiveParam(r, "limit", defaultEventLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	hours, err := positiveParam(r, "hours", defaultEventHours)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	events, err := s.ctrl.RecentEvents(r.Context(), limit, s.since(hours))
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve events: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, events)
}

type messageResponse struct {
	Message string `json:"message"`
	Running bool   `json:"is_running"`
}

func (s *Server) startSystem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	err := s.ctrl.Start()
	switch {
	case err == nil:
		httputil.WriteJSONOK(w, messageResponse{Message: "System started", Running: true})
	case errors.Is(err, arbiter.ErrAlreadyRunning):
		httputil.WriteJSONOK(w, messageResponse{Message: "System already running", Running: true})
	case errors.Is(err, arbiter.ErrStillStopping):
		httputil.ServiceUnavailable(w, "previous run is still stopping")
	default:
		logf("start failed: %v", err)
		httputil.InternalServerError(w, "failed to start: "+err.Error())
	}
}

func (s *Server) stopSystem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.ctrl.Running() && !s.ctrl.Stopping() {
		httputil.WriteJSONOK(w, messageResponse{Message: "System not running"})
		return
	}
	// a stuck run is waited on again rather than reported as stopped
	if err := s.ctrl.Stop(s.stopTimeout); err != nil {
		if errors.Is(err, arbiter.ErrStopTimeout) {
			httputil.WriteJSONError(w, http.StatusGatewayTimeout, "system did not stop in time")
			return
		}
		logf("stop failed: %v", err)
		httputil.InternalServerError(w, "failed to stop: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, messageResponse{Message: "System stopped"})
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.store == nil {
		httputil.ServiceUnavailable(w, "no database configured")
		return
	}
	hours, err := positiveParam(r, "hours", defaultEventHours)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	stats, err := s.store.Stats(r.Context(), s.since(hours))
	if err != nil {
		httputil.InternalServerError(w, "failed to compute stats: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, stats)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, version.Get())
}

var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="5">
<title>Crossroads</title>
<style>
body { font-family: sans-serif; margin: 2em; }
.light { display: inline-block; padding: 0.4em 1em; border-radius: 4px; color: #fff; }
.RED { background: #c62828; } .GREEN { background: #2e7d32; }
.YELLOW { background: #f9a825; } .OFF { background: #616161; }
td, th { padding: 0.2em 0.8em; text-align: left; }
</style>
</head>
<body>
<h1>Crossroads</h1>
<p>System: <strong>{{if .Status.Running}}running{{else}}stopped{{end}}</strong>
{{if .Status.SimulatedInput}}(simulated input){{end}} output {{.Status.OutputMode}}</p>
<table>
<tr><th>Direction</th><th>Light</th><th>Vehicles</th></tr>
<tr><td>DIRECTION_1</td><td><span class="light {{.Status.LightOne}}">{{.Status.LightOne}}</span></td><td>{{.Status.VehiclesOne}}</td></tr>
<tr><td>DIRECTION_2</td><td><span class="light {{.Status.LightTwo}}">{{.Status.LightTwo}}</span></td><td>{{.Status.VehiclesTwo}}</td></tr>
</table>
<p>Green between {{.MinGreenSeconds}}s and {{.MaxGreenSeconds}}s, polling every {{.PollSeconds}}s.</p>
<form method="post" action="/api/start" style="display:inline"><button>Start</button></form>
<form method="post" action="/api/stop" style="display:inline"><button>Stop</button></form>
<h2>Recent events</h2>
<table>
<tr><th>Time</th><th>Direction</th><th>Type</th><th>Description</th></tr>
{{range .Events}}<tr><td>{{.Timestamp.Format "15:04:05"}}</td><td>{{.Direction}}</td><td>{{.Type}}</td><td>{{.Description}}</td></tr>
{{end}}</table>
<p><a href="/api/charts/counts">Vehicle counts</a> · <a href="/api/charts/green-durations.png">Green durations</a> · <a href="/api/stats">Stats</a></p>
</body>
</html>
`))

type dashboardData struct {
	statusResponse
	Events []traffic.Event
}

func (s *Server) showDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	events, err := s.ctrl.RecentEvents(r.Context(), 20, s.since(defaultEventHours))
	if err != nil {
		logf("dashboard events: %v", err)
	}
	data := dashboardData{statusResponse: s.statusResponse(), Events: events}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.Execute(w, data); err != nil {
		logf("render dashboard: %v", err)
	}
}
