// Package api exposes the station-keeping engine over HTTP: JSON queries,
// rate-limited control actions, an echarts drift page and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/signalsfoundry/station-keeper/core"
	"github.com/signalsfoundry/station-keeper/internal/logging"
	"github.com/signalsfoundry/station-keeper/internal/observability"
	"github.com/signalsfoundry/station-keeper/internal/sim"
	"github.com/signalsfoundry/station-keeper/internal/sim/state"
	"github.com/signalsfoundry/station-keeper/orbit"
	"github.com/signalsfoundry/station-keeper/timectrl"
)

// Station is the engine surface the API drives.
type Station interface {
	Start(ctx context.Context) error
	Stop() error
	TogglePause() (timectrl.Phase, bool)
	ToggleRecording() bool
	ClearHistory()
	ResetController()

	Status() sim.Status
	LatestTelemetry() (state.TelemetryEntry, bool)
	Telemetry() []state.TelemetryEntry
	History() []state.DriftEvent
	Series() state.SeriesSnapshot
	Position() core.Vec3
	Target() core.Vec3
}

// Options configures a Server.
type Options struct {
	Logger  logging.Logger
	Metrics *observability.StationCollector
	// ControlRPS bounds POST /api/v1/control/* requests per second.
	ControlRPS float64
	// BaseContext outlives individual requests; loops started over HTTP
	// run under it.
	BaseContext context.Context
}

// Server routes HTTP requests to a Station.
type Server struct {
	station Station
	log     logging.Logger
	metrics *observability.StationCollector
	limiter *rate.Limiter
	baseCtx context.Context
	router  *mux.Router
}

// NewServer builds the router.
func NewServer(st Station, o Options) *Server {
	if o.Logger == nil {
		o.Logger = logging.Noop()
	}
	if o.BaseContext == nil {
		o.BaseContext = context.Background()
	}
	limit, burst := rate.Inf, 1
	if o.ControlRPS > 0 {
		limit = rate.Limit(o.ControlRPS)
		burst = max(1, int(o.ControlRPS))
	}

	s := &Server{
		station: st,
		log:     o.Logger,
		metrics: o.Metrics,
		limiter: rate.NewLimiter(limit, burst),
		baseCtx: o.BaseContext,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.observe)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	const v1 = "/api/v1"
	r.HandleFunc(v1+"/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc(v1+"/telemetry", s.handleTelemetry).Methods(http.MethodGet)
	r.HandleFunc(v1+"/telemetry/latest", s.handleLatestTelemetry).Methods(http.MethodGet)
	r.HandleFunc(v1+"/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc(v1+"/position", s.handlePosition).Methods(http.MethodGet)
	r.HandleFunc(v1+"/series", s.handleSeries).Methods(http.MethodGet)
	r.HandleFunc(v1+"/orbit", s.handleOrbit).Methods(http.MethodGet)

	// Control routes sit on the root router so a method mismatch is a 405
	// rather than a subrouter 404.
	for action, h := range map[string]http.HandlerFunc{
		"start":            s.handleStart,
		"stop":             s.handleStop,
		"pause":            s.handlePause,
		"record":           s.handleRecord,
		"clear-history":    s.handleClearHistory,
		"reset-controller": s.handleResetController,
	} {
		r.Handle(v1+"/control/"+action, s.rateLimit(h)).Methods(http.MethodPost)
	}

	r.HandleFunc("/charts/drift", s.handleDriftChart).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler returns the router wrapped with panic recovery.
func (s *Server) Handler() http.Handler {
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(s.router)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		ctx, reqLog := logging.WithRunLogger(r.Context(), s.log.With(
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
		))
		r = r.WithContext(logging.ContextWithLogger(ctx, reqLog))
		next.ServeHTTP(rec, r)

		route := ""
		if cur := mux.CurrentRoute(r); cur != nil {
			route, _ = cur.GetPathTemplate()
		}
		s.metrics.ObserveHTTP(route, r.Method, rec.code, time.Since(began))
		reqLog.Debug(r.Context(), "http request",
			logging.Int("status", rec.code),
			logging.Duration("elapsed", time.Since(began)),
		)
	})
}

// requestLogger returns the logger observe attached to the request, falling
// back to the server logger for handlers called outside the router.
func (s *Server) requestLogger(r *http.Request) logging.Logger {
	if l := logging.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	return s.log
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.writeError(w, http.StatusTooManyRequests, "control rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		s.log.Error(context.Background(), "encode response", logging.Err(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"response encoding failed"}` + "\n"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.station.Status())
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	entries := s.station.Telemetry()
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleLatestTelemetry(w http.ResponseWriter, _ *http.Request) {
	entry, ok := s.station.LatestTelemetry()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no telemetry recorded yet")
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.station.History())
}

type positionResponse struct {
	Position core.Vec3 `json:"position"`
	Target   core.Vec3 `json:"target"`
	Distance float64   `json:"distance"`
}

func (s *Server) handlePosition(w http.ResponseWriter, _ *http.Request) {
	pos, target := s.station.Position(), s.station.Target()
	s.writeJSON(w, http.StatusOK, positionResponse{Position: pos, Target: target, Distance: pos.DistanceTo(target)})
}

func (s *Server) handleSeries(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.station.Series())
}

type orbitResponse struct {
	Elements orbit.Elements `json:"elements"`
	Points   []core.Vec3    `json:"points"`
}

func (s *Server) handleOrbit(w http.ResponseWriter, r *http.Request) {
	el := orbit.DefaultElements()
	points := orbit.DefaultPathPoints
	q := r.URL.Query()
	for key, dst := range map[string]*float64{
		"altitude_km":     &el.AltitudeKm,
		"inclination_deg": &el.InclinationDeg,
		"eccentricity":    &el.Eccentricity,
	} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, key+" must be a number")
			return
		}
		*dst = f
	}
	if v := q.Get("points"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n > 10000 {
			s.writeError(w, http.StatusBadRequest, "points must be an integer up to 10000")
			return
		}
		points = n
	}

	path, err := orbit.Path(el, points)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, orbitResponse{Elements: el, Points: path})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.station.Start(s.baseCtx)
	switch {
	case errors.Is(err, timectrl.ErrAlreadyRunning):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, sim.ErrShutdown):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.requestLogger(r).Error(r.Context(), "start control loop", logging.Err(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.station.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	err := s.station.Stop()
	switch {
	case errors.Is(err, timectrl.ErrNotRunning):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.requestLogger(r).Error(r.Context(), "stop control loop", logging.Err(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.station.Status())
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	if _, changed := s.station.TogglePause(); !changed {
		s.writeError(w, http.StatusConflict, "control loop not running")
		return
	}
	s.writeJSON(w, http.StatusOK, s.station.Status())
}

func (s *Server) handleRecord(w http.ResponseWriter, _ *http.Request) {
	s.station.ToggleRecording()
	s.writeJSON(w, http.StatusOK, s.station.Status())
}

func (s *Server) handleClearHistory(w http.ResponseWriter, _ *http.Request) {
	s.station.ClearHistory()
	s.writeJSON(w, http.StatusOK, s.station.Status())
}

func (s *Server) handleResetController(w http.ResponseWriter, _ *http.Request) {
	s.station.ResetController()
	s.writeJSON(w, http.StatusOK, s.station.Status())
}
