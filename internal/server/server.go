// Package server exposes the dataset, the recommendation pipeline and the
// chart aggregates over a small JSON HTTP API.
package server

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"carrec/internal/dataset"
	"carrec/internal/domain"
	"carrec/internal/imagery"
	"carrec/internal/logging"
	"carrec/internal/metrics"
	"carrec/internal/recommend"
)

// Recommender runs one recommendation request.
type Recommender interface {
	Recommend(ctx context.Context, req recommend.Request) (*domain.RecommendationResult, error)
}

// Server holds the read-only state shared by all handlers.
type Server struct {
	data     *dataset.Dataset
	rec      Recommender
	images   *imagery.Resolver
	limiter  *rate.Limiter
	retryIn  time.Duration
	validate *validator.Validate
	log      zerolog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithImages attaches an image URL to every recommendation.
func WithImages(r *imagery.Resolver) Option { return func(s *Server) { s.images = r } }

// WithRateLimit throttles POST /recommendations to perMinute requests with a
// burst of the same size. Zero or less disables the throttle.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) {
		if perMinute <= 0 {
			s.limiter = nil
			return
		}
		every := time.Minute / time.Duration(perMinute)
		s.limiter = rate.NewLimiter(rate.Every(every), perMinute)
		s.retryIn = every
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.log = l } }

// New creates a server over a cleaned dataset.
func New(data *dataset.Dataset, rec Recommender, opts ...Option) *Server {
	s := &Server{
		data:     data,
		rec:      rec,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logging.Component("server"),
	}
	s.validate.RegisterTagNameFunc(jsonFieldName)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.instrument)
	r.HandleFunc("/cars", s.GetCars).Methods(http.MethodGet)
	r.HandleFunc("/recommendations", s.PostRecommendations).Methods(http.MethodPost)
	r.HandleFunc("/insights/overview", s.GetOverview).Methods(http.MethodGet)
	r.HandleFunc("/insights", s.GetInsights).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.GetHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "not_found", "no such route")
	})
	return r
}

// NewHTTPServer returns a new HTTP server
func NewHTTPServer(addr string, s *Server) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// recommendations wait on the model, backoff included
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if !logging.ValidRequestID(id) {
			id = logging.NewRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := logging.ContextWithRequestID(r.Context(), id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		metrics.RecordHTTPRequest(route, strconv.Itoa(rec.status), elapsed)
		reqLog := logging.WithRequest(ctx, s.log)
		reqLog.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("http request")
	})
}

func (s *Server) allow() (bool, time.Duration) {
	if s.limiter == nil || s.limiter.Allow() {
		return true, 0
	}
	return false, s.retryIn
}

func retryAfterSeconds(d time.Duration) string {
	return strconv.Itoa(int(math.Max(1, math.Ceil(d.Seconds()))))
}
