package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/pardot/rp"
	"github.com/pardot/rp/guard"
	"github.com/pardot/rp/session"
)

// Config holds the server's configuration options.
type Config struct {
	Flow *rp.Flow

	// CallbackPath is where the provider redirects back to. It must match
	// the path of the registered redirect URI. Defaults to
	// /api/auth/callback.
	CallbackPath string

	// If specified, the server will use this function for determining time.
	Now func() time.Time

	Logger logrus.FieldLogger

	PrometheusRegistry *prometheus.Registry
}

// Server is the top level object.
type Server struct {
	flow   *rp.Flow
	guard  *guard.Guard
	router *mux.Router

	handler http.Handler

	now func() time.Time

	logger logrus.FieldLogger
}

// New constructs a server from the provided config.
func New(c Config) (*Server, error) {
	if c.Flow == nil {
		return nil, errors.New("server: flow cannot be nil")
	}
	if c.Logger == nil {
		return nil, errors.New("server: logger cannot be nil")
	}
	if c.PrometheusRegistry == nil {
		return nil, errors.New("server: prometheus registry cannot be nil")
	}
	if c.CallbackPath == "" {
		c.CallbackPath = "/api/auth/callback"
	}

	now := c.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		flow: c.Flow,
		guard: &guard.Guard{
			Secret:     string(c.Flow.SessionSecret),
			CookieName: rp.SessionCookie,
			Prefix:     "/dashboard",
			RedirectTo: "/",
		},
		now:    now,
		logger: c.Logger,
	}

	requestCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Count of all HTTP requests.",
	}, []string{"handler", "code", "method"})

	err := c.PrometheusRegistry.Register(requestCounter)
	if err != nil {
		return nil, fmt.Errorf("server: Failed to register Prometheus HTTP metrics: %v", err)
	}

	instrumentHandlerCounter := func(handlerName string, handler http.Handler) http.HandlerFunc {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, w, r)
			requestCounter.With(prometheus.Labels{"handler": handlerName, "code": strconv.Itoa(m.Code), "method": r.Method}).Inc()
		})
	}

	r := mux.NewRouter()
	handle := func(p string, h http.Handler, methods ...string) {
		route := r.Handle(p, instrumentHandlerCounter(p, h))
		if len(methods) > 0 {
			route.Methods(methods...)
		}
	}
	r.NotFoundHandler = http.HandlerFunc(http.NotFound)

	handle("/", http.HandlerFunc(s.handleHome), http.MethodGet)
	handle("/api/auth/login", http.HandlerFunc(c.Flow.HandleLogin), http.MethodGet)
	handle(c.CallbackPath, http.HandlerFunc(c.Flow.HandleCallback), http.MethodGet)
	handle("/api/auth/logout", http.HandlerFunc(c.Flow.HandleLogout), http.MethodPost)
	handle("/error", http.HandlerFunc(s.handleError), http.MethodGet)
	handle("/dashboard", s.guard.Wrap(s.authenticated(http.HandlerFunc(s.handleDashboard))), http.MethodGet)
	handle("/healthz", http.HandlerFunc(s.handleHealth))
	r.Handle("/metrics", promhttp.HandlerFor(c.PrometheusRegistry, promhttp.HandlerOpts{}))
	s.router = r

	s.handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(c.Logger),
		handlers.PrintRecoveryStack(false),
	)(s.accessLog(r))

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// authenticated loads the live session for the request, sending the browser
// to the entry page when there is none.
func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, user, err := s.flow.CurrentSession(r)
		if err != nil {
			if !errors.Is(err, session.ErrNotFound) {
				s.logger.WithError(err).Error("loading session")
			}
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess, user)))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"code":     m.Code,
			"bytes":    m.Written,
			"duration": m.Duration.String(),
		}).Debug("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}
