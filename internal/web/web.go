package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bincal/internal/config"
	"bincal/internal/coordinator"
	appLog "bincal/internal/log"
	"bincal/internal/model"
)

// defaultRangeDays is the events window used when ?end= is omitted.
const defaultRangeDays = 30

// Server exposes the polled schedules as JSON and iCalendar feeds.
type Server struct {
	cfg    *config.Config
	router *chi.Mux

	households map[model.HouseholdID]*household
	order      []model.HouseholdID

	metrics http.Handler
	now     func() time.Time
}

// NewServer constructs a new Server over the given coordinators. Each
// coordinator gets one subscription per bin configured for its household.
// metricsHandler may be nil to disable /metrics.
func NewServer(cfg *config.Config, coords []*coordinator.Coordinator, metricsHandler http.Handler) *Server {
	s := &Server{
		cfg:        cfg,
		router:     chi.NewRouter(),
		households: make(map[model.HouseholdID]*household, len(coords)),
		metrics:    metricsHandler,
		now:        time.Now,
	}
	for _, c := range coords {
		var bins []model.CategoryID
		if hc, ok := cfg.Household(string(c.Household())); ok {
			bins = hc.Categories()
		}
		s.households[c.Household()] = newHousehold(c, bins)
		s.order = append(s.order, c.Household())
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Close detaches every feed subscription.
func (s *Server) Close() {
	for _, h := range s.households {
		h.close()
	}
}

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="bincal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics)
	}

	s.router.Route("/api/households", func(r chi.Router) {
		r.Get("/", s.handleHouseholds)
		r.Route("/{household}", func(r chi.Router) {
			r.Get("/raw", s.handleRaw)
			r.Post("/refresh", s.handleRefresh)
			r.Get("/categories/{category}/next", s.handleNext)
			r.Get("/categories/{category}/events", s.handleEvents)
		})
	})
	s.router.Get("/calendar/{household}/{feed}", s.handleCalendar)
}

// requestLogger writes one debug line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// lookup resolves the {household} URL parameter, writing a 404 when unknown.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*household, bool) {
	id := model.HouseholdID(chi.URLParam(r, "household"))
	h, ok := s.households[id]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown household")
		return nil, false
	}
	return h, true
}

// lookupFeed resolves a configured bin of h, writing a 404 when it is not
// one of the household's bins.
func lookupFeed(w http.ResponseWriter, h *household, category model.CategoryID) (*feed, bool) {
	f, ok := h.feeds[category]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown category")
		return nil, false
	}
	return f, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// parseDateDefault parses a YYYY-MM-DD query value in loc, returning def
// when s is empty.
func parseDateDefault(s string, def time.Time, loc *time.Location) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseInLocation(time.DateOnly, s, loc)
}
