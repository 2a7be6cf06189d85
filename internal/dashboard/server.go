// Package dashboard serves a read-only JSON status surface over
// positions, alerts, roll suggestions, the quote cache's quotes and
// heartbeats, and scheduler job status. The auth token is
// accepted from header, query or cookie, and redacted from request
// logs. Every route here is a read; mutation happens through the
// bridge and the engines, never through this server.
package dashboard

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rollwatch/rollwatch/internal/marketdata"
	"github.com/rollwatch/rollwatch/internal/quotecache"
	"github.com/rollwatch/rollwatch/internal/repo"
	"github.com/rollwatch/rollwatch/internal/rollcalc"
	"github.com/rollwatch/rollwatch/internal/scheduler"
)

// Scheduler is the subset of *scheduler.Scheduler the dashboard reads.
type Scheduler interface {
	Status() []scheduler.Status
}

// Config configures the dashboard server's auth and listen port.
type Config struct {
	Port      int
	AuthToken string
}

// Server exposes a read-only status API over the roll-watch runtime.
type Server struct {
	router    *chi.Mux
	cache     *quotecache.Cache
	accounts  repo.AccountRepo
	positions repo.PositionRepo
	rules     repo.RuleRepo
	alerts    repo.AlertRepo
	provider  marketdata.Provider
	scheduler Scheduler
	logger    *logrus.Logger
	cfg       Config
}

// New builds a Server with routes registered but not yet serving.
// provider may be nil, in which case the roll-suggestions route
// responds 503.
func New(cache *quotecache.Cache, accounts repo.AccountRepo, positions repo.PositionRepo, rules repo.RuleRepo, alerts repo.AlertRepo, provider marketdata.Provider, sched Scheduler, cfg Config, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:    chi.NewRouter(),
		cache:     cache,
		accounts:  accounts,
		positions: positions,
		rules:     rules,
		alerts:    alerts,
		provider:  provider,
		scheduler: sched,
		logger:    logger,
		cfg:       cfg,
	}
	s.setupRoutes()
	return s
}

// Handler returns the root http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLoggerMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/health", s.handleHealth)

	if s.cfg.AuthToken != "" {
		s.router.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			s.registerAPIRoutes(r)
		})
	} else {
		s.registerAPIRoutes(s.router)
	}
}

func (s *Server) registerAPIRoutes(r chi.Router) {
	r.Get("/api/accounts/{accountID}/positions", s.handlePositions)
	r.Get("/api/accounts/{accountID}/alerts", s.handleAlerts)
	r.Get("/api/positions/{positionID}/roll-suggestions", s.handleRollSuggestions)
	r.Get("/api/quotes/{symbol}", s.handleQuote)
	r.Get("/api/heartbeats", s.handleHeartbeats)
	r.Get("/api/jobs", s.handleJobs)
}

func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loggedURL := s.redactTokenFromURL(r.URL)
		logEntry := s.logger.WithFields(logrus.Fields{
			"method":    r.Method,
			"url":       loggedURL.String(),
			"remote_ip": r.RemoteAddr,
		})

		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)

		logEntry.WithFields(logrus.Fields{
			"status":   wrapped.Status(),
			"duration": time.Since(start),
		}).Info("dashboard request")
	})
}

func (s *Server) redactTokenFromURL(original *url.URL) *url.URL {
	redacted := &url.URL{
		Scheme:   original.Scheme,
		Host:     original.Host,
		Path:     original.Path,
		RawQuery: original.RawQuery,
		Fragment: original.Fragment,
	}
	if original.RawQuery != "" {
		values := original.Query()
		if values.Has("token") {
			values.Set("token", "[REDACTED]")
		}
		redacted.RawQuery = values.Encode()
	}
	return redacted
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var token string
		token = r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			if cookie, err := r.Cookie("auth_token"); err == nil {
				token = cookie.Value
			}
		}

		if !s.isValidToken(token) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isValidToken(token string) bool {
	if len(token) != len(s.cfg.AuthToken) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	positions, err := s.positions.GetOpenPositions(r.Context(), accountID)
	if err != nil {
		s.logger.WithError(err).Error("dashboard: failed to load positions")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	alerts, err := s.alerts.GetByAccountID(r.Context(), accountID, nil, "")
	if err != nil {
		s.logger.WithError(err).Error("dashboard: failed to load alerts")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// handleRollSuggestions runs the roll calculator for one open position.
// The OTM/DTE bands come from the account's first active rule carrying
// an OTM target; without one, a conservative default band applies.
func (s *Server) handleRollSuggestions(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	positionID := chi.URLParam(r, "positionID")
	position, err := s.positions.GetPositionByID(r.Context(), positionID)
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	params := rollcalc.Params{
		OTMPctLow:  decimal.NewFromFloat(0.02),
		OTMPctHigh: decimal.NewFromFloat(0.08),
		DTEMin:     15,
		DTEMax:     60,
	}
	if s.rules != nil {
		if rules, rerr := s.rules.GetActiveRules(r.Context(), position.AccountID); rerr == nil {
			for _, rule := range rules {
				if !rule.TargetOTMPctHigh.IsZero() {
					params.OTMPctLow = rule.TargetOTMPctLow
					params.OTMPctHigh = rule.TargetOTMPctHigh
					params.DTEMin = rule.DTEMin
					params.DTEMax = rule.DTEMax
					break
				}
			}
		}
	}

	result := rollcalc.Calculate(r.Context(), s.cache, s.provider, position.AssetID, position, params, time.Now())
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	quote, ok := s.cache.GetLatestQuote(symbol, s.cache.DefaultTTL(), time.Now())
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleHeartbeats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.AllHeartbeats())
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, []scheduler.Status{})
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
