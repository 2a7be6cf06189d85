// Package bridge implements the MT5 ingress/egress HTTP API: heartbeat,
// quote and option-quote ingestion, command drain, and execution-report
// reconciliation. Authenticated by a static bearer token with an
// optional IP allowlist.
package bridge

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rollwatch/rollwatch/internal/apperr"
	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/rollwatch/rollwatch/internal/quotecache"
	"github.com/rollwatch/rollwatch/internal/symbolmap"
)

// AlertRetrier is the subset of notifier.Engine the manual retry admin
// route needs: FAILED alerts stay FAILED until an operator flips them
// back through here.
type AlertRetrier interface {
	RetryFailed(ctx context.Context, alertID string) (models.Alert, error)
}

// Config configures the bridge's auth and behavior.
type Config struct {
	Enabled     bool
	Token       string
	AllowedIPs  []string // CIDR or bare IPs; empty disables the allowlist
	QuoteTTL    time.Duration
	RatePerMin  int
}

// Server wraps the chi router exposing the MT5 bridge routes.
type Server struct {
	router  *chi.Mux
	cache   *quotecache.Cache
	retrier AlertRetrier
	cfg     Config
	logger  *logrus.Logger
}

// New builds a Server and registers all routes. retrier may be nil, in
// which case the manual alert-retry route always responds 503.
func New(cache *quotecache.Cache, retrier AlertRetrier, cfg Config, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{router: chi.NewRouter(), cache: cache, retrier: retrier, cfg: cfg, logger: logger}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST"}}))

	rate := s.cfg.RatePerMin
	if rate <= 0 {
		rate = 120
	}
	s.router.Use(httprate.LimitByIP(rate, time.Minute))

	s.router.Get("/api/mt5/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.ipAllowlistMiddleware)
		r.Post("/api/mt5/heartbeat", s.handleHeartbeat)
		r.Post("/api/mt5/quotes", s.handleQuotes)
		r.Post("/api/mt5/option_quotes", s.handleOptionQuotes)
		r.Get("/api/mt5/commands", s.handleCommands)
		r.Post("/api/mt5/execution_report", s.handleExecutionReport)
		r.Post("/api/alerts/{id}/retry", s.handleRetryAlert)
		r.Post("/api/commands", s.handleEnqueueCommand)
		r.Get("/api/commands", s.handleListCommands)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Enabled {
			writeError(w, http.StatusServiceUnavailable, "bridge disabled")
			return
		}
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || !isValidToken(token, s.cfg.Token) {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isValidToken(token, expected string) bool {
	if len(token) != len(expected) || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

func (s *Server) ipAllowlistMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.AllowedIPs) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		for _, allowed := range s.cfg.AllowedIPs {
			if strings.Contains(allowed, "/") {
				if _, cidr, err := net.ParseCIDR(allowed); err == nil && ip != nil && cidr.Contains(ip) {
					next.ServeHTTP(w, r)
					return
				}
			} else if allowed == host {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusForbidden, "source IP not allowlisted")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	heartbeats := s.cache.AllHeartbeats()
	totalQuotes, freshQuotes := s.cache.QuoteStats(s.cfg.QuoteTTL, now)

	var freshest *time.Time
	for _, hb := range heartbeats {
		t := hb.UpdatedAt
		if freshest == nil || t.After(*freshest) {
			freshest = &t
		}
	}

	status := "ok"
	switch {
	case len(heartbeats) == 0:
		status = "unhealthy"
	case now.Sub(*freshest) > 60*time.Second:
		status = "degraded"
	case totalQuotes > 0 && freshQuotes == 0:
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"bridge_enabled":    s.cfg.Enabled,
		"quote_ttl_seconds": int(s.cfg.QuoteTTL.Seconds()),
		"heartbeat":         map[string]any{"count": len(heartbeats)},
		"quotes":            map[string]any{"total": totalQuotes, "fresh": freshQuotes},
		"timestamp":         now.Format(time.RFC3339),
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TerminalID    string    `json:"terminal_id"`
		AccountNumber string    `json:"account_number"`
		Broker        string    `json:"broker"`
		Build         string    `json:"build"`
		Timestamp     timestamp `json:"timestamp"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.TerminalID == "" {
		writeError(w, http.StatusBadRequest, "terminal_id is required")
		return
	}
	now := time.Now()
	ts := now
	if body.Timestamp.value != nil {
		ts = *body.Timestamp.value
	}
	s.cache.UpsertHeartbeat(models.Heartbeat{
		TerminalID:    body.TerminalID,
		AccountNumber: body.AccountNumber,
		Broker:        body.Broker,
		Build:         body.Build,
		Ts:            ts,
	}, now)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TerminalID    string `json:"terminal_id"`
		AccountNumber string `json:"account_number"`
		Quotes        []struct {
			Symbol string    `json:"symbol"`
			Bid    numeric   `json:"bid"`
			Ask    numeric   `json:"ask"`
			Last   numeric   `json:"last"`
			Volume numeric   `json:"volume"`
			Ts     timestamp `json:"ts"`
		} `json:"quotes"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := time.Now()
	rows := make([]quotecache.QuoteRow, 0, len(body.Quotes))
	for _, q := range body.Quotes {
		rows = append(rows, quotecache.QuoteRow{
			Symbol: q.Symbol,
			Bid:    q.Bid.value,
			Ask:    q.Ask.value,
			Last:   q.Last.value,
			Volume: q.Volume.value,
			Ts:     q.Ts.value,
		})
	}
	accepted := s.cache.UpsertQuotes(rows, now)
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

func (s *Server) handleOptionQuotes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TerminalID    string `json:"terminal_id"`
		AccountNumber string `json:"account_number"`
		OptionQuotes  []struct {
			MT5Symbol string    `json:"mt5_symbol"`
			Bid       numeric   `json:"bid"`
			Ask       numeric   `json:"ask"`
			Last      numeric   `json:"last"`
			Volume    numeric   `json:"volume"`
			Ts        timestamp `json:"ts"`
		} `json:"option_quotes"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var rows []quotecache.OptionQuoteRow
	var mappingErrors []map[string]string
	now := time.Now()
	for _, oq := range body.OptionQuotes {
		decoded, err := symbolmap.Decode(oq.MT5Symbol, now.Year())
		if err != nil {
			mappingErrors = append(mappingErrors, map[string]string{
				"mt5_symbol": oq.MT5Symbol,
				"error":      err.Error(),
			})
			continue
		}
		rows = append(rows, quotecache.OptionQuoteRow{
			Ticker:     decoded.Ticker,
			Strike:     decoded.Strike,
			Side:       decoded.Side,
			Expiration: decoded.Expiration,
			MT5Symbol:  oq.MT5Symbol,
			Bid:        oq.Bid.value,
			Ask:        oq.Ask.value,
			Last:       oq.Last.value,
			Volume:     oq.Volume.value,
			Ts:         oq.Ts.value,
		})
	}

	accepted := s.cache.UpsertOptionQuotes(rows, now)
	resp := map[string]any{
		"accepted": accepted,
		"total":    len(body.OptionQuotes),
	}
	if len(mappingErrors) > 0 {
		resp["mapping_errors"] = mappingErrors
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	terminalID := r.URL.Query().Get("terminal_id")
	accountNumber := r.URL.Query().Get("account_number")
	commands := s.cache.Pending(terminalID, accountNumber, 50, time.Now())
	writeJSON(w, http.StatusOK, map[string]any{"commands": commands})
}

func (s *Server) handleExecutionReport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CommandID string `json:"command_id"`
		Status    string `json:"status"`
		OrderID   string `json:"order_id,omitempty"`
		Details   string `json:"details,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.CommandID == "" {
		writeError(w, http.StatusBadRequest, "command_id is required")
		return
	}
	now := time.Now()
	cmd := s.cache.RecordExecutionReport(models.ExecutionReport{
		CommandID:  body.CommandID,
		Status:     models.CommandStatus(body.Status),
		OrderID:    body.OrderID,
		Details:    body.Details,
		ReceivedAt: now,
	}, now)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "command_status": string(cmd.Status)})
}

// handleEnqueueCommand is the admin-side half of the command queue: an
// operator (or an automation acting for one) queues a roll/open/close
// instruction here, and the EA drains it via /api/mt5/commands.
func (s *Server) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type          string                     `json:"type"`
		TerminalID    string                     `json:"terminal_id"`
		AccountNumber string                     `json:"account_number"`
		PositionID    *string                    `json:"position_id,omitempty"`
		CloseLeg      *models.CommandLeg         `json:"close_leg,omitempty"`
		OpenLeg       *models.CommandLeg         `json:"open_leg,omitempty"`
		Constraints   *models.CommandConstraints `json:"constraints,omitempty"`
		CreatedBy     string                     `json:"created_by"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch models.CommandType(body.Type) {
	case models.CommandRollPosition, models.CommandOpenPosition, models.CommandClosePosition:
	default:
		writeError(w, http.StatusBadRequest, "type must be one of ROLL_POSITION, OPEN_POSITION, CLOSE_POSITION")
		return
	}
	if body.TerminalID == "" {
		writeError(w, http.StatusBadRequest, "terminal_id is required")
		return
	}

	cmd := models.Command{
		ID:            uuid.NewString(),
		Type:          models.CommandType(body.Type),
		TerminalID:    body.TerminalID,
		AccountNumber: body.AccountNumber,
		PositionID:    body.PositionID,
		CloseLeg:      body.CloseLeg,
		OpenLeg:       body.OpenLeg,
		Constraints:   body.Constraints,
		Status:        models.CommandPending,
		CreatedAt:     time.Now(),
		CreatedBy:     body.CreatedBy,
	}
	s.cache.EnqueueCommand(cmd)
	writeJSON(w, http.StatusCreated, cmd)
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	createdBy := r.URL.Query().Get("created_by")
	if createdBy == "" {
		writeError(w, http.StatusBadRequest, "created_by is required")
		return
	}
	commands := s.cache.ListCommands(createdBy, 50)
	writeJSON(w, http.StatusOK, map[string]any{"commands": commands})
}

func (s *Server) handleRetryAlert(w http.ResponseWriter, r *http.Request) {
	if s.retrier == nil {
		writeError(w, http.StatusServiceUnavailable, "alert retry not configured")
		return
	}
	id := chi.URLParam(r, "id")
	alert, err := s.retrier.RetryFailed(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			status = appErr.HTTPStatus()
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"error": detail})
}
