// Package dashboard exposes a read-only JSON status API over the
// signal store and broker boundary: recent signals with their
// positions, live broker positions/pending orders, and a health
// check. It carries no trading logic of its own — an operator
// visibility surface, not a control plane.
package dashboard

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/parsatrade/signalbridge/internal/broker"
	"github.com/parsatrade/signalbridge/internal/store"
)

// Config controls the dashboard's listen port and operator auth.
type Config struct {
	Port      int
	AuthToken string // empty disables auth, matching teacher's dev-mode behavior
}

// Server serves the status API. Grounded on the teacher's
// internal/dashboard/server.go router/logger/basic-auth wiring; the
// teacher's go:embed HTML templates had no corresponding web/
// directory anywhere in its checked-out tree (a latent defect in the
// teacher repo itself), so this is a template-free JSON surface
// instead of reviving a broken embed.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	store     *store.Store
	broker    broker.Broker
	logger    *logrus.Logger
	port      int
	authToken string
}

// SignalView is the JSON shape for one persisted signal plus its
// child positions.
type SignalView struct {
	ID                 int64    `json:"id"`
	Symbol             string   `json:"symbol"`
	SourceChannelTitle string   `json:"source_channel_title"`
	SourceChatID       int64    `json:"source_chat_id"`
	SourceMessageID    int64    `json:"source_message_id"`
	OpenPrice          string   `json:"open_price"`
	SecondPrice        string   `json:"second_price,omitempty"`
	StopLoss           string   `json:"stop_loss"`
	TakeProfits        []string `json:"take_profits"`
	CreatedAt          string   `json:"created_at"`
	Positions          []int64  `json:"position_tickets"`
}

// NewServer builds a Server wired to the signal store and broker.
func NewServer(cfg Config, st *store.Store, b broker.Broker, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		store:     st,
		broker:    b,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLoggerMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(15 * time.Second))
	s.router.Use(middleware.Compress(5))

	s.router.Get("/health", s.handleHealth)

	register := func(r chi.Router) {
		r.Get("/api/signals", s.handleGetSignals)
		r.Get("/api/positions", s.handleGetPositions)
		r.Get("/api/orders", s.handleGetOrders)
	}

	if s.authToken != "" {
		s.router.Route("/", func(r chi.Router) {
			r.Use(s.authMiddleware)
			register(r)
		})
	} else {
		register(s.router)
	}
}

func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loggedURL := s.redactTokenFromURL(r.URL)
		entry := s.logger.WithFields(logrus.Fields{
			"method":    r.Method,
			"url":       loggedURL.String(),
			"remote_ip": r.RemoteAddr,
		})
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		entry.WithFields(logrus.Fields{
			"status":   wrapped.Status(),
			"bytes":    wrapped.BytesWritten(),
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
		if !s.isValidToken(token) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isValidToken(token string) bool {
	if len(token) != len(s.authToken) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

// Start runs the HTTP server until Shutdown is called or it fails.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Infof("dashboard listening on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server; nil-safe when Start was never
// called.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleGetSignals(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	ctx := r.Context()
	signals, err := s.store.ListRecentSignals(ctx, limit)
	if err != nil {
		s.logger.WithError(err).Error("failed to list signals")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	views := make([]SignalView, 0, len(signals))
	for _, sig := range signals {
		positions, err := s.store.PositionsOfSignal(ctx, sig.ID)
		if err != nil {
			s.logger.WithError(err).WithField("signal_id", sig.ID).Warn("failed to load positions for signal")
		}
		tickets := make([]int64, len(positions))
		for i, p := range positions {
			tickets[i] = p.BrokerTicket
		}

		tps := make([]string, len(sig.TPList))
		for i, tp := range sig.TPList {
			tps[i] = tp.String()
		}

		view := SignalView{
			ID:                 sig.ID,
			Symbol:             sig.Symbol,
			SourceChannelTitle: sig.SourceChannelTitle,
			SourceChatID:       sig.SourceChatID,
			SourceMessageID:    sig.SourceMessageID,
			OpenPrice:          sig.OpenPrice.String(),
			StopLoss:           sig.StopLoss.String(),
			TakeProfits:        tps,
			CreatedAt:          sig.CreatedAt,
			Positions:          tickets,
		}
		if sig.HasSecond {
			view.SecondPrice = sig.SecondPrice.String()
		}
		views = append(views, view)
	}

	s.writeJSON(w, views)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.broker.PositionsGet(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("failed to fetch broker positions")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, positions)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.broker.OrdersGet(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("failed to fetch broker pending orders")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, orders)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}
