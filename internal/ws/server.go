// Package ws serves the client-facing surface: the strike streaming
// websocket, the order batch REST endpoints, health, and metrics.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/calloway-trading/strikestream/internal/models"
	"github.com/calloway-trading/strikestream/internal/orders"
	"github.com/calloway-trading/strikestream/internal/session"
	"github.com/calloway-trading/strikestream/internal/storage"
)

const writeTimeout = 5 * time.Second

// Config holds the server's listen settings.
type Config struct {
	Port int
}

// Server routes websocket sessions and order requests.
type Server struct {
	router *chi.Mux
	server *http.Server
	sup    *session.Supervisor
	coord  *orders.Coordinator
	store  storage.Interface
	logger *logrus.Logger
	port   int
}

// NewServer builds the router and handlers.
func NewServer(cfg Config, sup *session.Supervisor, coord *orders.Coordinator,
	store storage.Interface, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router: chi.NewRouter(),
		sup:    sup,
		coord:  coord,
		store:  store,
		logger: logger,
		port:   cfg.Port,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)

	// The websocket route stays outside the request logger so long-lived
	// connections do not hold a log entry open.
	s.router.Get("/ws/strikes", s.handleStrikes)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(middleware.Timeout(60 * time.Second))

		r.Post("/api/orders", s.handleSubmitBatch)
		r.Delete("/api/orders/{legID}", s.handleCancelLeg)
		r.Post("/api/timers", s.handleCreateTimer)
		r.Get("/healthz", s.handleHealth)
		r.Handle("/metrics", promhttp.Handler())
	})
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("Serving on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// connSink writes session events to a websocket connection. Writes are
// serialized under a mutex; loops push concurrently.
type connSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *connSink) Send(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

// handleStrikes upgrades the connection, opens a session for the principal
// in the handshake query, and pumps inbound commands until disconnect.
func (s *Server) handleStrikes(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("websocket accept failed")
		return
	}

	sink := &connSink{conn: conn}
	sess, err := s.sup.Open(r.Context(), userID, sink)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Info("session rejected")
		_ = conn.Close(websocket.StatusPolicyViolation, "unauthenticated")
		return
	}
	defer sess.Close()

	for {
		msgType, data, err := conn.Read(r.Context())
		if err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		if err := sess.Dispatch(r.Context(), data); err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Debug("dispatch failed")
		}
	}
}

// batchRequestBody is the JSON shape of POST /api/orders.
type batchRequestBody struct {
	UserID            string  `json:"user_id"`
	Account           string  `json:"account,omitempty"`
	ContractID        string  `json:"contract_id"`
	Right             string  `json:"right"`
	Quantity          int     `json:"quantity"`
	EntryPrice        float64 `json:"entry_price"`
	StopLossPercent   float64 `json:"stop_loss_percent"`
	TakeProfitPercent float64 `json:"take_profit_percent"`
	TimeInForce       string  `json:"tif,omitempty"`
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	batch, err := s.coord.SubmitBatch(r.Context(), &orders.BatchRequest{
		UserID:            body.UserID,
		Account:           body.Account,
		ContractID:        body.ContractID,
		Right:             models.OptionRight(body.Right),
		Quantity:          body.Quantity,
		EntryPrice:        body.EntryPrice,
		StopLossPercent:   body.StopLossPercent,
		TakeProfitPercent: body.TakeProfitPercent,
		TimeInForce:       body.TimeInForce,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, batch)
}

func (s *Server) handleCancelLeg(w http.ResponseWriter, r *http.Request) {
	legID := chi.URLParam(r, "legID")

	err := s.coord.CancelLeg(r.Context(), legID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("order leg %s not found", legID))
	default:
		s.writeError(w, http.StatusConflict, err.Error())
	}
}

// timerRequestBody is the JSON shape of POST /api/timers.
type timerRequestBody struct {
	UserID     string `json:"user_id"`
	Ticks      int    `json:"ticks"`
	PlaceOrder string `json:"place_order,omitempty"`
}

func (s *Server) handleCreateTimer(w http.ResponseWriter, r *http.Request) {
	var body timerRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if body.UserID == "" || body.Ticks <= 0 {
		s.writeError(w, http.StatusBadRequest, "user_id and a positive ticks are required")
		return
	}

	timer := &models.TimerState{
		ID:             uuid.NewString(),
		UserID:         body.UserID,
		RemainingTicks: body.Ticks,
		PlaceOrder:     body.PlaceOrder,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateTimer(r.Context(), timer); err != nil {
		s.writeError(w, http.StatusInternalServerError, "could not create timer")
		s.logger.WithError(err).Error("creating timer")
		return
	}
	s.writeJSON(w, http.StatusCreated, timer)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("encoding response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
