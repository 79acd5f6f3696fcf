// Package api is the HTTP surface: REST intake and lookup plus the
// websocket stream endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/solroute-labs/solroute/pkg/engine"
	"github.com/solroute-labs/solroute/pkg/order"
)

// Server handles the REST API and websocket connections.
type Server struct {
	engine   *engine.Engine
	registry *Registry
	router   *mux.Router
	log      *zap.SugaredLogger

	allowedOrigins []string
	srv            *http.Server
}

func NewServer(e *engine.Engine, registry *Registry, allowedOrigins []string, log *zap.SugaredLogger) *Server {
	s := &Server{
		engine:         e,
		registry:       registry,
		router:         mux.NewRouter(),
		log:            log,
		allowedOrigins: allowedOrigins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders/execute", s.handleExecuteOrder).Methods("POST")
	api.HandleFunc("/orders/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/orders/{orderId}", s.handleGetOrder).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start(addr string) error {
	go s.registry.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           c.Handler(s.router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.log != nil {
		s.log.Infow("api_listening", "addr", addr)
	}
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting new requests and then terminates live stream
// connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}
	s.registry.TerminateAll()
	return err
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleExecuteOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	o, err := s.engine.Submit(r.Context(), req)
	switch {
	case order.IsValidation(err):
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	case errors.Is(err, order.ErrQueueUnavailable):
		respondError(w, http.StatusServiceUnavailable, "queue unavailable", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "order intake failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ExecuteOrderResponse{
		OrderID:   o.OrderID,
		Status:    string(o.Status),
		Timestamp: o.CreatedAt,
		Stream:    fmt.Sprintf("/ws?orderId=%s", o.OrderID),
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	o, err := s.engine.GetOrder(orderID)
	if errors.Is(err, order.ErrNotFound) {
		respondError(w, http.StatusNotFound, "order not found", orderID)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "order lookup failed", err.Error())
		return
	}
	respondJSON(w, o)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	byStatus, err := s.engine.CountByStatus()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stats unavailable", err.Error())
		return
	}
	respondJSON(w, StatsResponse{
		Queue:       s.engine.QueueStats(),
		Orders:      byStatus,
		Connections: s.registry.ConnectionCount(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
