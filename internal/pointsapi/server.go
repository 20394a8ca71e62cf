package pointsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/points"
	"venue-jukebox-go/internal/store"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	PathBalance      = "/v1/points/balance/{venueId}/{userId}"
	PathHistory      = "/v1/points/history/{venueId}/{userId}"
	PathTransactions = "/v1/points/transactions"
	PathHealth       = "/healthz"

	CodeRateLimited = "RATE_LIMITED"

	maxBodyBytes = 64 << 10
)

// Server exposes the points ledger over HTTP for remote queue coordinators.
type Server struct {
	points  points.Client
	ledger  store.LedgerStore
	cfg     models.ServerConfig
	limiter *clientLimiter
	router  *mux.Router
}

func NewServer(client points.Client, ledger store.LedgerStore, cfg models.ServerConfig) *Server {
	s := &Server{
		points:  client,
		ledger:  ledger,
		cfg:     cfg,
		limiter: newClientLimiter(cfg.RateLimit, cfg.RateBurst),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc(PathHealth, s.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/v1/points").Subrouter()
	api.Use(s.logRequests, s.rateLimit)
	api.HandleFunc("/reserve", s.handleReserve).Methods(http.MethodPost)
	api.HandleFunc("/refund", s.handleRefund).Methods(http.MethodPost)
	api.HandleFunc("/charges", s.handleFindCharge).Methods(http.MethodGet)
	api.HandleFunc("/balance/{venueId}/{userId}", s.handleBalance).Methods(http.MethodGet)
	api.HandleFunc("/history/{venueId}/{userId}", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/transactions", s.handleApplyTransaction).Methods(http.MethodPost)

	_ = router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		if tpl, err := route.GetPathTemplate(); err == nil {
			methods, _ := route.GetMethods()
			zap.L().Debug("Route registered", zap.String("path", tpl), zap.Strings("methods", methods))
		}
		return nil
	})
	return router
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("Points service listening", zap.String("addr", s.cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	zap.L().Info("Shutting down points service")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req points.ReserveRequest
	if !decode(w, r, &req) {
		return
	}
	receipt, err := s.points.Reserve(r.Context(), req)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req points.RefundRequest
	if !decode(w, r, &req) {
		return
	}
	receipt, err := s.points.Refund(r.Context(), req)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleFindCharge(w http.ResponseWriter, r *http.Request) {
	correlationId := r.URL.Query().Get("correlation_id")
	if correlationId == "" {
		writeError(w, http.StatusBadRequest, points.CodeInvalidRequest, "correlation_id is required")
		return
	}
	receipt, err := s.points.FindCharge(r.Context(), r.URL.Query().Get("reason"), correlationId)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	balance, err := s.ledger.GetBalance(r.Context(), vars["userId"], vars["venueId"])
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	history, err := s.ledger.GetTransactionHistory(r.Context(), vars["userId"], vars["venueId"], limit, offset)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleApplyTransaction(w http.ResponseWriter, r *http.Request) {
	var params models.ApplyTransactionParams
	if !decode(w, r, &params) {
		return
	}
	tx, err := s.ledger.ApplyTransaction(r.Context(), params)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, points.CodeInvalidRequest, fmt.Sprintf("invalid body: %v", err))
		return false
	}
	return true
}

func writeClientError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, points.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, points.CodeInsufficientFunds, err.Error())
	case errors.Is(err, points.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, points.CodeInvalidRequest, err.Error())
	case errors.Is(err, points.ErrChargeNotFound):
		writeError(w, http.StatusNotFound, points.CodeNotFound, err.Error())
	default:
		zap.L().Warn("Points request failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, points.CodeUnavailable, err.Error())
	}
}

func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, points.CodeInsufficientFunds, err.Error())
	case errors.Is(err, store.ErrInvalidTransaction):
		writeError(w, http.StatusBadRequest, points.CodeInvalidRequest, err.Error())
	case errors.Is(err, store.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, points.CodeNotFound, err.Error())
	default:
		zap.L().Warn("Ledger request failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, points.CodeUnavailable, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, points.ErrorResponse{Code: code, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("Unable to write response", zap.Error(err))
	}
}
