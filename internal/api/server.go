// Package api is the HTTP surface: prediction, accounts, history and the live
// history feed, plus health and Prometheus endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rasp/internal/auth"
	"rasp/internal/features"
	"rasp/internal/predict"
	"rasp/internal/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Predictor scores raw records.
type Predictor interface {
	Predict(ctx context.Context, raw features.RawRecord) (predict.Result, error)
}

// Accounts registers and authenticates users.
type Accounts interface {
	Register(name, email, password string) error
	Login(email, password string) (auth.User, error)
}

// HistoryReader returns the prediction log in append order.
type HistoryReader interface {
	History() ([]storage.HistoryEntry, error)
}

// Config holds the optional parts of the server.
type Config struct {
	Port           int
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer // nil means the default registry
	Feed           http.Handler        // nil disables /ws/history
}

// Server serves the HTTP API.
type Server struct {
	predictor Predictor
	accounts  Accounts
	history   HistoryReader
	origins   []string
	handler   http.Handler
	server    *http.Server
}

// NewServer wires the routes.
func NewServer(cfg Config, predictor Predictor, accounts Accounts, history HistoryReader) *Server {
	s := &Server{
		predictor: predictor,
		accounts:  accounts,
		history:   history,
		origins:   cfg.AllowedOrigins,
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/api/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/predict", s.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/api/history", s.handleHistory).Methods(http.MethodGet)

	if cfg.Feed != nil {
		r.Handle("/ws/history", cfg.Feed).Methods(http.MethodGet)
	}

	s.handler = s.cors(r)
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the full handler chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "Backend working...")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type statusResponse struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	User    *auth.User `json:"user,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Message: err.Error()})
		return
	}

	err := s.accounts.Register(req.Name, req.Email, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Registration successful"})
	case errors.Is(err, auth.ErrEmailExists):
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Message: "Email already exists"})
	case errors.Is(err, auth.ErrMissingFields):
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Message: "Email and password are required"})
	default:
		log.Error().Err(err).Msg("Registration failed")
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Message: "Registration failed"})
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Message: err.Error()})
		return
	}

	user, err := s.accounts.Login(req.Email, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Login successful", User: &user})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, statusResponse{Status: "error", Message: "Invalid email or password"})
	default:
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Message: "Login failed"})
	}
}

type predictResponse struct {
	Severity float64 `json:"severity_prediction"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var raw features.RawRecord
	if err := decodeBody(w, r, &raw); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if raw == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request body must be a JSON object"})
		return
	}

	res, err := s.predictor.Predict(r.Context(), raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, predictResponse{Severity: res.Severity})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.history.History()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read history")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read history"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// decodeBody reads one JSON value. Numbers are kept as json.Number so the
// stored input matches what the client sent.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

// cors allows cross-origin calls from the configured origins, or from any
// origin when none are configured.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			switch {
			case len(s.origins) == 0 || contains(s.origins, "*"):
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case contains(s.origins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CheckOrigin returns a WebSocket origin check that accepts the same origins
// as the CORS policy.
func CheckOrigin(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(origins) == 0 || contains(origins, "*") {
			return true
		}
		return contains(origins, origin)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
