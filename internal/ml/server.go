package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"rasp/internal/features"

	"github.com/rs/zerolog/log"
)

// ModelServer exposes a loaded Model over HTTP using the protocol RemoteModel
// speaks, so one process can host the model for others.
type ModelServer struct {
	model  Model
	server *http.Server
}

// NewModelServer creates a new HTTP server for model serving
func NewModelServer(model Model, port int) *ModelServer {
	ms := &ModelServer{model: model}

	ms.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      ms.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return ms
}

// Handler returns the server's routes.
func (ms *ModelServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/predict", ms.handlePredict)
	mux.HandleFunc("/health", ms.handleHealth)
	return mux
}

// Start begins serving HTTP requests
func (ms *ModelServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Str("backend", ms.model.Name()).Msg("starting model server")
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (ms *ModelServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

func (ms *ModelServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeModelJSON(w, http.StatusMethodNotAllowed, remoteResponse{Error: "method not allowed"})
		return
	}

	var req remoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeModelJSON(w, http.StatusBadRequest, remoteResponse{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if len(req.Features) != features.NumFeatures {
		writeModelJSON(w, http.StatusBadRequest, remoteResponse{
			Error: fmt.Sprintf("expected %d features, got %d", features.NumFeatures, len(req.Features)),
		})
		return
	}

	// Columns, when sent, name each value; otherwise schema order is assumed.
	names := features.Names()
	if len(req.Columns) == len(req.Features) {
		names = req.Columns
	}
	snap := make(features.Snapshot, features.NumFeatures)
	for i, name := range names {
		snap[name] = req.Features[i]
	}

	pred, err := ms.model.Predict(r.Context(), snap.Vector())
	if err != nil {
		log.Error().Err(err).Msg("prediction failed")
		writeModelJSON(w, http.StatusInternalServerError, remoteResponse{Error: err.Error()})
		return
	}

	writeModelJSON(w, http.StatusOK, remoteResponse{Prediction: &pred})
}

func (ms *ModelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeModelJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": ms.model.Name()})
}

func writeModelJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
