package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/pdftransform/internal/models"
	"github.com/Lllllllleong/pdftransform/internal/services"
)

var (
	transformInstance *services.TransformFunction
	once              sync.Once
	initErr           error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register the HTTP functions with the framework.
	functions.HTTP("HandleTransform", handleTransform)
	functions.HTTP("HandleArtifact", handleArtifact)
}

// main is required by the Go Functions Framework.
func main() {}

func instance() (*services.TransformFunction, error) {
	once.Do(func() {
		transformInstance, initErr = services.NewTransform(context.Background())
	})
	return transformInstance, initErr
}

// handleTransform runs one transform request and replies with its job summary.
func handleTransform(w http.ResponseWriter, r *http.Request) {
	f, err := instance()
	if err != nil {
		slog.Error("Critical: Transform initialization failed", "error", err)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.TransformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	// Delegate to the business logic. Failures still carry a response body.
	res, err := f.Process(r.Context(), &req)
	status := http.StatusOK
	if err != nil {
		status = services.HTTPStatus(err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "userId", req.UserID, "operation", req.Operation)
	}
}

// handleArtifact serves and releases transform results.
func handleArtifact(w http.ResponseWriter, r *http.Request) {
	f, err := instance()
	if err != nil {
		slog.Error("Critical: Transform initialization failed", "error", err)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	f.ServeArtifact(w, r)
}
