package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/pdftransform/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
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

	// Register the CloudEvent function. Request manifests land in the requests bucket.
	functions.CloudEvent("TransformFromManifest", transformFromManifest)
}

// main is required by the Go Functions Framework.
func main() {}

// transformFromManifest is the Cloud Function entry point.
func transformFromManifest(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		transformInstance, initErr = services.NewTransform(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Errors are already logged with context inside ProcessManifest.
	return transformInstance.ProcessManifest(ctx, gcsEvent)
}
