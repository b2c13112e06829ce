package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/pdftransform/internal/artifact"
	"github.com/Lllllllleong/pdftransform/internal/codec"
	"github.com/Lllllllleong/pdftransform/internal/gcp"
	"github.com/Lllllllleong/pdftransform/internal/job"
	"github.com/Lllllllleong/pdftransform/internal/models"
	"github.com/Lllllllleong/pdftransform/internal/pdferr"
	"github.com/Lllllllleong/pdftransform/internal/pipeline"
	"github.com/Lllllllleong/pdftransform/internal/publish"
	"github.com/Lllllllleong/pdftransform/internal/selection"
	"golang.org/x/sync/errgroup"
)

// OperationInspect asks only for the page count of a single input.
const OperationInspect = "inspect"

// maxConcurrentFetches bounds parallel input downloads.
const maxConcurrentFetches = 4

// TransformConfig holds configuration for the transform service.
type TransformConfig struct {
	ProjectID        string
	OutputBucket     string
	CollectionName   string
	WorkflowID       string
	WorkflowLocation string
	ArtifactBaseURL  string
	ArtifactCapacity int
	MaxUploadRetries int
}

// objectStore is the slice of Cloud Storage the service needs.
type objectStore interface {
	Read(ctx context.Context, bucket, object string) ([]byte, error)
	WriteOnce(ctx context.Context, bucket, object string, data []byte) error
}

type gcsObjects struct {
	client *storage.Client
}

func (g gcsObjects) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	return gcp.ReadObject(ctx, g.client, bucket, object)
}

func (g gcsObjects) WriteOnce(ctx context.Context, bucket, object string, data []byte) error {
	return gcp.SaveToGCSAtomically(ctx, g.client.Bucket(bucket), object, data)
}

// TransformFunction holds the dependencies for the transform logic. It keeps
// one pipeline runner per user, so each user has at most one running job.
type TransformFunction struct {
	objects   objectStore
	codec     codec.Codec
	store     *artifact.Store
	publisher *publish.Publisher
	config    TransformConfig

	mu      sync.Mutex
	runners map[string]*userRunner
}

// userRunner is a user's runner plus the number of requests holding it.
type userRunner struct {
	runner *pipeline.Runner
	active int
}

// loadTransformConfig loads and validates all necessary environment variables for this service.
func loadTransformConfig() (*TransformConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	outputBucket := gcp.GetEnv("OUTPUT_BUCKET", "")
	if outputBucket == "" {
		return nil, fmt.Errorf("OUTPUT_BUCKET environment variable must be set")
	}
	retries, err := strconv.Atoi(gcp.GetEnv("UPLOAD_MAX_RETRIES", "4"))
	if err != nil || retries < 1 {
		return nil, fmt.Errorf("UPLOAD_MAX_RETRIES must be a positive integer")
	}
	capacity, err := strconv.Atoi(gcp.GetEnv("ARTIFACT_CAPACITY", "64"))
	if err != nil || capacity < 1 {
		return nil, fmt.Errorf("ARTIFACT_CAPACITY must be a positive integer")
	}

	return &TransformConfig{
		ProjectID:        projectID,
		OutputBucket:     outputBucket,
		CollectionName:   gcp.GetEnv("FIRESTORE_COLLECTION", "jobs"),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		ArtifactBaseURL:  gcp.GetEnv("ARTIFACT_BASE_URL", "/artifacts"),
		ArtifactCapacity: capacity,
		MaxUploadRetries: retries,
	}, nil
}

// NewTransform creates a new TransformFunction instance backed by Cloud
// Storage, Firestore and, when WORKFLOW_ID is set, Cloud Workflows.
func NewTransform(ctx context.Context) (*TransformFunction, error) {
	config, err := loadTransformConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	opts := []publish.Option{
		publish.WithUploader(gcp.NewGCSUploader(storageClient, config.OutputBucket, config.MaxUploadRetries)),
		publish.WithRecords(gcp.NewFirestoreRecorder(firestoreClient, config.CollectionName)),
	}
	if config.WorkflowID != "" {
		notifier, err := gcp.NewWorkflowNotifier(ctx, config.ProjectID, config.WorkflowLocation, config.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to create workflow notifier: %w", err)
		}
		opts = append(opts, publish.WithNotifier(notifier))
	}

	store := artifact.NewStore(config.ArtifactBaseURL, artifact.WithCapacity(config.ArtifactCapacity))
	f := newTransformFunction(gcsObjects{client: storageClient}, codec.NewPDFCPU(), store, publish.New(store, opts...), *config)
	slog.Info("Transform logic initialized.", "outputBucket", config.OutputBucket, "workflowId", config.WorkflowID)
	return f, nil
}

func newTransformFunction(objects objectStore, c codec.Codec, store *artifact.Store, pub *publish.Publisher, config TransformConfig) *TransformFunction {
	return &TransformFunction{
		objects:   objects,
		codec:     c,
		store:     store,
		publisher: pub,
		config:    config,
		runners:   make(map[string]*userRunner),
	}
}

// Artifacts exposes the local artifact store for download handlers.
func (f *TransformFunction) Artifacts() *artifact.Store {
	return f.store
}

// acquireRunner returns the user's runner and a func to call once the
// request is done with it. Anonymous callers get a fresh runner.
func (f *TransformFunction) acquireRunner(userID string) (*pipeline.Runner, func()) {
	if userID == "" {
		return pipeline.New(f.codec, f.publisher), func() {}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropIdleRunnersLocked()
	ur, ok := f.runners[userID]
	if !ok {
		ur = &userRunner{runner: pipeline.New(f.codec, f.publisher)}
		f.runners[userID] = ur
	}
	ur.active++
	return ur.runner, func() {
		f.mu.Lock()
		ur.active--
		f.mu.Unlock()
	}
}

// dropIdleRunnersLocked forgets runners that nobody holds, are not running
// and no longer own a live artifact.
func (f *TransformFunction) dropIdleRunnersLocked() {
	for id, ur := range f.runners {
		if ur.active > 0 {
			continue
		}
		j := ur.runner.State().Current()
		if j.Status == job.StatusRunning || (j.Artifact != nil && !j.Artifact.Released()) {
			continue
		}
		delete(f.runners, id)
	}
}

// Process runs one transform request. On failure the returned response
// describes the error and the error is returned as well.
func (f *TransformFunction) Process(ctx context.Context, req *models.TransformRequest) (*models.TransformResponse, error) {
	logCtx := slog.With("userId", req.UserID, "operation", req.Operation, "inputCount", len(req.Inputs))
	logCtx.Info("Processing transform request.")

	if strings.EqualFold(strings.TrimSpace(req.Operation), OperationInspect) {
		return f.inspect(ctx, logCtx, req)
	}

	// --- 1. Validate before touching storage ---
	preq, err := buildRequest(req)
	if err == nil {
		err = pipeline.Validate(preq)
	}
	if err != nil {
		logCtx.Warn("Rejected invalid request.", "error", err)
		return failureResponse(err), err
	}

	// --- 2. Fetch the inputs ---
	inputs, err := f.fetchInputs(ctx, req.Inputs)
	if err != nil {
		logCtx.Error("Failed to fetch inputs", "error", err)
		return failureResponse(err), err
	}
	preq.Inputs = inputs

	// --- 3. Run the pipeline ---
	runner, done := f.acquireRunner(req.UserID)
	j, err := runner.Run(ctx, preq)
	done()
	if err != nil {
		return failureResponse(err), err
	}

	res := &models.TransformResponse{
		Status:    "success",
		JobStatus: j.Status.String(),
		Progress:  j.Progress,
	}
	if j.Artifact != nil {
		res.ArtifactID = j.Artifact.ID
		res.ArtifactURL = j.Artifact.URL
	}
	if j.RemotePath != "" {
		res.OutputGCSUri = fmt.Sprintf("gs://%s/%s", f.config.OutputBucket, j.RemotePath)
	}
	logCtx.Info("Transform request complete.", "artifactId", res.ArtifactID, "outputGcsUri", res.OutputGCSUri)
	return res, nil
}

func (f *TransformFunction) inspect(ctx context.Context, logCtx *slog.Logger, req *models.TransformRequest) (*models.TransformResponse, error) {
	if len(req.Inputs) != 1 {
		err := pdferr.Newf(pdferr.CodeValidation, "inspect takes exactly 1 document, got %d", len(req.Inputs))
		return failureResponse(err), err
	}
	inputs, err := f.fetchInputs(ctx, req.Inputs)
	if err != nil {
		logCtx.Error("Failed to fetch inputs", "error", err)
		return failureResponse(err), err
	}
	runner, done := f.acquireRunner(req.UserID)
	count, err := runner.Inspect(ctx, inputs[0])
	done()
	if err != nil {
		logCtx.Warn("Failed to inspect document.", "error", err)
		return failureResponse(err), err
	}
	return &models.TransformResponse{Status: "success", PageCount: count}, nil
}

// buildRequest converts the wire request into a pipeline request without inputs data.
func buildRequest(req *models.TransformRequest) (pipeline.Request, error) {
	op, err := pipeline.ParseOperation(req.Operation)
	if err != nil {
		return pipeline.Request{}, err
	}
	pages, err := selection.ParsePages(req.Pages)
	if err != nil {
		return pipeline.Request{}, err
	}
	inputs := make([]pipeline.Input, len(req.Inputs))
	for i, in := range req.Inputs {
		inputs[i] = pipeline.Input{Name: in.Name}
	}
	return pipeline.Request{
		Operation: op,
		Inputs:    inputs,
		UserID:    req.UserID,
		Params: pipeline.Params{
			Pages:    pages,
			Order:    req.Order,
			Delta:    req.Delta,
			Password: req.Password,
		},
	}, nil
}

// fetchInputs downloads every input concurrently, keeping request order.
func (f *TransformFunction) fetchInputs(ctx context.Context, refs []models.InputRef) ([]pipeline.Input, error) {
	type location struct{ bucket, object string }
	locations := make([]location, len(refs))
	for i, ref := range refs {
		bucket, object, err := gcp.ParseGCSUri(ref.GCSUri)
		if err != nil {
			return nil, pdferr.Wrap(pdferr.CodeValidation, fmt.Sprintf("input %d", i+1), err)
		}
		locations[i] = location{bucket, object}
	}

	inputs := make([]pipeline.Input, len(refs))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentFetches)
	for i, loc := range locations {
		i, loc := i, loc
		name := refs[i].Name
		if name == "" {
			name = path.Base(loc.object)
		}
		eg.Go(func() error {
			data, err := f.objects.Read(gctx, loc.bucket, loc.object)
			if err != nil {
				return fmt.Errorf("input %q: %w", name, err)
			}
			inputs[i] = pipeline.Input{Name: name, Data: data}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}

// GCSEvent is the payload of a GCS object event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

const resultSuffix = ".result.json"

// ProcessManifest runs the request manifest named by e and writes the
// response next to it. Transform failures are recorded in the result and do
// not fail the event, since retrying them cannot help.
func (f *TransformFunction) ProcessManifest(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !strings.HasSuffix(e.Name, ".json") || strings.HasSuffix(e.Name, resultSuffix) {
		logCtx.Info("Ignoring object that is not a request manifest.")
		return nil
	}

	raw, err := f.objects.Read(ctx, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to read manifest", "error", err)
		return err
	}
	var req models.TransformRequest
	var res *models.TransformResponse
	if err := json.Unmarshal(raw, &req); err != nil {
		logCtx.Warn("Manifest is not a valid transform request", "error", err)
		res = failureResponse(pdferr.Wrap(pdferr.CodeValidation, "invalid manifest", err))
	} else {
		res, _ = f.Process(ctx, &req)
	}
	// Nobody can download the local copy of a manifest result.
	if res.ArtifactID != "" {
		defer f.store.Release(res.ArtifactID)
		res.ArtifactID, res.ArtifactURL = "", ""
	}

	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}
	resultName := strings.TrimSuffix(e.Name, ".json") + resultSuffix
	if err := f.objects.WriteOnce(ctx, e.Bucket, resultName, body); err != nil {
		logCtx.Error("Failed to write manifest result", "error", err, "object", resultName)
		return err
	}
	logCtx.Info("Manifest processed.", "result", resultName, "status", res.Status)
	return nil
}

func failureResponse(err error) *models.TransformResponse {
	return &models.TransformResponse{
		Status:    "error",
		JobStatus: "failed",
		Error:     err.Error(),
	}
}

// HTTPStatus maps a Process error to an HTTP status code.
func HTTPStatus(err error) int {
	code, _ := pdferr.CodeOf(err)
	switch code {
	case pdferr.CodeValidation:
		return http.StatusBadRequest
	case pdferr.CodeBusy:
		return http.StatusConflict
	case pdferr.CodeLoad, pdferr.CodeRange:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// ServeArtifact serves GET and DELETE for artifact handles. The id is the
// last path segment, or the "id" query parameter.
func (f *TransformFunction) ServeArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		id = r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	}
	if id == "" {
		http.Error(w, "Bad Request: missing artifact id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		a, ok := f.store.Open(id)
		if !ok {
			http.Error(w, "Not Found: artifact released or unknown", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", a.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
		if _, err := w.Write(a.Data); err != nil {
			slog.Error("Failed to write artifact", "error", err, "artifactId", id)
		}
	case http.MethodDelete:
		f.store.Release(id)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}
