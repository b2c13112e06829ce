// Command pdftool runs a single PDF transform against local files.
//
//	pdftool -op merge -out merged.pdf a.pdf b.pdf
//	pdftool -op split -pages 1-3,7 -out part.pdf doc.pdf
//	pdftool -inspect doc.pdf
//
// With -upload and -user the result is also stored in OUTPUT_BUCKET and, when
// PROJECT_ID is set, recorded in Firestore.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/pdftransform/internal/artifact"
	"github.com/Lllllllleong/pdftransform/internal/codec"
	"github.com/Lllllllleong/pdftransform/internal/gcp"
	"github.com/Lllllllleong/pdftransform/internal/job"
	"github.com/Lllllllleong/pdftransform/internal/pipeline"
	"github.com/Lllllllleong/pdftransform/internal/publish"
	"github.com/Lllllllleong/pdftransform/internal/selection"
)

func main() {
	op := flag.String("op", "", "operation: merge, split, remove, organize, rotate or protect")
	out := flag.String("out", "out.pdf", "output file")
	pages := flag.String("pages", "", "1-based page spec, e.g. 1-3,5")
	order := flag.String("order", "", "0-based page order for organize, e.g. 2,0,1")
	delta := flag.Int("delta", 90, "rotation in degrees")
	password := flag.String("password", "", "password recorded by protect")
	inspect := flag.Bool("inspect", false, "print the page count of the single input and exit")
	upload := flag.Bool("upload", false, "upload the result to OUTPUT_BUCKET")
	user := flag.String("user", "", "user id for uploads and job records")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	t := &tool{
		codec:  codec.NewPDFCPU(),
		store:  artifact.NewStore("file://" + *out),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	if err := t.run(context.Background(), options{
		op: *op, out: *out, pages: *pages, order: *order, delta: *delta,
		password: *password, inspect: *inspect, upload: *upload, user: *user,
		files: flag.Args(),
	}); err != nil {
		fmt.Fprintln(os.Stderr, "pdftool:", err)
		os.Exit(1)
	}
}

// tool carries the pieces run needs, so tests can swap them.
type tool struct {
	codec          codec.Codec
	store          *artifact.Store
	stdout, stderr io.Writer
}

type options struct {
	op, out, pages, order string
	delta                 int
	password              string
	inspect, upload       bool
	user                  string
	files                 []string
}

func (t *tool) run(ctx context.Context, o options) error {
	inputs := make([]pipeline.Input, len(o.files))
	for i, name := range o.files {
		data, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		inputs[i] = pipeline.Input{Name: filepath.Base(name), Data: data}
	}

	pubOpts, err := publishOptions(ctx, o)
	if err != nil {
		return err
	}
	runner := pipeline.New(t.codec, publish.New(t.store, pubOpts...))

	if o.inspect {
		if len(inputs) != 1 {
			return fmt.Errorf("-inspect takes exactly 1 file, got %d", len(inputs))
		}
		n, err := runner.Inspect(ctx, inputs[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(t.stdout, n)
		return nil
	}

	operation, err := pipeline.ParseOperation(o.op)
	if err != nil {
		return err
	}
	pageList, err := selection.ParsePages(o.pages)
	if err != nil {
		return err
	}
	orderList, err := selection.ParseOrder(o.order)
	if err != nil {
		return err
	}

	runner.State().Observe(func(j job.Job) {
		fmt.Fprintf(t.stderr, "%-9s %3d%%\n", j.Status, j.Progress)
	})
	j, err := runner.Run(ctx, pipeline.Request{
		Operation: operation,
		Inputs:    inputs,
		UserID:    o.user,
		Params: pipeline.Params{
			Pages:    pageList,
			Order:    orderList,
			Delta:    o.delta,
			Password: o.password,
		},
	})
	if err != nil {
		return err
	}
	defer runner.State().Release()

	data, ok := j.Artifact.Bytes()
	if !ok {
		return fmt.Errorf("artifact %s was released before it was written", j.Artifact.ID)
	}
	if err := os.WriteFile(o.out, data, 0o644); err != nil {
		return err
	}
	if j.RemotePath != "" {
		fmt.Fprintln(t.stderr, "uploaded", j.RemotePath)
	}
	return nil
}

// publishOptions wires the remote sinks when -upload is set.
func publishOptions(ctx context.Context, o options) ([]publish.Option, error) {
	if !o.upload {
		return nil, nil
	}
	if o.user == "" {
		return nil, fmt.Errorf("-upload needs -user")
	}
	bucket := gcp.GetEnv("OUTPUT_BUCKET", "")
	if bucket == "" {
		return nil, fmt.Errorf("OUTPUT_BUCKET environment variable must be set")
	}
	retries, err := strconv.Atoi(gcp.GetEnv("UPLOAD_MAX_RETRIES", "4"))
	if err != nil {
		return nil, fmt.Errorf("UPLOAD_MAX_RETRIES: %w", err)
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	opts := []publish.Option{publish.WithUploader(gcp.NewGCSUploader(storageClient, bucket, retries))}

	if projectID := gcp.GetEnv("PROJECT_ID", ""); projectID != "" {
		firestoreClient, err := gcp.NewFirestoreClient(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		opts = append(opts, publish.WithRecords(gcp.NewFirestoreRecorder(firestoreClient, gcp.GetEnv("FIRESTORE_COLLECTION", "jobs"))))
	}
	return opts, nil
}
