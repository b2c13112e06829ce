// Package pipeline runs the shared load, select, build, serialize and
// publish sequence behind every PDF transform.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/pdftransform/internal/codec"
	"github.com/Lllllllleong/pdftransform/internal/job"
	"github.com/Lllllllleong/pdftransform/internal/pdferr"
	"github.com/Lllllllleong/pdftransform/internal/publish"
	"github.com/Lllllllleong/pdftransform/internal/selection"
)

// Progress milestones. They are advisory, not byte accurate.
const (
	progressLoaded     = 20
	progressResolved   = 40
	progressBuilt      = 60
	progressSerialized = 80
)

// Metadata stamped by protect. Protect does not encrypt; these fields only
// record that protection was requested.
var protectionMetadata = map[string]string{
	"ProtectionRequested": "true",
	"ProtectionNote":      "Password protection was requested for this file. The content is not encrypted.",
}

// Runner executes transforms against one job State, so at most one transform
// runs per Runner at a time.
type Runner struct {
	codec     codec.Codec
	publisher *publish.Publisher
	state     *job.State
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithState makes the Runner report into an existing State.
func WithState(s *job.State) Option { return func(r *Runner) { r.state = s } }

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// New returns a Runner using c to read and write documents and p to publish.
func New(c codec.Codec, p *publish.Publisher, opts ...Option) *Runner {
	r := &Runner{
		codec:     c,
		publisher: p,
		state:     job.NewState(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State exposes the Runner's job state.
func (r *Runner) State() *job.State {
	return r.state
}

// Inspect loads a single input and returns its page count. It is the first
// half of organize: callers build the permutation from the count.
func (r *Runner) Inspect(ctx context.Context, in Input) (int, error) {
	doc, err := r.load(ctx, in, OpReorder)
	if err != nil {
		return 0, err
	}
	return doc.PageCount(), nil
}

// Run validates req, then runs it to completion. Validation and BUSY errors
// are returned before the job state changes. Any other error leaves the job
// failed without an artifact; remote persistence failures never do.
// Run is not cancellable once started: ctx only reaches the I/O sinks.
func (r *Runner) Run(ctx context.Context, req Request) (job.Job, error) {
	if err := Validate(req); err != nil {
		return r.state.Current(), err
	}
	if err := r.state.Begin(string(req.Operation)); err != nil {
		return r.state.Current(), err
	}

	logCtx := r.logger.With("operation", string(req.Operation), "userId", req.UserID, "inputCount", len(req.Inputs))
	logCtx.Info("Starting transform.")

	data, pageCount, err := r.transform(ctx, req)
	if err != nil {
		logCtx.Error("Transform failed.", "error", err)
		r.state.Fail(err)
		return r.state.Current(), err
	}

	names := make([]string, len(req.Inputs))
	inputs := make([][]byte, len(req.Inputs))
	for i, in := range req.Inputs {
		names[i] = in.Name
		inputs[i] = in.Data
	}
	res := r.publisher.Publish(ctx, publish.Publication{
		UserID:     req.UserID,
		Operation:  string(req.Operation),
		InputNames: names,
		InputData:  inputs,
		Data:       data,
		PageCount:  pageCount,
	})
	r.state.Succeed(res.Handle, res.RemotePath)

	logCtx.Info("Transform complete.", "pageCount", pageCount, "bytes", len(data), "remotePath", res.RemotePath)
	return r.state.Current(), nil
}

func (r *Runner) transform(ctx context.Context, req Request) ([]byte, int, error) {
	// --- 1. Load every input ---
	docs := make([]codec.Document, len(req.Inputs))
	for i, in := range req.Inputs {
		doc, err := r.load(ctx, in, req.Operation)
		if err != nil {
			return nil, 0, err
		}
		docs[i] = doc
	}
	r.state.Advance(progressLoaded)

	// Rotate and protect edit the loaded document in place.
	var out codec.Document
	switch req.Operation {
	case OpRotate:
		if err := r.rotate(docs[0], req.Params); err != nil {
			return nil, 0, err
		}
		out = docs[0]
	case OpProtect:
		r.state.Advance(progressResolved)
		docs[0].SetMetadata(protectionMetadata)
		out = docs[0]
	default:
		// --- 2. Resolve the selection ---
		sel, err := resolve(req.Operation, docs, req.Params)
		if err != nil {
			return nil, 0, err
		}
		r.state.Advance(progressResolved)

		// --- 3. Build the output document ---
		out, err = r.build(docs, sel)
		if err != nil {
			return nil, 0, err
		}
	}
	r.state.Advance(progressBuilt)

	// --- 4. Serialize ---
	data, err := r.codec.Serialize(ctx, out)
	if err != nil {
		return nil, 0, withCode(pdferr.CodeSerialize, "failed to serialize output", err)
	}
	r.state.Advance(progressSerialized)
	return data, out.PageCount(), nil
}

func (r *Runner) load(ctx context.Context, in Input, op Operation) (codec.Document, error) {
	doc, err := r.codec.Load(ctx, in.Data, codec.LoadOptions{IgnoreEncryption: op.toleratesEncryption()})
	if err != nil {
		return nil, withCode(pdferr.CodeLoad, fmt.Sprintf("input %q", in.Name), err)
	}
	return doc, nil
}

// withCode prefixes err with message and tags it with code, unless its
// chain already carries a code.
func withCode(code pdferr.Code, message string, err error) error {
	if _, ok := pdferr.CodeOf(err); ok {
		return fmt.Errorf("%s: %w", message, err)
	}
	return pdferr.Wrap(code, message, err)
}

func resolve(op Operation, docs []codec.Document, params Params) (selection.Selection, error) {
	switch op {
	case OpMerge:
		counts := make([]int, len(docs))
		for i, d := range docs {
			counts[i] = d.PageCount()
		}
		return selection.Merge(counts), nil
	case OpExtract:
		return selection.Extract(docs[0].PageCount(), params.Pages), nil
	case OpRemove:
		return selection.Remove(docs[0].PageCount(), params.Pages), nil
	case OpReorder:
		return selection.Reorder(docs[0].PageCount(), params.Order)
	}
	return nil, pdferr.Newf(pdferr.CodeValidation, "operation %q has no page selection", op)
}

// build copies every selected page, one at a time and in order, into a new
// document, reporting progress per page.
func (r *Runner) build(docs []codec.Document, sel selection.Selection) (codec.Document, error) {
	out := r.codec.Create()
	for i, e := range sel {
		page, err := r.codec.CopyPage(docs[e.Source], e.Page)
		if err != nil {
			return nil, withCode(pdferr.CodeSerialize, fmt.Sprintf("failed to copy page %d of input %d", e.Page+1, e.Source+1), err)
		}
		if err := r.codec.AppendPage(out, page); err != nil {
			return nil, withCode(pdferr.CodeSerialize, fmt.Sprintf("failed to append page %d", i+1), err)
		}
		r.state.Advance(stepProgress(i, len(sel)))
	}
	return out, nil
}

// rotate adds params.Delta to every targeted page, in place.
func (r *Runner) rotate(doc codec.Document, params Params) error {
	targets := selection.RotationTargets(doc.PageCount(), params.Pages)
	r.state.Advance(progressResolved)
	for i, idx := range targets {
		current, err := doc.Rotation(idx)
		if err != nil {
			return fmt.Errorf("failed to read rotation of page %d: %w", idx+1, err)
		}
		if err := doc.SetRotation(idx, codec.NormalizeRotation(current+params.Delta)); err != nil {
			return fmt.Errorf("failed to rotate page %d: %w", idx+1, err)
		}
		r.state.Advance(stepProgress(i, len(targets)))
	}
	return nil
}

// stepProgress spreads per-page progress between the resolved and built milestones.
func stepProgress(i, n int) int {
	return progressResolved + (progressBuilt-progressResolved)*(i+1)/n
}
