// Package publish turns serialized transform output into an artifact handle
// and, for identified users, mirrors it to remote storage with a job record.
//
// Remote persistence is best-effort: every sink failure is logged and
// swallowed so it can never fail a transform that already succeeded locally.
package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/Lllllllleong/pdftransform/internal/artifact"
	"github.com/Lllllllleong/pdftransform/internal/models"
	"github.com/google/uuid"
)

// Uploader stores bytes under a storage path.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte) error
}

// RecordWriter persists a job record.
type RecordWriter interface {
	WriteRecord(ctx context.Context, rec models.JobRecord) error
}

// Notifier hands a completed job off to downstream processing.
type Notifier interface {
	Notify(ctx context.Context, rec models.JobRecord) error
}

// Publication is everything the publisher needs about one successful run.
type Publication struct {
	UserID     string
	Operation  string
	InputNames []string
	InputData  [][]byte
	Data       []byte
	PageCount  int
}

// Result is what was published. RemotePath is empty when nothing was uploaded.
type Result struct {
	Handle     *artifact.Handle
	RemotePath string
}

// Publisher issues artifact handles and drives the optional remote sinks.
type Publisher struct {
	store    *artifact.Store
	uploader Uploader
	records  RecordWriter
	notifier Notifier
	filename func(op string) string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithUploader enables mirroring artifacts to remote storage.
func WithUploader(u Uploader) Option { return func(p *Publisher) { p.uploader = u } }

// WithRecords enables job records.
func WithRecords(r RecordWriter) Option { return func(p *Publisher) { p.records = r } }

// WithNotifier enables the post-record hand-off.
func WithNotifier(n Notifier) Option { return func(p *Publisher) { p.notifier = n } }

// WithFilenames overrides generated remote filenames.
func WithFilenames(fn func(op string) string) Option { return func(p *Publisher) { p.filename = fn } }

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option { return func(p *Publisher) { p.logger = l } }

// New returns a Publisher issuing handles from store.
func New(store *artifact.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:    store,
		filename: GenerateFilename,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GenerateFilename returns a unique, sortable PDF filename.
func GenerateFilename(_ string) string {
	return time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8] + ".pdf"
}

// ObjectPath is the remote storage path of an artifact.
func ObjectPath(userID, op, filename string) string {
	return userID + "/" + op + "/" + filename
}

// Publish issues the local handle and then runs the remote sinks for an
// identified user. It never fails.
func (p *Publisher) Publish(ctx context.Context, pub Publication) Result {
	filename := p.filename(pub.Operation)
	res := Result{
		Handle: p.store.Issue(artifact.Artifact{
			Data:        pub.Data,
			ContentType: artifact.ContentTypePDF,
			Filename:    filename,
		}),
	}
	if pub.UserID == "" || p.uploader == nil {
		return res
	}

	logCtx := p.logger.With("userId", pub.UserID, "operation", pub.Operation)
	path := ObjectPath(pub.UserID, pub.Operation, filename)
	if err := p.uploader.Upload(ctx, path, pub.Data); err != nil {
		logCtx.Error("Failed to upload artifact. Continuing without a remote copy.", "path", path, "error", err)
		return res
	}
	res.RemotePath = path
	logCtx.Info("Artifact uploaded.", "path", path, "bytes", len(pub.Data))

	if p.records == nil {
		return res
	}
	rec := models.JobRecord{
		UserID:         pub.UserID,
		JobType:        pub.Operation,
		Status:         models.JobRecordStatusCompleted,
		InputFileNames: pub.InputNames,
		InputHashes:    hashAll(pub.InputData),
		OutputPath:     path,
		PageCount:      pub.PageCount,
		CreatedAt:      p.now(),
	}
	if err := p.records.WriteRecord(ctx, rec); err != nil {
		logCtx.Error("Failed to write job record.", "path", path, "error", err)
		return res
	}

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, rec); err != nil {
			logCtx.Warn("Failed to hand off completed job.", "path", path, "error", err)
		}
	}
	return res
}

func hashAll(inputs [][]byte) []string {
	if len(inputs) == 0 {
		return nil
	}
	hashes := make([]string, len(inputs))
	for i, data := range inputs {
		sum := sha256.Sum256(data)
		hashes[i] = hex.EncodeToString(sum[:])
	}
	return hashes
}
