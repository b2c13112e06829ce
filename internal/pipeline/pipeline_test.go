package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/Lllllllleong/pdftransform/internal/artifact"
	"github.com/Lllllllleong/pdftransform/internal/codec/codectest"
	"github.com/Lllllllleong/pdftransform/internal/job"
	"github.com/Lllllllleong/pdftransform/internal/pdferr"
	"github.com/Lllllllleong/pdftransform/internal/publish"
)

type harness struct {
	runner   *Runner
	codec    *codectest.Codec
	store    *artifact.Store
	progress []int
}

func newHarness(t *testing.T, c *codectest.Codec, opts ...publish.Option) *harness {
	t.Helper()
	if c == nil {
		c = &codectest.Codec{}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := artifact.NewStore("/artifacts")
	opts = append(opts, publish.WithLogger(logger))
	h := &harness{codec: c, store: store}
	h.runner = New(c, publish.New(store, opts...), WithLogger(logger))
	h.runner.State().Observe(func(j job.Job) {
		if j.Status == job.StatusRunning {
			h.progress = append(h.progress, j.Progress)
		}
	})
	return h
}

func (h *harness) output(t *testing.T, j job.Job) []byte {
	t.Helper()
	if j.Artifact == nil {
		t.Fatal("job has no artifact")
	}
	data, ok := j.Artifact.Bytes()
	if !ok {
		t.Fatal("artifact handle already released")
	}
	return data
}

func assertProgress(t *testing.T, progress []int) {
	t.Helper()
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress went backwards: %v", progress)
		}
	}
}

func TestRun_Merge(t *testing.T) {
	h := newHarness(t, nil)
	j, err := h.runner.Run(context.Background(), Request{
		Operation: OpMerge,
		Inputs: []Input{
			{Name: "a.pdf", Data: codectest.NewPDF("a", 2)},
			{Name: "b.pdf", Data: codectest.NewPDF("b", 3)},
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if j.Status != job.StatusSucceeded || j.Progress != 100 {
		t.Fatalf("job = %+v", j)
	}
	want := []string{"a-1", "a-2", "b-1", "b-2", "b-3"}
	if got := codectest.IDs(h.output(t, j)); !reflect.DeepEqual(got, want) {
		t.Errorf("pages = %v, want %v", got, want)
	}
	assertProgress(t, h.progress)
	if h.progress[len(h.progress)-1] != 80 {
		t.Errorf("last running progress = %d, want 80 before completion", h.progress[len(h.progress)-1])
	}
}

func TestRun_MergeNeedsTwoInputsBeforeLoading(t *testing.T) {
	for _, n := range []int{0, 1} {
		h := newHarness(t, nil)
		inputs := make([]Input, n)
		for i := range inputs {
			inputs[i] = Input{Name: "a.pdf", Data: codectest.NewPDF("a", 1)}
		}
		j, err := h.runner.Run(context.Background(), Request{Operation: OpMerge, Inputs: inputs})
		if !errors.Is(err, pdferr.ErrValidation) {
			t.Fatalf("%d inputs: error = %v, want VALIDATION", n, err)
		}
		if h.codec.Loads() != 0 {
			t.Errorf("%d inputs: %d documents loaded before validation", n, h.codec.Loads())
		}
		if j.Status != job.StatusIdle {
			t.Errorf("%d inputs: status = %v, want idle", n, j.Status)
		}
	}
}

func TestRun_ExtractDropsOutOfRangePages(t *testing.T) {
	h := newHarness(t, nil)
	j, err := h.runner.Run(context.Background(), Request{
		Operation: OpExtract,
		Inputs:    []Input{{Name: "d.pdf", Data: codectest.NewPDF("d", 4)}},
		Params:    Params{Pages: []int{2, 5, 10}},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := codectest.IDs(h.output(t, j)); !reflect.DeepEqual(got, []string{"d-2"}) {
		t.Errorf("pages = %v, want [d-2]", got)
	}
}

func TestRun_Remove(t *testing.T) {
	h := newHarness(t, nil)
	j, err := h.runner.Run(context.Background(), Request{
		Operation: OpRemove,
		Inputs:    []Input{{Name: "d.pdf", Data: codectest.NewPDF("d", 4)}},
		Params:    Params{Pages: []int{1, 3}},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := codectest.IDs(h.output(t, j)); !reflect.DeepEqual(got, []string{"d-2", "d-4"}) {
		t.Errorf("pages = %v, want [d-2 d-4]", got)
	}
}

func TestRun_ReorderReportsPerPageProgress(t *testing.T) {
	h := newHarness(t, nil)
	j, err := h.runner.Run(context.Background(), Request{
		Operation: OpReorder,
		Inputs:    []Input{{Name: "d.pdf", Data: codectest.NewPDF("d", 3)}},
		Params:    Params{Order: []int{2, 0, 1}},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := codectest.IDs(h.output(t, j)); !reflect.DeepEqual(got, []string{"d-3", "d-1", "d-2"}) {
		t.Errorf("pages = %v, want [d-3 d-1 d-2]", got)
	}
	if h.codec.Copies() != 3 {
		t.Errorf("Copies() = %d, want 3", h.codec.Copies())
	}
	want := []int{0, 20, 40, 46, 53, 60, 80}
	if !reflect.DeepEqual(h.progress, want) {
		t.Errorf("progress = %v, want %v", h.progress, want)
	}
}

func TestRun_ReorderOutOfRangeFails(t *testing.T) {
	h := newHarness(t, nil)
	j, err := h.runner.Run(context.Background(), Request{
		Operation: OpReorder,
		Inputs:    []Input{{Name: "d.pdf", Data: codectest.NewPDF("d", 2)}},
		Params:    Params{Order: []int{0, 2}},
	})
	if !errors.Is(err, pdferr.ErrRange) {
		t.Fatalf("error = %v, want RANGE", err)
	}
	if j.Status != job.StatusFailed || j.Artifact != nil {
		t.Errorf("job = %+v", j)
	}
}

func TestRun_RotateTwice(t *testing.T) {
	h := newHarness(t, nil)
	data := codectest.NewPDF("d", 3, 0, 270, 90)

	for i := 0; i < 2; i++ {
		j, err := h.runner.Run(context.Background(), Request{
			Operation: OpRotate,
			Inputs:    []Input{{Name: "d.pdf", Data: data}},
			Params:    Params{Delta: 90, Pages: []int{1, 2, 7}},
		})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		data = h.output(t, j)
	}

	f, err := codectest.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	var got []int
	for _, p := range f.Pages {
		got = append(got, p.Rotation)
	}
	if want := []int{180, 90, 90}; !reflect.DeepEqual(got, want) {
		t.Errorf("rotations = %v, want %v", got, want)
	}
	if h.codec.Copies() != 0 {
		t.Errorf("rotate copied %d pages, want none", h.codec.Copies())
	}
}

func TestRun_RotateNegativeDeltaDefaultsToAllPages(t *testing.T) {
	h := newHarness(t, nil)
	j, err := h.runner.Run(context.Background(), Request{
		Operation: OpRotate,
		Inputs:    []Input{{Name: "d.pdf", Data: codectest.NewPDF("d", 2, 0, 180)}},
		Params:    Params{Delta: -90},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	f, _ := codectest.Decode(h.output(t, j))
	if f.Pages[0].Rotation != 270 || f.Pages[1].Rotation != 90 {
		t.Errorf("rotations = %+v, want 270 and 90", f.Pages)
	}
}

func TestRun_ProtectOnlyStampsMetadata(t *testing.T) {
	h := newHarness(t, nil)
	j, err := h.runner.Run(context.Background(), Request{
		Operation: OpProtect,
		Inputs:    []Input{{Name: "d.pdf", Data: codectest.NewPDF("d", 2)}},
		Params:    Params{Password: "hunter22"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	out := h.output(t, j)
	f, err := codectest.Decode(out)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if f.Encrypted {
		t.Error("protect must not claim encryption")
	}
	if f.Metadata["ProtectionRequested"] != "true" {
		t.Errorf("metadata = %v", f.Metadata)
	}
	if strings.Contains(string(out), "hunter22") {
		t.Error("password leaked into the output")
	}
	if got := codectest.IDs(out); !reflect.DeepEqual(got, []string{"d-1", "d-2"}) {
		t.Errorf("pages = %v", got)
	}
}

func TestRun_LoadFailureLeavesNoArtifact(t *testing.T) {
	h := newHarness(t, nil)
	j, err := h.runner.Run(context.Background(), Request{
		Operation: OpRemove,
		Inputs:    []Input{{Name: "notes.txt", Data: []byte("plain text")}},
	})
	if !errors.Is(err, pdferr.ErrLoad) {
		t.Fatalf("error = %v, want LOAD", err)
	}
	if !strings.Contains(err.Error(), "notes.txt") {
		t.Errorf("error %q does not name the input", err)
	}
	if j.Status != job.StatusFailed || j.Artifact != nil || j.Progress != 0 {
		t.Errorf("job = %+v", j)
	}
	if h.store.Live() != 0 {
		t.Errorf("Live() = %d, want 0", h.store.Live())
	}
}

func TestRun_SerializeFailure(t *testing.T) {
	h := newHarness(t, &codectest.Codec{SerializeErr: errors.New("disk full")})
	j, err := h.runner.Run(context.Background(), Request{
		Operation: OpRemove,
		Inputs:    []Input{{Name: "d.pdf", Data: codectest.NewPDF("d", 2)}},
	})
	if !errors.Is(err, pdferr.ErrSerialize) {
		t.Fatalf("error = %v, want SERIALIZE", err)
	}
	if j.Status != job.StatusFailed || j.Artifact != nil {
		t.Errorf("job = %+v", j)
	}
	for _, p := range h.progress {
		if p >= 80 {
			t.Errorf("progress reached %d on a failed serialize", p)
		}
	}
}

func TestRun_CopyFailureIsSerializeError(t *testing.T) {
	h := newHarness(t, &codectest.Codec{CopyErr: errors.New("broken content stream")})
	j, err := h.runner.Run(context.Background(), Request{
		Operation: OpReorder,
		Inputs:    []Input{{Name: "d.pdf", Data: codectest.NewPDF("d", 3)}},
		Params:    Params{Order: []int{2, 0, 1}},
	})
	if !errors.Is(err, pdferr.ErrSerialize) {
		t.Fatalf("error = %v, want SERIALIZE", err)
	}
	if !strings.Contains(err.Error(), "broken content stream") {
		t.Errorf("error %q lost its cause", err)
	}
	if j.Status != job.StatusFailed || j.Artifact != nil {
		t.Errorf("job = %+v", j)
	}
}

func TestRun_EncryptionTolerance(t *testing.T) {
	encrypted := codectest.NewEncryptedPDF("e", 2)

	h := newHarness(t, nil)
	if _, err := h.runner.Run(context.Background(), Request{
		Operation: OpExtract,
		Inputs:    []Input{{Name: "e.pdf", Data: encrypted}},
		Params:    Params{Pages: []int{1}},
	}); err != nil {
		t.Errorf("split of an encrypted input failed: %v", err)
	}

	_, err := h.runner.Run(context.Background(), Request{
		Operation: OpMerge,
		Inputs:    []Input{{Name: "e.pdf", Data: encrypted}, {Name: "b.pdf", Data: codectest.NewPDF("b", 1)}},
	})
	if !errors.Is(err, pdferr.ErrLoad) {
		t.Errorf("merge of an encrypted input error = %v, want LOAD", err)
	}
}

func TestRun_NewRunReleasesPreviousHandle(t *testing.T) {
	h := newHarness(t, nil)
	req := Request{
		Operation: OpRemove,
		Inputs:    []Input{{Name: "d.pdf", Data: codectest.NewPDF("d", 2)}},
	}
	first, err := h.runner.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	second, err := h.runner.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if !first.Artifact.Released() {
		t.Error("first handle still live")
	}
	if second.Artifact.Released() {
		t.Error("second handle released")
	}
	if h.store.Live() != 1 {
		t.Errorf("Live() = %d, want 1", h.store.Live())
	}
	first.Artifact.Release()
	if h.store.Live() != 1 {
		t.Error("releasing a stale handle twice touched the live one")
	}
}

func TestRun_BusyWhileRunning(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	c := &codectest.Codec{BeforeLoad: func() {
		once.Do(func() {
			close(started)
			<-unblock
		})
	}}
	h := newHarness(t, c)
	req := Request{
		Operation: OpRotate,
		Inputs:    []Input{{Name: "d.pdf", Data: codectest.NewPDF("d", 1)}},
		Params:    Params{Delta: 180},
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.runner.Run(context.Background(), req)
		done <- err
	}()
	<-started

	if _, err := h.runner.Run(context.Background(), req); !errors.Is(err, pdferr.ErrBusy) {
		t.Errorf("concurrent Run error = %v, want BUSY", err)
	}
	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
}

type failingUploader struct{}

func (failingUploader) Upload(context.Context, string, []byte) error {
	return errors.New("bucket unavailable")
}

func TestRun_PersistenceFailureKeepsSuccess(t *testing.T) {
	h := newHarness(t, nil, publish.WithUploader(failingUploader{}))
	j, err := h.runner.Run(context.Background(), Request{
		Operation: OpRemove,
		Inputs:    []Input{{Name: "d.pdf", Data: codectest.NewPDF("d", 2)}},
		UserID:    "user-1",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if j.Status != job.StatusSucceeded || j.Artifact == nil || j.RemotePath != "" {
		t.Errorf("job = %+v", j)
	}
}

func TestInspect(t *testing.T) {
	h := newHarness(t, nil)
	n, err := h.runner.Inspect(context.Background(), Input{Name: "e.pdf", Data: codectest.NewEncryptedPDF("e", 5)})
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if n != 5 {
		t.Errorf("Inspect() = %d, want 5", n)
	}
	if _, err := h.runner.Inspect(context.Background(), Input{Name: "x", Data: []byte("x")}); !errors.Is(err, pdferr.ErrLoad) {
		t.Errorf("Inspect error = %v, want LOAD", err)
	}
	if h.runner.State().Current().Status != job.StatusIdle {
		t.Error("Inspect changed the job state")
	}
}
