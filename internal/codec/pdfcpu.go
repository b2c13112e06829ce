package codec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"

	"github.com/Lllllllleong/pdftransform/internal/pdferr"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// PDFCPU implements Codec on top of pdfcpu.
//
// A loaded document keeps its pdfcpu context and is written back as a whole.
// A created document is a list of single-page contexts produced by
// CopyPage; serializing it merges those pages in order.
type PDFCPU struct{}

// NewPDFCPU returns a pdfcpu-backed codec.
func NewPDFCPU() *PDFCPU {
	return &PDFCPU{}
}

type pdfPage struct {
	ctx         *model.Context
	nr          int // 1-based page number inside ctx
	sourceIndex int
}

func (p *pdfPage) SourceIndex() int { return p.sourceIndex }

type pdfDocument struct {
	ctx   *model.Context // nil for documents built with Create
	pages []*pdfPage
	props map[string]string
}

func (d *pdfDocument) PageCount() int { return len(d.pages) }

func (d *pdfDocument) page(index int) (*pdfPage, error) {
	if index < 0 || index >= len(d.pages) {
		return nil, pdferr.Newf(pdferr.CodeRange, "page index %d outside [0,%d)", index, len(d.pages))
	}
	return d.pages[index], nil
}

func (d *pdfDocument) Rotation(index int) (int, error) {
	p, err := d.page(index)
	if err != nil {
		return 0, err
	}
	pageDict, _, inherited, err := p.ctx.PageDict(p.nr, false)
	if err != nil {
		return 0, fmt.Errorf("failed to read page %d: %w", p.nr, err)
	}
	if r, ok := pageDict["Rotate"].(types.Integer); ok {
		return NormalizeRotation(int(r)), nil
	}
	if inherited != nil {
		return NormalizeRotation(inherited.Rotate), nil
	}
	return 0, nil
}

func (d *pdfDocument) SetRotation(index, degrees int) error {
	p, err := d.page(index)
	if err != nil {
		return err
	}
	pageDict, _, _, err := p.ctx.PageDict(p.nr, false)
	if err != nil {
		return fmt.Errorf("failed to read page %d: %w", p.nr, err)
	}
	if pageDict == nil {
		return fmt.Errorf("page %d has no dictionary", p.nr)
	}
	pageDict["Rotate"] = types.Integer(NormalizeRotation(degrees))
	return nil
}

func (d *pdfDocument) SetMetadata(fields map[string]string) {
	if d.props == nil {
		d.props = make(map[string]string, len(fields))
	}
	maps.Copy(d.props, fields)
}

func newConfiguration() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// Load parses data into a document. Parse failures and, unless
// IgnoreEncryption is set, encrypted inputs are reported as LOAD errors.
func (c *PDFCPU) Load(_ context.Context, data []byte, opts LoadOptions) (Document, error) {
	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), newConfiguration())
	if err != nil {
		return nil, pdferr.Wrap(pdferr.CodeLoad, "failed to read document", err)
	}
	if pdfCtx.Encrypt != nil && !opts.IgnoreEncryption {
		return nil, pdferr.New(pdferr.CodeLoad, "document is encrypted")
	}

	doc := &pdfDocument{ctx: pdfCtx, pages: make([]*pdfPage, pdfCtx.PageCount)}
	for i := range doc.pages {
		doc.pages[i] = &pdfPage{ctx: pdfCtx, nr: i + 1, sourceIndex: i}
	}
	return doc, nil
}

func (c *PDFCPU) Create() Document {
	return &pdfDocument{}
}

// CopyPage extracts one page of src into its own single-page context, so the
// copy is independent of later changes to src.
func (c *PDFCPU) CopyPage(src Document, index int) (Page, error) {
	doc, ok := src.(*pdfDocument)
	if !ok {
		return nil, fmt.Errorf("pdfcpu codec cannot copy from %T", src)
	}
	p, err := doc.page(index)
	if err != nil {
		return nil, err
	}

	r, err := api.ExtractPage(p.ctx, p.nr)
	if err != nil {
		return nil, fmt.Errorf("failed to extract page %d: %w", p.nr, err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted page %d: %w", p.nr, err)
	}
	pageCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(raw), newConfiguration())
	if err != nil {
		return nil, fmt.Errorf("failed to reload extracted page %d: %w", p.nr, err)
	}
	return &pdfPage{ctx: pageCtx, nr: 1, sourceIndex: index}, nil
}

func (c *PDFCPU) AppendPage(dst Document, page Page) error {
	doc, ok := dst.(*pdfDocument)
	if !ok {
		return fmt.Errorf("pdfcpu codec cannot append to %T", dst)
	}
	p, ok := page.(*pdfPage)
	if !ok {
		return fmt.Errorf("pdfcpu codec cannot append page %T", page)
	}
	if doc.ctx != nil {
		return fmt.Errorf("pages can only be appended to created documents")
	}
	doc.pages = append(doc.pages, p)
	return nil
}

// Serialize writes doc out as PDF bytes. A created document with no pages
// cannot be represented and fails with a SERIALIZE error.
func (c *PDFCPU) Serialize(_ context.Context, d Document) ([]byte, error) {
	doc, ok := d.(*pdfDocument)
	if !ok {
		return nil, fmt.Errorf("pdfcpu codec cannot serialize %T", d)
	}

	out, err := c.write(doc)
	if err != nil {
		return nil, pdferr.Wrap(pdferr.CodeSerialize, "failed to write document", err)
	}
	if len(doc.props) == 0 {
		return out, nil
	}

	var stamped bytes.Buffer
	if err := api.AddProperties(bytes.NewReader(out), &stamped, doc.props, newConfiguration()); err != nil {
		return nil, pdferr.Wrap(pdferr.CodeSerialize, "failed to write document properties", err)
	}
	return stamped.Bytes(), nil
}

func (c *PDFCPU) write(doc *pdfDocument) ([]byte, error) {
	var buf bytes.Buffer
	if doc.ctx != nil {
		if err := api.WriteContext(doc.ctx, &buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	if len(doc.pages) == 0 {
		return nil, fmt.Errorf("document has no pages")
	}
	parts := make([]io.ReadSeeker, 0, len(doc.pages))
	for i, p := range doc.pages {
		var part bytes.Buffer
		if err := api.WriteContext(p.ctx, &part); err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		parts = append(parts, bytes.NewReader(part.Bytes()))
	}
	if len(parts) == 1 {
		return io.ReadAll(parts[0])
	}
	if err := api.MergeRaw(parts, &buf, false, newConfiguration()); err != nil {
		return nil, fmt.Errorf("failed to merge pages: %w", err)
	}
	return buf.Bytes(), nil
}
