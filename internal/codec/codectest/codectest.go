// Package codectest provides a deterministic in-memory codec.Codec for tests.
//
// Documents are encoded as a small JSON envelope behind a fake PDF header so
// tests can build inputs with NewPDF and inspect outputs with Decode.
package codectest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/Lllllllleong/pdftransform/internal/codec"
	"github.com/Lllllllleong/pdftransform/internal/pdferr"
)

const header = "%FAKE-PDF\n"

// PageData identifies a page across load/serialize round trips.
type PageData struct {
	ID       string `json:"id"`
	Rotation int    `json:"rotation"`
}

// File is the decoded form of a fake PDF.
type File struct {
	Encrypted bool              `json:"encrypted,omitempty"`
	Pages     []PageData        `json:"pages"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewPDF returns fake PDF bytes with n pages named "<name>-1" ... "<name>-n".
func NewPDF(name string, n int, rotations ...int) []byte {
	f := File{Pages: make([]PageData, n)}
	for i := range f.Pages {
		f.Pages[i].ID = fmt.Sprintf("%s-%d", name, i+1)
		if i < len(rotations) {
			f.Pages[i].Rotation = rotations[i]
		}
	}
	return Encode(f)
}

// NewEncryptedPDF is NewPDF with the encrypted flag set.
func NewEncryptedPDF(name string, n int) []byte {
	f, _ := Decode(NewPDF(name, n))
	f.Encrypted = true
	return Encode(f)
}

// Encode serializes f as fake PDF bytes.
func Encode(f File) []byte {
	body, _ := json.Marshal(f)
	return append([]byte(header), body...)
}

// Decode parses fake PDF bytes.
func Decode(data []byte) (File, error) {
	var f File
	if !bytes.HasPrefix(data, []byte(header)) {
		return f, errors.New("missing fake pdf header")
	}
	if err := json.Unmarshal(data[len(header):], &f); err != nil {
		return f, fmt.Errorf("corrupt fake pdf body: %w", err)
	}
	return f, nil
}

// IDs returns the page IDs of fake PDF bytes, or nil if they do not decode.
func IDs(data []byte) []string {
	f, err := Decode(data)
	if err != nil {
		return nil
	}
	ids := make([]string, len(f.Pages))
	for i, p := range f.Pages {
		ids[i] = p.ID
	}
	return ids
}

// Document is the in-memory document type of Codec.
type Document struct {
	encrypted bool
	pages     []PageData
	metadata  map[string]string
}

func (d *Document) PageCount() int { return len(d.pages) }

func (d *Document) Rotation(index int) (int, error) {
	if index < 0 || index >= len(d.pages) {
		return 0, pdferr.Newf(pdferr.CodeRange, "page index %d outside [0,%d)", index, len(d.pages))
	}
	return d.pages[index].Rotation, nil
}

func (d *Document) SetRotation(index, degrees int) error {
	if index < 0 || index >= len(d.pages) {
		return pdferr.Newf(pdferr.CodeRange, "page index %d outside [0,%d)", index, len(d.pages))
	}
	d.pages[index].Rotation = codec.NormalizeRotation(degrees)
	return nil
}

func (d *Document) SetMetadata(fields map[string]string) {
	if d.metadata == nil {
		d.metadata = make(map[string]string, len(fields))
	}
	maps.Copy(d.metadata, fields)
}

// Page is the page handle type of Codec.
type Page struct {
	data  PageData
	index int
}

func (p Page) SourceIndex() int { return p.index }

// Codec is an in-memory codec.Codec. The hook and failure fields let tests
// observe calls and inject errors; they must be set before use.
type Codec struct {
	// BeforeLoad, when set, runs at the start of every Load.
	BeforeLoad func()
	// SerializeErr, when set, is returned by Serialize.
	SerializeErr error
	// CopyErr, when set, is returned unwrapped by CopyPage.
	CopyErr error

	mu     sync.Mutex
	loads  int
	copies int
}

var _ codec.Codec = (*Codec)(nil)

// Loads reports how many times Load was called.
func (c *Codec) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

// Copies reports how many times CopyPage succeeded.
func (c *Codec) Copies() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copies
}

func (c *Codec) Load(_ context.Context, data []byte, opts codec.LoadOptions) (codec.Document, error) {
	if c.BeforeLoad != nil {
		c.BeforeLoad()
	}
	c.mu.Lock()
	c.loads++
	c.mu.Unlock()

	f, err := Decode(data)
	if err != nil {
		return nil, pdferr.Wrap(pdferr.CodeLoad, "failed to read document", err)
	}
	if f.Encrypted && !opts.IgnoreEncryption {
		return nil, pdferr.New(pdferr.CodeLoad, "document is encrypted")
	}
	return &Document{encrypted: f.Encrypted, pages: f.Pages, metadata: f.Metadata}, nil
}

func (c *Codec) Create() codec.Document {
	return &Document{}
}

func (c *Codec) CopyPage(src codec.Document, index int) (codec.Page, error) {
	doc, ok := src.(*Document)
	if !ok {
		return nil, fmt.Errorf("codectest cannot copy from %T", src)
	}
	if c.CopyErr != nil {
		return nil, c.CopyErr
	}
	if index < 0 || index >= len(doc.pages) {
		return nil, pdferr.Newf(pdferr.CodeRange, "page index %d outside [0,%d)", index, len(doc.pages))
	}
	c.mu.Lock()
	c.copies++
	c.mu.Unlock()
	return Page{data: doc.pages[index], index: index}, nil
}

func (c *Codec) AppendPage(dst codec.Document, page codec.Page) error {
	doc, ok := dst.(*Document)
	if !ok {
		return fmt.Errorf("codectest cannot append to %T", dst)
	}
	p, ok := page.(Page)
	if !ok {
		return fmt.Errorf("codectest cannot append page %T", page)
	}
	doc.pages = append(doc.pages, p.data)
	return nil
}

func (c *Codec) Serialize(_ context.Context, d codec.Document) ([]byte, error) {
	if c.SerializeErr != nil {
		return nil, pdferr.Wrap(pdferr.CodeSerialize, "failed to write document", c.SerializeErr)
	}
	doc, ok := d.(*Document)
	if !ok {
		return nil, fmt.Errorf("codectest cannot serialize %T", d)
	}
	pages := make([]PageData, len(doc.pages))
	copy(pages, doc.pages)
	return Encode(File{Encrypted: doc.encrypted, Pages: pages, Metadata: doc.metadata}), nil
}
