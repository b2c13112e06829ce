// Package codec abstracts the PDF byte format behind the handful of
// capabilities the transform pipeline needs: load, create, copy a page,
// append a page, read/write rotation, stamp metadata and serialize.
package codec

import "context"

// LoadOptions controls how input bytes are parsed.
type LoadOptions struct {
	// IgnoreEncryption accepts encrypted documents that open without a user
	// password instead of rejecting them.
	IgnoreEncryption bool
}

// Document is an in-memory, page-addressable document. Page indices are 0-based.
type Document interface {
	PageCount() int
	Rotation(index int) (int, error)
	SetRotation(index, degrees int) error
	SetMetadata(fields map[string]string)
}

// Page is a page copied out of a source document, ready to be appended.
type Page interface {
	// SourceIndex is the 0-based position the page had in its source.
	SourceIndex() int
}

// Codec is the byte-format capability consumed by the pipeline.
type Codec interface {
	Load(ctx context.Context, data []byte, opts LoadOptions) (Document, error)
	Create() Document
	CopyPage(src Document, index int) (Page, error)
	AppendPage(dst Document, page Page) error
	Serialize(ctx context.Context, doc Document) ([]byte, error)
}

// NormalizeRotation maps any multiple of 90 (or any angle) into [0, 360).
func NormalizeRotation(degrees int) int {
	r := degrees % 360
	if r < 0 {
		r += 360
	}
	return r
}
