package pipeline

import (
	"strings"
	"unicode/utf8"

	"github.com/Lllllllleong/pdftransform/internal/pdferr"
)

// Operation is a transform kind. Its value is the operation name used in
// remote storage paths and job records.
type Operation string

const (
	OpMerge   Operation = "merge"
	OpExtract Operation = "split"
	OpRemove  Operation = "remove"
	OpReorder Operation = "organize"
	OpRotate  Operation = "rotate"
	OpProtect Operation = "protect"
)

// MinPasswordLength is the shortest password protect accepts.
const MinPasswordLength = 4

var operationAliases = map[string]Operation{
	"merge":    OpMerge,
	"split":    OpExtract,
	"extract":  OpExtract,
	"remove":   OpRemove,
	"organize": OpReorder,
	"reorder":  OpReorder,
	"rotate":   OpRotate,
	"protect":  OpProtect,
}

// ParseOperation maps a user supplied name or alias to an Operation.
func ParseOperation(name string) (Operation, error) {
	op, ok := operationAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", pdferr.Newf(pdferr.CodeValidation, "unknown operation %q", name)
	}
	return op, nil
}

func (op Operation) valid() bool {
	switch op {
	case OpMerge, OpExtract, OpRemove, OpReorder, OpRotate, OpProtect:
		return true
	}
	return false
}

// toleratesEncryption reports whether inputs are loaded in ignore-encryption
// mode. Merge and protect reject encrypted inputs.
func (op Operation) toleratesEncryption() bool {
	switch op {
	case OpExtract, OpRemove, OpReorder, OpRotate:
		return true
	}
	return false
}

// Input is one named input buffer.
type Input struct {
	Name string
	Data []byte
}

// Params carries the operation specific arguments.
type Params struct {
	// Pages are 1-based page numbers: pages to keep (split), to drop
	// (remove) or to rotate (rotate, empty means all).
	Pages []int
	// Order is the 0-based permutation for organize.
	Order []int
	// Delta is the rotation in degrees: ±90, ±180 or ±270.
	Delta int
	// Password is only length-checked; protect does not encrypt.
	Password string
}

// Request is one transform invocation.
type Request struct {
	Operation Operation
	Inputs    []Input
	Params    Params
	// UserID enables remote persistence when set.
	UserID string
}

// Validate checks the caller preconditions that must hold before any input
// is loaded.
func Validate(req Request) error {
	if !req.Operation.valid() {
		return pdferr.Newf(pdferr.CodeValidation, "unknown operation %q", req.Operation)
	}
	if req.Operation == OpMerge {
		if len(req.Inputs) < 2 {
			return pdferr.Newf(pdferr.CodeValidation, "merge needs at least 2 documents, got %d", len(req.Inputs))
		}
		return nil
	}
	if len(req.Inputs) != 1 {
		return pdferr.Newf(pdferr.CodeValidation, "%s takes exactly 1 document, got %d", req.Operation, len(req.Inputs))
	}

	switch req.Operation {
	case OpExtract:
		if len(req.Params.Pages) == 0 {
			return pdferr.New(pdferr.CodeValidation, "split needs at least one page number")
		}
	case OpReorder:
		if len(req.Params.Order) == 0 {
			return pdferr.New(pdferr.CodeValidation, "organize needs a page order")
		}
	case OpRotate:
		if !validDelta(req.Params.Delta) {
			return pdferr.Newf(pdferr.CodeValidation, "rotation must be ±90, ±180 or ±270 degrees, got %d", req.Params.Delta)
		}
	case OpProtect:
		if utf8.RuneCountInString(req.Params.Password) < MinPasswordLength {
			return pdferr.Newf(pdferr.CodeValidation, "password must be at least %d characters", MinPasswordLength)
		}
	}
	return nil
}

func validDelta(delta int) bool {
	switch delta {
	case 90, 180, 270, -90, -180, -270:
		return true
	}
	return false
}
