package pipeline

import (
	"errors"
	"testing"

	"github.com/Lllllllleong/pdftransform/internal/pdferr"
)

func TestParseOperation(t *testing.T) {
	tests := map[string]Operation{
		"merge": OpMerge, "Split": OpExtract, "extract": OpExtract, "remove": OpRemove,
		"organize": OpReorder, " reorder ": OpReorder, "rotate": OpRotate, "protect": OpProtect,
	}
	for name, want := range tests {
		got, err := ParseOperation(name)
		if err != nil || got != want {
			t.Errorf("ParseOperation(%q) = %q, %v; want %q", name, got, err, want)
		}
	}
	if _, err := ParseOperation("compress"); !errors.Is(err, pdferr.ErrValidation) {
		t.Errorf("ParseOperation(compress) error = %v, want VALIDATION", err)
	}
}

func TestValidate(t *testing.T) {
	one := []Input{{Name: "a.pdf"}}
	two := []Input{{Name: "a.pdf"}, {Name: "b.pdf"}}

	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"merge two", Request{Operation: OpMerge, Inputs: two}, false},
		{"merge one", Request{Operation: OpMerge, Inputs: one}, true},
		{"unknown", Request{Operation: "extract", Inputs: one}, true},
		{"split two inputs", Request{Operation: OpExtract, Inputs: two, Params: Params{Pages: []int{1}}}, true},
		{"split no pages", Request{Operation: OpExtract, Inputs: one}, true},
		{"split", Request{Operation: OpExtract, Inputs: one, Params: Params{Pages: []int{9}}}, false},
		{"remove nothing", Request{Operation: OpRemove, Inputs: one}, false},
		{"organize no order", Request{Operation: OpReorder, Inputs: one}, true},
		{"rotate 90", Request{Operation: OpRotate, Inputs: one, Params: Params{Delta: 90}}, false},
		{"rotate -270", Request{Operation: OpRotate, Inputs: one, Params: Params{Delta: -270}}, false},
		{"rotate 45", Request{Operation: OpRotate, Inputs: one, Params: Params{Delta: 45}}, true},
		{"rotate 0", Request{Operation: OpRotate, Inputs: one}, true},
		{"protect short", Request{Operation: OpProtect, Inputs: one, Params: Params{Password: "abc"}}, true},
		{"protect four runes", Request{Operation: OpProtect, Inputs: one, Params: Params{Password: "ñöüé"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			if tt.wantErr && !errors.Is(err, pdferr.ErrValidation) {
				t.Errorf("Validate() = %v, want VALIDATION", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}
