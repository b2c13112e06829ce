package gcp

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseGCSUri(t *testing.T) {
	tests := []struct {
		uri        string
		bucket     string
		object     string
		shouldFail bool
	}{
		{"gs://inputs/user-1/a.pdf", "inputs", "user-1/a.pdf", false},
		{"gs://b/o", "b", "o", false},
		{"https://example.com/a.pdf", "", "", true},
		{"gs://bucket-only", "", "", true},
		{"gs:///object", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseGCSUri(tt.uri)
			if tt.shouldFail {
				if err == nil {
					t.Errorf("ParseGCSUri(%q) should fail", tt.uri)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGCSUri(%q) error: %v", tt.uri, err)
			}
			if bucket != tt.bucket || object != tt.object {
				t.Errorf("ParseGCSUri(%q) = %q, %q", tt.uri, bucket, object)
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("PDFTRANSFORM_TEST_VALUE", "set")
	if got := GetEnv("PDFTRANSFORM_TEST_VALUE", "fallback"); got != "set" {
		t.Errorf("GetEnv() = %q, want set", got)
	}
	if got := GetEnv("PDFTRANSFORM_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("GetEnv() = %q, want fallback", got)
	}
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, "obj", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("withRetry() = %v after %d calls, want success after 3", err, calls)
	}

	calls = 0
	cause := errors.New("permanent")
	err = withRetry(context.Background(), 2, time.Millisecond, "obj", func(context.Context) error {
		calls++
		return cause
	})
	if !errors.Is(err, cause) || calls != 2 {
		t.Errorf("withRetry() = %v after %d calls, want wrapped cause after 2", err, calls)
	}
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := withRetry(ctx, 5, time.Hour, "obj", func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Errorf("withRetry() = %v after %d calls, want context.Canceled after 1", err, calls)
	}
}

func TestWorkflowParent(t *testing.T) {
	want := "projects/p/locations/us-central1/workflows/pdf-jobs"
	if got := WorkflowParent("p", "us-central1", "pdf-jobs"); got != want {
		t.Errorf("WorkflowParent() = %q, want %q", got, want)
	}
}
