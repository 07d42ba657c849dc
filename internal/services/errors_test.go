package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"transcoder/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "encoder", "ffmpeg", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"encoder", "ffmpeg", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", services.Wrap(services.ErrValidation, "stitcher", "match", "missing", nil), false},
		{"configuration", services.Wrap(services.ErrConfiguration, "encoder", "classify", "unknown id", nil), false},
		{"not found", fmt.Errorf("outer: %w", services.ErrNotFound), false},
		{"transient", services.Wrap(services.ErrTransient, "uploader", "put", "io", errors.New("reset")), true},
		{"external tool", services.Wrap(services.ErrExternalTool, "encoder", "ffmpeg", "exit 1", nil), true},
		{"unmarked", errors.New("plain"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestKindLabels(t *testing.T) {
	if got := services.Kind(services.Wrap(services.ErrNotFound, "", "", "x", nil)); got != "not_found" {
		t.Fatalf("got %q want not_found", got)
	}
	if got := services.Kind(errors.New("x")); got != "transient" {
		t.Fatalf("got %q want transient", got)
	}
	if got := services.Kind(nil); got != "" {
		t.Fatalf("got %q want empty", got)
	}
}
