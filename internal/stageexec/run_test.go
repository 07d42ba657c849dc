package stageexec_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"transcoder/internal/logging"
	"transcoder/internal/services"
	"transcoder/internal/stage"
	"transcoder/internal/stageexec"
)

func TestRunLogsCompletion(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "debug", Format: "json", Console: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	var gotStage string
	handler := stage.Func{StageName: "encoder", Fn: func(ctx context.Context, body []byte) error {
		gotStage, _ = services.StageFromContext(ctx)
		return nil
	}}

	if err := stageexec.Run(context.Background(), stageexec.Options{
		Logger: logger, Handler: handler, Body: []byte("{}"), MessageID: "m-1", Attempt: 1,
	}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if gotStage != "encoder" {
		t.Fatalf("stage not propagated on context: %q", gotStage)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var last map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if last[logging.FieldEventType] != "stage_complete" || last[logging.FieldCorrelationID] != "m-1" {
		t.Fatalf("unexpected completion record: %v", last)
	}
}

func TestRunReturnsHandlerError(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := logging.New(logging.Options{Level: "info", Format: "json", Console: &buf})
	want := services.Wrap(services.ErrValidation, "encoder", "classify", "bad id", nil)
	handler := stage.Func{StageName: "encoder", Fn: func(context.Context, []byte) error { return want }}

	err := stageexec.Run(context.Background(), stageexec.Options{Logger: logger, Handler: handler})
	if !errors.Is(err, want) {
		t.Fatalf("got %v want %v", err, want)
	}
	if !strings.Contains(buf.String(), `"error_kind":"validation"`) || !strings.Contains(buf.String(), `"retryable":false`) {
		t.Fatalf("expected failure classification in log, got %s", buf.String())
	}
}

func TestRunRequiresHandler(t *testing.T) {
	if err := stageexec.Run(context.Background(), stageexec.Options{}); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestLabel(t *testing.T) {
	cases := map[string]string{
		"full_video":        "Full Video",
		"encoding-requests": "Encoding Requests",
		"video.encoded":     "Video Encoded",
		"":                  "",
	}
	for in, want := range cases {
		if got := stageexec.Label(in); got != want {
			t.Fatalf("Label(%q) = %q want %q", in, got, want)
		}
	}
}
