package encoding

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"transcoder/internal/services"
)

// commandContext is overridden in tests to stub ffmpeg.
var commandContext = exec.CommandContext

// Invocation is one ffmpeg run.
type Invocation struct {
	Input         string
	InputOptions  []string
	OutputOptions []string
	Output        string
	// Duration is the input length in seconds. Zero disables progress.
	Duration float64
}

// Args renders the ffmpeg argument list.
func (inv Invocation) Args() []string {
	args := make([]string, 0, len(inv.InputOptions)+len(inv.OutputOptions)+10)
	args = append(args, "-hide_banner", "-loglevel", "error", "-y")
	args = append(args, inv.InputOptions...)
	args = append(args, "-i", inv.Input)
	args = append(args, inv.OutputOptions...)
	args = append(args, "-progress", "pipe:1", "-nostats", inv.Output)
	return args
}

// ProgressFunc receives the completed fraction of an invocation in [0, 1].
type ProgressFunc func(ratio float64)

// Engine runs one invocation to completion. onProgress may be nil and is
// called from the goroutine that called Run.
type Engine interface {
	Run(ctx context.Context, inv Invocation, onProgress ProgressFunc) error
}

// FFmpeg is the production Engine.
type FFmpeg struct {
	Binary string
}

// NewFFmpeg returns an engine executing binary, defaulting to "ffmpeg".
func NewFFmpeg(binary string) *FFmpeg {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{Binary: binary}
}

func (f *FFmpeg) Run(ctx context.Context, inv Invocation, onProgress ProgressFunc) error {
	cmd := commandContext(ctx, f.Binary, inv.Args()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "encoder", "ffmpeg stdout", "", err)
	}
	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrExternalTool, "encoder", "start ffmpeg", f.Binary, err)
	}

	scanErr := consumeProgress(stdout, inv.Duration, onProgress)
	if scanErr != nil {
		// Keep the pipe drained so ffmpeg is not blocked on a full buffer.
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return services.Wrap(services.ErrTimeout, "encoder", "run ffmpeg", "encode interrupted", ctxErr)
	}
	if waitErr != nil {
		detail := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			detail = fmt.Sprintf("exit status %d: %s", exitErr.ExitCode(), detail)
		}
		return services.Wrap(services.ErrExternalTool, "encoder", "run ffmpeg", detail, waitErr)
	}
	if scanErr != nil {
		return services.Wrap(services.ErrExternalTool, "encoder", "read ffmpeg progress", "", scanErr)
	}
	return nil
}

// consumeProgress parses ffmpeg's -progress key=value stream. out_time_ms is
// reported in microseconds despite its name, same as out_time_us.
func consumeProgress(r io.Reader, duration float64, onProgress ProgressFunc) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok || onProgress == nil {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			if duration <= 0 {
				continue
			}
			micros, err := strconv.ParseFloat(value, 64)
			if err != nil || micros < 0 {
				continue
			}
			onProgress(min(1, micros/1e6/duration))
		case "progress":
			if value == "end" {
				onProgress(1)
			}
		}
	}
	return scanner.Err()
}
