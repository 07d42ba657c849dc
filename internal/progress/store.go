package progress

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"transcoder/internal/config"
	"transcoder/internal/contracts"
	"transcoder/internal/services"
)

// Terminal entry values.
const (
	Completed = "100%"
	Failed    = "failed"
)

// Store persists progress entries.
type Store interface {
	Set(ctx context.Context, videoID string, encodingID contracts.EncodingID, value string) error
	Entries(ctx context.Context, videoID string) (map[contracts.EncodingID]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the backend selected by cfg.Progress.Backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Progress.Backend {
	case config.ProgressBackendRedis:
		return OpenRedis(ctx, cfg)
	case config.ProgressBackendSQLite:
		return OpenSQLite(ctx, cfg.Progress.SQLitePath)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "progress", "open store",
			fmt.Sprintf("unsupported backend %q", cfg.Progress.Backend), nil)
	}
}

// Key returns the redis hash key holding a video's entries.
func Key(videoID string) string {
	return videoID + "-encoding-progress"
}

// Percent formats an integer percentage entry.
func Percent(value int) string {
	return strconv.Itoa(value) + "%"
}

// ParsePercent parses an "N%" entry.
func ParsePercent(value string) (int, bool) {
	trimmed, ok := strings.CutSuffix(strings.TrimSpace(value), "%")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 0 || n > 100 {
		return 0, false
	}
	return n, true
}

// IsTerminal reports whether value ends an entry's lifecycle.
func IsTerminal(value string) bool {
	return value == Completed || value == Failed
}

// CompletedEncodings returns the encoding ids whose entry is "100%", sorted.
func CompletedEncodings(entries map[contracts.EncodingID]string) []contracts.EncodingID {
	out := make([]contracts.EncodingID, 0, len(entries))
	for id, value := range entries {
		if value == Completed {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
