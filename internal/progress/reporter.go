package progress

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"transcoder/internal/contracts"
	"transcoder/internal/logging"
)

// Running entries are clamped below 100 so only Complete can write "100%".
const maxRunningPercent = 99

// Reporter streams progress for one job into a Store. Report never blocks:
// values go through a bounded channel to a dedicated updater goroutine and,
// when the buffer is full, the oldest pending value is replaced by the newest.
// Written values never decrease, and once the entry holds "100%" or "failed"
// it is not touched again, including by reporters of later attempts.
type Reporter struct {
	store      Store
	videoID    string
	encodingID contracts.EncodingID
	logger     *slog.Logger
	sampler    *logging.ProgressSampler

	events chan int
	done   chan struct{}

	mu         sync.Mutex
	lastQueued int
	started    bool
	finished   bool
	prior      string
}

// NewReporter builds a reporter. buffer bounds the number of pending values.
func NewReporter(store Store, videoID string, encodingID contracts.EncodingID, buffer int, logger *slog.Logger) *Reporter {
	if buffer <= 0 {
		buffer = 1
	}
	return &Reporter{
		store:      store,
		videoID:    videoID,
		encodingID: encodingID,
		logger:     logging.NewComponentLogger(logger, "progress"),
		sampler:    logging.NewProgressSampler(5),
		events:     make(chan int, buffer),
		done:       make(chan struct{}),
		lastQueued: 0,
	}
}

// Start writes the initial "0%" entry and launches the updater. The context
// bounds the updater's store writes. When the entry already holds a terminal
// value, Start writes nothing and the reporter stays inert; Terminal returns
// that value.
func (r *Reporter) Start(ctx context.Context) error {
	entries, err := r.store.Entries(ctx, r.videoID)
	if err != nil {
		return err
	}
	if value := entries[r.encodingID]; IsTerminal(value) {
		r.mu.Lock()
		r.prior = value
		r.finished = true
		r.mu.Unlock()
		return nil
	}
	if err := r.store.Set(ctx, r.videoID, r.encodingID, Percent(0)); err != nil {
		return err
	}
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	go r.run(context.WithoutCancel(ctx))
	return nil
}

// Terminal returns the terminal value found by Start, or "" when the entry
// was open.
func (r *Reporter) Terminal() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prior
}

// Report records a completion ratio in [0, 1]. The ratio is converted to a
// percentage and floored once; values outside the range are clamped.
func (r *Reporter) Report(ratio float64) {
	r.ReportPercent(ratio * 100)
}

// ReportPercent records a percentage.
func (r *Reporter) ReportPercent(percent float64) {
	if math.IsNaN(percent) {
		return
	}
	value := int(math.Floor(percent))
	value = max(0, min(value, maxRunningPercent))

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.finished || value <= r.lastQueued {
		return
	}
	r.lastQueued = value
	select {
	case r.events <- value:
		return
	default:
	}
	// Full: drop the oldest pending value to make room for this one.
	select {
	case <-r.events:
	default:
	}
	select {
	case r.events <- value:
	default:
	}
}

// Complete stops the updater and writes "100%". Only the first of Complete
// and Fail writes a terminal value.
func (r *Reporter) Complete(ctx context.Context) error {
	if !r.stop() {
		return nil
	}
	return r.store.Set(ctx, r.videoID, r.encodingID, Completed)
}

// Fail stops the updater and writes "failed". Store errors are logged only,
// since the caller is already handling a failure.
func (r *Reporter) Fail(ctx context.Context) {
	if !r.stop() {
		return
	}
	if err := r.store.Set(ctx, r.videoID, r.encodingID, Failed); err != nil {
		logging.WarnWithContext(r.logger, "failed to record job failure", "progress_write_failed",
			logging.String(logging.FieldVideoID, r.videoID),
			logging.String(logging.FieldEncodingID, string(r.encodingID)),
			logging.String(logging.FieldImpact, "progress shows the last running value"),
			logging.String(logging.FieldErrorHint, "check progress store connectivity"),
			logging.Error(err),
		)
	}
}

func (r *Reporter) stop() bool {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return false
	}
	r.finished = true
	started := r.started
	close(r.events)
	r.mu.Unlock()
	if started {
		<-r.done
	}
	return true
}

func (r *Reporter) run(ctx context.Context) {
	defer close(r.done)
	written := 0
	for value := range r.events {
		if value <= written {
			continue
		}
		if err := r.store.Set(ctx, r.videoID, r.encodingID, Percent(value)); err != nil {
			r.logger.Debug("progress update failed", logging.Int(logging.FieldProgressPercent, value), logging.Error(err))
			continue
		}
		written = value
		if r.sampler.ShouldLog(float64(value), "encode") {
			r.logger.Info("encoding progress",
				logging.String(logging.FieldVideoID, r.videoID),
				logging.String(logging.FieldEncodingID, string(r.encodingID)),
				logging.Int(logging.FieldProgressPercent, value),
			)
		}
	}
}
