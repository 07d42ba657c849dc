// Package metrics exposes Prometheus collectors shared by the transcoder
// stages and the HTTP listener that serves them.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"transcoder/internal/logging"
)

var (
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_consumed_total",
		Help: "Deliveries received from a stage queue",
	}, []string{"queue"})
	MessagesAcked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_acked_total",
		Help: "Deliveries acknowledged after successful handling",
	}, []string{"queue"})
	MessagesRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_retried_total",
		Help: "Deliveries rejected into the retry queue",
	}, []string{"queue"})
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_dropped_total",
		Help: "Deliveries acknowledged without success",
	}, []string{"queue", "reason"})

	EncodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "encode_duration_seconds",
		Help:    "Wall time spent encoding one rendition",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"kind"})
	ActiveEncodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "encoder_active_jobs",
		Help: "Encoding jobs currently running on this process",
	})

	ArtifactsUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artifacts_uploaded_total",
		Help: "Files written to the blob store",
	})
	ArtifactsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artifacts_skipped_total",
		Help: "Job directory entries the uploader did not recognize",
	})
	MasterManifestsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "master_manifests_written_total",
		Help: "HLS master playlists uploaded by the stitcher",
	})
)

// Drop reasons recorded on MessagesDropped.
const (
	DropNonRetryable = "non_retryable"
	DropExhausted    = "redelivery_exhausted"
)

// Serve exposes /metrics on bind until ctx is cancelled. An empty bind is a
// no-op.
func Serve(ctx context.Context, bind string, logger *slog.Logger) error {
	if bind == "" {
		return nil
	}
	logger = logging.NewComponentLogger(logger, "metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listener started", logging.String("bind", bind))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics listener shutdown failed", logging.Error(err))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
