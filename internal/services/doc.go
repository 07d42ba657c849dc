// Package services defines shared utilities consumed by the pipeline stage
// handlers and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp video IDs, encoding IDs, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, and IsRetryable, which
//     decides whether a failed message takes the broker retry path or is
//     dropped immediately.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
