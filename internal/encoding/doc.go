// Package encoding runs encoding requests: it classifies the requested
// rendition, drives ffmpeg through the Engine interface while streaming
// progress into the progress store, and announces the finished job directory.
//
// Job directories live at {shared_dir}/{videoId}/{encodingId}. A failed job
// leaves its directory behind; the uploader removes it after a successful
// upload, and a redelivered attempt overwrites whatever a previous attempt
// wrote.
package encoding
