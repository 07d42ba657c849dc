// Package progress records per-rendition encoding progress.
//
// An entry is keyed by (videoId, encodingId) and holds "N%" while a job runs,
// "100%" on success, or "failed". Two backends implement Store: a redis hash
// per video (shared across hosts) and a SQLite table for single-host
// deployments. Reporter sits between the encoding engine and the store so a
// slow store never stalls an encode.
package progress
