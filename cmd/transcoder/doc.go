// Package main hosts the transcoder operator CLI.
//
// The Cobra command tree provisions broker topology, injects ingest events,
// reads encoding progress, checks dependencies, and scaffolds configuration.
// Stage processes themselves run under transcoderd; this binary never
// consumes from a queue.
package main
