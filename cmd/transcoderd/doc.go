// Package main runs one pipeline stage as a long-lived broker consumer.
//
// Each stage (downloader, orchestrator, encoder, uploader, stitcher) is a
// separate process started as "transcoderd <stage>". On start it provisions
// its own queue pair, opens only the backends the stage needs, and consumes
// until SIGINT or SIGTERM. A broker disconnect ends the process with a
// non-zero status so the supervisor restarts it.
package main
