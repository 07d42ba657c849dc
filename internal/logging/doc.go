// Package logging assembles structured slog loggers and formatting helpers used
// by every transcoder stage.
//
// It owns the console and JSON handlers, picks between them for the "auto"
// format by checking whether stdout is a terminal, and optionally tees a JSON
// copy into the configured log directory. Context helpers tag records with
// the stage, video id, encoding id, and correlation id carried on the
// context so consumer code does not repeat them at every call site.
package logging
