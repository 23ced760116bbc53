// Package logging provides structured logging for intercomd.
//
// It wraps the standard library's log/slog with configuration-driven
// setup (level, format, destination) and default service attributes.
//
// All engine components log through this package so that device IDs,
// relay indexes, and request IDs appear as structured fields rather
// than interpolated strings.
package logging
