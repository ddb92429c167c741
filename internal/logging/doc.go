// Package logging builds the slog loggers used across skilld and carries the
// shared attribute helpers and field-name constants.
//
// The daemon writes structured logs to a file under the package state
// directory plus stderr; CLI commands default to a no-op logger so command
// output stays clean. Keep field names here so log consumers can rely on
// stable keys.
package logging
