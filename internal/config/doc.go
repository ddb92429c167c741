// Package config loads and validates the skilld configuration for one skill
// package.
//
// A skill package is described by a single TOML file: the launch contract for
// the MCP tool server (command, args, env, workdir), the daemon's bind address
// and timeout knobs, and logging preferences. Paths in the file may use ~ and
// environment variables; Load expands them and applies defaults for anything
// unset, so a minimal config only needs [server] command.
//
// The state directory derived here is the anchor for everything the daemon
// persists: the lock record, the flock file, the call journal, and the log
// file. Keep path derivation in this package so all components agree on
// locations.
package config
