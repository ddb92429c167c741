// Package ipc implements the daemon control channel: JSON-RPC over a
// loopback TCP listener, with typed tool errors reconstructed on the client
// side.
package ipc
