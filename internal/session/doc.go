// Package session tracks the lifecycle of one tool server connection. It
// layers state management, strict call serialization, and idle accounting on
// top of the subprocess transport.
package session
