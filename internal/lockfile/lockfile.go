// Package lockfile manages the daemon's endpoint record: a small JSON file
// that advertises the live daemon's pid and address to client processes.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Record is the on-disk endpoint advertisement. A record whose pid no longer
// refers to a live process is stale and may be removed by any client.
type Record struct {
	PID                int       `json:"pid"`
	Address            string    `json:"address"`
	StartedAt          time.Time `json:"started_at"`
	IdleTimeoutSeconds int       `json:"idle_timeout_seconds"`
}

// Write persists the record atomically via a temp file rename, so a reader
// never observes a half-written record.
func Write(path string, record Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode endpoint record: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".skilld-record-*")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write endpoint record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish endpoint record: %w", err)
	}
	return nil
}

// Read loads the record at path. A missing file returns os.ErrNotExist.
func Read(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("decode endpoint record %s: %w", path, err)
	}
	return record, nil
}

// Remove deletes the record. Missing files are not an error.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Alive reports whether pid refers to a live process, using signal 0.
// EPERM means the process exists but belongs to someone else, which still
// counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}

// Stale reports whether the record points at a dead process.
func (r Record) Stale() bool {
	return !Alive(r.PID)
}
