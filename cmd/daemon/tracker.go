package main

import (
	"os"
	"path/filepath"
	"strings"
)

// RunTracker persists the last date a prune succeeded so restarts do not
// repeat it.
type RunTracker struct {
	stateFile string
}

// NewRunTracker creates a new tracker with the given state file path
func NewRunTracker(stateFile string) *RunTracker {
	return &RunTracker{stateFile: stateFile}
}

// LastRunDate reads the last successful run date from the state file
func (t *RunTracker) LastRunDate() string {
	data, err := os.ReadFile(t.stateFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SetLastRunDate writes the date to the state file
func (t *RunTracker) SetLastRunDate(date string) error {
	dir := filepath.Dir(t.stateFile)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	return os.WriteFile(t.stateFile, []byte(date+"\n"), 0600)
}

// AlreadyRan checks if the given date was already pruned
func (t *RunTracker) AlreadyRan(date string) bool {
	return t.LastRunDate() == date
}
