// Package journal keeps an append-only record of a service's lifecycle.
//
// Every spawn, exit, restart and stop is written as newline-delimited JSON,
// so an operator can see what the service did while nobody was watching.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Event describes what happened.
type Event string

const (
	EventStarting      Event = "starting"
	EventSpawn         Event = "spawn"
	EventExit          Event = "exit"
	EventRestart       Event = "restart"
	EventStopRequested Event = "stop_requested"
	EventStopped       Event = "stopped"
	EventSpawnFailed   Event = "spawn_failed"
)

// Entry is a single journal record.
type Entry struct {
	Timestamp    time.Time `json:"ts"`
	Event        Event     `json:"event"`
	Service      string    `json:"service,omitempty"`
	PID          int       `json:"pid,omitempty"`
	ExitCode     *int      `json:"exit_code,omitempty"`
	RestartCount int       `json:"restart_count,omitempty"`
	Recycled     bool      `json:"recycled,omitempty"`
	Command      string    `json:"command,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Journal writes entries to an append-only file.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open creates or opens a journal file for appending.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return &Journal{file: f, path: path}, nil
}

// Path returns the file the journal appends to.
func (j *Journal) Path() string {
	return j.path
}

// Log writes an entry.
func (j *Journal) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling journal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing journal entry: %w", err)
	}
	return nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	return j.file.Close()
}
