// Package eventlog appends single-line JSON records to the pipeline's
// on-disk event logs (block events, alert events, honeypot hits). Each
// record is written with one Write call so concurrent handlers never
// interleave partial lines.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrapewall/backend/internal/events"
)

// Standard log file names under the logs directory.
const (
	BlockEventsFile  = "block_events.log"
	AlertEventsFile  = "alert_events.log"
	HoneypotHitsFile = "honeypot_hits.log"
)

// Logger appends JSON-lines records to a single file.
type Logger struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Open creates (or opens for append) a JSONL event log. The parent
// directory is created if missing.
func Open(dir, name string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log %s: %w", path, err)
	}
	return &Logger{f: f, path: path}, nil
}

// Append writes one record as a single JSON line. An event id and UTC
// timestamp are added if the record carries none.
func (l *Logger) Append(record map[string]interface{}) error {
	if record == nil {
		record = map[string]interface{}{}
	}
	if _, ok := record["event_id"]; !ok {
		record["event_id"] = uuid.NewString()
	}
	if _, ok := record["timestamp"]; !ok {
		record["timestamp"] = events.ISOTimestamp(time.Now())
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal event record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("append to %s: %w", l.path, err)
	}
	return nil
}

// Path returns the log file path.
func (l *Logger) Path() string {
	return l.path
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
