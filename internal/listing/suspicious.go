package listing

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Incident is one line of the suspicious-response log.
type Incident struct {
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	URL       string    `json:"url"`
	Reason    string    `json:"reason"`
	SizeKB    float64   `json:"size_kb"`
	Error     string    `json:"error,omitempty"`
}

// IncidentLog receives ambiguous and rate-limited outcomes.
type IncidentLog interface {
	Record(Incident) error
}

// JSONLLog appends incidents as JSON lines. Safe for concurrent use.
type JSONLLog struct {
	mu  sync.Mutex
	enc *json.Encoder
	c   io.Closer
}

// NewJSONLLog writes to w.
func NewJSONLLog(w io.Writer) *JSONLLog {
	return &JSONLLog{enc: json.NewEncoder(w)}
}

// OpenJSONLLog opens path for appending, creating it when missing.
func OpenJSONLLog(path string) (*JSONLLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open incident log %s: %w", path, err)
	}
	l := NewJSONLLog(f)
	l.c = f
	return l, nil
}

// Record implements IncidentLog.
func (l *JSONLLog) Record(in Incident) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(in); err != nil {
		return fmt.Errorf("write incident: %w", err)
	}
	return nil
}

// Close closes the underlying file when the log owns one.
func (l *JSONLLog) Close() error {
	if l.c == nil {
		return nil
	}
	if err := l.c.Close(); err != nil {
		return fmt.Errorf("close incident log: %w", err)
	}
	return nil
}

type discardLog struct{}

func (discardLog) Record(Incident) error { return nil }
