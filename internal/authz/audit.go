// File: internal/authz/audit.go
package authz

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
)

// DefaultAuditCapacity is the number of entries retained before the oldest
// are evicted.
const DefaultAuditCapacity = 1000

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// AuditLog is a bounded, process-wide ring buffer of audit entries. It is
// safe for concurrent use.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	start   int // index of the oldest entry once the buffer is full
	size    int
	now     func() time.Time
}

// NewAuditLog creates a log retaining at most capacity entries.
func NewAuditLog(capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &AuditLog{entries: make([]AuditEntry, capacity), now: time.Now}
}

// Append records an event and returns the stored entry.
func (a *AuditLog) Append(event string, payload map[string]any) AuditEntry {
	entry := AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: a.now().UTC(),
		Event:     event,
		Payload:   payload,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	capacity := len(a.entries)
	if a.size < capacity {
		a.entries[(a.start+a.size)%capacity] = entry
		a.size++
	} else {
		a.entries[a.start] = entry
		a.start = (a.start + 1) % capacity
	}
	return entry
}

// Len returns the number of retained entries.
func (a *AuditLog) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Entries returns up to limit of the most recent entries, oldest first. A
// non-positive limit returns everything retained.
func (a *AuditLog) Entries(limit int) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]AuditEntry, 0, n)
	capacity := len(a.entries)
	for i := a.size - n; i < a.size; i++ {
		out = append(out, a.entries[(a.start+i)%capacity])
	}
	return out
}

// Export writes all retained entries as an indented JSON array.
func (a *AuditLog) Export(w io.Writer) error {
	data, err := json.MarshalIndent(a.Entries(0), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal audit log: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}
