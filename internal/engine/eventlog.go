package engine

import "time"

// LogEntry records one detected phase transition.
type LogEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Phase       Phase     `json:"phase"`
	IdentityTag string    `json:"identityTag"`
}

// EventLog is the authoritative transition history. Entries are stored
// oldest-first so Append stays amortized O(1); readers get newest-first copies.
type EventLog struct {
	entries []LogEntry
}

// Append records an entry.
func (l *EventLog) Append(e LogEntry) {
	l.entries = append(l.entries, e)
}

// Len returns the number of entries ever appended.
func (l *EventLog) Len() int { return len(l.entries) }

// Recent returns at most n entries, newest first. A non-positive n returns
// the whole log.
func (l *EventLog) Recent(n int) []LogEntry {
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]LogEntry, 0, n)
	for i := len(l.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.entries[i])
	}
	return out
}
