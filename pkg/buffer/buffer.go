// Package buffer implements the two bounded, most-recent-first event
// buffers fed by the dispatcher: the activity log (all non-audit topics)
// and the audit stream. Both persist their truncated contents on every
// mutation so a reload reproduces exactly what was in memory, never
// entries that capacity eviction already dropped.
//
// Persistence is best effort: the first failed write puts the buffer in
// memory-only mode for the rest of the session instead of retrying.
package buffer

import (
	"sync"
	"time"

	"github.com/ledgerscope/ledgerscope/pkg/log"
	"github.com/ledgerscope/ledgerscope/pkg/storage"
)

// Capacity limits. Eviction always drops the oldest entry.
const (
	ActivityCap = 50
	AuditCap    = 100
)

// KV is the slice of the storage layer the buffers need. *storage.Store
// satisfies it.
type KV interface {
	PutJSON(key string, v any) error
	GetJSON(key string, v any) (bool, error)
	Delete(key string) error
}

// ActivityEntry is one human-readable line in the activity log.
type ActivityEntry struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditEntry is one audit event in the live stream.
type AuditEntry struct {
	ID           string    `json:"id"`
	EventKind    string    `json:"event_kind"`
	OriginHash   string    `json:"origin_hash"`
	CollectionID string    `json:"collection_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ActivityLog is the capped, persisted, most-recent-first activity
// buffer.
type ActivityLog struct {
	mu         sync.Mutex
	entries    []ActivityEntry
	kv         KV
	persistOff bool
	logger     *log.Logger
}

// NewActivityLog loads the persisted log (if any) and returns the
// in-memory buffer. A corrupt or unreadable persisted copy starts the
// session empty rather than failing.
func NewActivityLog(kv KV) *ActivityLog {
	l := &ActivityLog{kv: kv, logger: log.ForComponent("activity")}

	var persisted []ActivityEntry
	if _, err := kv.GetJSON(storage.KeyActivityLog, &persisted); err != nil {
		l.logger.Warnf("loading persisted activity log: %v (starting empty)", err)
		persisted = nil
	} else if len(persisted) > ActivityCap {
		persisted = persisted[:ActivityCap]
	}
	l.entries = persisted
	return l
}

// Append prepends a new entry, truncates past capacity, and persists the
// truncated sequence.
func (l *ActivityLog) Append(e ActivityEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append([]ActivityEntry{e}, l.entries...)
	if len(l.entries) > ActivityCap {
		l.entries = l.entries[:ActivityCap]
	}
	l.persist()
}

// Entries returns a copy of the buffer, newest first.
func (l *ActivityLog) Entries() []ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ActivityEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *ActivityLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear empties the buffer and removes the persisted copy.
func (l *ActivityLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	if l.persistOff {
		return
	}
	if err := l.kv.Delete(storage.KeyActivityLog); err != nil {
		l.logger.Warnf("clearing persisted activity log: %v (memory-only from now on)", err)
		l.persistOff = true
	}
}

// persist writes the current truncated sequence. Callers hold l.mu.
func (l *ActivityLog) persist() {
	if l.persistOff {
		return
	}
	if err := l.kv.PutJSON(storage.KeyActivityLog, l.entries); err != nil {
		l.logger.Warnf("persisting activity log: %v (memory-only from now on)", err)
		l.persistOff = true
	}
}

// AuditStream is the capped, persisted audit buffer with a live/paused
// mode. The mode is a tagged state: live, or paused with the snapshot
// taken at pause time. While paused, arriving events keep accumulating
// in the underlying buffer and Resume reveals them in arrival order.
type AuditStream struct {
	mu         sync.Mutex
	entries    []AuditEntry
	paused     bool
	snapshot   []AuditEntry
	kv         KV
	persistOff bool
	logger     *log.Logger
}

// NewAuditStream loads the persisted stream (if any) and starts in live
// mode.
func NewAuditStream(kv KV) *AuditStream {
	s := &AuditStream{kv: kv, logger: log.ForComponent("audit")}

	var persisted []AuditEntry
	if _, err := kv.GetJSON(storage.KeyAuditStream, &persisted); err != nil {
		s.logger.Warnf("loading persisted audit stream: %v (starting empty)", err)
		persisted = nil
	} else if len(persisted) > AuditCap {
		persisted = persisted[:AuditCap]
	}
	s.entries = persisted
	return s
}

// Append prepends a new entry to the underlying buffer regardless of
// mode; a paused stream keeps accumulating and only the displayed copy
// is frozen.
func (s *AuditStream) Append(e AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append([]AuditEntry{e}, s.entries...)
	if len(s.entries) > AuditCap {
		s.entries = s.entries[:AuditCap]
	}
	s.persist()
}

// Pause freezes the displayed copy at the current buffer contents.
// Pausing an already paused stream keeps the original snapshot.
func (s *AuditStream) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	s.snapshot = make([]AuditEntry, len(s.entries))
	copy(s.snapshot, s.entries)
}

// Resume returns to live mode, revealing everything that arrived while
// paused.
func (s *AuditStream) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.snapshot = nil
}

func (s *AuditStream) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Entries returns the displayed copy: the pause-time snapshot while
// paused, the live buffer otherwise. Always newest first.
func (s *AuditStream) Entries() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.entries
	if s.paused {
		src = s.snapshot
	}
	out := make([]AuditEntry, len(src))
	copy(out, src)
	return out
}

// Len reports the underlying buffer length, including entries hidden by
// an active pause.
func (s *AuditStream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear empties the buffer, the snapshot, and the persisted copy.
func (s *AuditStream) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.snapshot = nil
	if s.persistOff {
		return
	}
	if err := s.kv.Delete(storage.KeyAuditStream); err != nil {
		s.logger.Warnf("clearing persisted audit stream: %v (memory-only from now on)", err)
		s.persistOff = true
	}
}

// persist writes the current truncated sequence. Callers hold s.mu.
func (s *AuditStream) persist() {
	if s.persistOff {
		return
	}
	if err := s.kv.PutJSON(storage.KeyAuditStream, s.entries); err != nil {
		s.logger.Warnf("persisting audit stream: %v (memory-only from now on)", err)
		s.persistOff = true
	}
}
