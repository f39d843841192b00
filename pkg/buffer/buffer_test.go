package buffer

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ledgerscope/ledgerscope/pkg/storage"
)

// fakeKV is an in-memory KV with switchable failure.
type fakeKV struct {
	data map[string]string
	fail bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) PutJSON(key string, v any) error {
	if f.fail {
		return errors.New("disk full")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.data[key] = string(data)
	return nil
}

func (f *fakeKV) GetJSON(key string, v any) (bool, error) {
	if f.fail {
		return false, errors.New("disk unreadable")
	}
	raw, ok := f.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal([]byte(raw), v)
}

func (f *fakeKV) Delete(key string) error {
	if f.fail {
		return errors.New("disk full")
	}
	delete(f.data, key)
	return nil
}

func activityEntry(i int) ActivityEntry {
	return ActivityEntry{
		ID:        fmt.Sprintf("act-%d", i),
		Category:  "chain",
		Message:   fmt.Sprintf("block %d sealed", i),
		Timestamp: time.Date(2026, 3, 1, 10, 0, i%60, 0, time.UTC),
	}
}

func auditEntry(i int) AuditEntry {
	return AuditEntry{
		ID:         fmt.Sprintf("aud-%d", i),
		EventKind:  "record_read",
		OriginHash: fmt.Sprintf("%04x", i),
		Timestamp:  time.Date(2026, 3, 1, 10, 0, i%60, 0, time.UTC),
	}
}

func TestActivityLogCapAndOrder(t *testing.T) {
	kv := newFakeKV()
	l := NewActivityLog(kv)

	for i := 0; i < ActivityCap*3; i++ {
		l.Append(activityEntry(i))
	}

	entries := l.Entries()
	if len(entries) != ActivityCap {
		t.Fatalf("expected cap %d, got %d", ActivityCap, len(entries))
	}
	// Newest first: last appended entry leads.
	if entries[0].ID != "act-149" {
		t.Fatalf("expected act-149 first, got %s", entries[0].ID)
	}
	if entries[ActivityCap-1].ID != "act-100" {
		t.Fatalf("expected act-100 last, got %s", entries[ActivityCap-1].ID)
	}
}

func TestActivityLogPersistRoundTrip(t *testing.T) {
	kv := newFakeKV()
	l := NewActivityLog(kv)

	for i := 0; i < ActivityCap+10; i++ {
		l.Append(activityEntry(i))
	}
	inMemory := l.Entries()

	// "Reload" from the same persisted copy.
	reloaded := NewActivityLog(kv)
	persisted := reloaded.Entries()

	if len(persisted) != len(inMemory) {
		t.Fatalf("persisted length %d != in-memory length %d", len(persisted), len(inMemory))
	}
	for i := range persisted {
		if persisted[i].ID != inMemory[i].ID {
			t.Fatalf("order not preserved at %d: %s vs %s", i, persisted[i].ID, inMemory[i].ID)
		}
	}
	// Evicted entries never resurrect.
	for _, e := range persisted {
		if e.ID == "act-0" {
			t.Fatal("evicted entry resurrected after reload")
		}
	}
}

func TestActivityLogClear(t *testing.T) {
	kv := newFakeKV()
	l := NewActivityLog(kv)
	l.Append(activityEntry(1))

	l.Clear()
	if l.Len() != 0 {
		t.Fatalf("expected empty log, got %d", l.Len())
	}
	if _, ok := kv.data[storage.KeyActivityLog]; ok {
		t.Fatal("persisted copy not removed on clear")
	}

	reloaded := NewActivityLog(kv)
	if reloaded.Len() != 0 {
		t.Fatal("cleared log reappeared after reload")
	}
}

func TestActivityLogDegradesToMemoryOnly(t *testing.T) {
	kv := newFakeKV()
	l := NewActivityLog(kv)

	l.Append(activityEntry(1))
	kv.fail = true
	l.Append(activityEntry(2))
	l.Append(activityEntry(3))

	// In-memory state keeps working.
	if l.Len() != 3 {
		t.Fatalf("expected 3 entries in memory, got %d", l.Len())
	}

	// Persisted copy holds only the pre-failure state.
	kv.fail = false
	var persisted []ActivityEntry
	if _, err := kv.GetJSON(storage.KeyActivityLog, &persisted); err != nil {
		t.Fatalf("get persisted: %v", err)
	}
	if len(persisted) != 1 || persisted[0].ID != "act-1" {
		t.Fatalf("unexpected persisted state: %+v", persisted)
	}

	// No retry once degraded: further appends do not write.
	l.Append(activityEntry(4))
	persisted = nil
	if _, err := kv.GetJSON(storage.KeyActivityLog, &persisted); err != nil {
		t.Fatalf("get persisted: %v", err)
	}
	if len(persisted) != 1 {
		t.Fatalf("degraded buffer wrote again: %+v", persisted)
	}
}

func TestLoadersStartEmptyOnCorruptState(t *testing.T) {
	kv := newFakeKV()
	// A type mismatch mid-array decodes the leading elements before
	// json.Unmarshal gives up, so the loaders must discard them.
	kv.data[storage.KeyActivityLog] = `[{"id":"act-1","category":"chain","message":"block 1 sealed"},42]`
	kv.data[storage.KeyAuditStream] = `[{"id":"aud-1","event_kind":"record_read"},42]`

	l := NewActivityLog(kv)
	if l.Len() != 0 {
		t.Fatalf("activity log kept %d entries from corrupt state", l.Len())
	}
	s := NewAuditStream(kv)
	if s.Len() != 0 {
		t.Fatalf("audit stream kept %d entries from corrupt state", s.Len())
	}
}

func TestAuditStreamCap(t *testing.T) {
	kv := newFakeKV()
	s := NewAuditStream(kv)

	for i := 0; i < AuditCap*2; i++ {
		s.Append(auditEntry(i))
	}
	if s.Len() != AuditCap {
		t.Fatalf("expected cap %d, got %d", AuditCap, s.Len())
	}
	entries := s.Entries()
	if entries[0].ID != "aud-199" {
		t.Fatalf("expected aud-199 first, got %s", entries[0].ID)
	}
}

func TestAuditStreamPauseResume(t *testing.T) {
	kv := newFakeKV()
	s := NewAuditStream(kv)

	s.Append(auditEntry(1))
	s.Append(auditEntry(2))

	s.Pause()
	if !s.Paused() {
		t.Fatal("expected paused")
	}

	s.Append(auditEntry(3))
	s.Append(auditEntry(4))

	// Displayed copy is frozen at pause time.
	shown := s.Entries()
	if len(shown) != 2 || shown[0].ID != "aud-2" {
		t.Fatalf("snapshot changed while paused: %+v", shown)
	}

	// Underlying buffer kept accumulating.
	if s.Len() != 4 {
		t.Fatalf("expected 4 buffered entries, got %d", s.Len())
	}

	s.Resume()
	revealed := s.Entries()
	if len(revealed) != 4 {
		t.Fatalf("expected 4 entries after resume, got %d", len(revealed))
	}
	// Arrival order preserved, newest first.
	want := []string{"aud-4", "aud-3", "aud-2", "aud-1"}
	for i, id := range want {
		if revealed[i].ID != id {
			t.Fatalf("order mismatch at %d: want %s, got %s", i, id, revealed[i].ID)
		}
	}
}

func TestAuditStreamDoublePauseKeepsSnapshot(t *testing.T) {
	kv := newFakeKV()
	s := NewAuditStream(kv)

	s.Append(auditEntry(1))
	s.Pause()
	s.Append(auditEntry(2))
	s.Pause() // must not re-snapshot

	shown := s.Entries()
	if len(shown) != 1 || shown[0].ID != "aud-1" {
		t.Fatalf("second pause replaced snapshot: %+v", shown)
	}
}

func TestAuditStreamPersistsWhilePaused(t *testing.T) {
	kv := newFakeKV()
	s := NewAuditStream(kv)

	s.Append(auditEntry(1))
	s.Pause()
	s.Append(auditEntry(2))

	// Reload sees the full underlying buffer, not the snapshot.
	reloaded := NewAuditStream(kv)
	if reloaded.Len() != 2 {
		t.Fatalf("expected 2 persisted entries, got %d", reloaded.Len())
	}
	if reloaded.Paused() {
		t.Fatal("pause state must not survive a reload")
	}
}

func TestAuditStreamClear(t *testing.T) {
	kv := newFakeKV()
	s := NewAuditStream(kv)

	s.Append(auditEntry(1))
	s.Pause()
	s.Clear()

	if s.Len() != 0 || len(s.Entries()) != 0 {
		t.Fatal("expected empty stream after clear")
	}
	if _, ok := kv.data[storage.KeyAuditStream]; ok {
		t.Fatal("persisted copy not removed on clear")
	}
}

func TestBuffersShareRealStore(t *testing.T) {
	store, err := storage.NewStore(t.TempDir() + "/state.db")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	}()

	l := NewActivityLog(store)
	s := NewAuditStream(store)

	l.Append(activityEntry(1))
	s.Append(auditEntry(1))

	if NewActivityLog(store).Len() != 1 {
		t.Fatal("activity log not persisted through sqlite store")
	}
	if NewAuditStream(store).Len() != 1 {
		t.Fatal("audit stream not persisted through sqlite store")
	}
}
