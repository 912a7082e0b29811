package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/triage-ai/medalert/internal/engine"
)

// MaxEntries bounds the ledger. Older entries are evicted on append.
const MaxEntries = 100

// Display formats used for Entry.Timestamp and Entry.Date.
const (
	TimestampLayout = "15:04:05"
	DateLayout      = "2006-01-02"
)

// Entry is one logged advice event.
type Entry struct {
	ID        int64         `json:"id"`
	Text      string        `json:"text"`
	Timestamp string        `json:"timestamp"`
	Date      string        `json:"date"`
	Advice    engine.Advice `json:"advice"`
}

// Ledger is the bounded, newest-first history of advice events.
// Implementations serialize mutations so concurrent appends lose nothing.
type Ledger interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context) ([]Entry, error)
	Clear(ctx context.Context) error
	Close() error
}

// NewEntry stamps an entry with the next id and the local wall-clock time.
func NewEntry(ids *IDSource, text string, advice engine.Advice) Entry {
	id, now := ids.Next()
	local := now.Local()
	return Entry{
		ID:        id,
		Text:      text,
		Timestamp: local.Format(TimestampLayout),
		Date:      local.Format(DateLayout),
		Advice:    advice,
	}
}

// IDSource hands out millisecond-timestamp ids that strictly increase within
// the process, even when two entries are created in the same millisecond.
type IDSource struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDSource creates an id source backed by the wall clock.
func NewIDSource() *IDSource {
	return &IDSource{now: time.Now}
}

// NewIDSourceFrom creates an id source whose ids start above the newest id
// already stored in l, so a restart with a clock that stepped back cannot
// reuse one.
func NewIDSourceFrom(ctx context.Context, l Ledger) (*IDSource, error) {
	entries, err := l.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewIDSourceFrom: %w", err)
	}
	s := NewIDSource()
	for _, e := range entries {
		s.Observe(e.ID)
	}
	return s, nil
}

// Observe raises the floor so later ids are greater than id.
func (s *IDSource) Observe(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > s.last {
		s.last = id
	}
}

// Next returns a fresh id and the time it was derived from.
func (s *IDSource) Next() (int64, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id := now.UnixMilli()
	if id <= s.last {
		id = s.last + 1
	}
	s.last = id
	return id, now
}

// prepend returns entries with e at the front, truncated to MaxEntries.
func prepend(entries []Entry, e Entry) []Entry {
	out := make([]Entry, 0, min(len(entries)+1, MaxEntries))
	out = append(out, e)
	for _, existing := range entries {
		if len(out) == MaxEntries {
			break
		}
		out = append(out, existing)
	}
	return out
}
