package logger

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

const defaultStreamSize = 200

// Publisher receives log entries as they are written.
type Publisher interface {
	Broadcast(msgType string, payload any)
}

// Entry is a decoded zerolog event.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Stream is an io.Writer that keeps the most recent log entries and forwards
// each one to a Publisher as a "log:entry" message.
type Stream struct {
	mu        sync.Mutex
	publisher Publisher
	entries   []Entry
	limit     int
}

// NewStream creates a stream remembering up to limit entries.
func NewStream(limit int) *Stream {
	if limit <= 0 {
		limit = defaultStreamSize
	}
	return &Stream{limit: limit}
}

// Attach sets the publisher. It may be called after the logger is built.
func (s *Stream) Attach(p Publisher) {
	s.mu.Lock()
	s.publisher = p
	s.mu.Unlock()
}

// Write implements io.Writer. Lines that are not JSON are dropped.
func (s *Stream) Write(p []byte) (int, error) {
	entry, ok := decodeEntry(p)
	if !ok {
		return len(p), nil
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	if over := len(s.entries) - s.limit; over > 0 {
		s.entries = append(s.entries[:0], s.entries[over:]...)
	}
	pub := s.publisher
	s.mu.Unlock()

	if pub != nil {
		pub.Broadcast("log:entry", entry)
	}
	return len(p), nil
}

// Recent returns a copy of the buffered entries, oldest first.
func (s *Stream) Recent() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func decodeEntry(data []byte) (Entry, bool) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Entry{}, false
	}

	entry := Entry{}
	take := func(key string) string {
		v, _ := raw[key].(string)
		delete(raw, key)
		return v
	}
	entry.Timestamp = take(zerolog.TimestampFieldName)
	entry.Level = take(zerolog.LevelFieldName)
	entry.Component = take("component")
	entry.Message = take(zerolog.MessageFieldName)
	if len(raw) > 0 {
		entry.Fields = raw
	}
	return entry, true
}
