package bounce

import (
	"sync"

	"github.com/google/uuid"
)

// Message is one inbound returned-mail item: a raw body, a delete
// operation and a stable identifier. Deleting is the mailbox-cleanup
// side effect and must only happen after successful processing.
type Message interface {
	ID() string
	Body() (string, error)
	Delete() error
}

// Source yields the current batch of inbound messages. A live mailbox
// poll and a static in-memory list both satisfy it.
type Source interface {
	Messages() ([]Message, error)
	Close() error
}

// MemorySource serves a fixed set of bodies, for tests and replays.
type MemorySource struct {
	mu      sync.Mutex
	bodies  map[string]string
	order   []string
	deleted map[string]bool
}

func NewMemorySource(bodies ...string) *MemorySource {
	s := &MemorySource{
		bodies:  make(map[string]string, len(bodies)),
		deleted: make(map[string]bool),
	}
	for _, b := range bodies {
		id := uuid.New().String()
		s.bodies[id] = b
		s.order = append(s.order, id)
	}
	return s
}

func (s *MemorySource) Messages() ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]Message, 0, len(s.order))
	for _, id := range s.order {
		if s.deleted[id] {
			continue
		}
		msgs = append(msgs, &memoryMessage{source: s, id: id})
	}
	return msgs, nil
}

func (s *MemorySource) Close() error { return nil }

// Remaining returns the ids of messages not yet deleted.
func (s *MemorySource) Remaining() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var left []string
	for _, id := range s.order {
		if !s.deleted[id] {
			left = append(left, id)
		}
	}
	return left
}

type memoryMessage struct {
	source *MemorySource
	id     string
}

func (m *memoryMessage) ID() string { return m.id }

func (m *memoryMessage) Body() (string, error) {
	m.source.mu.Lock()
	defer m.source.mu.Unlock()
	return m.source.bodies[m.id], nil
}

func (m *memoryMessage) Delete() error {
	m.source.mu.Lock()
	defer m.source.mu.Unlock()
	m.source.deleted[m.id] = true
	return nil
}
